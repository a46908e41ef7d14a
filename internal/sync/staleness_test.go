package sync

import (
	"testing"
	"time"

	"github.com/sightsync/sightsync/internal/asset"
)

func TestNeedsUpdate(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)
	remoteNewer := recent.Add(5 * time.Minute)
	remoteOlder := recent.Add(-5 * time.Minute)

	tests := []struct {
		name   string
		meta   *asset.ExportMeta
		remote *time.Time
		force  bool
		want   bool
	}{
		{
			name: "no cached export",
			want: true,
		},
		{
			name: "zero export time",
			meta: &asset.ExportMeta{},
			want: true,
		},
		{
			name:  "force overrides fresh cache",
			meta:  &asset.ExportMeta{ExportTime: recent, LastModifiedTime: &recent},
			force: true,
			want:  true,
		},
		{
			name: "fresh export with no remote timestamp",
			meta: &asset.ExportMeta{ExportTime: recent},
			want: false,
		},
		{
			name: "export older than freshness window",
			meta: &asset.ExportMeta{ExportTime: old},
			want: true,
		},
		{
			name:   "remote newer than cached copy",
			meta:   &asset.ExportMeta{ExportTime: recent, LastModifiedTime: &recent},
			remote: &remoteNewer,
			want:   true,
		},
		{
			name:   "remote older than cached copy",
			meta:   &asset.ExportMeta{ExportTime: recent, LastModifiedTime: &recent},
			remote: &remoteOlder,
			want:   false,
		},
		{
			name:   "remote equal to cached copy",
			meta:   &asset.ExportMeta{ExportTime: recent, LastModifiedTime: &recent},
			remote: &recent,
			want:   false,
		},
		{
			name:   "remote timestamp but no cached one",
			meta:   &asset.ExportMeta{ExportTime: recent},
			remote: &remoteNewer,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeedsUpdate(tt.meta, tt.remote, tt.force, now, DefaultFreshnessWindow)
			if got != tt.want {
				t.Errorf("NeedsUpdate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsUpdateCustomWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	meta := &asset.ExportMeta{ExportTime: now.Add(-30 * time.Minute)}

	if NeedsUpdate(meta, nil, false, now, time.Hour) {
		t.Error("30-minute-old export should be fresh under a 1h window")
	}
	if !NeedsUpdate(meta, nil, false, now, 15*time.Minute) {
		t.Error("30-minute-old export should be stale under a 15m window")
	}
}
