// Package sync implements the synchronization engine: listing remote
// assets, deciding staleness, fetching and persisting payloads under
// bounded concurrency, and coordinating whole sessions.
package sync

import (
	"time"

	"github.com/sightsync/sightsync/internal/asset"
)

// DefaultFreshnessWindow is how long a cached export stays fresh without
// comparing remote timestamps.
const DefaultFreshnessWindow = time.Hour

// NeedsUpdate decides whether a cached asset must be refetched. It is a
// pure function of its inputs so batch statistics stay reproducible.
//
// An asset needs an update when a refresh is forced, when no cached export
// exists, when the export aged past the freshness window, or when the
// remote copy is strictly newer than the cached one.
func NeedsUpdate(meta *asset.ExportMeta, remoteLastModified *time.Time, force bool, now time.Time, freshness time.Duration) bool {
	if force {
		return true
	}
	if meta == nil || meta.ExportTime.IsZero() {
		return true
	}
	if now.Sub(meta.ExportTime) > freshness {
		return true
	}
	if remoteLastModified != nil && meta.LastModifiedTime != nil &&
		remoteLastModified.After(*meta.LastModifiedTime) {
		return true
	}
	return false
}
