package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/events"
	"github.com/sightsync/sightsync/internal/index"
	"github.com/sightsync/sightsync/internal/remote"
	"github.com/sightsync/sightsync/internal/session"
	"github.com/sightsync/sightsync/internal/storage"
	"github.com/sightsync/sightsync/internal/storage/local"
)

// fakeAssetClient serves canned details and can fail selected calls with
// fatal errors so tests never wait on retry backoff.
type fakeAssetClient struct {
	describeErr  map[string]error
	permsErr     error
	tagsErr      error
	describeCall int
}

func fatalErr(code string) error {
	return &remote.APIError{Op: "test", Code: code, Class: remote.ClassFatal, Err: errors.New(code)}
}

func (f *fakeAssetClient) ListPage(ctx context.Context, kind asset.Kind, token *string) (remote.Page, error) {
	return remote.Page{}, errors.New("not implemented")
}

func (f *fakeAssetClient) ListDataSources(ctx context.Context) ([]asset.Summary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAssetClient) Describe(ctx context.Context, kind asset.Kind, id string) (asset.Detail, error) {
	f.describeCall++
	if err := f.describeErr[id]; err != nil {
		return asset.Detail{}, err
	}
	mod := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return asset.Detail{
		Name:         "Remote " + id,
		Arn:          "arn:test:" + id,
		LastModified: &mod,
		Definition:   json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
		Metadata:     map[string]any{"importMode": "SPICE"},
	}, nil
}

func (f *fakeAssetClient) GetPermissions(ctx context.Context, kind asset.Kind, id string) ([]asset.Permission, error) {
	if f.permsErr != nil {
		return nil, f.permsErr
	}
	return []asset.Permission{{Principal: "arn:user/alice", Actions: []string{"quicksight:DescribeDashboard"}}}, nil
}

func (f *fakeAssetClient) GetTags(ctx context.Context, kind asset.Kind, id string) ([]asset.Tag, error) {
	if f.tagsErr != nil {
		return nil, f.tagsErr
	}
	return []asset.Tag{{Key: "team", Value: "analytics"}}, nil
}

type procFixture struct {
	store     storage.Backend
	index     *index.Manager
	tracker   *session.Tracker
	client    *fakeAssetClient
	processor *Processor
}

func newProcFixture(t *testing.T) *procFixture {
	t.Helper()
	store, err := local.New(local.Config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	broadcaster := events.NewBroadcaster()
	idx := index.New(store, broadcaster)
	tracker := session.New(store, broadcaster)
	client := &fakeAssetClient{describeErr: map[string]error{}}

	p := NewProcessor(client, store, idx, tracker, broadcaster, nil, Options{})
	p.stagger = 0
	p.batchPause = 0
	p.sleep = instantSleep

	return &procFixture{store: store, index: idx, tracker: tracker, client: client, processor: p}
}

func dashSummary(id string) asset.DashboardSummary {
	mod := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return asset.DashboardSummary{DashboardID: id, DisplayName: "Dashboard " + id, UpdatedAt: &mod}
}

func writeFreshPayload(t *testing.T, store storage.Backend, kind asset.Kind, id string) {
	t.Helper()
	mod := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	payload := asset.Payload{
		ID:   id,
		Kind: kind,
		Export: asset.ExportMeta{
			ExportTime:       time.Now().UTC(),
			LastModifiedTime: &mod,
			Name:             "Cached " + id,
		},
	}
	data, err := json.Marshal(&payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), asset.Key(kind, id), data); err != nil {
		t.Fatal(err)
	}
}

func TestProcessOneWritesPayloadAndIndex(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	outcome, err := f.processor.ProcessOne(ctx, dashSummary("d1"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("expected updated, got %s", outcome)
	}

	data, err := f.store.Get(ctx, asset.Key(asset.KindDashboard, "d1"))
	if err != nil {
		t.Fatalf("payload not persisted: %v", err)
	}
	var payload asset.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Export.Name != "Remote d1" {
		t.Errorf("expected remote name, got %q", payload.Export.Name)
	}
	if len(payload.Permissions) != 1 || len(payload.Tags) != 1 {
		t.Errorf("expected permissions and tags in payload, got %d/%d",
			len(payload.Permissions), len(payload.Tags))
	}
	if payload.Export.ExportTime.IsZero() {
		t.Error("export time must be set")
	}

	idx, err := f.index.GetMasterIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.AssetsByType[asset.KindDashboard]) != 1 {
		t.Errorf("expected 1 index entry, got %d", len(idx.AssetsByType[asset.KindDashboard]))
	}
}

func TestProcessOneSkipsFreshAsset(t *testing.T) {
	f := newProcFixture(t)
	writeFreshPayload(t, f.store, asset.KindDashboard, "d1")

	outcome, err := f.processor.ProcessOne(context.Background(), dashSummary("d1"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCached {
		t.Errorf("expected cached, got %s", outcome)
	}
	if f.client.describeCall != 0 {
		t.Errorf("fresh asset must not hit the remote API, got %d calls", f.client.describeCall)
	}
}

func TestProcessOneForceBypassesFreshness(t *testing.T) {
	f := newProcFixture(t)
	writeFreshPayload(t, f.store, asset.KindDashboard, "d1")

	outcome, err := f.processor.ProcessOne(context.Background(), dashSummary("d1"), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("expected forced update, got %s", outcome)
	}
}

func TestProcessOneDegradesOnPermissionsAndTags(t *testing.T) {
	f := newProcFixture(t)
	f.client.permsErr = fatalErr("AccessDeniedException")
	f.client.tagsErr = fatalErr("AccessDeniedException")
	ctx := context.Background()

	outcome, err := f.processor.ProcessOne(ctx, dashSummary("d1"), false)
	if err != nil {
		t.Fatalf("permissions failure must not fail the asset: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("expected updated, got %s", outcome)
	}

	data, err := f.store.Get(ctx, asset.Key(asset.KindDashboard, "d1"))
	if err != nil {
		t.Fatal(err)
	}
	var payload asset.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Permissions) != 0 || len(payload.Tags) != 0 {
		t.Errorf("expected empty permissions and tags, got %d/%d",
			len(payload.Permissions), len(payload.Tags))
	}
}

func TestProcessOneFailsOnDescribeError(t *testing.T) {
	f := newProcFixture(t)
	f.client.describeErr["d1"] = fatalErr("ResourceNotFoundException")

	_, err := f.processor.ProcessOne(context.Background(), dashSummary("d1"), false)
	if err == nil {
		t.Fatal("expected error when the definition fetch fails")
	}
}

func TestProcessBatchStats(t *testing.T) {
	f := newProcFixture(t)
	writeFreshPayload(t, f.store, asset.KindDashboard, "d2")
	f.client.describeErr["d3"] = fatalErr("ResourceNotFoundException")

	if _, err := f.tracker.Start(context.Background(), []asset.Kind{asset.KindDashboard}); err != nil {
		t.Fatal(err)
	}

	summaries := []asset.Summary{dashSummary("d1"), dashSummary("d2"), dashSummary("d3"), dashSummary("d4")}
	stats := f.processor.ProcessBatch(context.Background(), asset.KindDashboard, summaries, false)

	if stats.Total != 4 {
		t.Errorf("expected total 4, got %d", stats.Total)
	}
	if stats.Updated != 2 {
		t.Errorf("expected 2 updated, got %d", stats.Updated)
	}
	if stats.Cached != 1 {
		t.Errorf("expected 1 cached, got %d", stats.Cached)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if len(stats.ErrorDetails) != 1 {
		t.Fatalf("expected 1 error detail, got %d", len(stats.ErrorDetails))
	}
	if stats.ErrorDetails[0].ID != "d3" {
		t.Errorf("expected error detail for d3, got %s", stats.ErrorDetails[0].ID)
	}

	progress := f.tracker.Progress()[asset.KindDashboard]
	if progress.Current != 4 || progress.Total != 4 {
		t.Errorf("expected progress 4/4, got %d/%d", progress.Current, progress.Total)
	}
}

func TestProcessBatchStopsWhenSessionCancelled(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	if _, err := f.tracker.Start(ctx, []asset.Kind{asset.KindDashboard}); err != nil {
		t.Fatal(err)
	}
	if err := f.tracker.Cancel(ctx); err != nil {
		t.Fatal(err)
	}

	summaries := []asset.Summary{dashSummary("d1"), dashSummary("d2")}
	stats := f.processor.ProcessBatch(ctx, asset.KindDashboard, summaries, false)

	if stats.Updated+stats.Cached+stats.Errors != 0 {
		t.Errorf("cancelled batch must not process items: %+v", stats)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	f := newProcFixture(t)
	stats := f.processor.ProcessBatch(context.Background(), asset.KindDashboard, nil, false)
	if stats.Total != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}
