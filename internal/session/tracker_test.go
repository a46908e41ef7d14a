package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/events"
	"github.com/sightsync/sightsync/internal/storage"
	"github.com/sightsync/sightsync/internal/storage/local"
)

func newTestStore(t *testing.T) storage.Backend {
	t.Helper()
	store, err := local.New(local.Config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestTracker(t *testing.T) (*Tracker, storage.Backend) {
	store := newTestStore(t)
	return New(store, events.NewBroadcaster()), store
}

func TestStartCreatesAndPersistsSession(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tracker.Start(ctx, asset.AllKinds())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Status != asset.SessionRunning {
		t.Errorf("expected running, got %s", s.Status)
	}
	if len(s.Progress) != 4 {
		t.Errorf("expected 4 progress buckets, got %d", len(s.Progress))
	}
	for kind, p := range s.Progress {
		if p.Status != asset.ProgressIdle {
			t.Errorf("kind %s should start idle, got %s", kind, p.Status)
		}
	}

	data, err := store.Get(ctx, asset.SessionKey(s.SessionID))
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	var persisted asset.Session
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.SessionID != s.SessionID {
		t.Errorf("persisted session id mismatch")
	}
}

func TestStartSupersedesRunningSession(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard})
	if err != nil {
		t.Fatal(err)
	}
	second, err := tracker.Start(ctx, []asset.Kind{asset.KindDataset})
	if err != nil {
		t.Fatal(err)
	}
	if first.SessionID == second.SessionID {
		t.Fatal("expected a fresh session id")
	}

	old, err := tracker.Get(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("superseded session should remain readable: %v", err)
	}
	if old.Status != asset.SessionCancelled {
		t.Errorf("superseded session should be cancelled, got %s", old.Status)
	}
}

func TestActiveOrStartAttachesKinds(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard})
	if err != nil {
		t.Fatal(err)
	}
	attached, err := tracker.ActiveOrStart(ctx, []asset.Kind{asset.KindDataset})
	if err != nil {
		t.Fatal(err)
	}
	if attached.SessionID != first.SessionID {
		t.Error("expected to attach to the running session")
	}
	if _, ok := attached.Progress[asset.KindDataset]; !ok {
		t.Error("expected a dataset progress bucket after attach")
	}
}

func TestCompletionRequiresAtLeastOneCompletedKind(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard, asset.KindDataset}); err != nil {
		t.Fatal(err)
	}

	// One kind done, the other still idle: the session stays running.
	tracker.CompleteKind(ctx, asset.KindDashboard, asset.Stats{Total: 3, Updated: 3})
	if s := tracker.Active(); s.Status != asset.SessionRunning {
		t.Fatalf("session with an idle kind should stay running, got %s", s.Status)
	}

	tracker.CompleteKind(ctx, asset.KindDataset, asset.Stats{Total: 1, Updated: 1})
	s := tracker.Active()
	if s.Status != asset.SessionCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if s.Summary == nil || s.Summary.TotalAssets != 4 {
		t.Errorf("expected summary with 4 assets: %+v", s.Summary)
	}
	if s.EndTime == nil {
		t.Error("completed session must have an end time")
	}
}

func TestKindFailureFinishesSessionAsError(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard, asset.KindDataset}); err != nil {
		t.Fatal(err)
	}
	tracker.CompleteKind(ctx, asset.KindDashboard, asset.Stats{Total: 2, Updated: 2})
	tracker.FailKind(ctx, asset.KindDataset, "listing failed", []asset.AssetError{
		{ID: "page-0", Message: "listing page 0 failed"},
	})

	s := tracker.Active()
	if s.Status != asset.SessionError {
		t.Fatalf("expected error session, got %s", s.Status)
	}
	if s.Summary != nil {
		t.Error("failed session must not carry an export summary")
	}
}

func TestKindFailureWithPendingKindsKeepsSessionRunning(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, asset.AllKinds()); err != nil {
		t.Fatal(err)
	}

	// The first kind fails while the rest of the run is still pending.
	tracker.FailKind(ctx, asset.KindDashboard, "listing failed", nil)
	s := tracker.Active()
	if s.Status != asset.SessionRunning {
		t.Fatalf("session with pending kinds must stay running after a failure, got %s", s.Status)
	}

	// The remainder of the run is still cancellable.
	if err := tracker.Cancel(ctx); err != nil {
		t.Errorf("cancel after a mid-run failure: %v", err)
	}
	if !tracker.Cancelled() {
		t.Error("Cancelled() should report true")
	}
}

func TestKindFailureFinishesSessionOnceRunSettles(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard, asset.KindDataset}); err != nil {
		t.Fatal(err)
	}

	tracker.FailKind(ctx, asset.KindDashboard, "listing failed", nil)
	if s := tracker.Active(); s.Status != asset.SessionRunning {
		t.Fatalf("expected running until the last kind settles, got %s", s.Status)
	}

	tracker.CompleteKind(ctx, asset.KindDataset, asset.Stats{Total: 2, Updated: 2})
	s := tracker.Active()
	if s.Status != asset.SessionError {
		t.Fatalf("expected error once the run settled, got %s", s.Status)
	}
	if s.EndTime == nil {
		t.Error("finished session must have an end time")
	}
	if s.Summary != nil {
		t.Error("failed session must not carry an export summary")
	}
}

func TestAllIdleSessionNeverCompletes(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard}); err != nil {
		t.Fatal(err)
	}
	// Recording an error leaves the kind idle; completion must not trigger.
	tracker.RecordError(ctx, asset.KindDashboard, asset.AssetError{ID: "d1", Message: "oops"})
	if s := tracker.Active(); s.Status != asset.SessionRunning {
		t.Errorf("all-idle session should stay running, got %s", s.Status)
	}
}

func TestCancelForcesProgressToError(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard, asset.KindDataset}); err != nil {
		t.Fatal(err)
	}
	tracker.ReportItem(ctx, asset.KindDashboard, 1, 10)

	if err := tracker.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !tracker.Cancelled() {
		t.Error("Cancelled() should report true")
	}

	s := tracker.Active()
	if s.Status != asset.SessionCancelled {
		t.Fatalf("expected cancelled, got %s", s.Status)
	}
	for kind, p := range s.Progress {
		if p.Status != asset.ProgressError {
			t.Errorf("kind %s should be error after cancel, got %s", kind, p.Status)
		}
	}

	if err := tracker.Cancel(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("second cancel should fail with ErrNoActiveSession, got %v", err)
	}
}

func TestReportItemThrottlesPersistence(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	s, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard})
	if err != nil {
		t.Fatal(err)
	}

	read := func() asset.Session {
		data, err := store.Get(ctx, asset.SessionKey(s.SessionID))
		if err != nil {
			t.Fatal(err)
		}
		var out asset.Session
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	// Items 1..9 are not persisted; item 10 is.
	for i := 1; i <= 9; i++ {
		tracker.ReportItem(ctx, asset.KindDashboard, i, 25)
	}
	if got := read().Progress[asset.KindDashboard].Current; got != 0 {
		t.Errorf("persistence should be throttled below 10 items, persisted current=%d", got)
	}
	tracker.ReportItem(ctx, asset.KindDashboard, 10, 25)
	if got := read().Progress[asset.KindDashboard].Current; got != 10 {
		t.Errorf("expected persisted current=10, got %d", got)
	}

	// The final item always persists, even off the 10-step grid.
	for i := 11; i <= 25; i++ {
		tracker.ReportItem(ctx, asset.KindDashboard, i, 25)
	}
	if got := read().Progress[asset.KindDashboard].Current; got != 25 {
		t.Errorf("expected persisted current=25, got %d", got)
	}
}

func TestGetFallsBackToStore(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Start(ctx, []asset.Kind{asset.KindDashboard}); err != nil {
		t.Fatal(err)
	}

	got, err := tracker.Get(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != first.SessionID {
		t.Error("wrong session returned")
	}

	if _, err := tracker.Get(ctx, "export-19700101-000000-dead"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecoverAdoptsRecentRunningSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := New(store, events.NewBroadcaster())
	s, err := first.Start(ctx, []asset.Kind{asset.KindDashboard})
	if err != nil {
		t.Fatal(err)
	}

	second := New(store, events.NewBroadcaster())
	if err := second.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	active := second.Active()
	if active == nil || active.SessionID != s.SessionID {
		t.Fatalf("expected to adopt session %s, got %+v", s.SessionID, active)
	}
}

func TestRecoverMarksAbandonedSessionAsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := New(store, events.NewBroadcaster())
	first.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	s, err := first.Start(ctx, []asset.Kind{asset.KindDashboard})
	if err != nil {
		t.Fatal(err)
	}

	second := New(store, events.NewBroadcaster())
	if err := second.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if second.Active() != nil {
		t.Error("abandoned session must not be adopted")
	}

	got, err := second.Get(ctx, s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != asset.SessionError {
		t.Errorf("abandoned session should be marked error, got %s", got.Status)
	}
	if p := got.Progress[asset.KindDashboard]; p.Status != asset.ProgressError {
		t.Errorf("abandoned progress should be error, got %s", p.Status)
	}
}
