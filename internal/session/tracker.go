// Package session owns the lifecycle of export sessions: creation,
// per-kind progress, throttled persistence, completion detection, and
// recovery of sessions left behind by a previous process.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/events"
	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/storage"
)

// abandonedAfter is how old a recovered "running" session may be before it
// is written off as abandoned instead of resumed.
const abandonedAfter = time.Hour

// ErrNoActiveSession is returned by operations that need a running session.
var ErrNoActiveSession = errors.New("no active session")

// ErrSessionNotFound is returned when a session id resolves to nothing.
var ErrSessionNotFound = errors.New("session not found")

// Tracker is the single owner of session state. Concurrent per-kind sync
// callers mutate progress only through its methods.
type Tracker struct {
	store  storage.Backend
	events *events.Broadcaster
	now    func() time.Time

	mu         sync.Mutex
	active     *asset.Session
	completing bool // guards against concurrent double-completion
}

// New creates a tracker over the given store.
func New(store storage.Backend, ev *events.Broadcaster) *Tracker {
	return &Tracker{
		store:  store,
		events: ev,
		now:    time.Now,
	}
}

func (t *Tracker) newSessionID() string {
	return fmt.Sprintf("export-%s-%04x", t.now().UTC().Format("20060102-150405"), rand.Intn(0x10000))
}

// Start begins a new session covering the given kinds. A still-running
// previous session is cancelled first; one logically-active session exists
// at a time.
func (t *Tracker) Start(ctx context.Context, kinds []asset.Kind) (*asset.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil && t.active.Status == asset.SessionRunning {
		t.cancelLocked(ctx, "superseded by a new session")
	}

	s := &asset.Session{
		SessionID: t.newSessionID(),
		StartTime: t.now().UTC(),
		Status:    asset.SessionRunning,
		Progress:  make(map[asset.Kind]*asset.Progress, len(kinds)),
	}
	for _, k := range kinds {
		s.Progress[k] = &asset.Progress{Status: asset.ProgressIdle}
	}
	t.active = s

	if err := t.persistLocked(ctx); err != nil {
		return nil, err
	}

	metrics.SetSessionActive(true)
	t.events.Publish(events.Event{Type: events.EventSessionStarted, SessionID: s.SessionID})
	logging.Info("export session started",
		zap.String("session", s.SessionID),
		zap.Int("kinds", len(kinds)),
	)
	return copySession(s), nil
}

// ActiveOrStart returns the running session, adding progress buckets for
// any kinds it does not track yet, or starts a new one. Used by per-kind
// refresh callers that must attach to whatever session is active.
func (t *Tracker) ActiveOrStart(ctx context.Context, kinds []asset.Kind) (*asset.Session, error) {
	t.mu.Lock()
	if t.active != nil && t.active.Status == asset.SessionRunning {
		for _, k := range kinds {
			if _, ok := t.active.Progress[k]; !ok {
				t.active.Progress[k] = &asset.Progress{Status: asset.ProgressIdle}
			}
		}
		s := copySession(t.active)
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()
	return t.Start(ctx, kinds)
}

// Active returns a copy of the current session, or nil.
func (t *Tracker) Active() *asset.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return nil
	}
	return copySession(t.active)
}

// Get returns a session by id, falling back to the store for sessions of
// earlier runs.
func (t *Tracker) Get(ctx context.Context, sessionID string) (*asset.Session, error) {
	t.mu.Lock()
	if t.active != nil && t.active.SessionID == sessionID {
		s := copySession(t.active)
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	data, err := t.store.Get(ctx, asset.SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var s asset.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Progress returns a copy of the active session's per-kind progress.
func (t *Tracker) Progress() map[asset.Kind]asset.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[asset.Kind]asset.Progress)
	if t.active == nil {
		return out
	}
	for k, p := range t.active.Progress {
		out[k] = *copyProgress(p)
	}
	return out
}

// SetPhase records a progress status transition for one kind. Transitions
// always persist.
func (t *Tracker) SetPhase(ctx context.Context, kind asset.Kind, status asset.ProgressStatus, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progressLocked(kind)
	if p == nil {
		return
	}
	p.Status = status
	p.Message = message
	t.persistBestEffort(ctx)
}

// ReportListing records listing progress for one kind. The total is
// unknown until pagination ends, so only the cumulative count moves.
// Persistence happens on checkpoints only, to bound write volume.
func (t *Tracker) ReportListing(ctx context.Context, kind asset.Kind, count int, checkpoint bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progressLocked(kind)
	if p == nil {
		return
	}
	p.Status = asset.ProgressRunning
	p.Current = count
	p.Message = fmt.Sprintf("listing: %d items", count)
	if checkpoint {
		t.persistBestEffort(ctx)
	}
}

// ReportItem records processing progress for one kind, persisting every
// 10 items and at the end of the batch.
func (t *Tracker) ReportItem(ctx context.Context, kind asset.Kind, current, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progressLocked(kind)
	if p == nil {
		return
	}
	p.Status = asset.ProgressRunning
	p.Current = current
	p.Total = total
	p.Message = fmt.Sprintf("processing: %d/%d", current, total)
	if current == total || current%10 == 0 {
		t.persistBestEffort(ctx)
	}
}

// RecordError appends a structured error to one kind's progress.
func (t *Tracker) RecordError(ctx context.Context, kind asset.Kind, ae asset.AssetError) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progressLocked(kind)
	if p == nil {
		return
	}
	p.Errors = append(p.Errors, ae)
	t.persistBestEffort(ctx)
}

// CompleteKind marks one kind's progress completed with its final stats
// and re-evaluates session completion.
func (t *Tracker) CompleteKind(ctx context.Context, kind asset.Kind, stats asset.Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progressLocked(kind)
	if p == nil {
		return
	}
	p.Status = asset.ProgressCompleted
	p.Current = stats.Total
	p.Total = stats.Total
	p.Message = fmt.Sprintf("completed: %d updated, %d cached, %d errors",
		stats.Updated, stats.Cached, stats.Errors)
	p.Stats = &stats
	t.persistBestEffort(ctx)

	t.maybeFinishLocked(ctx)
}

// FailKind marks one kind's progress failed and re-evaluates the session.
func (t *Tracker) FailKind(ctx context.Context, kind asset.Kind, message string, errs []asset.AssetError) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progressLocked(kind)
	if p == nil {
		return
	}
	p.Status = asset.ProgressError
	p.Message = message
	p.Errors = append(p.Errors, errs...)
	t.persistBestEffort(ctx)

	t.maybeFinishLocked(ctx)
}

// Cancel cancels the running session: every idle or running progress entry
// is forced to error with a cancellation message, then the session itself
// is marked cancelled.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || t.active.Status != asset.SessionRunning {
		return ErrNoActiveSession
	}
	t.cancelLocked(ctx, "cancelled by user")
	return nil
}

func (t *Tracker) cancelLocked(ctx context.Context, reason string) {
	s := t.active
	for _, p := range s.Progress {
		if p.Status == asset.ProgressIdle || p.Status == asset.ProgressRunning {
			p.Status = asset.ProgressError
			p.Message = reason
		}
	}
	end := t.now().UTC()
	s.Status = asset.SessionCancelled
	s.EndTime = &end
	t.persistBestEffort(ctx)

	metrics.SetSessionActive(false)
	metrics.RecordSessionDuration(end.Sub(s.StartTime))
	t.events.Publish(events.Event{
		Type:      events.EventSessionCancelled,
		SessionID: s.SessionID,
		Message:   reason,
	})
	logging.Info("export session cancelled",
		zap.String("session", s.SessionID),
		zap.String("reason", reason),
	)
}

// Cancelled reports whether the active session has been cancelled. Workers
// poll this to stop scheduling new items.
func (t *Tracker) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil && t.active.Status == asset.SessionCancelled
}

// maybeFinishLocked finishes the session once every kind has settled. A
// kind that is still idle or running keeps the session open: a mid-run
// failure must not close the session while later kinds are still being
// driven, or the remainder of the run could no longer be cancelled. Kind
// failures finish the session as error; completion requires at least one
// completed kind. The completing flag stops concurrent per-kind callers
// from double-finishing.
func (t *Tracker) maybeFinishLocked(ctx context.Context) {
	if t.completing {
		return
	}
	t.completing = true
	defer func() { t.completing = false }()

	s := t.active
	if s == nil || s.Status != asset.SessionRunning {
		return
	}

	anyCompleted := false
	anyError := false
	for _, p := range s.Progress {
		switch p.Status {
		case asset.ProgressIdle, asset.ProgressRunning:
			return
		case asset.ProgressCompleted:
			anyCompleted = true
		case asset.ProgressError:
			anyError = true
		}
	}

	switch {
	case anyError:
		t.finishLocked(ctx, asset.SessionError, events.EventSessionError)
	case anyCompleted:
		s.Summary = t.buildSummaryLocked()
		t.finishLocked(ctx, asset.SessionCompleted, events.EventSessionCompleted)
		t.persistExportSummary(ctx, s.Summary)
	}
}

func (t *Tracker) finishLocked(ctx context.Context, status asset.SessionStatus, eventType string) {
	s := t.active
	end := t.now().UTC()
	s.Status = status
	s.EndTime = &end
	t.persistBestEffort(ctx)

	metrics.SetSessionActive(false)
	metrics.RecordSessionDuration(end.Sub(s.StartTime))
	t.events.Publish(events.Event{Type: eventType, SessionID: s.SessionID})
	logging.Info("export session finished",
		zap.String("session", s.SessionID),
		zap.String("status", string(status)),
		zap.Duration("duration", end.Sub(s.StartTime)),
	)
}

func (t *Tracker) buildSummaryLocked() *asset.ExportSummary {
	s := t.active
	summary := &asset.ExportSummary{
		SessionID:   s.SessionID,
		CompletedAt: t.now().UTC(),
		Stats:       make(map[asset.Kind]asset.Stats),
	}
	for k, p := range s.Progress {
		if p.Stats != nil {
			summary.Stats[k] = *p.Stats
			summary.TotalAssets += p.Stats.Total
		}
	}
	return summary
}

func (t *Tracker) persistExportSummary(ctx context.Context, summary *asset.ExportSummary) {
	data, err := json.Marshal(summary)
	if err == nil {
		err = t.store.Put(ctx, asset.ExportSummaryKey, data)
	}
	if err != nil {
		logging.Error("failed to persist export summary", zap.Error(err))
	}
}

// Recover loads the most recent running session from the store after a
// restart. Sessions older than an hour are written off as abandoned and
// marked error instead of resumed.
func (t *Tracker) Recover(ctx context.Context) error {
	infos, err := t.store.ListByPrefix(ctx, asset.SessionPrefix)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.After(infos[j].LastModified)
	})

	for _, info := range infos {
		data, err := t.store.Get(ctx, info.Key)
		if err != nil {
			continue
		}
		var s asset.Session
		if err := json.Unmarshal(data, &s); err != nil {
			logging.Warn("skipping unreadable session", zap.String("key", info.Key), zap.Error(err))
			continue
		}
		if s.Status != asset.SessionRunning {
			continue
		}

		if t.now().Sub(s.StartTime) > abandonedAfter {
			end := t.now().UTC()
			s.Status = asset.SessionError
			s.EndTime = &end
			for _, p := range s.Progress {
				if p.Status == asset.ProgressIdle || p.Status == asset.ProgressRunning {
					p.Status = asset.ProgressError
					p.Message = "abandoned: process restarted"
				}
			}
			if data, err := json.Marshal(&s); err == nil {
				if err := t.store.Put(ctx, asset.SessionKey(s.SessionID), data); err != nil {
					logging.Error("failed to mark abandoned session", zap.Error(err))
				}
			}
			logging.Warn("marked abandoned session as error",
				zap.String("session", s.SessionID),
				zap.Time("started", s.StartTime),
			)
			return nil
		}

		t.mu.Lock()
		t.active = &s
		t.mu.Unlock()
		metrics.SetSessionActive(true)
		logging.Info("recovered running session", zap.String("session", s.SessionID))
		return nil
	}
	return nil
}

func (t *Tracker) progressLocked(kind asset.Kind) *asset.Progress {
	if t.active == nil {
		return nil
	}
	p, ok := t.active.Progress[kind]
	if !ok {
		p = &asset.Progress{Status: asset.ProgressIdle}
		t.active.Progress[kind] = p
	}
	return p
}

func (t *Tracker) persistBestEffort(ctx context.Context) {
	if err := t.persistLocked(ctx); err != nil {
		logging.Error("failed to persist session", zap.Error(err))
	}
}

func (t *Tracker) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(t.active)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := t.store.Put(ctx, asset.SessionKey(t.active.SessionID), data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func copySession(s *asset.Session) *asset.Session {
	out := *s
	out.Progress = make(map[asset.Kind]*asset.Progress, len(s.Progress))
	for k, p := range s.Progress {
		out.Progress[k] = copyProgress(p)
	}
	return &out
}

func copyProgress(p *asset.Progress) *asset.Progress {
	out := *p
	out.Errors = append([]asset.AssetError(nil), p.Errors...)
	if p.Stats != nil {
		stats := *p.Stats
		stats.ErrorDetails = append([]asset.AssetError(nil), p.Stats.ErrorDetails...)
		out.Stats = &stats
	}
	return &out
}
