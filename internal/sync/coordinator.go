package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/session"
)

// ErrSyncRunning is returned when a full sync is requested while another
// run is still in flight.
var ErrSyncRunning = errors.New("a sync is already running")

// Coordinator ties listing, processing, and session tracking into whole
// sync runs. Runs execute on background goroutines derived from the
// coordinator's base context, so they outlive the HTTP requests that
// start them and stop together on Shutdown.
type Coordinator struct {
	lister    *Lister
	processor *Processor
	tracker   *session.Tracker

	baseCtx  context.Context
	shutdown context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(lister *Lister, processor *Processor, tracker *session.Tracker) *Coordinator {
	baseCtx, shutdown := context.WithCancel(context.Background())
	return &Coordinator{
		lister:    lister,
		processor: processor,
		tracker:   tracker,
		baseCtx:   baseCtx,
		shutdown:  shutdown,
	}
}

// StartFull starts a full sync of every kind on a background goroutine and
// returns the freshly started session.
func (c *Coordinator) StartFull(ctx context.Context, force bool) (*asset.Session, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrSyncRunning
	}
	c.running = true
	c.mu.Unlock()

	s, err := c.tracker.Start(ctx, asset.AllKinds())
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return nil, fmt.Errorf("start session: %w", err)
	}

	go func() {
		defer func() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}()
		c.runKinds(c.baseCtx, asset.AllKinds(), force)
	}()

	return s, nil
}

// StartKind refreshes a single kind on a background goroutine, attaching to
// the running session if one exists.
func (c *Coordinator) StartKind(ctx context.Context, kind asset.Kind, force bool) (*asset.Session, error) {
	s, err := c.tracker.ActiveOrStart(ctx, []asset.Kind{kind})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	go c.syncOne(c.baseCtx, kind, force)
	return s, nil
}

// SyncKind is the synchronous variant of StartKind. It blocks until the
// kind finishes.
func (c *Coordinator) SyncKind(ctx context.Context, kind asset.Kind, force bool) (*asset.Session, error) {
	s, err := c.tracker.ActiveOrStart(ctx, []asset.Kind{kind})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	c.syncOne(ctx, kind, force)
	if updated := c.tracker.Active(); updated != nil && updated.SessionID == s.SessionID {
		return updated, nil
	}
	return s, nil
}

// Cancel cancels the running session. In-flight item fetches finish; no
// new items are scheduled.
func (c *Coordinator) Cancel(ctx context.Context) error {
	return c.tracker.Cancel(ctx)
}

// Shutdown stops all background runs. Used on process exit.
func (c *Coordinator) Shutdown() {
	c.shutdown()
}

// runKinds syncs the given kinds one after another. Sequential execution
// keeps the aggregate remote call rate predictable; concurrency lives
// inside each kind's worker pool.
func (c *Coordinator) runKinds(ctx context.Context, kinds []asset.Kind, force bool) {
	for _, kind := range kinds {
		if ctx.Err() != nil || c.tracker.Cancelled() {
			return
		}
		c.syncOne(ctx, kind, force)
	}
}

// syncOne runs the listing and processing phases for one kind and settles
// its progress terminal state.
func (c *Coordinator) syncOne(ctx context.Context, kind asset.Kind, force bool) {
	c.tracker.SetPhase(ctx, kind, asset.ProgressRunning, "listing assets")

	summaries, err := c.lister.List(ctx, kind)
	if err != nil {
		if c.tracker.Cancelled() {
			return
		}
		logging.Error("listing failed",
			zap.String("kind", string(kind)), zap.Error(err))
		c.tracker.FailKind(ctx, kind, fmt.Sprintf("listing failed: %v", err), nil)
		return
	}

	c.tracker.SetPhase(ctx, kind, asset.ProgressRunning,
		fmt.Sprintf("processing %d assets", len(summaries)))

	stats := c.processor.ProcessBatch(ctx, kind, summaries, force)

	// A cancelled session already forced this kind's progress to error;
	// do not overwrite that with a completion.
	if c.tracker.Cancelled() {
		return
	}
	c.tracker.CompleteKind(ctx, kind, stats)
	logging.Info("kind sync finished",
		zap.String("kind", string(kind)),
		zap.Int("total", stats.Total),
		zap.Int("updated", stats.Updated),
		zap.Int("cached", stats.Cached),
		zap.Int("errors", stats.Errors),
	)
}
