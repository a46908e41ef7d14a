package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/events"
	"github.com/sightsync/sightsync/internal/index"
	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/remote"
	"github.com/sightsync/sightsync/internal/retry"
	"github.com/sightsync/sightsync/internal/session"
	"github.com/sightsync/sightsync/internal/storage"
)

// Outcome is the result of processing one asset.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeCached  Outcome = "cached"
)

const (
	defaultStagger    = 50 * time.Millisecond
	defaultBatchPause = time.Second
)

// Options tunes a Processor. Zero values take defaults.
type Options struct {
	Freshness time.Duration
	Workers   map[asset.Kind]int
}

// DefaultWorkers returns the per-kind worker pool sizes. High-volume,
// small-payload kinds get more workers.
func DefaultWorkers() map[asset.Kind]int {
	return map[asset.Kind]int{
		asset.KindDashboard:  4,
		asset.KindDataset:    6,
		asset.KindAnalysis:   4,
		asset.KindDataSource: 8,
	}
}

// Processor fetches, assembles, and persists single assets, and drives
// batches of them under a bounded worker pool.
type Processor struct {
	client  remote.Client
	store   storage.Backend
	index   *index.Manager
	tracker *session.Tracker
	events  *events.Broadcaster
	pacer   *remote.Pacer

	freshness  time.Duration
	workers    map[asset.Kind]int
	stagger    time.Duration
	batchPause time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a processor over the given collaborators.
func NewProcessor(client remote.Client, store storage.Backend, idx *index.Manager,
	tracker *session.Tracker, ev *events.Broadcaster, pacer *remote.Pacer, opts Options) *Processor {

	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshnessWindow
	}
	if opts.Workers == nil {
		opts.Workers = DefaultWorkers()
	}
	return &Processor{
		client:     client,
		store:      store,
		index:      idx,
		tracker:    tracker,
		events:     ev,
		pacer:      pacer,
		freshness:  opts.Freshness,
		workers:    opts.Workers,
		stagger:    defaultStagger,
		batchPause: defaultBatchPause,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// loadMeta returns the embedded export metadata of a cached payload, or
// nil when no usable cache entry exists.
func (p *Processor) loadMeta(ctx context.Context, key string) *asset.ExportMeta {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		return nil
	}
	var payload asset.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	if payload.Export.ExportTime.IsZero() {
		return nil
	}
	return &payload.Export
}

// ProcessOne synchronizes a single asset: staleness check, concurrent
// detail/permissions/tags fetch, whole-payload write, and incremental
// index update. Permission and tag failures degrade to empty results;
// only the definition fetch is required.
func (p *Processor) ProcessOne(ctx context.Context, s asset.Summary, force bool) (Outcome, error) {
	kind, id := s.Kind(), s.ID()
	key := asset.Key(kind, id)

	meta := p.loadMeta(ctx, key)
	if !NeedsUpdate(meta, s.LastModified(), force, p.now(), p.freshness) {
		metrics.RecordAssetSynced(string(kind), string(OutcomeCached))
		return OutcomeCached, nil
	}

	var (
		detail    asset.Detail
		perms     []asset.Permission
		tags      []asset.Tag
		detailErr error
		wg        sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		if detailErr = p.pacer.Wait(ctx); detailErr != nil {
			return
		}
		detail, detailErr = retry.DoWithResult(ctx, retry.DefaultPolicy(), "describe_"+string(kind), func() (asset.Detail, error) {
			return p.client.Describe(ctx, kind, id)
		})
	}()
	go func() {
		defer wg.Done()
		if err := p.pacer.Wait(ctx); err != nil {
			return
		}
		result, err := retry.DoWithResult(ctx, retry.DefaultPolicy(), "permissions_"+string(kind), func() ([]asset.Permission, error) {
			return p.client.GetPermissions(ctx, kind, id)
		})
		if err != nil {
			logging.Warn("permissions fetch failed, continuing without",
				zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
			return
		}
		perms = result
	}()
	go func() {
		defer wg.Done()
		if err := p.pacer.Wait(ctx); err != nil {
			return
		}
		result, err := retry.DoWithResult(ctx, retry.DefaultPolicy(), "tags_"+string(kind), func() ([]asset.Tag, error) {
			return p.client.GetTags(ctx, kind, id)
		})
		if err != nil {
			logging.Warn("tags fetch failed, continuing without",
				zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
			return
		}
		tags = result
	}()
	wg.Wait()

	if detailErr != nil {
		metrics.RecordAssetSynced(string(kind), "error")
		return "", fmt.Errorf("describe %s/%s: %w", kind, id, detailErr)
	}

	name := detail.Name
	if name == "" {
		name = s.Name()
	}
	arn := detail.Arn
	if arn == "" {
		arn = s.ARN()
	}
	lastModified := detail.LastModified
	if lastModified == nil {
		lastModified = s.LastModified()
	}

	payload := asset.Payload{
		ID:          id,
		Kind:        kind,
		Arn:         arn,
		Definition:  detail.Definition,
		Permissions: perms,
		Tags:        tags,
		Metadata:    detail.Metadata,
		Export: asset.ExportMeta{
			ExportTime:       p.now().UTC(),
			LastModifiedTime: lastModified,
			Name:             name,
		},
	}
	data, err := json.Marshal(&payload)
	if err != nil {
		metrics.RecordAssetSynced(string(kind), "error")
		return "", fmt.Errorf("marshal %s/%s: %w", kind, id, err)
	}

	if err := retry.Do(ctx, retry.DefaultPolicy(), "put_"+string(kind), func() error {
		return p.store.Put(ctx, key, data)
	}); err != nil {
		metrics.RecordAssetSynced(string(kind), "error")
		return "", fmt.Errorf("persist %s/%s: %w", kind, id, err)
	}

	// The index can always be rebuilt; a failed incremental update must
	// not fail the asset write.
	if err := p.index.UpdateOne(ctx, kind, id); err != nil {
		logging.Warn("incremental index update failed",
			zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
	}

	p.events.Publish(events.Event{
		Type: events.EventAssetUpdated,
		Kind: string(kind),
		ID:   id,
	})
	metrics.RecordAssetSynced(string(kind), string(OutcomeUpdated))
	return OutcomeUpdated, nil
}

// ProcessBatch drives ProcessOne over a batch of summaries under a bounded
// worker pool, with staggered worker starts and inter-batch pauses to
// respect remote rate budgets. Item failures are recorded and do not abort
// the batch; cancellation stops the scheduling of new items while
// dispatched fetches finish.
func (p *Processor) ProcessBatch(ctx context.Context, kind asset.Kind, summaries []asset.Summary, force bool) asset.Stats {
	stats := asset.Stats{Total: len(summaries)}
	if len(summaries) == 0 {
		return stats
	}

	conc := p.workers[kind]
	if conc <= 0 {
		conc = 4
	}
	if conc > len(summaries) {
		conc = len(summaries)
	}
	batchSize := conc * 4

	var mu sync.Mutex
	processed := 0

	for start := 0; start < len(summaries); start += batchSize {
		if ctx.Err() != nil || p.tracker.Cancelled() {
			break
		}
		end := min(start+batchSize, len(summaries))
		batch := summaries[start:end]

		jobs := make(chan asset.Summary)
		var wg sync.WaitGroup
		for i := 0; i < conc; i++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				if worker > 0 {
					if err := p.sleep(ctx, time.Duration(worker)*p.stagger); err != nil {
						// Drain so the feeder never blocks on a dead worker.
						for range jobs {
						}
						return
					}
				}
				for s := range jobs {
					outcome, err := p.ProcessOne(ctx, s, force)

					mu.Lock()
					processed++
					current := processed
					switch {
					case err != nil:
						stats.Errors++
						stats.ErrorDetails = append(stats.ErrorDetails, asset.AssetError{
							ID:        s.ID(),
							Name:      s.Name(),
							Message:   err.Error(),
							Timestamp: p.now().UTC(),
						})
					case outcome == OutcomeUpdated:
						stats.Updated++
					default:
						stats.Cached++
					}
					mu.Unlock()

					if err != nil {
						p.tracker.RecordError(ctx, kind, asset.AssetError{
							ID:        s.ID(),
							Name:      s.Name(),
							Message:   err.Error(),
							Timestamp: p.now().UTC(),
						})
					}
					p.tracker.ReportItem(ctx, kind, current, len(summaries))
				}
			}(i)
		}

		for _, s := range batch {
			if ctx.Err() != nil || p.tracker.Cancelled() {
				break
			}
			jobs <- s
		}
		close(jobs)
		wg.Wait()

		if end < len(summaries) && ctx.Err() == nil && !p.tracker.Cancelled() {
			if err := p.sleep(ctx, p.batchPause); err != nil {
				break
			}
		}
	}

	return stats
}
