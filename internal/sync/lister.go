package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/remote"
	"github.com/sightsync/sightsync/internal/retry"
	"github.com/sightsync/sightsync/internal/session"
)

const (
	// Checkpoint listing progress every N pages or M items, whichever
	// comes first, to bound session write volume.
	checkpointPages = 5
	checkpointItems = 500

	// Inter-page pacing, stepped up once the listing grows large.
	pagePauseSmall     = 200 * time.Millisecond
	pagePauseLarge     = 500 * time.Millisecond
	pagePauseThreshold = 1000
)

// Lister paginates a remote listing into a complete in-memory collection
// of summaries, with page-level retry and inter-page pacing.
type Lister struct {
	client  remote.Client
	tracker *session.Tracker
	pacer   *remote.Pacer

	listPolicy     retry.Policy
	maxPageRetries int
	pageRetryBase  time.Duration
	pageRetryMax   time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewLister creates a lister with the conservative listing retry policy.
func NewLister(client remote.Client, tracker *session.Tracker, pacer *remote.Pacer) *Lister {
	return &Lister{
		client:         client,
		tracker:        tracker,
		pacer:          pacer,
		listPolicy:     retry.ListPolicy(),
		maxPageRetries: 5,
		pageRetryBase:  time.Second,
		pageRetryMax:   30 * time.Second,
		sleep:          sleepCtx,
	}
}

// List returns every summary of one kind. It fails only after page-level
// retries are exhausted or a fatal error occurs.
func (l *Lister) List(ctx context.Context, kind asset.Kind) ([]asset.Summary, error) {
	// The paginated data source listing trips a deserialization defect in
	// the primary client; those go through a dedicated enumeration path.
	if kind == asset.KindDataSource {
		return l.listDataSources(ctx)
	}

	var all []asset.Summary
	var token *string
	page := 0
	lastCheckpoint := 0

	for {
		result, err := l.fetchPage(ctx, kind, token, page, len(all))
		if err != nil {
			return nil, err
		}

		all = append(all, result.Items...)
		page++

		checkpoint := page%checkpointPages == 0 || len(all)-lastCheckpoint >= checkpointItems
		if checkpoint {
			lastCheckpoint = len(all)
		}
		l.tracker.ReportListing(ctx, kind, len(all), checkpoint)

		if result.NextToken == nil {
			break
		}
		token = result.NextToken

		pause := pagePauseSmall
		if len(all) >= pagePauseThreshold {
			pause = pagePauseLarge
		}
		if err := l.sleep(ctx, pause); err != nil {
			return nil, err
		}
	}

	l.tracker.ReportListing(ctx, kind, len(all), true)
	logging.Info("listing finished",
		zap.String("kind", string(kind)),
		zap.Int("items", len(all)),
		zap.Int("pages", page),
	)
	return all, nil
}

// fetchPage re-issues one page with its own exponential backoff on top of
// the retrier's delays. Exhausting the page retries records a structured
// error into the active progress before raising.
func (l *Lister) fetchPage(ctx context.Context, kind asset.Kind, token *string, page, fetched int) (remote.Page, error) {
	label := "list_" + string(kind)
	var lastErr error

	for attempt := 0; attempt < l.maxPageRetries; attempt++ {
		if attempt > 0 {
			backoff := min(l.pageRetryBase<<(attempt-1), l.pageRetryMax)
			logging.Warn("retrying listing page",
				zap.String("kind", string(kind)),
				zap.Int("page", page),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			if err := l.sleep(ctx, backoff); err != nil {
				return remote.Page{}, err
			}
		}

		if err := l.pacer.Wait(ctx); err != nil {
			return remote.Page{}, err
		}
		result, err := retry.DoWithResult(ctx, l.listPolicy, label, func() (remote.Page, error) {
			return l.client.ListPage(ctx, kind, token)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return remote.Page{}, ctx.Err()
		}
		if remote.Classify(err) == remote.ClassFatal {
			break
		}
	}

	l.tracker.RecordError(ctx, kind, asset.AssetError{
		ID: fmt.Sprintf("page-%d", page),
		Message: fmt.Sprintf("listing page %d failed after %d retries (%d items fetched): %v",
			page, l.maxPageRetries, fetched, lastErr),
		Timestamp: time.Now().UTC(),
	})
	return remote.Page{}, fmt.Errorf("list %s: page %d: %w", kind, page, lastErr)
}

// listDataSources is the simpler non-paginated enumeration path used for
// the data source kind, served by an alternate client under the same
// List contract.
func (l *Lister) listDataSources(ctx context.Context) ([]asset.Summary, error) {
	if err := l.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	all, err := retry.DoWithResult(ctx, l.listPolicy, "list_datasource", func() ([]asset.Summary, error) {
		return l.client.ListDataSources(ctx)
	})
	if err != nil {
		l.tracker.RecordError(ctx, asset.KindDataSource, asset.AssetError{
			ID:        "enumeration",
			Message:   fmt.Sprintf("data source enumeration failed: %v", err),
			Timestamp: time.Now().UTC(),
		})
		return nil, fmt.Errorf("list datasource: %w", err)
	}

	l.tracker.ReportListing(ctx, asset.KindDataSource, len(all), true)
	return all, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
