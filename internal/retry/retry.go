// Package retry wraps fallible remote and store operations with error
// classification and exponential backoff with jitter.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/remote"
)

// Policy holds retry configuration.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on the computed delay
	Multiplier  float64       // backoff multiplier
	Jitter      float64       // fraction of extra uniform jitter (0-1)
}

// DefaultPolicy is used for item-level fetches and store writes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.3,
	}
}

// ListPolicy is more conservative: a failed listing page is expensive to
// repeat, so it waits longer between fewer attempts.
func ListPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.3,
	}
}

// delay computes the wait before attempt n (0-based retry count).
func (p Policy) delay(n int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Do executes fn, retrying while the error classifies as retryable and
// attempts remain. The label identifies the operation in logs and metrics.
func Do(ctx context.Context, p Policy, label string, fn func() error) error {
	_, err := DoWithResult(ctx, p, label, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, p Policy, label string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.delay(attempt - 1)
			logging.Debug("retrying operation",
				zap.String("label", label),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			metrics.RecordRetry(label)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err

		if !remote.Retryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	logging.Warn("retries exhausted",
		zap.String("label", label),
		zap.Int("attempts", p.MaxAttempts),
		zap.Error(lastErr),
	)
	return zero, lastErr
}
