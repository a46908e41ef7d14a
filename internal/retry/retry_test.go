package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sightsync/sightsync/internal/remote"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func transientErr(msg string) error {
	return &remote.APIError{Op: "test", Code: "InternalFailure", Class: remote.ClassTransient, Err: errors.New(msg)}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "test_op", func() error {
		calls++
		if calls < 3 {
			return transientErr("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnFatalError(t *testing.T) {
	calls := 0
	fatal := errors.New("AccessDenied")
	err := Do(context.Background(), fastPolicy(), "test_op", func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("fatal error should not be retried, got %d calls", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "test_op", func() error {
		calls++
		return transientErr("still down")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Errorf("expected 4 attempts, got %d", calls)
	}
}

func TestDoWithResultReturnsValue(t *testing.T) {
	got, err := DoWithResult(context.Background(), fastPolicy(), "test_op", func() (string, error) {
		return "payload", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "payload" {
		t.Errorf("expected payload, got %q", got)
	}
}

func TestDoRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(), "test_op", func() error {
		calls++
		cancel()
		return transientErr("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation stopped retries, got %d", calls)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}
	if d := p.delay(0); d != 100*time.Millisecond {
		t.Errorf("delay(0) = %v, want 100ms", d)
	}
	if d := p.delay(2); d != 400*time.Millisecond {
		t.Errorf("delay(2) = %v, want 400ms", d)
	}
	if d := p.delay(8); d != time.Second {
		t.Errorf("delay(8) = %v, want capped at 1s", d)
	}
}

func TestDelayJitterStaysBounded(t *testing.T) {
	p := DefaultPolicy()
	for i := 0; i < 100; i++ {
		d := p.delay(1)
		base := time.Second
		if d < base || d > base+time.Duration(float64(base)*p.Jitter) {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, base, base+300*time.Millisecond)
		}
	}
}
