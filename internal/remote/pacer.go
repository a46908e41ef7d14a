package remote

import (
	"context"
	"sync"
	"time"
)

// Pacer is a token bucket bounding the aggregate remote call rate across
// all workers. A rate of 0 disables pacing.
type Pacer struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewPacer creates a pacer allowing ratePerSec calls per second with a
// burst of the same size.
func NewPacer(ratePerSec float64) *Pacer {
	return &Pacer{
		tokens:     ratePerSec,
		maxTokens:  ratePerSec,
		refillRate: ratePerSec,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (p *Pacer) refill() {
	now := p.now()
	elapsed := now.Sub(p.lastRefill).Seconds()
	p.tokens += elapsed * p.refillRate
	if p.tokens > p.maxTokens {
		p.tokens = p.maxTokens
	}
	p.lastRefill = now
}

// take consumes one token if available and otherwise returns how long to
// wait until the next token.
func (p *Pacer) take() (bool, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refill()
	if p.tokens >= 1 {
		p.tokens--
		return true, 0
	}
	needed := 1.0 - p.tokens
	return false, time.Duration(needed / p.refillRate * float64(time.Second))
}

// Wait blocks until a call slot is available or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.refillRate <= 0 {
		return ctx.Err()
	}
	for {
		ok, wait := p.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
