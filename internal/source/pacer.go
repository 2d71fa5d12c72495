package source

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// pacerSleepFunc waits for d or until ctx is done. Overridden in tests.
var pacerSleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer spaces outbound requests: a shared token bucket plus a random
// delay in [min, max] before every request. A nil Pacer never waits.
type Pacer struct {
	limiter *rate.Limiter
	min     time.Duration
	max     time.Duration
}

// NewPacer creates a pacer. rps <= 0 disables the token bucket.
func NewPacer(rps float64, minDelay, maxDelay time.Duration) *Pacer {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		min:     minDelay,
		max:     maxDelay,
	}
}

// Wait blocks until the next request may be sent.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	d := p.Delay()
	if d <= 0 {
		return nil
	}
	return pacerSleepFunc(ctx, d)
}

// Delay draws one random pre-request delay.
func (p *Pacer) Delay() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + rand.N(p.max-p.min+1)
}
