// Package rate paces Discord REST requests.
package rate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Limiter enforces delays between Discord API requests with optional random jitter.
type Limiter struct {
	mu          sync.Mutex
	clock       quartz.Clock
	lastRequest time.Time
	minInterval time.Duration
	maxJitter   time.Duration
}

// New creates a rate limiter with base interval and jitter.
// For example, baseInterval=1s and jitter=200ms will result in delays between 800ms-1200ms.
func New(clock quartz.Clock, baseInterval, jitter time.Duration) *Limiter {
	return &Limiter{
		clock:       clock,
		lastRequest: clock.Now().Add(-baseInterval),
		minInterval: baseInterval,
		maxJitter:   jitter,
	}
}

// Wait blocks until enough time has passed since the previous slot and claims the next one.
func (r *Limiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	targetDelay := r.minInterval
	if r.maxJitter > 0 {
		targetDelay += time.Duration(rand.Int64N(int64(r.maxJitter*2))) - r.maxJitter
	}

	waitDuration := targetDelay - r.clock.Since(r.lastRequest)

	if waitDuration > 0 {
		timer := r.clock.NewTimer(waitDuration, "rate", "wait")
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.lastRequest = r.clock.Now()

	return nil
}
