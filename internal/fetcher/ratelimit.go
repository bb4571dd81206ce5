package fetcher

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between external fetch calls.
// One instance gates every bird invocation regardless of which worker pool
// triggered it.
type RateLimiter struct {
	minInterval time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewRateLimiter creates a limiter with the given minimum interval between
// calls. A non-positive interval disables limiting.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{minInterval: minInterval}
}

// Wait blocks until the minimum interval since the previous call has
// elapsed, or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.minInterval <= 0 {
		return nil
	}

	r.mu.Lock()
	now := time.Now()
	waitFor := r.minInterval - now.Sub(r.lastCall)
	if waitFor <= 0 {
		r.lastCall = now
		r.mu.Unlock()
		return nil
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// rather than all waking at once.
	r.lastCall = now.Add(waitFor)
	r.mu.Unlock()

	timer := time.NewTimer(waitFor)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
