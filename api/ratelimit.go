package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per credential subject.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows limit requests per second with the given burst
// per subject.
func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the subject may proceed.
func (rl *RateLimiter) Allow(subject string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[subject] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}
