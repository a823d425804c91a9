package agent

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket for throttling assistant run creation.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows maxBurst immediate calls refilled at ratePerMinute.
// A non-positive rate disables throttling.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	limit := rate.Inf
	if ratePerMinute > 0 {
		limit = rate.Limit(ratePerMinute / 60.0)
	}
	return &RateLimiter{lim: rate.NewLimiter(limit, maxBurst)}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.lim.Wait(ctx)
}
