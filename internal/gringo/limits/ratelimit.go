// Package limits protects the generation service from any single user: a
// per-user message rate limit and a per-user daily token budget.
package limits

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRatePerMinute is the per-user message allowance when none is
// configured.
const DefaultRatePerMinute = 20

// RateLimiter is a per-user token bucket. Each user may send a burst of
// perMinute messages, refilled evenly over a minute.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*userLimiter
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter allowing perMinute messages per user.
// perMinute ≤ 0 selects DefaultRatePerMinute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRatePerMinute
	}
	return &RateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*userLimiter),
		now:      time.Now,
	}
}

// Allow consumes one message from userKey's allowance and reports whether
// it was available.
func (r *RateLimiter) Allow(userKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	u, ok := r.limiters[userKey]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[userKey] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}

// Sweep forgets users idle for longer than idle and returns how many were
// removed. A forgotten user starts again with a full bucket.
func (r *RateLimiter) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	removed := 0
	for key, u := range r.limiters {
		if u.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}
