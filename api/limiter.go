package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// donorLimiter throttles offer creation per donor. A nil limiter allows
// everything.
type donorLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*rate.Limiter
}

func newDonorLimiter(perMinute float64, burst int) *donorLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &donorLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		limiters: make(map[int64]*rate.Limiter),
	}
}

func (l *donorLimiter) Allow(donorID int64) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	lim, ok := l.limiters[donorID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[donorID] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
