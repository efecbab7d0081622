// Package ratelimit enforces a per-user request budget on the API.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per user.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewLimiter allows requestsPerHour sustained per user with the given burst.
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
	}
}

func (l *Limiter) limiterFor(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[userID] = limiter
	}
	return limiter
}

// Allow reports whether the user may make a request right now.
func (l *Limiter) Allow(userID string) bool {
	return l.limiterFor(userID).Allow()
}

// Tokens returns the user's remaining burst capacity.
func (l *Limiter) Tokens(userID string) float64 {
	return l.limiterFor(userID).Tokens()
}
