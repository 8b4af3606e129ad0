package ws

import (
	"time"

	"golang.org/x/time/rate"
)

// Input rate limits: one token per input byte, refilled continuously.
const (
	DefaultRate  = 100
	DefaultBurst = 500
)

// RateLimiter is a non-blocking token bucket gating inbound terminal input.
// A rejection never queues or delays; the caller reports it and drops the
// input, keeping the connection responsive under flood.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Acquire admits n tokens, or reports false without blocking.
func (l *RateLimiter) Acquire(n int) bool {
	return l.allowAt(time.Now(), n)
}

func (l *RateLimiter) allowAt(t time.Time, n int) bool {
	return l.limiter.AllowN(t, n)
}
