package httpapi

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-client request rates with a token bucket per key.
type RateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	r           rate.Limit
	burst       int
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per minute per key
// with the given burst. rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	rl := &RateLimiter{limiters: make(map[string]*limiterEntry), lastCleanup: time.Now()}
	rl.Set(rpm, burst)
	return rl
}

// Set changes the rate for keys seen from now on and resets existing buckets.
func (rl *RateLimiter) Set(rpm, burst int) {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	rl.mu.Lock()
	rl.r, rl.burst = r, burst
	clear(rl.limiters)
	rl.mu.Unlock()
}

// Enabled reports whether limiting is active.
func (rl *RateLimiter) Enabled() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.r > 0
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.r == 0 {
		return true
	}
	now := time.Now()
	if now.Sub(rl.lastCleanup) > 5*time.Minute {
		rl.sweep(now.Add(-10 * time.Minute))
		rl.lastCleanup = now
	}
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	if !e.limiter.AllowN(now, 1) {
		slog.Warn("[HTTP] rate limited", "key", key)
		return false
	}
	return true
}

// sweep drops buckets idle since before cutoff. Caller holds rl.mu.
func (rl *RateLimiter) sweep(cutoff time.Time) {
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
		}
	}
}
