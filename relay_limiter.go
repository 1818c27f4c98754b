package main

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket gating JSON signaling payload bytes on the
// relay path. It exposes a non-blocking Allow rather than a blocking Wait:
// registry mutation decisions (§5) must never suspend, so an over-budget
// frame is dropped (a relay-drop, spec.md §7) rather than delayed.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // bytes per second
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter with the given bytes-per-second
// budget. The bucket holds 2 seconds of burst capacity.
func NewRateLimiter(bytesPerSecond int64) *RateLimiter {
	maxTokens := float64(bytesPerSecond) * 2.0
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: float64(bytesPerSecond),
		lastRefill: time.Now(),
	}
}

// Allow reports whether n bytes may be forwarded right now, consuming
// them from the bucket if so.
func (r *RateLimiter) Allow(n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	needed := float64(n)
	if r.tokens < needed {
		return false
	}
	r.tokens -= needed
	return true
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}
