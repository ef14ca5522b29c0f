// Package ratelimit implements per-client admission control using token
// buckets with lazy, continuous refill.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a capped token counter that refills continuously at a
// fixed rate. Tokens and capacity are integers; refill is computed in
// floating point and truncated toward zero when credited back, so
// fractional progress between calls is intentionally discarded.
//
// All methods are safe for concurrent use; a single mutex serializes
// operations on one bucket. Buckets for different keys share nothing.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int64
	capacity   int64
	fillRate   float64 // tokens per second
	lastRefill time.Time

	now func() time.Time
}

// NewTokenBucket creates a full bucket that refills `capacity` tokens
// over `fillInterval`.
func NewTokenBucket(fillInterval time.Duration, capacity int64) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		fillRate:   float64(capacity) / fillInterval.Seconds(),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// TakeAvailable attempts to consume n tokens now. It refills first based
// on elapsed time, then either subtracts n and returns true, or returns
// false leaving the token count unchanged beyond the refill.
func (tb *TokenBucket) TakeAvailable(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// RetryAfter returns how long a denied client should wait before
// retrying. Zero when at least one token is available. Otherwise it
// returns the time to refill the bucket from empty to full, minus time
// already elapsed since the last refill: a burst-recovery hint, not the
// time to the next single token. The result can be negative when a
// refill races in; callers must clamp to zero.
func (tb *TokenBucket) RetryAfter() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		return 0
	}
	fillTime := time.Duration(float64(tb.capacity) / tb.fillRate * float64(time.Second))
	return fillTime - tb.now().Sub(tb.lastRefill)
}

// Tokens returns the number of currently available tokens after a
// refill. Intended for tests and introspection.
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// refill credits tokens for the time elapsed since the last refill,
// capped at capacity. Must be called with the mutex held.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	if elapsed <= 0 {
		// Clock went backwards; don't credit tokens.
		return
	}

	tokens := tb.tokens + int64(elapsed*tb.fillRate)
	if tokens > tb.capacity {
		tokens = tb.capacity
	}
	tb.tokens = tokens
}
