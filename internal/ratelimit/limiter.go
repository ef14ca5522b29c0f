package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxKeys bounds the number of distinct client keys tracked
// before the least-recently-seen bucket is evicted. Eviction re-admits
// the key with a full bucket on its next request, which is acceptable:
// an evicted key is one not seen among the last DefaultMaxKeys clients.
const DefaultMaxKeys = 65536

// Limiter owns a bounded map of client key -> TokenBucket and is the
// request-admission decision point. Capacity and fill interval are
// fixed at construction and shared by all keys; buckets are created
// lazily on first sight of a key.
type Limiter struct {
	fillInterval time.Duration
	capacity     int64

	// mu guards only find-or-insert on the key map. Bucket operations
	// happen outside this lock so unrelated clients never serialize on
	// each other.
	mu      sync.Mutex
	buckets *lru.Cache[string, *TokenBucket]
}

// NewLimiter creates a limiter allowing `capacity` requests per key per
// `fillInterval`, tracking at most maxKeys distinct keys (DefaultMaxKeys
// when maxKeys <= 0).
func NewLimiter(fillInterval time.Duration, capacity int64, maxKeys int) (*Limiter, error) {
	if fillInterval <= 0 {
		return nil, fmt.Errorf("ratelimit: fill interval must be positive, got %v", fillInterval)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("ratelimit: capacity must be positive, got %d", capacity)
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	cache, err := lru.New[string, *TokenBucket](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: failed to create key cache: %w", err)
	}

	return &Limiter{
		fillInterval: fillInterval,
		capacity:     capacity,
		buckets:      cache,
	}, nil
}

// Info describes the admission decision for response headers: the
// shared limit and window, tokens left for this key, and (on denial) a
// retry-after hint clamped to zero or more.
type Info struct {
	Limit      int64
	Remaining  int64
	Window     time.Duration
	RetryAfter time.Duration
}

// Admit decides whether a request from the given key may proceed,
// consuming one token on success. When denied it returns a retry-after
// hint clamped to zero or more; on success the hint is zero.
func (l *Limiter) Admit(key string) (bool, time.Duration) {
	ok, info := l.AdmitWithInfo(key)
	return ok, info.RetryAfter
}

// AdmitWithInfo is Admit plus the limit details callers expose to
// clients.
func (l *Limiter) AdmitWithInfo(key string) (bool, Info) {
	b := l.bucket(key)
	info := Info{Limit: l.capacity, Window: l.fillInterval}

	if b.TakeAvailable(1) {
		info.Remaining = b.Tokens()
		return true, info
	}

	if retry := b.RetryAfter(); retry > 0 {
		info.RetryAfter = retry
	}
	return false, info
}

// KeyCount returns the number of client keys currently tracked.
func (l *Limiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}

// bucket finds or lazily creates the bucket for key. The map lock is
// held only for the lookup/insert, never while touching the bucket.
func (l *Limiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	b := NewTokenBucket(l.fillInterval, l.capacity)
	l.buckets.Add(key, b)
	return b
}
