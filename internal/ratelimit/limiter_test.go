package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter_Validation(t *testing.T) {
	if _, err := NewLimiter(0, 5, 0); err == nil {
		t.Error("zero fill interval should be rejected")
	}
	if _, err := NewLimiter(time.Second, 0, 0); err == nil {
		t.Error("zero capacity should be rejected")
	}
	l, err := NewLimiter(time.Second, 5, 0)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestLimiter_AdmitScenario(t *testing.T) {
	// capacity=5, refill interval=10s: five rapid admits succeed, the
	// sixth is rejected with 0 < retry-after <= 10s, and after 10s a
	// sixth call succeeds.
	l, err := NewLimiter(10*time.Second, 5, 0)
	require.NoError(t, err)

	clock := newFakeClock()
	b := l.bucket("203.0.113.7")
	b.now = clock.Now
	b.lastRefill = clock.Now()

	for i := 0; i < 5; i++ {
		ok, _ := l.Admit("203.0.113.7")
		require.True(t, ok, "admit %d should succeed", i+1)
	}

	ok, retry := l.Admit("203.0.113.7")
	require.False(t, ok, "sixth immediate admit should be rejected")
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 10*time.Second)

	clock.Advance(10 * time.Second)

	ok, _ = l.Admit("203.0.113.7")
	assert.True(t, ok, "admit should succeed after the refill interval")
}

func TestLimiter_AdmitWithInfo(t *testing.T) {
	l, err := NewLimiter(10*time.Second, 3, 0)
	require.NoError(t, err)

	ok, info := l.AdmitWithInfo("client")
	require.True(t, ok)
	assert.Equal(t, int64(3), info.Limit)
	assert.Equal(t, int64(2), info.Remaining)
	assert.Equal(t, 10*time.Second, info.Window)
	assert.Zero(t, info.RetryAfter)

	l.AdmitWithInfo("client")
	l.AdmitWithInfo("client")

	ok, info = l.AdmitWithInfo("client")
	require.False(t, ok)
	assert.Equal(t, int64(3), info.Limit)
	assert.Zero(t, info.Remaining)
	assert.Greater(t, info.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, info.RetryAfter, 10*time.Second)
}

func TestLimiter_KeyIsolation(t *testing.T) {
	l, err := NewLimiter(time.Hour, 3, 0)
	require.NoError(t, err)

	// Exhaust key A from many goroutines.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Admit("key-a")
			}
		}()
	}
	wg.Wait()

	if ok, _ := l.Admit("key-a"); ok {
		t.Fatal("key A should be exhausted")
	}

	// Key B must be unaffected.
	for i := 0; i < 3; i++ {
		ok, _ := l.Admit("key-b")
		assert.True(t, ok, "key B admit %d should succeed despite key A exhaustion", i+1)
	}
}

func TestLimiter_ConcurrentAdmitExactCount(t *testing.T) {
	const capacity = 100
	l, err := NewLimiter(time.Hour, capacity, 0)
	require.NoError(t, err)

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 30; j++ {
				if ok, _ := l.Admit("shared"); ok {
					atomic.AddInt64(&admitted, 1)
				}
			}
		}()
	}
	wg.Wait()

	// 300 attempts against 100 tokens and a negligible refill window.
	assert.Equal(t, int64(capacity), atomic.LoadInt64(&admitted))
}

func TestLimiter_KeyMapBounded(t *testing.T) {
	l, err := NewLimiter(time.Hour, 1, 4)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		l.Admit(fmt.Sprintf("client-%d", i))
	}
	assert.LessOrEqual(t, l.KeyCount(), 4)

	// An evicted key comes back with a fresh, full bucket.
	ok, _ := l.Admit("client-0")
	assert.True(t, ok)
}

func TestLimiter_LazyCreation(t *testing.T) {
	l, err := NewLimiter(time.Second, 5, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, l.KeyCount())
	l.Admit("first")
	assert.Equal(t, 1, l.KeyCount())
	l.Admit("first")
	assert.Equal(t, 1, l.KeyCount(), "repeat key must reuse its bucket")
}
