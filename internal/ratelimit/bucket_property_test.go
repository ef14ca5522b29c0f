package ratelimit

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_TokenCountBounds validates that no interleaving of takes
// and clock advances ever leaves the token count negative or above
// capacity.
func TestProperty_TokenCountBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("0 <= tokens <= capacity after any op sequence", prop.ForAll(
		func(capacity int64, takes []int64, advancesMs []int64) bool {
			tb, clock := newTestBucket(10*time.Second, capacity)

			for i, n := range takes {
				if len(advancesMs) > 0 {
					clock.Advance(time.Duration(advancesMs[i%len(advancesMs)]) * time.Millisecond)
				}
				tb.TakeAvailable(n)

				if got := tb.Tokens(); got < 0 || got > capacity {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 100),
		gen.SliceOf(gen.Int64Range(0, 20)),
		gen.SliceOf(gen.Int64Range(0, 5000)),
	))

	properties.Property("failed take leaves count unchanged beyond refill", prop.ForAll(
		func(capacity int64, over int64) bool {
			tb, _ := newTestBucket(10*time.Second, capacity)

			// Asking for more than capacity must fail on a full bucket
			// and leave it full.
			if tb.TakeAvailable(capacity + over) {
				return false
			}
			return tb.Tokens() == capacity
		},
		gen.Int64Range(1, 100),
		gen.Int64Range(1, 100),
	))

	properties.TestingRun(t)
}
