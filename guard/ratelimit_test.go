package guard

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestFixedWindowLimiter_AllowsUpToMaxRequests(t *testing.T) {
	l := NewFixedWindowLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 3})

	for i := 0; i < 3; i++ {
		assert.False(t, l.IsRateLimited("alice", epoch.Add(time.Duration(i)*time.Second)), "request %d", i+1)
	}
	assert.True(t, l.IsRateLimited("alice", epoch.Add(10*time.Second)))
	assert.True(t, l.IsRateLimited("alice", epoch.Add(59*time.Second)))
}

func TestFixedWindowLimiter_WindowResetsFromWindowStart(t *testing.T) {
	l := NewFixedWindowLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 1})

	require.False(t, l.IsRateLimited("alice", epoch))
	require.True(t, l.IsRateLimited("alice", epoch.Add(30*time.Second)))

	// The window is anchored at its first request, not the last one.
	assert.False(t, l.IsRateLimited("alice", epoch.Add(time.Minute)))
	assert.True(t, l.IsRateLimited("alice", epoch.Add(time.Minute+time.Second)))
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	l := NewFixedWindowLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 1})

	require.False(t, l.IsRateLimited("alice", epoch))
	assert.False(t, l.IsRateLimited("bob", epoch))
	assert.True(t, l.IsRateLimited("alice", epoch))
	assert.Equal(t, 2, l.Size())
}

func TestFixedWindowLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	l := NewFixedWindowLimiter(LimiterConfig{Window: time.Hour, MaxRequests: 1, MaxKeys: 2})

	require.False(t, l.IsRateLimited("a", epoch))
	require.False(t, l.IsRateLimited("b", epoch))
	// Touch "a" so "b" becomes the eviction candidate.
	require.True(t, l.IsRateLimited("a", epoch))
	require.False(t, l.IsRateLimited("c", epoch))

	assert.Equal(t, 2, l.Size())
	assert.True(t, l.IsRateLimited("a", epoch), "a should still be tracked")
	assert.False(t, l.IsRateLimited("b", epoch), "b was evicted and starts a fresh window")
}

func TestFixedWindowLimiter_SweepsExpiredWindows(t *testing.T) {
	l := NewFixedWindowLimiter(LimiterConfig{Window: time.Second, MaxRequests: 5, PruneInterval: time.Second})

	for i := 0; i < 10; i++ {
		l.IsRateLimited(fmt.Sprintf("k%d", i), epoch)
	}
	require.Equal(t, 10, l.Size())

	l.IsRateLimited("fresh", epoch.Add(2*time.Second))
	assert.Equal(t, 1, l.Size())
}

func TestFixedWindowLimiter_SweepIsAmortized(t *testing.T) {
	l := NewFixedWindowLimiter(LimiterConfig{Window: time.Second, MaxRequests: 5, PruneInterval: time.Minute})

	l.IsRateLimited("old", epoch)
	l.IsRateLimited("other", epoch.Add(2*time.Second))
	// The first call swept at epoch; the next sweep is not due for a minute.
	assert.Equal(t, 2, l.Size())

	l.IsRateLimited("later", epoch.Add(2*time.Minute))
	assert.Equal(t, 1, l.Size())
}

func TestFixedWindowLimiter_Clear(t *testing.T) {
	l := NewFixedWindowLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 1})
	l.IsRateLimited("a", epoch)
	l.IsRateLimited("a", epoch)

	l.Clear()
	assert.Equal(t, 0, l.Size())
	assert.False(t, l.IsRateLimited("a", epoch))
}

func TestFixedWindowLimiterProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("maxRequests calls pass, the next is limited, a new window passes", prop.ForAll(
		func(maxRequests int, windowMs int, key string) bool {
			window := time.Duration(windowMs) * time.Millisecond
			l := NewFixedWindowLimiter(LimiterConfig{Window: window, MaxRequests: maxRequests})
			for i := 0; i < maxRequests; i++ {
				if l.IsRateLimited(key, epoch) {
					return false
				}
			}
			if !l.IsRateLimited(key, epoch.Add(window-time.Millisecond)) {
				return false
			}
			return !l.IsRateLimited(key, epoch.Add(window))
		},
		gen.IntRange(1, 50),
		gen.IntRange(2, 60000),
		gen.AlphaString(),
	))

	properties.Property("size never exceeds MaxKeys", prop.ForAll(
		func(maxKeys int, keys []string) bool {
			l := NewFixedWindowLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 1, MaxKeys: maxKeys})
			for i, k := range keys {
				l.IsRateLimited(k, epoch.Add(time.Duration(i)*time.Millisecond))
				if l.Size() > maxKeys {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
