package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *time.Time) {
	t.Helper()

	l := New(max, window, time.Hour)
	t.Cleanup(l.Close)

	current := time.Now()
	l.now = func() time.Time { return current }

	return l, &current
}

func TestAllowWithinCeiling(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, remaining := l.Allow("203.0.113.7")
		require.True(t, allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, remaining)
	}
}

func TestRejectsOverCeiling(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		l.Allow("203.0.113.7")
	}

	allowed, remaining := l.Allow("203.0.113.7")
	assert.False(t, allowed)
	assert.Zero(t, remaining)

	// A different address has its own bucket.
	allowed, _ = l.Allow("203.0.113.8")
	assert.True(t, allowed)
}

func TestWindowReset(t *testing.T) {
	l, current := newTestLimiter(t, 2, time.Minute)

	l.Allow("203.0.113.7")
	l.Allow("203.0.113.7")
	allowed, _ := l.Allow("203.0.113.7")
	require.False(t, allowed)

	*current = current.Add(61 * time.Second)

	allowed, remaining := l.Allow("203.0.113.7")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestSweepDropsExpiredBuckets(t *testing.T) {
	l, current := newTestLimiter(t, 5, time.Minute)

	l.Allow("203.0.113.7")
	l.Allow("203.0.113.8")

	*current = current.Add(2 * time.Minute)
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}
