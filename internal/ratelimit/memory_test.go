package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(window time.Duration) (*InMemoryLimiter, *time.Time) {
	limiter := NewInMemory(window)
	now := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestAllowWithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(5 * time.Second)

	for i := 0; i < 20; i++ {
		decision := limiter.Allow("conn-1", 20)
		require.True(t, decision.Allowed, "message %d should be admitted", i+1)
	}

	decision := limiter.Allow("conn-1", 20)
	assert.False(t, decision.Allowed, "message 21 should be rejected")
	assert.Zero(t, decision.Remaining)
}

func TestSiblingKeysIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(5 * time.Second)

	for i := 0; i < 20; i++ {
		require.True(t, limiter.Allow("conn-1", 20).Allowed)
	}
	require.False(t, limiter.Allow("conn-1", 20).Allowed)

	// A sibling connection's quota is unaffected.
	assert.True(t, limiter.Allow("conn-2", 20).Allowed)
}

func TestWindowSlides(t *testing.T) {
	limiter, now := newTestLimiter(5 * time.Second)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow("conn-1", 3).Allowed)
	}
	require.False(t, limiter.Allow("conn-1", 3).Allowed)

	*now = now.Add(6 * time.Second)
	assert.True(t, limiter.Allow("conn-1", 3).Allowed, "quota should replenish after the window slides")
}

func TestRejectionsDoNotExtendWindow(t *testing.T) {
	limiter, now := newTestLimiter(5 * time.Second)

	require.True(t, limiter.Allow("conn-1", 1).Allowed)
	for i := 0; i < 10; i++ {
		require.False(t, limiter.Allow("conn-1", 1).Allowed)
	}

	*now = now.Add(5*time.Second + time.Millisecond)
	assert.True(t, limiter.Allow("conn-1", 1).Allowed)
}

func TestIdleKeysEvicted(t *testing.T) {
	limiter, now := newTestLimiter(5 * time.Second)

	limiter.Allow("conn-1", 20)
	limiter.Allow("conn-2", 20)
	require.Equal(t, 2, limiter.TrackedKeys())

	// Past the grace period, a check on any key sweeps idle state.
	*now = now.Add(11 * time.Second)
	limiter.Allow("conn-3", 20)
	assert.Equal(t, 1, limiter.TrackedKeys())
}

func TestForget(t *testing.T) {
	limiter, _ := newTestLimiter(5 * time.Second)

	limiter.Allow("conn-1", 20)
	require.Equal(t, 1, limiter.TrackedKeys())

	limiter.Forget("conn-1")
	assert.Zero(t, limiter.TrackedKeys())
}
