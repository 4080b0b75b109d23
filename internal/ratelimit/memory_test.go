package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(requests int64, window time.Duration) (*MemoryLimiter, *time.Time) {
	now := time.Date(2026, 6, 14, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(&Config{RequestsPerWindow: requests, Window: window})
	l.now = func() time.Time { return now }

	return l, &now
}

func TestMemoryLimiterCeiling(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "agent-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i)
	}

	res, err := l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "agent-1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	*now = now.Add(61 * time.Second)

	res, err = l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "the window must slide past old requests")
}

func TestMemoryLimiterZeroCeilingDeniesAll(t *testing.T) {
	l, _ := newTestLimiter(0, time.Minute)
	ctx := context.Background()

	res, err := l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)

	// The denial must be stable, not a one-off.
	res, err = l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestNormalizeConfig(t *testing.T) {
	cfg := normalize(nil)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = normalize(&Config{RequestsPerWindow: 5})
	assert.Equal(t, time.Minute, cfg.Window)
	assert.Equal(t, int64(5), cfg.RequestsPerWindow)
}

func TestMemoryLimiterZeroWindowDefaults(t *testing.T) {
	l := NewMemoryLimiter(&Config{RequestsPerWindow: 1})
	ctx := context.Background()

	res, err := l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestMemoryLimiterPerKeyIsolation(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	res, err := l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "agent-1")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = l.Allow(ctx, "agent-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "one caller's ceiling must not affect another")
}
