package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBlocksOverLimit(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)

	// other clients have their own budget
	allowed, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMemoryLimiterResetsAfterWindow(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	allowed, _ := l.Allow(ctx, "10.0.0.1")
	require.True(t, allowed)
	allowed, _ = l.Allow(ctx, "10.0.0.1")
	require.False(t, allowed)

	now = now.Add(2 * time.Minute)
	allowed, _ = l.Allow(ctx, "10.0.0.1")
	require.True(t, allowed)
}

func TestMemoryLimiterZeroLimitDisables(t *testing.T) {
	l := NewMemoryLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		allowed, err := l.Allow(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		require.True(t, allowed)
	}
}
