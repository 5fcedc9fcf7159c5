package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaceUnlimitedDoesNotBlock(t *testing.T) {
	th := NewThrottle(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, th.Pace(context.Background(), 1<<20))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPaceEnforcesCeiling(t *testing.T) {
	// 800 kbit/s = 100 kB/s, so 20 kB should take at least ~200 ms.
	th := NewThrottle(800_000)
	start := time.Now()
	require.NoError(t, th.Pace(context.Background(), 10_000))
	require.NoError(t, th.Pace(context.Background(), 10_000))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestPaceCancelled(t *testing.T) {
	th := NewThrottle(8) // one byte per second
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := th.Pace(ctx, 1000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetCeilingLiftsLimit(t *testing.T) {
	th := NewThrottle(8)
	th.SetCeiling(0)
	start := time.Now()
	require.NoError(t, th.Pace(context.Background(), 1<<20))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int64(0), th.Ceiling())
}
