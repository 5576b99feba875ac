package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		rps      float64
		burst    int
		calls    int
		wantPass int
	}{
		{name: "burst allows initial requests", rps: 1, burst: 3, calls: 3, wantPass: 3},
		{name: "exceeding burst blocks", rps: 1, burst: 2, calls: 5, wantPass: 2},
		{name: "zero burst is raised to one", rps: 1, burst: 0, calls: 3, wantPass: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(tt.rps, tt.burst)
			defer rl.Stop()

			passed := 0
			for i := 0; i < tt.calls; i++ {
				if rl.Allow("client") {
					passed++
				}
			}
			assert.Equal(t, tt.wantPass, passed)
		})
	}
}

func TestKeyedRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := New(0.001, 1)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Len())
}

func TestKeyedRateLimiter_EvictIdle(t *testing.T) {
	rl := New(1, 1)
	defer rl.Stop()

	rl.Allow("old")
	rl.evictIdle(time.Now().Add(idleTTL + time.Second))
	assert.Equal(t, 0, rl.Len())
}

func TestKeyedRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := New(0.001, 1)
	defer rl.Stop()

	require.NoError(t, rl.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "k"))
}

func TestPerInterval(t *testing.T) {
	rl := PerInterval(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("ip"), "request %d", i)
	}
	assert.False(t, rl.Allow("ip"))
}

func TestPacer(t *testing.T) {
	t.Run("disabled pacer never waits", func(t *testing.T) {
		p := NewPacer(0)
		start := time.Now()
		for i := 0; i < 100; i++ {
			require.NoError(t, p.Wait(context.Background()))
		}
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("spaces calls", func(t *testing.T) {
		p := NewPacer(50) // one call every 20ms
		start := time.Now()
		for i := 0; i < 4; i++ {
			require.NoError(t, p.Wait(context.Background()))
		}
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, NewPacer(0).Wait(ctx))
	})
}
