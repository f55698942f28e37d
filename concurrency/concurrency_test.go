package concurrency

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(Config{Backend: BackendRedis, RedisClient: client})
}

func intPtr(n int) *int { return &n }

func testReservationFairness(t *testing.T, m *Manager) {
	ctx := context.Background()
	cap := 10
	ratio := 0.3 // non-cached cap = floor(10*0.7) = 7

	for i := 0; i < 7; i++ {
		ok, err := m.TryAcquire(ctx, "", nil, "c1", cap, false, ratio)
		require.NoError(t, err)
		require.True(t, ok, "acquire %d should succeed", i)
	}

	ok, err := m.TryAcquire(ctx, "", nil, "c1", cap, false, ratio)
	require.NoError(t, err)
	assert.False(t, ok, "8th non-cached acquire must be refused at the reservation boundary")

	ok, err = m.TryAcquire(ctx, "", nil, "c1", cap, true, ratio)
	require.NoError(t, err)
	assert.True(t, ok, "cached caller may use reserved slots")
}

func TestMemoryBackendReservationFairness(t *testing.T) {
	m := New(Config{Backend: BackendMemory})
	testReservationFairness(t, m)
}

func TestRedisBackendReservationFairness(t *testing.T) {
	m := newMiniredisManager(t)
	testReservationFairness(t, m)
}

func TestSlotConservationAcrossAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := New(Config{Backend: BackendMemory})

	for i := 0; i < 5; i++ {
		ok, err := m.TryAcquire(ctx, "e1", intPtr(100), "c1", 5, false, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := m.TryAcquire(ctx, "e1", intPtr(100), "c1", 5, false, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Release(ctx, "e1", "c1"))
	}

	n, err := m.CurrentCredentialInFlight(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ok, err = m.TryAcquire(ctx, "e1", intPtr(100), "c1", 5, false, 0)
	require.NoError(t, err)
	assert.True(t, ok, "slots must be reusable after release")
}

func TestEndpointCapRejectionRollsBackCredentialIncrement(t *testing.T) {
	ctx := context.Background()
	m := New(Config{Backend: BackendMemory})

	ok, err := m.TryAcquire(ctx, "e1", intPtr(1), "c1", 10, false, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.TryAcquire(ctx, "e1", intPtr(1), "c2", 10, false, 0)
	require.NoError(t, err)
	assert.False(t, ok, "endpoint cap of 1 must reject the second credential")

	n, err := m.CurrentCredentialInFlight(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "credential increment must be rolled back on endpoint refusal")
}
