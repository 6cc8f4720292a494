package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestDistributedLock_Exclusive(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	first := NewSettlementLock(client, day, "host-a", time.Minute)
	second := NewSettlementLock(client, day, "host-b", time.Minute)
	assert.Equal(t, "settlement:lock:2025-03-01", first.Key())

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHeld)
	require.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_ExpiresAndGivesUp(t *testing.T) {
	client, mr := newClient(t)
	ctx := context.Background()

	held := NewWithdrawalLock(client, 42, "req-1")
	require.NoError(t, held.Lock(ctx, time.Millisecond, 1))

	waiting := NewWithdrawalLock(client, 42, "req-2")
	assert.ErrorIs(t, waiting.Lock(ctx, time.Millisecond, 3), ErrLockFailed)

	mr.FastForward(31 * time.Second)
	require.NoError(t, waiting.Lock(ctx, time.Millisecond, 1))
	assert.ErrorIs(t, held.Unlock(ctx), ErrNotHeld)
}
