package queuestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestPopMin_HighestValueFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Enqueue(ctx, "batch-low", -5000))
	require.NoError(t, store.Enqueue(ctx, "batch-high", -20000))

	member, ok, err := store.PopMin(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "batch-high", member)
}

func TestPopMin_EmptyQueue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.PopMin(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimSupplier_AtomicAddIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	claimed, err := store.ClaimSupplier(ctx, "supplier-1")
	require.NoError(t, err)
	require.True(t, claimed)

	claimedAgain, err := store.ClaimSupplier(ctx, "supplier-1")
	require.NoError(t, err)
	require.False(t, claimedAgain)

	require.NoError(t, store.ReleaseSupplier(ctx, "supplier-1"))

	claimedAfterRelease, err := store.ClaimSupplier(ctx, "supplier-1")
	require.NoError(t, err)
	require.True(t, claimedAfterRelease)
}

func TestRequeue_MovesFromProcessingToPrimary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Enqueue(ctx, "batch-1", -15000))
	_, ok, err := store.PopMin(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Requeue(ctx, "batch-1", -15000))

	members, err := store.Peek(ctx, 10)
	require.NoError(t, err)
	require.Contains(t, members, "batch-1")
}

func TestCallback_ScheduleAndMigrateWhenDue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	at := time.Now().Add(-time.Minute)
	require.NoError(t, store.ScheduleCallback(ctx, "batch-2", at))

	due, err := store.DueCallbacks(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Contains(t, due, "batch-2")

	moved, err := store.MigrateCallback(ctx, "batch-2", true, -1000)
	require.NoError(t, err)
	require.True(t, moved)

	members, err := store.Peek(ctx, 10)
	require.NoError(t, err)
	require.Contains(t, members, "batch-2")
}

func TestCallback_DropStaleWithoutRequeue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.ScheduleCallback(ctx, "batch-3", time.Now().Add(-time.Minute)))

	moved, err := store.MigrateCallback(ctx, "batch-3", false, 0)
	require.NoError(t, err)
	require.True(t, moved)

	members, err := store.Peek(ctx, 10)
	require.NoError(t, err)
	require.NotContains(t, members, "batch-3")
}
