package reservation

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Minute), mr
}

func TestHeldExcludesOwnSession(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	mine := NewSession()
	other := NewSession()
	require.NoError(t, store.Reserve(ctx, mine, 1, 1, 3))
	require.NoError(t, store.Reserve(ctx, other, 1, 1, 2))

	held, err := store.Held(ctx, 1, 1, mine)
	require.NoError(t, err)
	require.InDelta(t, 2.0, held, 0.0001)

	held, err = store.Held(ctx, 1, 1, "")
	require.NoError(t, err)
	require.InDelta(t, 5.0, held, 0.0001)
}

func TestReserveZeroReleasesHold(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	session := NewSession()
	require.NoError(t, store.Reserve(ctx, session, 1, 1, 4))
	require.NoError(t, store.Reserve(ctx, session, 1, 1, 0))

	held, err := store.Held(ctx, 1, 1, "")
	require.NoError(t, err)
	require.Zero(t, held)
}

func TestReleaseDropsAllSessionHolds(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	session := NewSession()
	require.NoError(t, store.Reserve(ctx, session, 1, 1, 4))
	require.NoError(t, store.Reserve(ctx, session, 2, 1, 1))
	require.NoError(t, store.Release(ctx, session))

	for _, productID := range []int64{1, 2} {
		held, err := store.Held(ctx, productID, 1, "")
		require.NoError(t, err)
		require.Zero(t, held)
	}
}

func TestHoldsExpire(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Reserve(ctx, NewSession(), 1, 1, 4))
	mr.FastForward(2 * time.Minute)

	held, err := store.Held(ctx, 1, 1, "")
	require.NoError(t, err)
	require.Zero(t, held)
}

func TestPurgeRemovesHoldsWithoutExpiry(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	session := NewSession()
	require.NoError(t, store.Reserve(ctx, session, 1, 1, 4))
	require.NoError(t, store.client.Persist(ctx, holdKey(session, 1, 1)).Err())

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	held, err := store.Held(ctx, 1, 1, "")
	require.NoError(t, err)
	require.Zero(t, held)
}
