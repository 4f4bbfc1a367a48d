package eventstore

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &RedisStore{rdb: rdb, log: zerolog.New(io.Discard)}
}

func TestRedisStoreAppendAndSinceReturnsChronologicalOrder(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	first, err := store.Append(ctx, 1, "job_started", map[string]string{"status": "running"})
	require.NoError(t, err)
	second, err := store.Append(ctx, 1, "job_progress", map[string]string{"step": "voiceover"})
	require.NoError(t, err)

	events, err := store.Since(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, first.ID, events[0].ID)
	require.Equal(t, second.ID, events[1].ID)

	replay, err := store.Since(ctx, 1, first.ID)
	require.NoError(t, err)
	require.Len(t, replay, 1)
	require.Equal(t, second.ID, replay[0].ID)
}

func TestRedisStoreLatestIDAndClear(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	id, err := store.LatestID(ctx, 2)
	require.NoError(t, err)
	require.Zero(t, id)

	ev, err := store.Append(ctx, 2, "job_started", map[string]string{"status": "running"})
	require.NoError(t, err)

	id, err = store.LatestID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, ev.ID, id)

	require.NoError(t, store.Clear(ctx, 2))
	events, err := store.Since(ctx, 2, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRedisStoreTrimsToMaxEventsPerJob(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < maxEventsPerJob+10; i++ {
		_, err := store.Append(ctx, 3, "job_progress", map[string]int{"i": i})
		require.NoError(t, err)
	}

	events, err := store.Since(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, events, maxEventsPerJob)
}
