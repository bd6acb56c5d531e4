package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/movie-ingest/internal/clock/system"
)

func TestRedisCacheMarkSeen(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	cache := NewRedisCache(db, "seen:", time.Hour)
	ctx := context.Background()

	mock.ExpectSetNX("seen:site/movie/1", 1, time.Hour).SetVal(true)
	mock.ExpectSetNX("seen:site/movie/1", 1, time.Hour).SetVal(false)
	mock.ExpectSetNX("seen:site/movie/2", 1, time.Hour).SetErr(errors.New("connection refused"))

	first, err := cache.MarkSeen(ctx, "site/movie/1")
	require.NoError(t, err)
	require.True(t, first)

	again, err := cache.MarkSeen(ctx, "site/movie/1")
	require.NoError(t, err)
	require.False(t, again)

	_, err = cache.MarkSeen(ctx, "site/movie/2")
	require.ErrorContains(t, err, "redis setnx")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheForgetAndPing(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	cache := NewRedisCache(db, "", 0)
	ctx := context.Background()

	mock.ExpectDel("movieingest:seen:site/list").SetVal(1)
	mock.ExpectPing().SetVal("PONG")
	mock.ExpectPing().SetErr(errors.New("down"))

	require.NoError(t, cache.Forget(ctx, "site/list"))
	require.NoError(t, cache.Ping(ctx))
	require.ErrorContains(t, cache.Ping(ctx), "redis ping")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewMemoryCache(clock, time.Minute)
	ctx := context.Background()

	ok, err := cache.MarkSeen(ctx, "site/movie/1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = cache.MarkSeen(ctx, "site/movie/1")
	require.False(t, ok)

	clock.Advance(2 * time.Minute)
	ok, _ = cache.MarkSeen(ctx, "site/movie/1")
	require.True(t, ok)

	require.NoError(t, cache.Forget(ctx, "site/movie/1"))
	ok, _ = cache.MarkSeen(ctx, "site/movie/1")
	require.True(t, ok)
}

func TestMemoryCacheEvictsExpiredEntries(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewMemoryCache(clock, time.Minute)
	ctx := context.Background()

	for _, address := range []string{"site/movie/1", "site/movie/2", "site/movie/3"} {
		ok, err := cache.MarkSeen(ctx, address)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 3, cache.Len())

	clock.Advance(2 * time.Minute)
	ok, err := cache.MarkSeen(ctx, "site/movie/4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, cache.Len(), "expired entries are swept")
}

func TestMemoryCacheBoundedSize(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewMemoryCache(clock, 0)
	cache.maxEntries = 2
	ctx := context.Background()

	for _, address := range []string{"a", "b", "c"} {
		ok, err := cache.MarkSeen(ctx, address)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 1, cache.Len())
	ok, _ := cache.MarkSeen(ctx, "c")
	require.False(t, ok)
}
