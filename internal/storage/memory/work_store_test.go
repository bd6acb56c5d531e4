package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/movie-ingest/internal/clock/system"
	"github.com/JakeFAU/movie-ingest/internal/id/uuid"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newWorkStore(t *testing.T) (*WorkStore, *system.Manual) {
	t.Helper()
	clk := system.NewManual(epoch)
	return NewWorkStore(clk, uuid.New()), clk
}

func TestWorkStoreEnqueueDedupesAddresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newWorkStore(t)

	n, err := store.Enqueue(ctx, []pipeline.Seed{
		{Address: "https://Example.com/m/1"},
		{Address: "https://example.com/m/1#cast"},
		{Address: "site/list", PageKind: pipeline.PageKindListing},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = store.Enqueue(ctx, []pipeline.Seed{{Address: "https://example.com/m/1"}})
	require.NoError(t, err)
	require.Zero(t, n)

	u, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/m/1", u.Address)
	require.Equal(t, pipeline.FetchStatusUnfetched, u.FetchStatus)
	require.Equal(t, pipeline.ProcessStatusUnprocessed, u.ProcessStatus)
	require.Equal(t, pipeline.FetchMethodPlainRequest, u.FetchMethod)

	_, err = store.Enqueue(ctx, []pipeline.Seed{{Address: "x", FetchMethod: "CURL"}})
	require.Error(t, err)
}

func TestWorkStoreFetchThenProcessLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newWorkStore(t)
	_, err := store.Enqueue(ctx, []pipeline.Seed{{Address: "site/movie/1"}})
	require.NoError(t, err)

	none, err := store.ClaimForProcess(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, none, "unfetched rows are not processable")

	claimed, err := store.ClaimForFetch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NotEmpty(t, claimed[0].ClaimToken)
	require.NoError(t, store.MarkFetched(ctx, claimed[0].Claim()))

	require.ErrorIs(t, store.MarkFetched(ctx, claimed[0].Claim()), pipeline.ErrClaimLost)

	claimed, err = store.ClaimForProcess(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.MarkProcessed(ctx, claimed[0].Claim()))

	u, err := store.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.FetchStatusFetched, u.FetchStatus)
	require.Equal(t, pipeline.ProcessStatusProcessed, u.ProcessStatus)
	require.Empty(t, u.ClaimToken)
	require.Nil(t, u.ClaimedUntil)

	again, err := store.ClaimForProcess(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestWorkStoreLeaseExpiryReclaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clk := newWorkStore(t)
	_, err := store.Enqueue(ctx, []pipeline.Seed{{Address: "site/movie/1"}})
	require.NoError(t, err)

	first, err := store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	blocked, err := store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, blocked)

	clk.Advance(2 * time.Minute)
	second, err := store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].ClaimToken, second[0].ClaimToken)

	require.ErrorIs(t, store.MarkFetched(ctx, first[0].Claim()), pipeline.ErrClaimLost)
	require.NoError(t, store.MarkFetched(ctx, second[0].Claim()))
}

func TestWorkStoreFailuresAndRequeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clk := newWorkStore(t)
	_, err := store.Enqueue(ctx, []pipeline.Seed{{Address: "site/movie/1"}})
	require.NoError(t, err)

	claimed, err := store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.FailFetch(ctx, claimed[0].Claim(), pipeline.Failure{
		Reason:  "502",
		RetryAt: clk.Now().Add(time.Minute),
	}))

	early, err := store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, early, "row is backing off")

	clk.Advance(time.Minute)
	claimed, err = store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 1, claimed[0].FetchAttempts)
	require.NoError(t, store.FailFetch(ctx, claimed[0].Claim(), pipeline.Failure{
		Reason:     "404",
		RetryAt:    clk.Now(),
		DeadLetter: true,
	}))

	failed, err := store.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, pipeline.FetchStatusFailed, failed[0].FetchStatus)
	require.Equal(t, "404", failed[0].LastError)
	require.Equal(t, 2, failed[0].FetchAttempts)

	none, err := store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, store.Requeue(ctx, failed[0].ID))
	u, err := store.Get(ctx, failed[0].ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.FetchStatusUnfetched, u.FetchStatus)
	require.Zero(t, u.FetchAttempts)
	require.Empty(t, u.LastError)
	require.ErrorIs(t, store.Requeue(ctx, 99), pipeline.ErrNotFound)
}

func TestWorkStoreReleaseKeepsAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newWorkStore(t)
	_, err := store.Enqueue(ctx, []pipeline.Seed{{Address: "site/movie/1"}})
	require.NoError(t, err)

	claimed, err := store.ClaimForFetch(ctx, 1, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, claimed[0].Claim()))
	require.ErrorIs(t, store.Release(ctx, claimed[0].Claim()), pipeline.ErrClaimLost)

	again, err := store.ClaimForFetch(ctx, 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Zero(t, again[0].FetchAttempts)
}

func TestWorkStoreConcurrentClaimsPartition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newWorkStore(t)
	seeds := make([]pipeline.Seed, 0, 200)
	for i := 0; i < 200; i++ {
		seeds = append(seeds, pipeline.Seed{Address: fmt.Sprintf("site/movie/%d", i)})
	}
	n, err := store.Enqueue(ctx, seeds)
	require.NoError(t, err)
	require.Equal(t, 200, n)

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := store.ClaimForFetch(ctx, 7, time.Hour)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, u := range batch {
					seen[u.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 200)
	for id, count := range seen {
		require.Equal(t, 1, count, "url %d claimed more than once", id)
	}
}

func TestWorkStorePurgeRemovesHTML(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clk := newWorkStore(t)
	html := NewHTMLStore(clk)
	store.AttachHTML(html)

	_, err := store.Enqueue(ctx, []pipeline.Seed{{Address: "site/movie/1"}})
	require.NoError(t, err)
	_, err = html.Save(ctx, 1, "<html></html>", pipeline.PageKindDetail)
	require.NoError(t, err)

	require.NoError(t, store.Purge(ctx, 1))
	_, err = html.GetByURL(ctx, 1)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	_, err = store.Get(ctx, 1)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.ErrorIs(t, store.Purge(ctx, 1), pipeline.ErrNotFound)

	n, err := store.Enqueue(ctx, []pipeline.Seed{{Address: "site/movie/1"}})
	require.NoError(t, err)
	require.Equal(t, 1, n, "purged address can be rediscovered")
}

func TestWorkStoreStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newWorkStore(t)
	_, err := store.Enqueue(ctx, []pipeline.Seed{{Address: "a"}, {Address: "b"}, {Address: "c"}})
	require.NoError(t, err)
	claimed, err := store.ClaimForFetch(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.MarkFetched(ctx, claimed[0].Claim()))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, []pipeline.StatusCount{
		{FetchStatus: pipeline.FetchStatusFetched, ProcessStatus: pipeline.ProcessStatusUnprocessed, Count: 1},
		{FetchStatus: pipeline.FetchStatusUnfetched, ProcessStatus: pipeline.ProcessStatusUnprocessed, Count: 2},
	}, stats)
}

func TestWorkStoreConcurrentProcessClaimsPartition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newWorkStore(t)
	seeds := make([]pipeline.Seed, 0, 120)
	for i := 0; i < 120; i++ {
		seeds = append(seeds, pipeline.Seed{Address: fmt.Sprintf("site/movie/%d", i)})
	}
	_, err := store.Enqueue(ctx, seeds)
	require.NoError(t, err)

	claimed, err := store.ClaimForFetch(ctx, 120, time.Hour)
	require.NoError(t, err)
	fetched := make(map[int64]bool)
	for i, u := range claimed {
		if i%2 == 0 {
			require.NoError(t, store.MarkFetched(ctx, u.Claim()))
			fetched[u.ID] = true
			continue
		}
		require.NoError(t, store.Release(ctx, u.Claim()))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := store.ClaimForProcess(ctx, 5, time.Hour)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, u := range batch {
					seen[u.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, len(fetched))
	for id, count := range seen {
		require.True(t, fetched[id], "url %d claimed for process before it was fetched", id)
		require.Equal(t, 1, count, "url %d claimed more than once", id)
	}
}
