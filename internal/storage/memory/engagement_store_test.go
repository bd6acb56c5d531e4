package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/movie-ingest/internal/clock/system"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

func ptr(v float64) *float64 { return &v }

func TestMovieStoreUpsertByTitle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	movies := NewMovieStore(system.NewManual(epoch))

	first, err := movies.UpsertByTitle(ctx, pipeline.MovieRecord{Title: "Heat", Rating: ptr(7.5)}, "site/movie/1")
	require.NoError(t, err)
	second, err := movies.UpsertByTitle(ctx, pipeline.MovieRecord{Title: "Heat", Rating: ptr(8.0)}, "site/movie/1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	list, err := movies.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.InDelta(t, 8.0, *list[0].Rating, 1e-9)

	cleared, err := movies.UpsertByTitle(ctx, pipeline.MovieRecord{Title: "Heat"}, "site/movie/1")
	require.NoError(t, err)
	require.Nil(t, cleared.Rating)

	_, err = movies.UpsertByTitle(ctx, pipeline.MovieRecord{Title: "  "}, "")
	require.Error(t, err)

	page, err := movies.List(ctx, 10, 5)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestEngagementStoreDeleteUserCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := system.NewManual(epoch)
	movies := NewMovieStore(clk)
	store := NewEngagementStore(clk, movies)

	movie, err := movies.UpsertByTitle(ctx, pipeline.MovieRecord{Title: "Heat"}, "")
	require.NoError(t, err)
	alice, err := store.CreateUser(ctx, "Alice", "alice")
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, "Bob", "bob")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, "Other Alice", "alice")
	require.ErrorIs(t, err, pipeline.ErrConflict)

	_, err = store.UpsertRating(ctx, alice.ID, movie.ID, ptr(6))
	require.NoError(t, err)
	updated, err := store.UpsertRating(ctx, alice.ID, movie.ID, ptr(9))
	require.NoError(t, err)
	require.InDelta(t, 9.0, *updated.Value, 1e-9)
	_, err = store.UpsertRating(ctx, bob.ID, movie.ID, nil)
	require.NoError(t, err)
	_, err = store.AddComment(ctx, alice.ID, movie.ID, "great")
	require.NoError(t, err)
	_, err = store.AddComment(ctx, bob.ID, movie.ID, "fine")
	require.NoError(t, err)

	ratings, err := store.ListRatings(ctx, movie.ID)
	require.NoError(t, err)
	require.Len(t, ratings, 2)

	require.NoError(t, store.DeleteUser(ctx, alice.ID))
	require.ErrorIs(t, store.DeleteUser(ctx, alice.ID), pipeline.ErrNotFound)

	ratings, err = store.ListRatings(ctx, movie.ID)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	require.Equal(t, bob.ID, ratings[0].UserID)
	comments, err := store.ListComments(ctx, movie.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, "fine", comments[0].Text)

	_, err = store.UpsertRating(ctx, alice.ID, movie.ID, ptr(1))
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	_, err = store.AddComment(ctx, bob.ID, 999, "missing movie")
	require.ErrorIs(t, err, pipeline.ErrNotFound)

	reused, err := store.CreateUser(ctx, "New Alice", "alice")
	require.NoError(t, err)
	require.NotEqual(t, alice.ID, reused.ID)
}
