package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

const movieColumns = `id, title, rating, source_url, created_at, updated_at`

const upsertMovie = `INSERT INTO movie (title, rating, source_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (title) DO UPDATE SET
	rating = EXCLUDED.rating,
	source_url = EXCLUDED.source_url,
	updated_at = EXCLUDED.updated_at
RETURNING ` + movieColumns

// MovieStore implements pipeline.MovieRepository on the movie table.
type MovieStore struct {
	db    DB
	clock pipeline.Clock
}

// NewMovieStore constructs a MovieStore.
func NewMovieStore(db DB, clock pipeline.Clock) *MovieStore {
	return &MovieStore{db: db, clock: clock}
}

// UpsertByTitle inserts a movie or overwrites the existing row with the same title.
func (s *MovieStore) UpsertByTitle(ctx context.Context, record pipeline.MovieRecord, sourceURL string) (pipeline.Movie, error) {
	title := strings.TrimSpace(record.Title)
	if title == "" {
		return pipeline.Movie{}, fmt.Errorf("movie title is required")
	}
	row := s.db.QueryRow(ctx, upsertMovie, title, record.Rating, sourceURL, s.clock.Now())
	m, err := scanMovie(row)
	if err != nil {
		return pipeline.Movie{}, classify("upsert movie", err)
	}
	return m, nil
}

// Get returns one movie.
func (s *MovieStore) Get(ctx context.Context, id int64) (pipeline.Movie, error) {
	m, err := scanMovie(s.db.QueryRow(ctx, `SELECT `+movieColumns+` FROM movie WHERE id = $1`, id))
	if err != nil {
		return pipeline.Movie{}, classify("get movie", err)
	}
	return m, nil
}

// List returns a page of movies ordered by id.
func (s *MovieStore) List(ctx context.Context, limit, offset int) ([]pipeline.Movie, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+movieColumns+` FROM movie ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, classify("list movies", err)
	}
	defer rows.Close()

	movies := make([]pipeline.Movie, 0)
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, classify("list movies", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list movies", err)
	}
	return movies, nil
}

func scanMovie(row rowScanner) (pipeline.Movie, error) {
	var m pipeline.Movie
	if err := row.Scan(&m.ID, &m.Title, &m.Rating, &m.SourceURL, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return pipeline.Movie{}, err
	}
	return m, nil
}
