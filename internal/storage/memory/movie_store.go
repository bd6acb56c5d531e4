package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// MovieStore is an in-memory pipeline.MovieRepository keyed by title.
type MovieStore struct {
	mu      sync.RWMutex
	clock   pipeline.Clock
	nextID  int64
	movies  map[int64]*pipeline.Movie
	byTitle map[string]int64
}

// NewMovieStore constructs a MovieStore.
func NewMovieStore(clock pipeline.Clock) *MovieStore {
	return &MovieStore{
		clock:   clock,
		movies:  make(map[int64]*pipeline.Movie),
		byTitle: make(map[string]int64),
	}
}

// UpsertByTitle inserts a movie or overwrites the rating of the existing one.
func (s *MovieStore) UpsertByTitle(_ context.Context, record pipeline.MovieRecord, sourceURL string) (pipeline.Movie, error) {
	title := strings.TrimSpace(record.Title)
	if title == "" {
		return pipeline.Movie{}, fmt.Errorf("movie title is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if id, ok := s.byTitle[title]; ok {
		m := s.movies[id]
		m.Rating = copyRating(record.Rating)
		m.SourceURL = sourceURL
		m.UpdatedAt = now
		return copyMovie(m), nil
	}

	s.nextID++
	m := &pipeline.Movie{
		ID:        s.nextID,
		Title:     title,
		Rating:    copyRating(record.Rating),
		SourceURL: sourceURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.movies[m.ID] = m
	s.byTitle[title] = m.ID
	return copyMovie(m), nil
}

// Get returns one movie.
func (s *MovieStore) Get(_ context.Context, id int64) (pipeline.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.movies[id]
	if !ok {
		return pipeline.Movie{}, pipeline.ErrNotFound
	}
	return copyMovie(m), nil
}

// List returns movies ordered by id.
func (s *MovieStore) List(_ context.Context, limit, offset int) ([]pipeline.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Movie, 0, len(s.movies))
	for _, m := range s.movies {
		out = append(out, copyMovie(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > 0 {
		if offset >= len(out) {
			return []pipeline.Movie{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MovieStore) exists(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.movies[id]
	return ok
}

func copyMovie(m *pipeline.Movie) pipeline.Movie {
	cp := *m
	cp.Rating = copyRating(m.Rating)
	return cp
}

func copyRating(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
