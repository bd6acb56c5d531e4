package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

type ratingKey struct {
	userID  int64
	movieID int64
}

// EngagementStore is an in-memory pipeline.EngagementStore. Ratings and comments
// require an existing user and movie, and go away with their user.
type EngagementStore struct {
	mu        sync.RWMutex
	clock     pipeline.Clock
	movies    *MovieStore
	nextUser  int64
	nextRow   int64
	users     map[int64]*pipeline.User
	usernames map[string]int64
	ratings   map[ratingKey]*pipeline.Rating
	comments  map[int64]*pipeline.Comment
}

// NewEngagementStore constructs an EngagementStore validating movie references against movies.
func NewEngagementStore(clock pipeline.Clock, movies *MovieStore) *EngagementStore {
	return &EngagementStore{
		clock:     clock,
		movies:    movies,
		users:     make(map[int64]*pipeline.User),
		usernames: make(map[string]int64),
		ratings:   make(map[ratingKey]*pipeline.Rating),
		comments:  make(map[int64]*pipeline.Comment),
	}
}

// CreateUser adds a user with a unique username.
func (s *EngagementStore) CreateUser(_ context.Context, name, username string) (pipeline.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return pipeline.User{}, fmt.Errorf("username is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usernames[username]; taken {
		return pipeline.User{}, fmt.Errorf("username %q: %w", username, pipeline.ErrConflict)
	}
	now := s.clock.Now()
	s.nextUser++
	u := &pipeline.User{ID: s.nextUser, Name: name, Username: username, CreatedAt: now, UpdatedAt: now}
	s.users[u.ID] = u
	s.usernames[username] = u.ID
	return *u, nil
}

// GetUser returns one user.
func (s *EngagementStore) GetUser(_ context.Context, id int64) (pipeline.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return pipeline.User{}, pipeline.ErrNotFound
	}
	return *u, nil
}

// DeleteUser removes a user together with their ratings and comments.
func (s *EngagementStore) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	for k := range s.ratings {
		if k.userID == id {
			delete(s.ratings, k)
		}
	}
	for cid, c := range s.comments {
		if c.UserID == id {
			delete(s.comments, cid)
		}
	}
	delete(s.usernames, u.Username)
	delete(s.users, id)
	return nil
}

// UpsertRating sets the user's rating for a movie, replacing any earlier value.
func (s *EngagementStore) UpsertRating(_ context.Context, userID, movieID int64, value *float64) (pipeline.Rating, error) {
	if !s.movies.exists(movieID) {
		return pipeline.Rating{}, fmt.Errorf("movie %d: %w", movieID, pipeline.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return pipeline.Rating{}, fmt.Errorf("user %d: %w", userID, pipeline.ErrNotFound)
	}
	now := s.clock.Now()
	key := ratingKey{userID: userID, movieID: movieID}
	if r, ok := s.ratings[key]; ok {
		r.Value = copyRating(value)
		r.UpdatedAt = now
		return copyRatingRow(r), nil
	}
	s.nextRow++
	r := &pipeline.Rating{
		ID:        s.nextRow,
		UserID:    userID,
		MovieID:   movieID,
		Value:     copyRating(value),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.ratings[key] = r
	return copyRatingRow(r), nil
}

// AddComment appends a comment.
func (s *EngagementStore) AddComment(_ context.Context, userID, movieID int64, text string) (pipeline.Comment, error) {
	if !s.movies.exists(movieID) {
		return pipeline.Comment{}, fmt.Errorf("movie %d: %w", movieID, pipeline.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return pipeline.Comment{}, fmt.Errorf("user %d: %w", userID, pipeline.ErrNotFound)
	}
	now := s.clock.Now()
	s.nextRow++
	c := &pipeline.Comment{ID: s.nextRow, UserID: userID, MovieID: movieID, Text: text, CreatedAt: now, UpdatedAt: now}
	s.comments[c.ID] = c
	return *c, nil
}

// ListRatings returns the ratings of a movie ordered by id.
func (s *EngagementStore) ListRatings(_ context.Context, movieID int64) ([]pipeline.Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Rating, 0)
	for _, r := range s.ratings {
		if r.MovieID == movieID {
			out = append(out, copyRatingRow(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListComments returns the comments on a movie ordered by id.
func (s *EngagementStore) ListComments(_ context.Context, movieID int64) ([]pipeline.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Comment, 0)
	for _, c := range s.comments {
		if c.MovieID == movieID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyRatingRow(r *pipeline.Rating) pipeline.Rating {
	cp := *r
	cp.Value = copyRating(r.Value)
	return cp
}
