package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

const upsertRating = `INSERT INTO rating (user_id, movie_id, value, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (user_id, movie_id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
RETURNING id, user_id, movie_id, value, created_at, updated_at`

// EngagementStore implements pipeline.EngagementStore on the users, rating and comment tables.
type EngagementStore struct {
	db    DB
	clock pipeline.Clock
}

// NewEngagementStore constructs an EngagementStore.
func NewEngagementStore(db DB, clock pipeline.Clock) *EngagementStore {
	return &EngagementStore{db: db, clock: clock}
}

// CreateUser inserts a user. A taken username yields pipeline.ErrConflict.
func (s *EngagementStore) CreateUser(ctx context.Context, name, username string) (pipeline.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return pipeline.User{}, fmt.Errorf("username is required")
	}
	var u pipeline.User
	err := s.db.QueryRow(ctx, `INSERT INTO users (name, username, created_at, updated_at)
VALUES ($1, $2, $3, $3)
RETURNING id, name, username, created_at, updated_at`, name, username, s.clock.Now()).
		Scan(&u.ID, &u.Name, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return pipeline.User{}, classify("create user", err)
	}
	return u, nil
}

// GetUser returns one user.
func (s *EngagementStore) GetUser(ctx context.Context, id int64) (pipeline.User, error) {
	var u pipeline.User
	err := s.db.QueryRow(ctx, `SELECT id, name, username, created_at, updated_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return pipeline.User{}, classify("get user", err)
	}
	return u, nil
}

// DeleteUser removes a user and everything they authored in one transaction.
func (s *EngagementStore) DeleteUser(ctx context.Context, id int64) error {
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM rating WHERE user_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM comment WHERE user_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pipeline.ErrNotFound
		}
		return nil
	})
	return classify("delete user", err)
}

// UpsertRating sets the user's rating for a movie.
func (s *EngagementStore) UpsertRating(ctx context.Context, userID, movieID int64, value *float64) (pipeline.Rating, error) {
	var r pipeline.Rating
	err := s.db.QueryRow(ctx, upsertRating, userID, movieID, value, s.clock.Now()).
		Scan(&r.ID, &r.UserID, &r.MovieID, &r.Value, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return pipeline.Rating{}, classify("upsert rating", err)
	}
	return r, nil
}

// AddComment appends a comment.
func (s *EngagementStore) AddComment(ctx context.Context, userID, movieID int64, text string) (pipeline.Comment, error) {
	var c pipeline.Comment
	err := s.db.QueryRow(ctx, `INSERT INTO comment (user_id, movie_id, text, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
RETURNING id, user_id, movie_id, text, created_at, updated_at`, userID, movieID, text, s.clock.Now()).
		Scan(&c.ID, &c.UserID, &c.MovieID, &c.Text, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return pipeline.Comment{}, classify("add comment", err)
	}
	return c, nil
}

// ListRatings returns the ratings of a movie.
func (s *EngagementStore) ListRatings(ctx context.Context, movieID int64) ([]pipeline.Rating, error) {
	rows, err := s.db.Query(ctx, `SELECT id, user_id, movie_id, value, created_at, updated_at
FROM rating WHERE movie_id = $1 ORDER BY id`, movieID)
	if err != nil {
		return nil, classify("list ratings", err)
	}
	defer rows.Close()
	out := make([]pipeline.Rating, 0)
	for rows.Next() {
		var r pipeline.Rating
		if err := rows.Scan(&r.ID, &r.UserID, &r.MovieID, &r.Value, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, classify("list ratings", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list ratings", err)
	}
	return out, nil
}

// ListComments returns the comments on a movie.
func (s *EngagementStore) ListComments(ctx context.Context, movieID int64) ([]pipeline.Comment, error) {
	rows, err := s.db.Query(ctx, `SELECT id, user_id, movie_id, text, created_at, updated_at
FROM comment WHERE movie_id = $1 ORDER BY id`, movieID)
	if err != nil {
		return nil, classify("list comments", err)
	}
	defer rows.Close()
	out := make([]pipeline.Comment, 0)
	for rows.Next() {
		var c pipeline.Comment
		if err := rows.Scan(&c.ID, &c.UserID, &c.MovieID, &c.Text, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, classify("list comments", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list comments", err)
	}
	return out, nil
}
