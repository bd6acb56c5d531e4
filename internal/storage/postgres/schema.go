package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS url (
	id               BIGSERIAL PRIMARY KEY,
	address          TEXT NOT NULL UNIQUE,
	fetch_method     TEXT NOT NULL CHECK (fetch_method IN ('PLAIN_REQUEST', 'BROWSER')),
	page_kind        TEXT NOT NULL CHECK (page_kind IN ('LISTING', 'DETAIL')),
	fetch_status     TEXT NOT NULL DEFAULT 'UNFETCHED' CHECK (fetch_status IN ('UNFETCHED', 'FETCHED', 'FAILED')),
	process_status   TEXT NOT NULL DEFAULT 'UNPROCESSED' CHECK (process_status IN ('UNPROCESSED', 'PROCESSED', 'FAILED')),
	fetch_attempts   INTEGER NOT NULL DEFAULT 0,
	process_attempts INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	next_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	claim_token      TEXT NOT NULL DEFAULT '',
	claimed_until    TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT processed_requires_fetched CHECK (process_status <> 'PROCESSED' OR fetch_status = 'FETCHED')
)`,
	`CREATE INDEX IF NOT EXISTS url_fetch_ready_idx ON url (next_attempt_at, id) WHERE fetch_status = 'UNFETCHED'`,
	`CREATE INDEX IF NOT EXISTS url_process_ready_idx ON url (next_attempt_at, id)
	WHERE fetch_status = 'FETCHED' AND process_status = 'UNPROCESSED'`,
	`CREATE TABLE IF NOT EXISTS html (
	id           BIGSERIAL PRIMARY KEY,
	url_id       BIGINT NOT NULL UNIQUE REFERENCES url (id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	page_kind    TEXT NOT NULL CHECK (page_kind IN ('LISTING', 'DETAIL')),
	blob_uri     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS movie (
	id         BIGSERIAL PRIMARY KEY,
	title      TEXT NOT NULL UNIQUE,
	rating     DOUBLE PRECISION,
	source_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS users (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	username   TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS rating (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	movie_id   BIGINT NOT NULL REFERENCES movie (id) ON DELETE CASCADE,
	value      DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, movie_id)
)`,
	`CREATE TABLE IF NOT EXISTS comment (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	movie_id   BIGINT NOT NULL REFERENCES movie (id) ON DELETE CASCADE,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS comment_movie_idx ON comment (movie_id)`,
}

// Migrate creates the schema if it does not exist. Statements are idempotent.
func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
