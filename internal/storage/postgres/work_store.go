package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

const urlColumns = `id, address, fetch_method, page_kind, fetch_status, process_status,
	fetch_attempts, process_attempts, last_error, next_attempt_at, claim_token, claimed_until,
	created_at, updated_at`

const enqueueURL = `INSERT INTO url (address, fetch_method, page_kind, next_attempt_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4, $4)
ON CONFLICT (address) DO NOTHING`

// The inner SELECT takes row locks with SKIP LOCKED so concurrent claimers partition the ready set.
const claimFetch = `UPDATE url SET claim_token = $1, claimed_until = $2, updated_at = $3
WHERE id IN (
	SELECT id FROM url
	WHERE fetch_status = 'UNFETCHED'
		AND next_attempt_at <= $3
		AND (claimed_until IS NULL OR claimed_until <= $3)
	ORDER BY next_attempt_at, id
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + urlColumns

const claimProcess = `UPDATE url SET claim_token = $1, claimed_until = $2, updated_at = $3
WHERE id IN (
	SELECT id FROM url
	WHERE fetch_status = 'FETCHED' AND process_status = 'UNPROCESSED'
		AND next_attempt_at <= $3
		AND (claimed_until IS NULL OR claimed_until <= $3)
	ORDER BY next_attempt_at, id
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + urlColumns

const markFetched = `UPDATE url SET fetch_status = 'FETCHED', last_error = '',
	claim_token = '', claimed_until = NULL, updated_at = $3
WHERE id = $1 AND claim_token = $2 AND fetch_status = 'UNFETCHED'`

const markProcessed = `UPDATE url SET process_status = 'PROCESSED', last_error = '',
	claim_token = '', claimed_until = NULL, updated_at = $3
WHERE id = $1 AND claim_token = $2 AND fetch_status = 'FETCHED' AND process_status = 'UNPROCESSED'`

const failFetch = `UPDATE url SET fetch_attempts = fetch_attempts + 1, last_error = $3, next_attempt_at = $4,
	fetch_status = CASE WHEN $5::boolean THEN 'FAILED' ELSE fetch_status END,
	claim_token = '', claimed_until = NULL, updated_at = $6
WHERE id = $1 AND claim_token = $2 AND fetch_status = 'UNFETCHED'`

const failProcess = `UPDATE url SET process_attempts = process_attempts + 1, last_error = $3, next_attempt_at = $4,
	process_status = CASE WHEN $5::boolean THEN 'FAILED' ELSE process_status END,
	claim_token = '', claimed_until = NULL, updated_at = $6
WHERE id = $1 AND claim_token = $2 AND fetch_status = 'FETCHED' AND process_status = 'UNPROCESSED'`

const releaseClaim = `UPDATE url SET claim_token = '', claimed_until = NULL, updated_at = $3
WHERE id = $1 AND claim_token = $2`

const requeueURL = `UPDATE url SET last_error = '',
	fetch_status = CASE WHEN fetch_status = 'FAILED' THEN 'UNFETCHED' ELSE fetch_status END,
	fetch_attempts = CASE WHEN fetch_status = 'FAILED' THEN 0 ELSE fetch_attempts END,
	process_status = CASE WHEN process_status = 'FAILED' THEN 'UNPROCESSED' ELSE process_status END,
	process_attempts = CASE WHEN process_status = 'FAILED' THEN 0 ELSE process_attempts END,
	next_attempt_at = $2, updated_at = $2
WHERE id = $1`

// WorkStore implements pipeline.WorkStore on the url table.
type WorkStore struct {
	db    DB
	clock pipeline.Clock
	idGen pipeline.IDGenerator
}

// NewWorkStore constructs a WorkStore.
func NewWorkStore(db DB, clock pipeline.Clock, idGen pipeline.IDGenerator) *WorkStore {
	return &WorkStore{db: db, clock: clock, idGen: idGen}
}

// Enqueue inserts seeds in one transaction. Existing addresses are skipped.
// Rows are inserted in address order so overlapping batches take unique-index locks in the same order.
func (s *WorkStore) Enqueue(ctx context.Context, seeds []pipeline.Seed) (int, error) {
	normalized := make([]pipeline.Seed, 0, len(seeds))
	for _, seed := range seeds {
		n, err := pipeline.NormalizeSeed(seed)
		if err != nil {
			return 0, fmt.Errorf("seed %q: %w", seed.Address, err)
		}
		normalized = append(normalized, n)
	}
	if len(normalized) == 0 {
		return 0, nil
	}
	sort.SliceStable(normalized, func(i, j int) bool { return normalized[i].Address < normalized[j].Address })

	now := s.clock.Now()
	inserted := 0
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, seed := range normalized {
			tag, err := tx.Exec(ctx, enqueueURL,
				seed.Address, string(seed.FetchMethod), string(seed.PageKind), now)
			if err != nil {
				return err
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, classify("enqueue", err)
	}
	return inserted, nil
}

// ClaimForFetch leases up to limit UNFETCHED rows.
func (s *WorkStore) ClaimForFetch(ctx context.Context, limit int, lease time.Duration) ([]pipeline.URL, error) {
	return s.claim(ctx, "claim fetch", claimFetch, limit, lease)
}

// ClaimForProcess leases up to limit FETCHED but UNPROCESSED rows.
func (s *WorkStore) ClaimForProcess(ctx context.Context, limit int, lease time.Duration) ([]pipeline.URL, error) {
	return s.claim(ctx, "claim process", claimProcess, limit, lease)
}

func (s *WorkStore) claim(ctx context.Context, op, query string, limit int, lease time.Duration) ([]pipeline.URL, error) {
	if limit <= 0 {
		return nil, nil
	}
	token, err := s.idGen.NewID()
	if err != nil {
		return nil, fmt.Errorf("claim token: %w", err)
	}
	now := s.clock.Now()
	rows, err := s.db.Query(ctx, query, token, now.Add(lease), now, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	urls, err := scanURLs(rows)
	if err != nil {
		return nil, classify(op, err)
	}
	sort.Slice(urls, func(i, j int) bool {
		if !urls[i].NextAttemptAt.Equal(urls[j].NextAttemptAt) {
			return urls[i].NextAttemptAt.Before(urls[j].NextAttemptAt)
		}
		return urls[i].ID < urls[j].ID
	})
	return urls, nil
}

// MarkFetched completes a fetch claim.
func (s *WorkStore) MarkFetched(ctx context.Context, claim pipeline.Claim) error {
	return s.guarded(ctx, "mark fetched", markFetched, claim.URLID, claim.Token, s.clock.Now())
}

// MarkProcessed completes a process claim.
func (s *WorkStore) MarkProcessed(ctx context.Context, claim pipeline.Claim) error {
	return s.guarded(ctx, "mark processed", markProcessed, claim.URLID, claim.Token, s.clock.Now())
}

// FailFetch records a failed fetch attempt.
func (s *WorkStore) FailFetch(ctx context.Context, claim pipeline.Claim, failure pipeline.Failure) error {
	return s.guarded(ctx, "fail fetch", failFetch,
		claim.URLID, claim.Token, failure.Reason, failure.RetryAt, failure.DeadLetter, s.clock.Now())
}

// FailProcess records a failed process attempt.
func (s *WorkStore) FailProcess(ctx context.Context, claim pipeline.Claim, failure pipeline.Failure) error {
	return s.guarded(ctx, "fail process", failProcess,
		claim.URLID, claim.Token, failure.Reason, failure.RetryAt, failure.DeadLetter, s.clock.Now())
}

// Release drops a lease without counting an attempt.
func (s *WorkStore) Release(ctx context.Context, claim pipeline.Claim) error {
	return s.guarded(ctx, "release", releaseClaim, claim.URLID, claim.Token, s.clock.Now())
}

func (s *WorkStore) guarded(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrClaimLost
	}
	return nil
}

// Get returns one work item.
func (s *WorkStore) Get(ctx context.Context, id int64) (pipeline.URL, error) {
	rows, err := s.db.Query(ctx, `SELECT `+urlColumns+` FROM url WHERE id = $1`, id)
	if err != nil {
		return pipeline.URL{}, classify("get url", err)
	}
	urls, err := scanURLs(rows)
	if err != nil {
		return pipeline.URL{}, classify("get url", err)
	}
	if len(urls) == 0 {
		return pipeline.URL{}, pipeline.ErrNotFound
	}
	return urls[0], nil
}

// ListFailed returns dead-lettered rows.
func (s *WorkStore) ListFailed(ctx context.Context, limit int) ([]pipeline.URL, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+urlColumns+` FROM url
WHERE fetch_status = 'FAILED' OR process_status = 'FAILED'
ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, classify("list failed", err)
	}
	urls, err := scanURLs(rows)
	if err != nil {
		return nil, classify("list failed", err)
	}
	return urls, nil
}

// Requeue resets any FAILED axis of a row so it is claimable again.
func (s *WorkStore) Requeue(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, requeueURL, id, s.clock.Now())
	if err != nil {
		return classify("requeue", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// Purge deletes a work item. Its html row cascades.
func (s *WorkStore) Purge(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM url WHERE id = $1`, id)
	if err != nil {
		return classify("purge", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// Stats counts rows per status pair.
func (s *WorkStore) Stats(ctx context.Context) ([]pipeline.StatusCount, error) {
	rows, err := s.db.Query(ctx, `SELECT fetch_status, process_status, count(*) FROM url
GROUP BY fetch_status, process_status ORDER BY fetch_status, process_status`)
	if err != nil {
		return nil, classify("stats", err)
	}
	defer rows.Close()

	var out []pipeline.StatusCount
	for rows.Next() {
		var (
			fetch, process string
			count          int64
		)
		if err := rows.Scan(&fetch, &process, &count); err != nil {
			return nil, classify("stats", err)
		}
		out = append(out, pipeline.StatusCount{
			FetchStatus:   pipeline.FetchStatus(fetch),
			ProcessStatus: pipeline.ProcessStatus(process),
			Count:         count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("stats", err)
	}
	return out, nil
}

func scanURLs(rows pgx.Rows) ([]pipeline.URL, error) {
	defer rows.Close()
	var out []pipeline.URL
	for rows.Next() {
		var (
			u                       pipeline.URL
			method, kind            string
			fetchStatus, procStatus string
			claimedUntil            *time.Time
		)
		err := rows.Scan(
			&u.ID,
			&u.Address,
			&method,
			&kind,
			&fetchStatus,
			&procStatus,
			&u.FetchAttempts,
			&u.ProcessAttempts,
			&u.LastError,
			&u.NextAttemptAt,
			&u.ClaimToken,
			&claimedUntil,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan url row: %w", err)
		}
		u.FetchMethod = pipeline.FetchMethod(method)
		u.PageKind = pipeline.PageKind(kind)
		u.FetchStatus = pipeline.FetchStatus(fetchStatus)
		u.ProcessStatus = pipeline.ProcessStatus(procStatus)
		u.ClaimedUntil = claimedUntil
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
