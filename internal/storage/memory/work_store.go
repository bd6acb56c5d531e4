// Package memory provides in-memory store implementations for development/testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// WorkStore is an in-memory pipeline.WorkStore. All transitions happen under one mutex,
// which gives the same per-row exclusivity the Postgres store gets from row locks.
type WorkStore struct {
	mu        sync.Mutex
	clock     pipeline.Clock
	idGen     pipeline.IDGenerator
	nextID    int64
	urls      map[int64]*pipeline.URL
	byAddress map[string]int64
	html      *HTMLStore
}

// NewWorkStore constructs a WorkStore.
func NewWorkStore(clock pipeline.Clock, idGen pipeline.IDGenerator) *WorkStore {
	return &WorkStore{
		clock:     clock,
		idGen:     idGen,
		urls:      make(map[int64]*pipeline.URL),
		byAddress: make(map[string]int64),
	}
}

// AttachHTML links an HTMLStore so content lives and dies with its work item, like the
// Postgres foreign key: Purge removes owned content and Save refuses unknown work items.
func (s *WorkStore) AttachHTML(h *HTMLStore) {
	s.mu.Lock()
	s.html = h
	s.mu.Unlock()
	h.setOwner(s.exists)
}

// exists is called with the HTMLStore lock held, never the other way round.
func (s *WorkStore) exists(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.urls[id]
	return ok
}

// Enqueue inserts new work items, skipping addresses that already exist.
func (s *WorkStore) Enqueue(_ context.Context, seeds []pipeline.Seed) (int, error) {
	normalized := make([]pipeline.Seed, 0, len(seeds))
	for _, seed := range seeds {
		n, err := pipeline.NormalizeSeed(seed)
		if err != nil {
			return 0, fmt.Errorf("seed %q: %w", seed.Address, err)
		}
		normalized = append(normalized, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	inserted := 0
	for _, seed := range normalized {
		if _, exists := s.byAddress[seed.Address]; exists {
			continue
		}
		s.nextID++
		s.urls[s.nextID] = &pipeline.URL{
			ID:            s.nextID,
			Address:       seed.Address,
			FetchMethod:   seed.FetchMethod,
			PageKind:      seed.PageKind,
			FetchStatus:   pipeline.FetchStatusUnfetched,
			ProcessStatus: pipeline.ProcessStatusUnprocessed,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.byAddress[seed.Address] = s.nextID
		inserted++
	}
	return inserted, nil
}

// ClaimForFetch leases up to limit UNFETCHED rows.
func (s *WorkStore) ClaimForFetch(_ context.Context, limit int, lease time.Duration) ([]pipeline.URL, error) {
	return s.claim(limit, lease, func(u *pipeline.URL) bool {
		return u.FetchStatus == pipeline.FetchStatusUnfetched
	})
}

// ClaimForProcess leases up to limit FETCHED but UNPROCESSED rows.
func (s *WorkStore) ClaimForProcess(_ context.Context, limit int, lease time.Duration) ([]pipeline.URL, error) {
	return s.claim(limit, lease, func(u *pipeline.URL) bool {
		return u.FetchStatus == pipeline.FetchStatusFetched &&
			u.ProcessStatus == pipeline.ProcessStatusUnprocessed
	})
}

func (s *WorkStore) claim(limit int, lease time.Duration, eligible func(*pipeline.URL) bool) ([]pipeline.URL, error) {
	if limit <= 0 {
		return nil, nil
	}
	token, err := s.idGen.NewID()
	if err != nil {
		return nil, fmt.Errorf("claim token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	candidates := make([]*pipeline.URL, 0)
	for _, u := range s.urls {
		if !eligible(u) || u.NextAttemptAt.After(now) || leased(u, now) {
			continue
		}
		candidates = append(candidates, u)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].NextAttemptAt.Equal(candidates[j].NextAttemptAt) {
			return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	until := now.Add(lease)
	out := make([]pipeline.URL, 0, len(candidates))
	for _, u := range candidates {
		u.ClaimToken = token
		u.ClaimedUntil = &until
		u.UpdatedAt = now
		out = append(out, copyURL(u))
	}
	return out, nil
}

// MarkFetched completes a fetch claim.
func (s *WorkStore) MarkFetched(_ context.Context, claim pipeline.Claim) error {
	return s.transition(claim, func(u *pipeline.URL) bool {
		return u.FetchStatus == pipeline.FetchStatusUnfetched
	}, func(u *pipeline.URL) {
		u.FetchStatus = pipeline.FetchStatusFetched
		u.LastError = ""
	})
}

// MarkProcessed completes a process claim.
func (s *WorkStore) MarkProcessed(_ context.Context, claim pipeline.Claim) error {
	return s.transition(claim, func(u *pipeline.URL) bool {
		return u.FetchStatus == pipeline.FetchStatusFetched &&
			u.ProcessStatus == pipeline.ProcessStatusUnprocessed
	}, func(u *pipeline.URL) {
		u.ProcessStatus = pipeline.ProcessStatusProcessed
		u.LastError = ""
	})
}

// FailFetch records a failed fetch attempt and reverts or dead-letters the row.
func (s *WorkStore) FailFetch(_ context.Context, claim pipeline.Claim, failure pipeline.Failure) error {
	return s.transition(claim, func(u *pipeline.URL) bool {
		return u.FetchStatus == pipeline.FetchStatusUnfetched
	}, func(u *pipeline.URL) {
		u.FetchAttempts++
		u.LastError = failure.Reason
		u.NextAttemptAt = failure.RetryAt
		if failure.DeadLetter {
			u.FetchStatus = pipeline.FetchStatusFailed
		}
	})
}

// FailProcess records a failed process attempt and reverts or dead-letters the row.
func (s *WorkStore) FailProcess(_ context.Context, claim pipeline.Claim, failure pipeline.Failure) error {
	return s.transition(claim, func(u *pipeline.URL) bool {
		return u.FetchStatus == pipeline.FetchStatusFetched &&
			u.ProcessStatus == pipeline.ProcessStatusUnprocessed
	}, func(u *pipeline.URL) {
		u.ProcessAttempts++
		u.LastError = failure.Reason
		u.NextAttemptAt = failure.RetryAt
		if failure.DeadLetter {
			u.ProcessStatus = pipeline.ProcessStatusFailed
		}
	})
}

// Release drops a lease without counting an attempt.
func (s *WorkStore) Release(_ context.Context, claim pipeline.Claim) error {
	return s.transition(claim, func(*pipeline.URL) bool { return true }, func(*pipeline.URL) {})
}

func (s *WorkStore) transition(claim pipeline.Claim, expect func(*pipeline.URL) bool, apply func(*pipeline.URL)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.urls[claim.URLID]
	if !ok || claim.Token == "" || u.ClaimToken != claim.Token || !expect(u) {
		return pipeline.ErrClaimLost
	}
	apply(u)
	u.ClaimToken = ""
	u.ClaimedUntil = nil
	u.UpdatedAt = s.clock.Now()
	return nil
}

// Get returns one work item.
func (s *WorkStore) Get(_ context.Context, id int64) (pipeline.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.urls[id]
	if !ok {
		return pipeline.URL{}, pipeline.ErrNotFound
	}
	return copyURL(u), nil
}

// ListFailed returns dead-lettered rows, oldest update first.
func (s *WorkStore) ListFailed(_ context.Context, limit int) ([]pipeline.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.URL, 0)
	for _, u := range s.urls {
		if u.FetchStatus == pipeline.FetchStatusFailed || u.ProcessStatus == pipeline.ProcessStatusFailed {
			out = append(out, copyURL(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Requeue makes a dead-lettered axis eligible for claims again, resets its attempts and clears last_error.
func (s *WorkStore) Requeue(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.urls[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	now := s.clock.Now()
	if u.FetchStatus == pipeline.FetchStatusFailed {
		u.FetchStatus = pipeline.FetchStatusUnfetched
		u.FetchAttempts = 0
	}
	if u.ProcessStatus == pipeline.ProcessStatusFailed {
		u.ProcessStatus = pipeline.ProcessStatusUnprocessed
		u.ProcessAttempts = 0
	}
	u.LastError = ""
	u.NextAttemptAt = now
	u.UpdatedAt = now
	return nil
}

// Purge deletes a work item and its content.
func (s *WorkStore) Purge(_ context.Context, id int64) error {
	s.mu.Lock()
	u, ok := s.urls[id]
	if !ok {
		s.mu.Unlock()
		return pipeline.ErrNotFound
	}
	delete(s.urls, id)
	delete(s.byAddress, u.Address)
	html := s.html
	s.mu.Unlock()

	if html != nil {
		html.deleteByURL(id)
	}
	return nil
}

// Stats counts rows per status pair.
func (s *WorkStore) Stats(_ context.Context) ([]pipeline.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		f pipeline.FetchStatus
		p pipeline.ProcessStatus
	}
	counts := make(map[key]int64)
	for _, u := range s.urls {
		counts[key{u.FetchStatus, u.ProcessStatus}]++
	}
	out := make([]pipeline.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, pipeline.StatusCount{FetchStatus: k.f, ProcessStatus: k.p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FetchStatus != out[j].FetchStatus {
			return out[i].FetchStatus < out[j].FetchStatus
		}
		return out[i].ProcessStatus < out[j].ProcessStatus
	})
	return out, nil
}

func leased(u *pipeline.URL, now time.Time) bool {
	return u.ClaimToken != "" && u.ClaimedUntil != nil && u.ClaimedUntil.After(now)
}

func copyURL(u *pipeline.URL) pipeline.URL {
	cp := *u
	if u.ClaimedUntil != nil {
		until := *u.ClaimedUntil
		cp.ClaimedUntil = &until
	}
	return cp
}
