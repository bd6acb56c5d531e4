package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/movie-ingest/internal/hash/sha256"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// HTMLStore keeps at most one content row per work item; a re-fetch overwrites it.
type HTMLStore struct {
	mu     sync.RWMutex
	clock  pipeline.Clock
	nextID int64
	byURL  map[int64]*pipeline.HTML
	byID   map[int64]int64
	owned  func(urlID int64) bool
}

// NewHTMLStore constructs an HTMLStore.
func NewHTMLStore(clock pipeline.Clock) *HTMLStore {
	return &HTMLStore{
		clock: clock,
		byURL: make(map[int64]*pipeline.HTML),
		byID:  make(map[int64]int64),
	}
}

func (s *HTMLStore) setOwner(owned func(urlID int64) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = owned
}

// Save stores content for urlID, replacing any previous content. With an attached WorkStore,
// saving for a work item that no longer exists returns pipeline.ErrNotFound.
func (s *HTMLStore) Save(_ context.Context, urlID int64, content string, kind pipeline.PageKind) (pipeline.HTML, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned != nil && !s.owned(urlID) {
		return pipeline.HTML{}, pipeline.ErrNotFound
	}
	now := s.clock.Now()
	hash := sha256.Sum([]byte(content))

	if existing, ok := s.byURL[urlID]; ok {
		if existing.ContentHash != hash {
			existing.BlobURI = ""
		}
		existing.Content = content
		existing.ContentHash = hash
		existing.PageKind = kind
		existing.UpdatedAt = now
		return *existing, nil
	}

	s.nextID++
	row := &pipeline.HTML{
		ID:          s.nextID,
		URLID:       urlID,
		Content:     content,
		ContentHash: hash,
		PageKind:    kind,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byURL[urlID] = row
	s.byID[row.ID] = urlID
	return *row, nil
}

// GetByURL returns the content stored for urlID.
func (s *HTMLStore) GetByURL(_ context.Context, urlID int64) (pipeline.HTML, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.byURL[urlID]
	if !ok {
		return pipeline.HTML{}, pipeline.ErrNotFound
	}
	return *row, nil
}

// SetBlobURI records where the archived copy of a row lives.
func (s *HTMLStore) SetBlobURI(_ context.Context, htmlID int64, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	urlID, ok := s.byID[htmlID]
	if !ok {
		return pipeline.ErrNotFound
	}
	row := s.byURL[urlID]
	row.BlobURI = uri
	row.UpdatedAt = s.clock.Now()
	return nil
}

// Touch bumps updated_at on a row that has been processed again.
func (s *HTMLStore) Touch(_ context.Context, htmlID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	urlID, ok := s.byID[htmlID]
	if !ok {
		return pipeline.ErrNotFound
	}
	s.byURL[urlID].UpdatedAt = s.clock.Now()
	return nil
}

func (s *HTMLStore) deleteByURL(urlID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.byURL[urlID]; ok {
		delete(s.byID, row.ID)
		delete(s.byURL, urlID)
	}
}
