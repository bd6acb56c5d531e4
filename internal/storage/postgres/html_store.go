package postgres

import (
	"context"

	"github.com/JakeFAU/movie-ingest/internal/hash/sha256"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

const htmlColumns = `id, url_id, content, content_hash, page_kind, blob_uri, created_at, updated_at`

// A re-fetch replaces content in place; the archive pointer survives only if the bytes are unchanged.
const saveHTML = `INSERT INTO html (url_id, content, content_hash, page_kind, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (url_id) DO UPDATE SET
	content = EXCLUDED.content,
	blob_uri = CASE WHEN html.content_hash = EXCLUDED.content_hash THEN html.blob_uri ELSE '' END,
	content_hash = EXCLUDED.content_hash,
	page_kind = EXCLUDED.page_kind,
	updated_at = EXCLUDED.updated_at
RETURNING ` + htmlColumns

// HTMLStore implements pipeline.HTMLStore on the html table.
type HTMLStore struct {
	db    DB
	clock pipeline.Clock
}

// NewHTMLStore constructs an HTMLStore.
func NewHTMLStore(db DB, clock pipeline.Clock) *HTMLStore {
	return &HTMLStore{db: db, clock: clock}
}

// Save upserts the content for urlID.
func (s *HTMLStore) Save(ctx context.Context, urlID int64, content string, kind pipeline.PageKind) (pipeline.HTML, error) {
	row := s.db.QueryRow(ctx, saveHTML, urlID, content, sha256.Sum([]byte(content)), string(kind), s.clock.Now())
	page, err := scanHTML(row)
	if err != nil {
		return pipeline.HTML{}, classify("save html", err)
	}
	return page, nil
}

// GetByURL returns the content stored for urlID.
func (s *HTMLStore) GetByURL(ctx context.Context, urlID int64) (pipeline.HTML, error) {
	row := s.db.QueryRow(ctx, `SELECT `+htmlColumns+` FROM html WHERE url_id = $1`, urlID)
	page, err := scanHTML(row)
	if err != nil {
		return pipeline.HTML{}, classify("get html", err)
	}
	return page, nil
}

// SetBlobURI records the archive location of a row.
func (s *HTMLStore) SetBlobURI(ctx context.Context, htmlID int64, uri string) error {
	tag, err := s.db.Exec(ctx, `UPDATE html SET blob_uri = $2, updated_at = $3 WHERE id = $1`,
		htmlID, uri, s.clock.Now())
	if err != nil {
		return classify("set blob uri", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// Touch bumps updated_at on a row that has been processed again.
func (s *HTMLStore) Touch(ctx context.Context, htmlID int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE html SET updated_at = $2 WHERE id = $1`, htmlID, s.clock.Now())
	if err != nil {
		return classify("touch html", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHTML(row rowScanner) (pipeline.HTML, error) {
	var (
		page pipeline.HTML
		kind string
	)
	err := row.Scan(
		&page.ID,
		&page.URLID,
		&page.Content,
		&page.ContentHash,
		&kind,
		&page.BlobURI,
		&page.CreatedAt,
		&page.UpdatedAt,
	)
	if err != nil {
		return pipeline.HTML{}, err
	}
	page.PageKind = pipeline.PageKind(kind)
	return page, nil
}
