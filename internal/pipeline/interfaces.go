package pipeline

import (
	"context"
	"io"
	"time"
)

// WorkStore is the system of record for pipeline progress and claim state.
type WorkStore interface {
	Enqueue(ctx context.Context, seeds []Seed) (int, error)
	ClaimForFetch(ctx context.Context, limit int, lease time.Duration) ([]URL, error)
	ClaimForProcess(ctx context.Context, limit int, lease time.Duration) ([]URL, error)
	MarkFetched(ctx context.Context, claim Claim) error
	MarkProcessed(ctx context.Context, claim Claim) error
	FailFetch(ctx context.Context, claim Claim, failure Failure) error
	FailProcess(ctx context.Context, claim Claim, failure Failure) error
	Release(ctx context.Context, claim Claim) error

	Get(ctx context.Context, id int64) (URL, error)
	ListFailed(ctx context.Context, limit int) ([]URL, error)
	Requeue(ctx context.Context, id int64) error
	Purge(ctx context.Context, id int64) error
	Stats(ctx context.Context) ([]StatusCount, error)
}

// HTMLStore persists raw fetched content.
type HTMLStore interface {
	Save(ctx context.Context, urlID int64, content string, kind PageKind) (HTML, error)
	GetByURL(ctx context.Context, urlID int64) (HTML, error)
	SetBlobURI(ctx context.Context, htmlID int64, uri string) error
	Touch(ctx context.Context, htmlID int64) error
}

// MovieRepository persists canonical movie records.
type MovieRepository interface {
	UpsertByTitle(ctx context.Context, record MovieRecord, sourceURL string) (Movie, error)
	Get(ctx context.Context, id int64) (Movie, error)
	List(ctx context.Context, limit, offset int) ([]Movie, error)
}

// EngagementStore persists users and their ratings and comments.
type EngagementStore interface {
	CreateUser(ctx context.Context, name, username string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	DeleteUser(ctx context.Context, id int64) error
	UpsertRating(ctx context.Context, userID, movieID int64, value *float64) (Rating, error)
	AddComment(ctx context.Context, userID, movieID int64, text string) (Comment, error)
	ListRatings(ctx context.Context, movieID int64) ([]Rating, error)
	ListComments(ctx context.Context, movieID int64) ([]Comment, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor parses stored HTML into structured output. Implementations must be deterministic.
type Extractor interface {
	Extract(page HTML, address string) (ExtractionResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SeenCache short-circuits discovery of addresses that were already enqueued.
// The url table's unique address remains the authority.
type SeenCache interface {
	MarkSeen(ctx context.Context, address string) (bool, error)
	Forget(ctx context.Context, address string) error
}

// ScopePolicy admits discovered addresses into the url table.
type ScopePolicy interface {
	Allow(address string) bool
}

// RetryPolicy computes the delay before the next attempt of a failed work item.
type RetryPolicy interface {
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces claim tokens (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
