// Package pipeline defines the core types shared across the crawl/fetch/process subsystems.
package pipeline

import (
	"net/http"
	"time"
)

// FetchMethod selects the strategy used to retrieve a URL.
type FetchMethod string

// Fetch methods persisted on each work item.
const (
	FetchMethodPlainRequest FetchMethod = "PLAIN_REQUEST"
	FetchMethodBrowser      FetchMethod = "BROWSER"
)

// Valid reports whether m is a known fetch method.
func (m FetchMethod) Valid() bool {
	return m == FetchMethodPlainRequest || m == FetchMethodBrowser
}

// FetchStatus tracks the fetch axis of a work item.
type FetchStatus string

// Fetch status values. FAILED is terminal until an operator requeues the row.
const (
	FetchStatusUnfetched FetchStatus = "UNFETCHED"
	FetchStatusFetched   FetchStatus = "FETCHED"
	FetchStatusFailed    FetchStatus = "FAILED"
)

// Valid reports whether s is a known fetch status.
func (s FetchStatus) Valid() bool {
	switch s {
	case FetchStatusUnfetched, FetchStatusFetched, FetchStatusFailed:
		return true
	default:
		return false
	}
}

// ProcessStatus tracks the process axis of a work item.
type ProcessStatus string

// Process status values. FAILED is terminal until an operator requeues the row.
const (
	ProcessStatusUnprocessed ProcessStatus = "UNPROCESSED"
	ProcessStatusProcessed   ProcessStatus = "PROCESSED"
	ProcessStatusFailed      ProcessStatus = "FAILED"
)

// Valid reports whether s is a known process status.
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusUnprocessed, ProcessStatusProcessed, ProcessStatusFailed:
		return true
	default:
		return false
	}
}

// PageKind classifies fetched content.
type PageKind string

// Page kinds assigned at discovery time.
const (
	PageKindListing PageKind = "LISTING"
	PageKindDetail  PageKind = "DETAIL"
)

// Valid reports whether k is a known page kind.
func (k PageKind) Valid() bool {
	return k == PageKindListing || k == PageKindDetail
}

// URL is a work item: one unit of crawl progress.
type URL struct {
	ID              int64         `json:"id"`
	Address         string        `json:"address"`
	FetchMethod     FetchMethod   `json:"fetch_method"`
	PageKind        PageKind      `json:"page_kind"`
	FetchStatus     FetchStatus   `json:"fetch_status"`
	ProcessStatus   ProcessStatus `json:"process_status"`
	FetchAttempts   int           `json:"fetch_attempts"`
	ProcessAttempts int           `json:"process_attempts"`
	LastError       string        `json:"last_error,omitempty"`
	NextAttemptAt   time.Time     `json:"next_attempt_at"`
	ClaimToken      string        `json:"-"`
	ClaimedUntil    *time.Time    `json:"claimed_until,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Claim returns the lease handle held on u by the caller that claimed it.
func (u URL) Claim() Claim {
	return Claim{URLID: u.ID, Token: u.ClaimToken}
}

// Claim identifies a leased work item. Transitions are only applied while the token matches.
type Claim struct {
	URLID int64
	Token string
}

// Seed describes a URL to enqueue, either from operator input or listing extraction.
type Seed struct {
	Address     string      `json:"address"`
	FetchMethod FetchMethod `json:"fetch_method"`
	PageKind    PageKind    `json:"page_kind"`
}

// Failure describes a failed attempt on one axis of a work item.
type Failure struct {
	Reason     string
	RetryAt    time.Time
	DeadLetter bool
}

// StatusCount is one bucket of WorkStore.Stats.
type StatusCount struct {
	FetchStatus   FetchStatus   `json:"fetch_status"`
	ProcessStatus ProcessStatus `json:"process_status"`
	Count         int64         `json:"count"`
}

// HTML is raw content stored for one successful fetch of a URL.
type HTML struct {
	ID          int64     `json:"id"`
	URLID       int64     `json:"url_id"`
	Content     string    `json:"-"`
	ContentHash string    `json:"content_hash"`
	PageKind    PageKind  `json:"page_kind"`
	BlobURI     string    `json:"blob_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Movie is the canonical record upserted from detail pages.
type Movie struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Rating    *float64  `json:"rating,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User owns ratings and comments.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rating is a user's score for a movie. One row per (user, movie).
type Rating struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	MovieID   int64     `json:"movie_id"`
	Value     *float64  `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment is free text left by a user on a movie.
type Comment struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	MovieID   int64     `json:"movie_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URLID   int64
	URL     string
	Method  FetchMethod
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ExtractionResult is the closed set of extractor outputs: DiscoveredURLs or MovieRecord.
type ExtractionResult interface {
	isExtractionResult()
}

// DiscoveredURLs is produced by listing pages.
type DiscoveredURLs struct {
	Items []Seed
}

// MovieRecord is produced by detail pages.
type MovieRecord struct {
	Title  string
	Rating *float64
}

func (DiscoveredURLs) isExtractionResult() {}
func (MovieRecord) isExtractionResult()    {}
