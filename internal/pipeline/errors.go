package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClaimLost is returned when a transition is attempted without holding the row's lease.
	ErrClaimLost = errors.New("claim no longer held")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// FetchError reports a failed retrieval. Fatal errors are dead-lettered without retry.
type FetchError struct {
	URL        string
	StatusCode int
	Fatal      bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch error for %s (status %d): %v", kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch error for %s: %v", kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError classifies a failed fetch by HTTP status. A zero status is treated as transient.
func NewFetchError(url string, status int, err error) *FetchError {
	return &FetchError{URL: url, StatusCode: status, Fatal: IsFatalStatus(status), Err: err}
}

// IsFatalStatus reports whether a response status will not improve on retry.
func IsFatalStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// IsFatalFetch reports whether err is a FetchError marked fatal.
func IsFatalFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Fatal
}

// ExtractionError reports content the extractor could not parse.
type ExtractionError struct {
	URLID int64
	Kind  PageKind
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s page for url %d: %v", e.Kind, e.URLID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StoreError wraps storage failures. It aborts the coordinator batch that observed it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore returns nil for a nil err and passes through sentinel errors untouched.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrClaimLost) || errors.Is(err, ErrConflict) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
