package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// ErrDisabled is wrapped by Noop fetch errors.
var ErrDisabled = errors.New("browser fetching is disabled")

// Noop stands in for the BROWSER strategy when headless rendering is turned off.
// Its errors are fatal so BROWSER rows dead-letter instead of spinning; requeue them once rendering is enabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails.
func (Noop) Fetch(_ context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	return pipeline.FetchResponse{}, &pipeline.FetchError{URL: request.URL, Fatal: true, Err: ErrDisabled}
}
