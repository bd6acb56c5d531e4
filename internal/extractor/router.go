package extractor

import (
	"fmt"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// Router implements pipeline.Extractor by dispatching on the stored page kind.
type Router struct {
	listing pipeline.Extractor
	detail  pipeline.Extractor
}

// NewRouter pairs the two page-kind strategies.
func NewRouter(listing, detail pipeline.Extractor) *Router {
	return &Router{listing: listing, detail: detail}
}

// Extract runs the extractor registered for page.PageKind.
func (r *Router) Extract(page pipeline.HTML, address string) (pipeline.ExtractionResult, error) {
	var impl pipeline.Extractor
	switch page.PageKind {
	case pipeline.PageKindListing:
		impl = r.listing
	case pipeline.PageKindDetail:
		impl = r.detail
	}
	if impl == nil {
		return nil, extractionError(page, fmt.Errorf("no extractor for page kind %q", page.PageKind))
	}
	return impl.Extract(page, address)
}
