// Package fetcher selects a fetch strategy per work item.
package fetcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, address string) error
}

// Router implements pipeline.Fetcher by dispatching on FetchRequest.Method.
type Router struct {
	strategies map[pipeline.FetchMethod]pipeline.Fetcher
	limiter    Waiter
}

// Option customizes a Router.
type Option func(*Router)

// WithStrategy registers the fetcher used for method.
func WithStrategy(method pipeline.FetchMethod, f pipeline.Fetcher) Option {
	return func(r *Router) {
		if f != nil {
			r.strategies[method] = f
		}
	}
}

// WithLimiter throttles every fetch through l.
func WithLimiter(l Waiter) Option {
	return func(r *Router) {
		r.limiter = l
	}
}

// NewRouter builds a Router from options.
func NewRouter(opts ...Option) *Router {
	r := &Router{strategies: make(map[pipeline.FetchMethod]pipeline.Fetcher)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch waits for the host's rate limit and delegates to the strategy registered for the request's method.
func (r *Router) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	strategy, ok := r.strategies[request.Method]
	if !ok {
		return pipeline.FetchResponse{}, &pipeline.FetchError{
			URL:   request.URL,
			Fatal: true,
			Err:   fmt.Errorf("no fetcher registered for method %q", request.Method),
		}
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, request.URL); err != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}
	}
	resp, err := strategy.Fetch(ctx, request)
	if err != nil {
		return resp, fmt.Errorf("fetch via %s: %w", request.Method, err)
	}
	return resp, nil
}
