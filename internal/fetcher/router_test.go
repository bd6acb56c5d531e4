package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

type stubFetcher struct {
	calls []pipeline.FetchRequest
	resp  pipeline.FetchResponse
	err   error
}

func (s *stubFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	s.calls = append(s.calls, req)
	return s.resp, s.err
}

type stubWaiter struct {
	waited []string
	err    error
}

func (s *stubWaiter) Wait(_ context.Context, address string) error {
	s.waited = append(s.waited, address)
	return s.err
}

func TestRouterDispatchesByMethod(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: pipeline.FetchResponse{StatusCode: 200, Body: []byte("plain")}}
	browser := &stubFetcher{resp: pipeline.FetchResponse{StatusCode: 200, Body: []byte("rendered"), UsedHeadless: true}}
	waiter := &stubWaiter{}
	r := NewRouter(
		WithStrategy(pipeline.FetchMethodPlainRequest, plain),
		WithStrategy(pipeline.FetchMethodBrowser, browser),
		WithLimiter(waiter),
	)

	resp, err := r.Fetch(context.Background(), pipeline.FetchRequest{URL: "site/list", Method: pipeline.FetchMethodBrowser})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))
	require.Len(t, browser.calls, 1)
	require.Empty(t, plain.calls)

	_, err = r.Fetch(context.Background(), pipeline.FetchRequest{URL: "site/movie/1", Method: pipeline.FetchMethodPlainRequest})
	require.NoError(t, err)
	require.Len(t, plain.calls, 1)
	require.Equal(t, []string{"site/list", "site/movie/1"}, waiter.waited)
}

func TestRouterUnknownMethodIsFatal(t *testing.T) {
	t.Parallel()

	r := NewRouter(WithStrategy(pipeline.FetchMethodPlainRequest, &stubFetcher{}))
	_, err := r.Fetch(context.Background(), pipeline.FetchRequest{URL: "site/list", Method: pipeline.FetchMethodBrowser})
	require.True(t, pipeline.IsFatalFetch(err))
}

func TestRouterPreservesErrorClassification(t *testing.T) {
	t.Parallel()

	transient := pipeline.NewFetchError("u", 503, errors.New("unavailable"))
	r := NewRouter(WithStrategy(pipeline.FetchMethodPlainRequest, &stubFetcher{err: transient}))
	_, err := r.Fetch(context.Background(), pipeline.FetchRequest{URL: "u", Method: pipeline.FetchMethodPlainRequest})
	var fe *pipeline.FetchError
	require.ErrorAs(t, err, &fe)
	require.False(t, fe.Fatal)
}

func TestRouterLimiterCancellation(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{}
	r := NewRouter(
		WithStrategy(pipeline.FetchMethodPlainRequest, plain),
		WithLimiter(&stubWaiter{err: context.Canceled}),
	)
	_, err := r.Fetch(context.Background(), pipeline.FetchRequest{URL: "u", Method: pipeline.FetchMethodPlainRequest})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, plain.calls)
}
