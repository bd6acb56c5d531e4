package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.ErrorContains(t, err, "max parallel")

	f, err := NewChromedp(Config{MaxParallel: 2, SettleDelay: -time.Second})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	require.NotNil(t, f.tabs)
	require.Equal(t, defaultNavigationTimeout, f.cfg.NavigationTimeout)
	require.Equal(t, defaultWaitSelector, f.cfg.WaitSelector)
	require.Zero(t, f.cfg.SettleDelay)

	unbounded, err := NewChromedp(Config{})
	require.NoError(t, err)
	t.Cleanup(unbounded.Close)
	require.Nil(t, unbounded.tabs)
	require.NoError(t, unbounded.openTab(context.Background()))
	unbounded.closeTab()
}

func TestOpenTabWaitsForFreeSlot(t *testing.T) {
	t.Parallel()

	f := &Fetcher{tabs: semaphore.NewWeighted(1)}
	require.NoError(t, f.openTab(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.openTab(ctx), context.DeadlineExceeded)

	f.closeTab()
	require.NoError(t, f.openTab(context.Background()))
}

func TestFetchCancelledWhileWaitingForTab(t *testing.T) {
	t.Parallel()

	f := &Fetcher{tabs: semaphore.NewWeighted(1)}
	require.NoError(t, f.openTab(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, pipeline.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, context.Canceled)
	var fe *pipeline.FetchError
	require.False(t, errors.As(err, &fe), "cancellation is not a fetch failure")
}

func TestExtraHeadersJoinsValues(t *testing.T) {
	t.Parallel()

	got := extraHeaders(http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-None": {}})
	require.Equal(t, network.Headers{"X-Test": "a, b", "X-One": "1"}, got)
}

func TestDocumentKeepsFirstResponse(t *testing.T) {
	t.Parallel()

	doc := &document{}
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://example.com/missing",
			Headers: network.Headers{"X-Request-ID": "abc", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example.com/frame"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.js"},
	})
	doc.observe(&network.EventLoadingFinished{})

	require.Equal(t, 404, doc.statusCode())
	require.Equal(t, "abc", doc.headers().Get("X-Request-ID"))
	require.Equal(t, []string{"a=1", "b=2"}, doc.headers().Values("Set-Cookie"))
	require.Equal(t, "https://example.com/missing", doc.address("https://final", "https://req"))
}

func TestDocumentFallbacks(t *testing.T) {
	t.Parallel()

	doc := &document{}
	require.Equal(t, http.StatusOK, doc.statusCode())
	require.Empty(t, doc.headers())
	require.Equal(t, "https://final", doc.address("https://final", "https://req"))
	require.Equal(t, "https://req", doc.address("", "https://req"))
}

func TestNoopFetcherIsFatal(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), pipeline.FetchRequest{URL: "https://example.com"})
	require.True(t, pipeline.IsFatalFetch(err))
	require.ErrorIs(t, err, ErrDisabled)
}
