// Package headless implements the BROWSER fetch strategy with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
)

// Config controls the browser strategy.
type Config struct {
	// MaxParallel caps open tabs. Zero means no cap.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be present before the DOM is captured. Defaults to "body".
	WaitSelector string
	// SettleDelay lets client-side rendering finish after WaitSelector appears.
	SettleDelay time.Duration
}

// Fetcher renders BROWSER work items in tabs of one shared Chrome process.
type Fetcher struct {
	cfg      Config
	tabs     *semaphore.Weighted
	browser  context.Context
	shutdown context.CancelFunc
}

// NewChromedp starts a Chrome allocator. Tabs are opened lazily per fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	cfg.SettleDelay = max(cfg.SettleDelay, 0)

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	f.browser, f.shutdown = chromedp.NewExecAllocator(context.Background(), allocatorOptions()...)
	return f, nil
}

func allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+4)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	return append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
}

// Close stops the Chrome process and every open tab.
func (f *Fetcher) Close() {
	f.shutdown()
}

// Fetch renders request.URL and returns the serialized DOM. Render failures are transient
// FetchErrors, a 4xx/5xx main document is classified by status, and caller cancellation is
// returned as a plain context error so the claim can be released.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if err := f.openTab(ctx); err != nil {
		return pipeline.FetchResponse{}, fmt.Errorf("wait for browser tab: %w", err)
	}
	defer f.closeTab()

	start := time.Now()
	page, doc, err := f.render(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return pipeline.FetchResponse{}, pipeline.NewFetchError(request.URL, 0, err)
	}

	resp := pipeline.FetchResponse{
		URL:          doc.address(page.location, request.URL),
		StatusCode:   doc.statusCode(),
		Headers:      doc.headers(),
		Body:         []byte(page.html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp, pipeline.NewFetchError(request.URL, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	return resp, nil
}

type renderedPage struct {
	html     string
	location string
}

// render runs one navigation in a fresh tab bounded by the navigation timeout. The tab is
// torn down as soon as ctx is cancelled.
func (f *Fetcher) render(ctx context.Context, request pipeline.FetchRequest) (renderedPage, *document, error) {
	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	defer context.AfterFunc(ctx, closeTab)()

	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &document{}
	chromedp.ListenTarget(tab, doc.observe)

	var page renderedPage
	steps := chromedp.Tasks{
		prepareTab(f.cfg.UserAgent, request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		steps = append(steps, chromedp.Sleep(f.cfg.SettleDelay))
	}
	steps = append(steps,
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
	if err := chromedp.Run(tab, steps); err != nil {
		return renderedPage{}, nil, fmt.Errorf("render %s: %w", request.URL, err)
	}
	return page, doc, nil
}

func (f *Fetcher) openTab(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	return f.tabs.Acquire(ctx, 1)
}

func (f *Fetcher) closeTab() {
	if f.tabs != nil {
		f.tabs.Release(1)
	}
}
