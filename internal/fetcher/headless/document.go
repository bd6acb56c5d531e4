package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// document records the main document response of a navigation. Later document
// responses belong to frames and are ignored.
type document struct {
	mu     sync.Mutex
	seen   bool
	status int
	url    string
	header http.Header
}

func (d *document) observe(ev any) {
	received, ok := ev.(*network.EventResponseReceived)
	if !ok || received.Type != network.ResourceTypeDocument || received.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(received.Response.Status)
	d.url = received.Response.URL
	d.header = httpHeader(received.Response.Headers)
}

// statusCode falls back to 200 when the browser never reported the document, e.g. for
// pages served from cache.
func (d *document) statusCode() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == 0 {
		return http.StatusOK
	}
	return d.status
}

func (d *document) headers() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.header == nil {
		return http.Header{}
	}
	return d.header.Clone()
}

// address prefers the document response URL, then the tab location, then the request.
func (d *document) address(location, requested string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, candidate := range []string{d.url, location} {
		if candidate != "" {
			return candidate
		}
	}
	return requested
}

func httpHeader(in network.Headers) http.Header {
	out := make(http.Header, len(in))
	for key, value := range in {
		values, ok := value.([]any)
		if !ok {
			out.Add(key, fmt.Sprint(value))
			continue
		}
		for _, v := range values {
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

// extraHeaders flattens a request header into the single-string form Chrome accepts,
// joining repeated values with ", ".
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) > 0 {
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}

// prepareTab enables network events and applies the user agent and request headers.
func prepareTab(userAgent string, header http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if extra := extraHeaders(header); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set request headers: %w", err)
			}
		}
		return nil
	})
}
