package extractor

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// ListingConfig controls link discovery on listing pages.
type ListingConfig struct {
	// Container scopes the link search. Empty means the whole document.
	Container string
	// LinkSelector defaults to "a[href]".
	LinkSelector string
	// DetailPattern marks links as DETAIL pages; everything else is LISTING.
	DetailPattern string
	// BrowserPattern marks links that need the BROWSER strategy.
	BrowserPattern string
}

// ListingExtractor discovers URLs on listing pages.
type ListingExtractor struct {
	container    string
	linkSelector string
	detail       *regexp.Regexp
	browser      *regexp.Regexp
}

// NewListing compiles cfg into a ListingExtractor.
func NewListing(cfg ListingConfig) (*ListingExtractor, error) {
	e := &ListingExtractor{
		container:    strings.TrimSpace(cfg.Container),
		linkSelector: strings.TrimSpace(cfg.LinkSelector),
	}
	if e.linkSelector == "" {
		e.linkSelector = "a[href]"
	}
	var err error
	if e.detail, err = compileOptional(cfg.DetailPattern); err != nil {
		return nil, fmt.Errorf("detail pattern: %w", err)
	}
	if e.browser, err = compileOptional(cfg.BrowserPattern); err != nil {
		return nil, fmt.Errorf("browser pattern: %w", err)
	}
	return e, nil
}

// Extract returns the distinct links on page in document order. An empty result is valid.
func (e *ListingExtractor) Extract(page pipeline.HTML, address string) (pipeline.ExtractionResult, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}
	base, schemeless, err := parseBase(address)
	if err != nil {
		return nil, extractionError(page, fmt.Errorf("parse page address: %w", err))
	}

	scope := doc.Selection
	if e.container != "" {
		scope = doc.Find(e.container)
	}

	seen := make(map[string]struct{})
	items := make([]pipeline.Seed, 0)
	scope.Find(e.linkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved, ok := resolve(base, schemeless, href)
		if !ok {
			return
		}
		normalized, err := pipeline.NormalizeURL(resolved)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		items = append(items, e.classify(normalized))
	})
	return pipeline.DiscoveredURLs{Items: items}, nil
}

func (e *ListingExtractor) classify(address string) pipeline.Seed {
	seed := pipeline.Seed{
		Address:     address,
		FetchMethod: pipeline.FetchMethodPlainRequest,
		PageKind:    pipeline.PageKindListing,
	}
	if e.detail != nil && e.detail.MatchString(address) {
		seed.PageKind = pipeline.PageKindDetail
	}
	if e.browser != nil && e.browser.MatchString(address) {
		seed.FetchMethod = pipeline.FetchMethodBrowser
	}
	return seed
}

// resolve turns href into an address relative to base. Fragments, mailto: and javascript: links are dropped.
func resolve(base *url.URL, schemeless bool, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	switch ref.Scheme {
	case "", "http", "https":
	default:
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if schemeless && ref.Scheme == "" && ref.Host == "" {
		return strings.TrimPrefix(resolved.String(), pseudoScheme), true
	}
	return resolved.String(), true
}

// pseudoScheme lets schemeless addresses such as "site/list" resolve with their first segment as host.
const pseudoScheme = "http://"

func parseBase(address string) (*url.URL, bool, error) {
	base, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return nil, false, err
	}
	if base.Scheme != "" || base.Host != "" {
		return base, false, nil
	}
	base, err = url.Parse(pseudoScheme + strings.TrimSpace(address))
	if err != nil {
		return nil, false, err
	}
	return base, true, nil
}

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return re, nil
}

func parse(page pipeline.HTML) (*goquery.Document, error) {
	if strings.TrimSpace(page.Content) == "" {
		return nil, extractionError(page, errors.New("empty document"))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return nil, extractionError(page, fmt.Errorf("parse html: %w", err))
	}
	return doc, nil
}

func extractionError(page pipeline.HTML, err error) error {
	return &pipeline.ExtractionError{URLID: page.URLID, Kind: page.PageKind, Err: err}
}
