package extractor

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// DetailConfig controls attribute extraction on detail pages.
type DetailConfig struct {
	// TitleSelector defaults to "h1".
	TitleSelector string
	// RatingSelector is optional; pages without a match yield a nil rating.
	RatingSelector string
	// RatingAttr reads the rating from an attribute (e.g. "content") instead of the element text.
	RatingAttr string
}

// DetailExtractor reads a single movie from a detail page.
type DetailExtractor struct {
	cfg DetailConfig
}

var ratingNumber = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// NewDetail builds a DetailExtractor.
func NewDetail(cfg DetailConfig) *DetailExtractor {
	cfg.TitleSelector = strings.TrimSpace(cfg.TitleSelector)
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = "h1"
	}
	return &DetailExtractor{cfg: cfg}
}

// Extract returns the page's MovieRecord. A missing title is an ExtractionError.
func (e *DetailExtractor) Extract(page pipeline.HTML, _ string) (pipeline.ExtractionResult, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}
	title := collapseSpace(doc.Find(e.cfg.TitleSelector).First().Text())
	if title == "" {
		return nil, extractionError(page, errors.New("no title matched "+e.cfg.TitleSelector))
	}
	return pipeline.MovieRecord{Title: title, Rating: e.rating(doc)}, nil
}

func (e *DetailExtractor) rating(doc *goquery.Document) *float64 {
	if e.cfg.RatingSelector == "" {
		return nil
	}
	sel := doc.Find(e.cfg.RatingSelector).First()
	if sel.Length() == 0 {
		return nil
	}
	raw := sel.Text()
	if e.cfg.RatingAttr != "" {
		raw = sel.AttrOr(e.cfg.RatingAttr, "")
	}
	return parseRating(raw)
}

// parseRating takes the first number in raw, so "7.5/10" and "Rating: 7,5" both give 7.5.
func parseRating(raw string) *float64 {
	match := ratingNumber.FindString(raw)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &v
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
