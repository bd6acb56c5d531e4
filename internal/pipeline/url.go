package pipeline

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so re-discovery maps onto the same work item.
// It lowercases the scheme and host, removes default ports, sorts query parameters and drops fragments.
// Addresses without a scheme (e.g. "site/list") are accepted; only their query and fragment are touched.
func NormalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	if u.Scheme == "" && u.Host == "" {
		return u.String(), nil
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	return u.String(), nil
}

// NormalizeSeed validates a seed and normalizes its address. Missing method/kind default to
// PLAIN_REQUEST and DETAIL.
func NormalizeSeed(seed Seed) (Seed, error) {
	addr, err := NormalizeURL(seed.Address)
	if err != nil {
		return Seed{}, err
	}
	seed.Address = addr
	if seed.FetchMethod == "" {
		seed.FetchMethod = FetchMethodPlainRequest
	}
	if seed.PageKind == "" {
		seed.PageKind = PageKindDetail
	}
	if !seed.FetchMethod.Valid() {
		return Seed{}, fmt.Errorf("invalid fetch method %q", seed.FetchMethod)
	}
	if !seed.PageKind.Valid() {
		return Seed{}, fmt.Errorf("invalid page kind %q", seed.PageKind)
	}
	return seed, nil
}
