// Package extractor turns stored HTML into pipeline results.
//
// ListingExtractor yields DiscoveredURLs and DetailExtractor yields a MovieRecord. Router picks one
// by the page kind assigned at discovery time. Extractors are pure: the same HTML always yields the
// same result, so re-running them on retry is safe.
package extractor
