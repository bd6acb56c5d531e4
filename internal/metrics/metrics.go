// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	processTotal               *prometheus.CounterVec
	claimsTotal                *prometheus.CounterVec
	deadLettersTotal           *prometheus.CounterVec
	urlsByStatus               *prometheus.GaugeVec
	moviesUpsertedTotal        prometheus.Counter
	activeWorkers              *prometheus.GaugeVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "movieingest_fetch_total",
				Help: "Fetch attempts, labeled by fetch method and outcome.",
			},
			[]string{"method", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "movieingest_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by fetch method.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "movieingest_fetch_bytes_total",
				Help: "Total bytes of HTML stored, labeled by site.",
			},
			[]string{"site"},
		)

		processTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "movieingest_process_total",
				Help: "Extraction attempts, labeled by page kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "movieingest_claims_total",
				Help: "Work items claimed, labeled by cycle.",
			},
			[]string{"cycle"},
		)

		deadLettersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "movieingest_dead_letters_total",
				Help: "Work items moved to FAILED, labeled by cycle.",
			},
			[]string{"cycle"},
		)

		urlsByStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "movieingest_urls",
				Help: "Work items per fetch/process status pair.",
			},
			[]string{"fetch_status", "process_status"},
		)

		moviesUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "movieingest_movies_upserted_total",
				Help: "Total movie upserts produced by detail pages.",
			},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "movieingest_active_workers",
				Help: "Workers currently running a cycle, labeled by cycle.",
			},
			[]string{"cycle"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "movieingest_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(method, outcome, address string, bytesFetched int, duration time.Duration) {
	fetchTotal.WithLabelValues(method, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(address)).Add(float64(bytesFetched))
	}
}

// ObserveProcess records one extraction attempt.
func ObserveProcess(kind, outcome string) {
	processTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveClaims adds n claimed rows for cycle.
func ObserveClaims(cycle string, n int) {
	if n > 0 {
		claimsTotal.WithLabelValues(cycle).Add(float64(n))
	}
}

// ObserveDeadLetter records a row moved to FAILED.
func ObserveDeadLetter(cycle string) {
	deadLettersTotal.WithLabelValues(cycle).Inc()
}

// SetURLCount sets the gauge for one status pair.
func SetURLCount(fetchStatus, processStatus string, count int64) {
	urlsByStatus.WithLabelValues(fetchStatus, processStatus).Set(float64(count))
}

// ObserveMovieUpsert increments the movie upsert counter.
func ObserveMovieUpsert() {
	moviesUpsertedTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(cycle string) {
	activeWorkers.WithLabelValues(cycle).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(cycle string) {
	activeWorkers.WithLabelValues(cycle).Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
