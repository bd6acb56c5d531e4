// Package ratelimit implements a token bucket rate limiter for per-host politeness.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/movie-ingest/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]HostLimit
	defaultRate  rate.Limit
	defaultBurst int
}

// HostLimit overrides the default rate for one host.
type HostLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        map[string]HostLimit
}

// New creates a new Limiter. A non-positive rate disables limiting for that host.
func New(cfg Config) *Limiter {
	metrics.Init()
	overrides := make(map[string]HostLimit, len(cfg.Hosts))
	for host, limit := range cfg.Hosts {
		overrides[strings.ToLower(host)] = limit
	}
	r, burst := toLimit(cfg.DefaultRPS, cfg.DefaultBurst)
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the address's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, address string) error {
	domain := metrics.SanitizeSite(address)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not interesting; only record real delays.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, duration)
	}
	return nil
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if exists {
		return limiter
	}
	r, burst := l.defaultRate, l.defaultBurst
	if override, ok := l.overrides[domain]; ok {
		r, burst = toLimit(override.RPS, override.Burst)
	}
	limiter = rate.NewLimiter(r, burst)
	l.limiters[domain] = limiter
	return limiter
}

func toLimit(rps float64, burst int) (rate.Limit, int) {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return r, burst
}
