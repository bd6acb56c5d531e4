// Package coordinator runs the fetch and process cycles over claimed work items.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/movie-ingest/internal/clock/system"
	"github.com/JakeFAU/movie-ingest/internal/metrics"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

const (
	cycleFetch   = "fetch"
	cycleProcess = "process"

	maxReasonLen   = 1024
	releaseTimeout = 5 * time.Second
)

// Config controls batch sizes, leases and retry limits.
type Config struct {
	BatchSize         int
	Lease             time.Duration
	MaxFetchRetries   int
	MaxProcessRetries int
	Parallelism       int
	ArchivePrefix     string
	ContentType       string
	Topic             string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.MaxFetchRetries <= 0 {
		c.MaxFetchRetries = 3
	}
	if c.MaxProcessRetries <= 0 {
		c.MaxProcessRetries = 3
	}
	if c.Parallelism <= 0 {
		c.Parallelism = c.BatchSize
	}
	if c.ContentType == "" {
		c.ContentType = "text/html; charset=utf-8"
	}
	return c
}

// Dependencies are the collaborators a Coordinator drives. Seen, Archive and Publisher are optional.
type Dependencies struct {
	Work      pipeline.WorkStore
	HTML      pipeline.HTMLStore
	Movies    pipeline.MovieRepository
	Fetcher   pipeline.Fetcher
	Extractor pipeline.Extractor
	Seen      pipeline.SeenCache
	Scope     pipeline.ScopePolicy
	Archive   pipeline.BlobStore
	Publisher pipeline.Publisher
	Retry     pipeline.RetryPolicy
	Clock     pipeline.Clock
}

// Coordinator claims work items and moves them through fetch and process.
type Coordinator struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// CycleReport summarizes one cycle. Lost counts rows whose lease was taken over mid-flight.
type CycleReport struct {
	Claimed      int `json:"claimed"`
	Succeeded    int `json:"succeeded"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
	Released     int `json:"released"`
	Lost         int `json:"lost"`
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetried
	outcomeDeadLettered
	outcomeReleased
	outcomeLost
)

type tally struct {
	succeeded, retried, deadLettered, released, lost atomic.Int64
}

func (t *tally) add(o outcome) {
	switch o {
	case outcomeSucceeded:
		t.succeeded.Add(1)
	case outcomeRetried:
		t.retried.Add(1)
	case outcomeDeadLettered:
		t.deadLettered.Add(1)
	case outcomeReleased:
		t.released.Add(1)
	case outcomeLost:
		t.lost.Add(1)
	}
}

func (t *tally) report(claimed int) CycleReport {
	return CycleReport{
		Claimed:      claimed,
		Succeeded:    int(t.succeeded.Load()),
		Retried:      int(t.retried.Load()),
		DeadLettered: int(t.deadLettered.Load()),
		Released:     int(t.released.Load()),
		Lost:         int(t.lost.Load()),
	}
}

// New constructs a Coordinator. Missing retry policy and clock fall back to defaults.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	switch {
	case deps.Work == nil:
		return nil, errors.New("coordinator: work store is required")
	case deps.HTML == nil:
		return nil, errors.New("coordinator: html store is required")
	case deps.Movies == nil:
		return nil, errors.New("coordinator: movie repository is required")
	case deps.Fetcher == nil:
		return nil, errors.New("coordinator: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("coordinator: extractor is required")
	}
	if deps.Retry == nil {
		deps.Retry = pipeline.NewExponentialRetryPolicy(0, 0)
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Coordinator{deps: deps, cfg: cfg.withDefaults(), logger: logger}, nil
}

// FetchCycle claims one batch of UNFETCHED rows and fetches them.
func (c *Coordinator) FetchCycle(ctx context.Context) (CycleReport, error) {
	urls, err := c.deps.Work.ClaimForFetch(ctx, c.cfg.BatchSize, c.cfg.Lease)
	if err != nil {
		return CycleReport{}, fmt.Errorf("claim for fetch: %w", err)
	}
	metrics.ObserveClaims(cycleFetch, len(urls))
	return c.runBatch(ctx, urls, c.fetchOne)
}

// ProcessCycle claims one batch of FETCHED, UNPROCESSED rows and extracts them.
func (c *Coordinator) ProcessCycle(ctx context.Context) (CycleReport, error) {
	urls, err := c.deps.Work.ClaimForProcess(ctx, c.cfg.BatchSize, c.cfg.Lease)
	if err != nil {
		return CycleReport{}, fmt.Errorf("claim for process: %w", err)
	}
	metrics.ObserveClaims(cycleProcess, len(urls))
	return c.runBatch(ctx, urls, c.processOne)
}

// RefreshStats exports per-status row counts as gauges.
func (c *Coordinator) RefreshStats(ctx context.Context) error {
	counts, err := c.deps.Work.Stats(ctx)
	if err != nil {
		return fmt.Errorf("work stats: %w", err)
	}
	for _, sc := range counts {
		metrics.SetURLCount(string(sc.FetchStatus), string(sc.ProcessStatus), sc.Count)
	}
	return nil
}

// runBatch fans rows out on an errgroup. Per-row failures are recorded on the row; the first
// StoreError cancels the group and every row that has not run yet is released.
func (c *Coordinator) runBatch(
	ctx context.Context,
	urls []pipeline.URL,
	handle func(context.Context, pipeline.URL) (outcome, error),
) (CycleReport, error) {
	var counts tally
	if len(urls) == 0 {
		return counts.report(0), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	submitted := 0
	for _, u := range urls {
		if gctx.Err() != nil {
			break
		}
		submitted++
		g.Go(func() error {
			if gctx.Err() != nil {
				counts.add(c.release(ctx, u))
				return nil
			}
			o, err := handle(gctx, u)
			if err != nil {
				counts.add(c.release(ctx, u))
				if interrupted(gctx, err) {
					return nil
				}
				return err
			}
			counts.add(o)
			return nil
		})
	}
	err := g.Wait()
	for _, u := range urls[submitted:] {
		counts.add(c.release(ctx, u))
	}
	return counts.report(len(urls)), err
}

// release drops the lease on u. It runs detached from cancellation so a stopped cycle
// does not leave rows leased until expiry.
func (c *Coordinator) release(ctx context.Context, u pipeline.URL) outcome {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := c.deps.Work.Release(rctx, u.Claim()); err != nil {
		if errors.Is(err, pipeline.ErrClaimLost) {
			return outcomeLost
		}
		c.logger.Warn("release claim failed; row stays leased until expiry",
			zap.Int64("url_id", u.ID), zap.Error(err))
	}
	return outcomeReleased
}

// settle maps the error of a claim-guarded transition onto the row's outcome.
func (c *Coordinator) settle(log *zap.Logger, ok outcome, err error) (outcome, error) {
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, pipeline.ErrClaimLost):
		log.Warn("claim lost before transition")
		return outcomeLost, nil
	default:
		return 0, err
	}
}

// interrupted reports whether err came from the caller stopping the cycle.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (c *Coordinator) failure(attempt, limit int, fatal bool, cause error) pipeline.Failure {
	reason := cause.Error()
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	return pipeline.Failure{
		Reason:     reason,
		RetryAt:    c.deps.Clock.Now().Add(c.deps.Retry.Backoff(attempt)),
		DeadLetter: fatal || attempt >= limit,
	}
}
