package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/metrics"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// MovieUpsertedEvent is published after a detail page updates a movie.
const MovieUpsertedEvent = "movie.upserted"

func (c *Coordinator) processOne(ctx context.Context, u pipeline.URL) (outcome, error) {
	log := c.logger.With(
		zap.Int64("url_id", u.ID),
		zap.String("address", u.Address),
		zap.String("kind", string(u.PageKind)),
		zap.Int("attempt", u.ProcessAttempts+1),
	)

	page, err := c.deps.HTML.GetByURL(ctx, u.ID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return c.failProcess(ctx, log, u, fmt.Errorf("no stored html: %w", err))
		}
		return 0, fmt.Errorf("load html for url %d: %w", u.ID, err)
	}

	result, err := c.deps.Extractor.Extract(page, u.Address)
	if err != nil {
		metrics.ObserveProcess(string(page.PageKind), "error")
		return c.failProcess(ctx, log, u, err)
	}

	switch r := result.(type) {
	case pipeline.DiscoveredURLs:
		inserted, err := c.enqueueDiscovered(ctx, r.Items)
		if err != nil {
			if pipeline.IsStoreError(err) {
				return 0, err
			}
			return c.failProcess(ctx, log, u, err)
		}
		log.Debug("listing processed", zap.Int("discovered", len(r.Items)), zap.Int("inserted", inserted))
	case pipeline.MovieRecord:
		movie, err := c.deps.Movies.UpsertByTitle(ctx, r, u.Address)
		if err != nil {
			if pipeline.IsStoreError(err) {
				return 0, fmt.Errorf("upsert movie: %w", err)
			}
			return c.failProcess(ctx, log, u, err)
		}
		metrics.ObserveMovieUpsert()
		c.publishMovie(ctx, log, movie)
	default:
		return c.failProcess(ctx, log, u, fmt.Errorf("unexpected extraction result %T", result))
	}
	metrics.ObserveProcess(string(page.PageKind), "success")

	if err := c.deps.Work.MarkProcessed(ctx, u.Claim()); err != nil {
		return c.settle(log, outcomeSucceeded, fmt.Errorf("mark processed: %w", err))
	}
	if err := c.deps.HTML.Touch(ctx, page.ID); err != nil {
		log.Warn("touch html failed", zap.Int64("html_id", page.ID), zap.Error(err))
	}
	return outcomeSucceeded, nil
}

// enqueueDiscovered inserts in-scope discovered addresses that the seen cache has not filtered out.
// The cache fails open: on a cache error the address is still offered to the url table.
func (c *Coordinator) enqueueDiscovered(ctx context.Context, items []pipeline.Seed) (int, error) {
	fresh := make([]pipeline.Seed, 0, len(items))
	marked := make([]string, 0, len(items))
	skipped := 0
	for _, item := range items {
		if c.deps.Scope != nil && !c.deps.Scope.Allow(item.Address) {
			skipped++
			continue
		}
		if c.deps.Seen == nil {
			fresh = append(fresh, item)
			continue
		}
		first, err := c.deps.Seen.MarkSeen(ctx, item.Address)
		if err != nil {
			c.logger.Warn("seen cache unavailable", zap.String("address", item.Address), zap.Error(err))
			fresh = append(fresh, item)
			continue
		}
		if first {
			fresh = append(fresh, item)
			marked = append(marked, item.Address)
		}
	}
	if skipped > 0 {
		c.logger.Debug("out-of-scope links skipped", zap.Int("skipped", skipped))
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	inserted, err := c.deps.Work.Enqueue(ctx, fresh)
	if err != nil {
		c.forget(ctx, marked)
		return 0, fmt.Errorf("enqueue discovered: %w", err)
	}
	return inserted, nil
}

func (c *Coordinator) forget(ctx context.Context, addresses []string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	for _, address := range addresses {
		if err := c.deps.Seen.Forget(fctx, address); err != nil {
			c.logger.Warn("seen cache forget failed", zap.String("address", address), zap.Error(err))
		}
	}
}

func (c *Coordinator) publishMovie(ctx context.Context, log *zap.Logger, movie pipeline.Movie) {
	if c.cfg.Topic == "" || c.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"event":      MovieUpsertedEvent,
		"movie_id":   movie.ID,
		"title":      movie.Title,
		"rating":     movie.Rating,
		"source_url": movie.SourceURL,
		"updated_at": movie.UpdatedAt,
	}
	if _, err := c.deps.Publisher.Publish(ctx, c.cfg.Topic, payload); err != nil {
		log.Warn("publish movie event failed", zap.Int64("movie_id", movie.ID), zap.Error(err))
	}
}

func (c *Coordinator) failProcess(ctx context.Context, log *zap.Logger, u pipeline.URL, cause error) (outcome, error) {
	attempt := u.ProcessAttempts + 1
	failure := c.failure(attempt, c.cfg.MaxProcessRetries, false, cause)
	result := outcomeRetried
	if failure.DeadLetter {
		result = outcomeDeadLettered
	}
	o, err := c.settle(log, result, c.deps.Work.FailProcess(ctx, u.Claim(), failure))
	if err != nil {
		return 0, fmt.Errorf("record process failure: %w", err)
	}
	switch o {
	case outcomeDeadLettered:
		metrics.ObserveDeadLetter(cycleProcess)
		log.Error("process dead-lettered", zap.Error(cause))
	case outcomeRetried:
		log.Warn("process failed; will retry", zap.Time("retry_at", failure.RetryAt), zap.Error(cause))
	}
	return o, nil
}
