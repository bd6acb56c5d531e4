package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/metrics"
	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

func (c *Coordinator) fetchOne(ctx context.Context, u pipeline.URL) (outcome, error) {
	log := c.logger.With(
		zap.Int64("url_id", u.ID),
		zap.String("address", u.Address),
		zap.String("method", string(u.FetchMethod)),
		zap.Int("attempt", u.FetchAttempts+1),
	)

	resp, err := c.deps.Fetcher.Fetch(ctx, pipeline.FetchRequest{
		URLID:  u.ID,
		URL:    u.Address,
		Method: u.FetchMethod,
	})
	if err != nil {
		if interrupted(ctx, err) {
			return 0, err
		}
		metrics.ObserveFetch(string(u.FetchMethod), "error", u.Address, 0, resp.Duration)
		return c.failFetch(ctx, log, u, err)
	}
	metrics.ObserveFetch(string(u.FetchMethod), "success", u.Address, len(resp.Body), resp.Duration)

	page, err := c.deps.HTML.Save(ctx, u.ID, string(resp.Body), u.PageKind)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			log.Warn("work item purged during fetch")
			return outcomeLost, nil
		}
		return 0, fmt.Errorf("save html for url %d: %w", u.ID, err)
	}
	c.archive(ctx, log, page)

	if err := c.deps.Work.MarkFetched(ctx, u.Claim()); err != nil {
		return c.settle(log, outcomeSucceeded, fmt.Errorf("mark fetched: %w", err))
	}
	log.Debug("fetched", zap.Int("bytes", len(resp.Body)), zap.Bool("headless", resp.UsedHeadless))
	return outcomeSucceeded, nil
}

func (c *Coordinator) failFetch(ctx context.Context, log *zap.Logger, u pipeline.URL, cause error) (outcome, error) {
	attempt := u.FetchAttempts + 1
	failure := c.failure(attempt, c.cfg.MaxFetchRetries, pipeline.IsFatalFetch(cause), cause)
	result := outcomeRetried
	if failure.DeadLetter {
		result = outcomeDeadLettered
	}
	o, err := c.settle(log, result, c.deps.Work.FailFetch(ctx, u.Claim(), failure))
	if err != nil {
		return 0, fmt.Errorf("record fetch failure: %w", err)
	}
	switch o {
	case outcomeDeadLettered:
		metrics.ObserveDeadLetter(cycleFetch)
		log.Error("fetch dead-lettered", zap.Error(cause))
	case outcomeRetried:
		log.Warn("fetch failed; will retry", zap.Time("retry_at", failure.RetryAt), zap.Error(cause))
	}
	return o, nil
}

// archive mirrors page content to the blob store. Failures only cost the mirror.
func (c *Coordinator) archive(ctx context.Context, log *zap.Logger, page pipeline.HTML) {
	if c.deps.Archive == nil || page.BlobURI != "" {
		return
	}
	uri, err := c.deps.Archive.PutObject(ctx, c.blobPath(page), c.cfg.ContentType, strings.NewReader(page.Content))
	if err != nil {
		log.Warn("archive html failed", zap.Error(err))
		return
	}
	if err := c.deps.HTML.SetBlobURI(ctx, page.ID, uri); err != nil {
		log.Warn("record blob uri failed", zap.String("blob_uri", uri), zap.Error(err))
	}
}

func (c *Coordinator) blobPath(page pipeline.HTML) string {
	prefix := strings.Trim(c.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%d/%s.html", page.URLID, page.ContentHash)
	}
	return fmt.Sprintf("%s/%d/%s.html", prefix, page.URLID, page.ContentHash)
}
