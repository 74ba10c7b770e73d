// Package worker executes crawl jobs delivered by the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/metrics"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

// Crawler runs one crawl pass for an entity at a level.
type Crawler interface {
	RunCrawl(ctx context.Context, entityID string, level int) (crawler.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single crawl pass. Zero disables the bound.
	JobTimeout time.Duration
}

// Worker turns queue messages into crawl passes.
type Worker struct {
	crawler Crawler
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(c Crawler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		crawler: c,
		cfg:     cfg,
		logger:  logger,
	}
}

// Handle processes a crawl_channel message. Completed passes, depth-limited
// jobs and invalid jobs return nil so the backend acknowledges them; upstream
// and storage failures return an error so the message is redelivered.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	logger := w.logger.With(
		zap.String("job_id", msg.ID),
		zap.String("entity_id", msg.EntityID),
		zap.Int("level", msg.Level),
		zap.Int("attempt", msg.Attempt),
	)

	start := time.Now()
	res, err := w.crawler.RunCrawl(jobCtx, msg.EntityID, msg.Level)
	elapsed := time.Since(start)
	metrics.ObserveCrawlResult(res)

	switch {
	case err == nil:
		metrics.ObserveJob(string(res.Outcome), elapsed)
		logger.Debug("job finished", zap.String("outcome", string(res.Outcome)), zap.Duration("duration", elapsed))
		return nil
	case errors.Is(err, crawler.ErrInvalidArgument):
		metrics.ObserveJob(metrics.JobResultInvalid, elapsed)
		logger.Warn("dropping invalid job", zap.Error(err))
		return nil
	case errors.Is(err, crawler.ErrStorageFailure):
		metrics.ObserveJob(metrics.JobResultStorage, elapsed)
	default:
		metrics.ObserveJob(metrics.JobResultUpstream, elapsed)
	}

	logger.Error("crawl job failed",
		zap.Error(err),
		zap.Bool("retryable", crawler.Retryable(err)),
		zap.Int("pages", res.Pages),
		zap.Int("enqueued", res.Enqueued),
	)
	return fmt.Errorf("crawl %s at level %d: %w", msg.EntityID, msg.Level, err)
}
