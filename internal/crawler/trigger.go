package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Trigger seeds traversals by enqueuing the first job. It never claims the seed:
// the seed's record is created by its own first Upsert.
type Trigger struct {
	queue  JobQueue
	logger *zap.Logger
}

// NewTrigger creates a Trigger over the job queue.
func NewTrigger(queue JobQueue, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{queue: queue, logger: logger}
}

// StartCrawl validates the request and enqueues a crawl job, returning its handle.
func (t *Trigger) StartCrawl(ctx context.Context, entityID string, level int) (string, error) {
	if strings.TrimSpace(entityID) == "" {
		return "", newCrawlError(ErrInvalidArgument, entityID, level, errors.New("entity id is required"))
	}
	if level < 1 {
		return "", newCrawlError(ErrInvalidArgument, entityID, level, fmt.Errorf("level must be >= 1, got %d", level))
	}
	handle, err := t.queue.Enqueue(ctx, OperationCrawlChannel, CrawlJob{EntityID: entityID, Level: level})
	if err != nil {
		return "", newCrawlError(ErrStorageFailure, entityID, level, fmt.Errorf("enqueue seed: %w", err))
	}
	t.logger.Info("crawl started",
		zap.String("entity_id", entityID),
		zap.Int("level", level),
		zap.String("job_id", handle),
	)
	return handle, nil
}
