package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Config controls traversal limits.
type Config struct {
	// MaxDepth is the exclusive upper bound on job levels that perform work.
	MaxDepth int
	// Blocklist holds entity ids (or "prefix*" patterns) never claimed as children.
	Blocklist []string
}

// Orchestrator runs crawl passes: fetch every page of an entity, persist its
// attributes, and fan out newly discovered children onto the job queue.
type Orchestrator struct {
	store     EntityStore
	source    SourceClient
	queue     JobQueue
	clock     Clock
	archiver  Archiver
	blocklist *idPatternBlocklist
	maxDepth  int
	logger    *zap.Logger
}

// NewOrchestrator validates dependencies and builds an Orchestrator.
// The archiver is optional.
func NewOrchestrator(
	store EntityStore,
	source SourceClient,
	queue JobQueue,
	clock Clock,
	archiver Archiver,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("entity store is required")
	}
	if source == nil {
		return nil, errors.New("source client is required")
	}
	if queue == nil {
		return nil, errors.New("job queue is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.MaxDepth <= 0 {
		return nil, fmt.Errorf("max depth must be > 0, got %d", cfg.MaxDepth)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		source:    source,
		queue:     queue,
		clock:     clock,
		archiver:  archiver,
		blocklist: newIDPatternBlocklist(cfg.Blocklist),
		maxDepth:  cfg.MaxDepth,
		logger:    logger,
	}, nil
}

// MaxDepth returns the configured depth bound.
func (o *Orchestrator) MaxDepth() int {
	return o.maxDepth
}

// RunCrawl performs one crawl pass over entityID at the given level.
//
// Jobs at or beyond the depth bound end with OutcomeDepthLimitReached and no
// side effects. Otherwise every page is fetched in order; each page stamps the
// entity's lastCrawl, and each child that wins its claim is enqueued at level+1.
// A failure aborts the pass: pages already processed stay persisted and
// children already enqueued stay enqueued.
func (o *Orchestrator) RunCrawl(ctx context.Context, entityID string, level int) (Result, error) {
	res := Result{EntityID: entityID, Level: level}
	if level >= o.maxDepth {
		res.Outcome = OutcomeDepthLimitReached
		o.logger.Debug("depth limit reached",
			zap.String("entity_id", entityID),
			zap.Int("level", level),
			zap.Int("max_depth", o.maxDepth),
		)
		return res, nil
	}
	if strings.TrimSpace(entityID) == "" {
		return res, newCrawlError(ErrInvalidArgument, entityID, level, errors.New("entity id is required"))
	}
	if level < 1 {
		return res, newCrawlError(ErrInvalidArgument, entityID, level, fmt.Errorf("level must be >= 1, got %d", level))
	}

	logger := o.logger.With(zap.String("entity_id", entityID), zap.Int("level", level))
	seen := make(map[string]struct{})
	cursor := ""
	for {
		page, err := o.source.FetchPage(ctx, entityID, cursor)
		if err != nil {
			return res, newCrawlError(ErrUpstreamFailure, entityID, level, fmt.Errorf("fetch page: %w", err))
		}
		res.Pages++
		o.archive(ctx, logger, entityID, page.Raw)

		if err := o.store.Upsert(ctx, entityID, page.Attributes, o.clock.Now()); err != nil {
			return res, newCrawlError(ErrStorageFailure, entityID, level, fmt.Errorf("upsert entity: %w", err))
		}

		if err := o.fanOut(ctx, page.Children, level, &res); err != nil {
			return res, newCrawlError(ErrStorageFailure, entityID, level, err)
		}

		logger.Debug("page processed",
			zap.String("cursor", cursor),
			zap.Int("children", len(page.Children)),
			zap.Bool("has_next", page.NextCursor != ""),
		)

		if page.NextCursor == "" {
			break
		}
		if _, dup := seen[page.NextCursor]; dup {
			return res, newCrawlError(ErrUpstreamFailure, entityID, level,
				fmt.Errorf("pagination cycle at cursor %q", page.NextCursor))
		}
		seen[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}

	res.Outcome = OutcomeOK
	logger.Info("crawl pass complete",
		zap.Int("pages", res.Pages),
		zap.Int("claimed", res.Claimed),
		zap.Int("already_claimed", res.AlreadyClaimed),
		zap.Int("blocked", res.Blocked),
	)
	return res, nil
}

// fanOut claims each child in order and enqueues the winners one level deeper.
func (o *Orchestrator) fanOut(ctx context.Context, children []string, level int, res *Result) error {
	for _, child := range children {
		if strings.TrimSpace(child) == "" {
			continue
		}
		if o.blocklist.IsBlocked(child) {
			res.Blocked++
			continue
		}
		claimed, err := o.store.TryClaim(ctx, child)
		if err != nil {
			return fmt.Errorf("claim %q: %w", child, err)
		}
		if !claimed {
			res.AlreadyClaimed++
			continue
		}
		res.Claimed++
		if _, err := o.queue.Enqueue(ctx, OperationCrawlChannel, CrawlJob{EntityID: child, Level: level + 1}); err != nil {
			// The child keeps its claim with no lastCrawl; nothing re-enqueues it.
			return fmt.Errorf("enqueue %q: %w", child, err)
		}
		res.Enqueued++
	}
	return nil
}

func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, entityID string, raw []byte) {
	if o.archiver == nil || len(raw) == 0 {
		return
	}
	uri, err := o.archiver.Archive(ctx, entityID, raw)
	if err != nil {
		logger.Warn("archive page failed", zap.Error(err))
		return
	}
	logger.Debug("page archived", zap.String("uri", uri))
}
