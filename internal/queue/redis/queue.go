// Package redis implements the crawl job queue on Redis Streams.
//
// Jobs are appended with XADD and read through a consumer group. A handled
// message is acknowledged with XACK; a failed one stays in the group's pending
// list and is reclaimed with XCLAIM once it has been idle for ClaimMinIdle.
// Entries delivered MaxAttempts times are acknowledged and dropped.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

const (
	fieldPayload   = "payload"
	fieldOperation = "operation"

	defaultGroup        = "crawler"
	defaultBlock        = 5 * time.Second
	defaultClaimMinIdle = 5 * time.Minute
	maxPendingCheck     = 50
	readErrorBackoff    = time.Second
)

// Config controls stream naming and delivery.
type Config struct {
	Stream       string
	Group        string
	Consumer     string
	Concurrency  int
	MaxAttempts  int
	Block        time.Duration
	ClaimMinIdle time.Duration
}

// Queue is a Redis Streams backed job queue.
type Queue struct {
	client redis.UniversalClient
	cfg    Config
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New validates cfg and creates the consumer group if it does not exist.
func New(
	ctx context.Context,
	client redis.UniversalClient,
	cfg Config,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		return nil, errors.New("queue.stream is required")
	}
	if cfg.Consumer == "" {
		return nil, errors.New("queue.consumer is required")
	}
	if ids == nil || clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Queue{client: client, cfg: cfg, ids: ids, clock: clock, logger: logger}, nil
}

// Enqueue appends a job to the stream.
func (q *Queue) Enqueue(ctx context.Context, operation string, job crawler.CrawlJob) (string, error) {
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	data, err := queue.Encode(queue.NewMessage(id, operation, job, q.clock.Now()))
	if err != nil {
		return "", err
	}
	streamID, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{fieldPayload: string(data), fieldOperation: operation},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	q.logger.Debug("job appended",
		zap.String("job_id", id),
		zap.String("stream_id", streamID),
		zap.String("entity_id", job.EntityID),
		zap.Int("level", job.Level),
	)
	return id, nil
}

// Consume runs Concurrency readers, each a distinct group consumer, until ctx ends.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.cfg.Consumer, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.readLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

func (q *Queue) readLoop(ctx context.Context, consumer string, handler queue.Handler) {
	logger := q.logger.With(zap.String("consumer", consumer))
	for ctx.Err() == nil {
		if err := q.reclaim(ctx, consumer, handler); err != nil && ctx.Err() == nil {
			logger.Warn("reclaim pending failed", zap.Error(err))
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Error("xreadgroup failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		for _, stream := range streams {
			for _, xmsg := range stream.Messages {
				q.process(ctx, handler, xmsg, 1)
			}
		}
	}
}

// reclaim takes over entries that another delivery left pending for too long.
func (q *Queue) reclaim(ctx context.Context, consumer string, handler queue.Handler) error {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("xpending: %w", err)
	}
	for _, p := range pending {
		if p.Idle < q.cfg.ClaimMinIdle {
			continue
		}
		if p.RetryCount >= int64(q.cfg.MaxAttempts) {
			q.logger.Warn("dropping message after max attempts",
				zap.String("stream_id", p.ID),
				zap.Int64("deliveries", p.RetryCount),
			)
			q.ack(ctx, p.ID)
			continue
		}
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: consumer,
			MinIdle:  q.cfg.ClaimMinIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return fmt.Errorf("xclaim %s: %w", p.ID, err)
		}
		for _, xmsg := range claimed {
			q.process(ctx, handler, xmsg, int(p.RetryCount)+1)
		}
	}
	return nil
}

func (q *Queue) process(ctx context.Context, handler queue.Handler, xmsg redis.XMessage, attempt int) {
	raw, _ := xmsg.Values[fieldPayload].(string)
	msg, err := queue.Decode([]byte(raw))
	if err != nil {
		q.logger.Error("dropping malformed message", zap.String("stream_id", xmsg.ID), zap.Error(err))
		q.ack(ctx, xmsg.ID)
		return
	}
	msg.Attempt = attempt
	if err := handler(ctx, msg); err != nil {
		if attempt >= q.cfg.MaxAttempts {
			q.logger.Warn("dropping message after max attempts",
				zap.String("job_id", msg.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			q.ack(ctx, xmsg.ID)
		}
		return
	}
	q.ack(ctx, xmsg.ID)
}

func (q *Queue) ack(ctx context.Context, streamID string) {
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, streamID).Err(); err != nil {
		q.logger.Error("xack failed", zap.String("stream_id", streamID), zap.Error(err))
	}
}

// PendingCount reports entries delivered but not yet acknowledged.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	pending, err := q.client.XPending(ctx, q.cfg.Stream, q.cfg.Group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return pending.Count, nil
}

// Close is a no-op; the client is owned by the caller.
func (q *Queue) Close() error {
	return nil
}
