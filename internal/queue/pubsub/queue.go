// Package pubsub implements the crawl job queue on Google Cloud Pub/Sub.
//
// Messages are published to a topic and consumed from a subscription with
// streaming pull. A nil handler error acks the message; any other error nacks
// it so Pub/Sub redelivers. When the subscription has a dead-letter policy,
// Pub/Sub reports the delivery attempt and messages past MaxAttempts are
// acked and dropped.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

const attrOperation = "operation"

// Config identifies the topic and subscription.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
	Concurrency  int
	MaxAttempts  int
}

// Queue publishes and receives crawl jobs.
type Queue struct {
	client      *pubsub.Client
	ownsClient  bool
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	ids         crawler.IDGenerator
	clock       crawler.Clock
	concurrency int
	maxAttempts int
	logger      *zap.Logger
}

// New dials Pub/Sub with application default credentials.
func New(
	ctx context.Context,
	cfg Config,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Queue, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("queue.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	q, err := NewWithClient(client, cfg, ids, clock, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	q.ownsClient = true
	return q, nil
}

// NewWithClient builds a queue over an existing client (primarily for testing).
func NewWithClient(
	client *pubsub.Client,
	cfg Config,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Queue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("queue.topic is required")
	}
	if ids == nil || clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		client:      client,
		topic:       client.Topic(cfg.Topic),
		ids:         ids,
		clock:       clock,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
	if cfg.Subscription != "" {
		q.sub = client.Subscription(cfg.Subscription)
	}
	return q, nil
}

// Enqueue publishes a job and waits for the server acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, operation string, job crawler.CrawlJob) (string, error) {
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	data, err := queue.Encode(queue.NewMessage(id, operation, job, q.clock.Now()))
	if err != nil {
		return "", err
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{attrOperation: operation},
	})
	serverID, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	q.logger.Debug("job published",
		zap.String("job_id", id),
		zap.String("message_id", serverID),
		zap.String("entity_id", job.EntityID),
		zap.Int("level", job.Level),
	)
	return id, nil
}

// Consume receives messages until ctx ends.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	if q.sub == nil {
		return errors.New("queue.subscription is required to consume")
	}
	q.sub.ReceiveSettings.MaxOutstandingMessages = q.concurrency
	q.sub.ReceiveSettings.NumGoroutines = 1
	err := q.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		q.handle(ctx, handler, m)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

func (q *Queue) handle(ctx context.Context, handler queue.Handler, m *pubsub.Message) {
	msg, err := queue.Decode(m.Data)
	if err != nil {
		q.logger.Error("dropping malformed message", zap.String("message_id", m.ID), zap.Error(err))
		m.Ack()
		return
	}
	if m.DeliveryAttempt != nil {
		msg.Attempt = *m.DeliveryAttempt
	}
	if err := handler(ctx, msg); err != nil {
		if q.maxAttempts > 0 && m.DeliveryAttempt != nil && msg.Attempt >= q.maxAttempts {
			q.logger.Warn("dropping message after max attempts",
				zap.String("job_id", msg.ID),
				zap.Int("attempt", msg.Attempt),
				zap.Error(err),
			)
			m.Ack()
			return
		}
		m.Nack()
		return
	}
	m.Ack()
}

// Close flushes pending publishes and releases the client if this queue created it.
func (q *Queue) Close() error {
	q.topic.Stop()
	if q.ownsClient {
		if err := q.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
