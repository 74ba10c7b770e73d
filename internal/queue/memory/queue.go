// Package memory provides an in-process queue for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Config controls queue sizing and delivery.
type Config struct {
	// Capacity preallocates the buffer. The buffer grows past it, so a handler
	// enqueuing children never waits on the loops that would drain them.
	Capacity    int
	Concurrency int
	// MaxAttempts bounds deliveries of a message whose handler keeps failing.
	MaxAttempts int
}

// Queue is an in-process FIFO with at-least-once delivery: a failed message is
// put back with its attempt incremented until MaxAttempts is reached.
type Queue struct {
	cfg    Config
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger

	mu    sync.Mutex
	items []queue.Message
	// inflight counts messages enqueued but not yet finished.
	inflight int
	closed   bool

	ready chan struct{}
	done  chan struct{}
}

// NewQueue constructs a queue.
func NewQueue(cfg Config, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:    cfg,
		ids:    ids,
		clock:  clock,
		logger: logger,
		items:  make([]queue.Message, 0, cfg.Capacity),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends a job. It never blocks on queue size.
func (q *Queue) Enqueue(ctx context.Context, operation string, job crawler.CrawlJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("enqueue canceled: %w", err)
	}
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	msg := queue.NewMessage(id, operation, job, q.clock.Now())

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.items = append(q.items, msg)
	q.inflight++
	q.mu.Unlock()
	q.signal()
	return id, nil
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next pops the oldest message, waiting for one to arrive. It reports false
// when ctx ends or the queue is closed and drained.
func (q *Queue) next(ctx context.Context) (queue.Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = queue.Message{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return msg, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return queue.Message{}, false
		}
		select {
		case <-ctx.Done():
			return queue.Message{}, false
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Consume runs Concurrency delivery loops and blocks until ctx ends or the queue closes.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.deliverLoop(ctx, handler)
		}()
	}
	wg.Wait()
	return nil
}

func (q *Queue) deliverLoop(ctx context.Context, handler queue.Handler) {
	for {
		msg, ok := q.next(ctx)
		if !ok {
			return
		}
		q.deliver(ctx, handler, msg)
	}
}

func (q *Queue) deliver(ctx context.Context, handler queue.Handler, msg queue.Message) {
	err := handler(ctx, msg)
	if err == nil {
		q.finish()
		return
	}
	logger := q.logger.With(
		zap.String("job_id", msg.ID),
		zap.String("entity_id", msg.EntityID),
		zap.Int("attempt", msg.Attempt),
		zap.Error(err),
	)
	if msg.Attempt >= q.cfg.MaxAttempts {
		logger.Warn("dropping message after max attempts")
		q.finish()
		return
	}
	msg.Attempt++

	q.mu.Lock()
	if q.closed {
		q.inflight--
		q.mu.Unlock()
		logger.Warn("redelivery failed", zap.NamedError("push_error", ErrClosed))
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	logger.Info("redelivering message")
	q.signal()
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.inflight--
	q.mu.Unlock()
}

// Pending reports messages enqueued but not yet finished.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// WaitIdle blocks until no message is queued or being handled.
func (q *Queue) WaitIdle(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if q.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops accepting messages; delivery loops exit once the buffer is drained.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
