// Package dispatcher routes queue messages to the handler registered for
// their operation.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/metrics"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

// Dispatcher consumes a queue backend and fans messages out by operation.
type Dispatcher struct {
	consumer queue.Consumer
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]queue.Handler
}

// New creates a Dispatcher over consumer.
func New(consumer queue.Consumer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		consumer: consumer,
		logger:   logger,
		handlers: make(map[string]queue.Handler),
	}
}

// Register binds handler to operation, replacing any previous binding.
func (d *Dispatcher) Register(operation string, handler queue.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[operation] = handler
}

// Dispatch runs the handler for msg.Operation. Unknown operations are logged
// and acknowledged since no redelivery will ever succeed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg queue.Message) error {
	d.mu.RLock()
	handler, ok := d.handlers[msg.Operation]
	d.mu.RUnlock()
	if !ok {
		metrics.ObserveJob(metrics.JobResultUnknown, 0)
		d.logger.Warn("dropping message with unknown operation",
			zap.String("job_id", msg.ID),
			zap.String("operation", msg.Operation),
		)
		return nil
	}
	return handler(ctx, msg)
}

// Run blocks, delivering messages until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.consumer == nil {
		return errors.New("dispatcher: consumer is required")
	}
	d.logger.Info("dispatcher started")
	if err := d.consumer.Consume(ctx, d.Dispatch); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume: %w", err)
	}
	<-ctx.Done()
	d.logger.Info("dispatcher stopped")
	return nil
}
