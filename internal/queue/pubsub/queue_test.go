package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "crawl-jobs")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "crawl-workers", pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	require.NoError(t, err)

	q, err := NewWithClient(client, Config{
		Topic:        "crawl-jobs",
		Subscription: "crawl-workers",
		Concurrency:  2,
		MaxAttempts:  3,
	}, &seqIDs{}, fixedClock{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueuePublishAndConsume(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	handle, err := q.Enqueue(ctx, crawler.OperationCrawlChannel, crawler.CrawlJob{EntityID: "UC1", Level: 2})
	require.NoError(t, err)
	assert.Equal(t, "job-1", handle)

	received := make(chan queue.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, msg queue.Message) error {
			received <- msg
			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, "job-1", msg.ID)
		assert.Equal(t, crawler.CrawlJob{EntityID: "UC1", Level: 2}, msg.Job())
		assert.Equal(t, crawler.OperationCrawlChannel, msg.Operation)
	case <-ctx.Done():
		t.Fatal("message not received")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestQueueNackRedelivers(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := q.Enqueue(ctx, crawler.OperationCrawlChannel, crawler.CrawlJob{EntityID: "UC1", Level: 1})
	require.NoError(t, err)

	var calls atomic.Int32
	succeeded := make(chan struct{})
	var once sync.Once
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, _ queue.Message) error {
			if calls.Add(1) == 1 {
				return errors.New("upstream 503")
			}
			once.Do(func() { close(succeeded) })
			return nil
		})
	}()

	select {
	case <-succeeded:
		assert.GreaterOrEqual(t, calls.Load(), int32(2))
	case <-ctx.Done():
		t.Fatal("nacked message was not redelivered")
	}
}

func TestQueueAcksMalformedPayloads(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := q.topic.Publish(ctx, &pubsub.Message{Data: []byte(`{"level":"one"}`)}).Get(ctx)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, crawler.OperationCrawlChannel, crawler.CrawlJob{EntityID: "UC2", Level: 1})
	require.NoError(t, err)

	received := make(chan queue.Message, 4)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, msg queue.Message) error {
			received <- msg
			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, "UC2", msg.EntityID, "malformed payloads never reach the handler")
	case <-ctx.Done():
		t.Fatal("valid message not received")
	}
}

func TestNewWithClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithClient(nil, Config{Topic: "t"}, &seqIDs{}, fixedClock{}, nil)
	require.Error(t, err)

	q := newTestQueue(t)
	_, err = NewWithClient(q.client, Config{}, &seqIDs{}, fixedClock{}, nil)
	require.Error(t, err)

	noSub, err := NewWithClient(q.client, Config{Topic: "crawl-jobs"}, &seqIDs{}, fixedClock{}, nil)
	require.NoError(t, err)
	require.Error(t, noSub.Consume(context.Background(), nil))
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Unix(1700000000, 0).UTC()
}
