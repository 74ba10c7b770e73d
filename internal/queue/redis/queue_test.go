package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := New(context.Background(), client, Config{
		Stream:       "test:jobs",
		Group:        "workers",
		Consumer:     "host-a",
		Concurrency:  2,
		MaxAttempts:  maxAttempts,
		Block:        20 * time.Millisecond,
		ClaimMinIdle: 10 * time.Millisecond,
	}, &seqIDs{}, fixedClock{}, nil)
	require.NoError(t, err)
	return q, client
}

func TestNewIsIdempotentForExistingGroup(t *testing.T) {
	t.Parallel()

	q, client := newTestQueue(t, 1)
	_, err := New(context.Background(), client, q.cfg, &seqIDs{}, fixedClock{}, nil)
	require.NoError(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, client := newTestQueue(t, 1)
	_, err := New(context.Background(), nil, Config{Stream: "s", Consumer: "c"}, &seqIDs{}, fixedClock{}, nil)
	require.Error(t, err)
	_, err = New(context.Background(), client, Config{Consumer: "c"}, &seqIDs{}, fixedClock{}, nil)
	require.Error(t, err)
	_, err = New(context.Background(), client, Config{Stream: "s"}, &seqIDs{}, fixedClock{}, nil)
	require.Error(t, err)
}

func TestEnqueueAndConsume(t *testing.T) {
	t.Parallel()

	q, client := newTestQueue(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, id := range []string{"UC1", "UC2", "UC3"} {
		handle, err := q.Enqueue(ctx, crawler.OperationCrawlChannel, crawler.CrawlJob{EntityID: id, Level: i + 1})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i+1), handle)
	}
	length, err := client.XLen(ctx, "test:jobs").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)

	var mu sync.Mutex
	seen := map[string]int{}
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(consumeCtx, func(_ context.Context, msg queue.Message) error {
			mu.Lock()
			seen[msg.EntityID] = msg.Level
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]int{"UC1": 1, "UC2": 2, "UC3": 3}, seen)

	require.Eventually(t, func() bool {
		n, err := q.PendingCount(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)

	stop()
	require.NoError(t, <-done)
}

func TestFailedMessagesAreReclaimed(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := q.Enqueue(ctx, crawler.OperationCrawlChannel, crawler.CrawlJob{EntityID: "UC1", Level: 1})
	require.NoError(t, err)

	var mu sync.Mutex
	var attempts []int
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, msg queue.Message) error {
			mu.Lock()
			attempts = append(attempts, msg.Attempt)
			n := len(attempts)
			mu.Unlock()
			if n == 1 {
				return errors.New("storage timeout")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 2
	}, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1, 2}, attempts)
	mu.Unlock()

	require.Eventually(t, func() bool {
		n, err := q.PendingCount(ctx)
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMessagesDroppedAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := q.Enqueue(ctx, crawler.OperationCrawlChannel, crawler.CrawlJob{EntityID: "UC1", Level: 1})
	require.NoError(t, err)

	var calls atomic.Int32
	go func() {
		_ = q.Consume(ctx, func(context.Context, queue.Message) error {
			calls.Add(1)
			return errors.New("upstream 500")
		})
	}()

	require.Eventually(t, func() bool {
		n, err := q.PendingCount(ctx)
		return err == nil && n == 0 && calls.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMalformedEntriesAreAcked(t *testing.T) {
	t.Parallel()

	q, client := newTestQueue(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:jobs",
		Values: map[string]any{fieldPayload: `{"operation":"crawl_channel"}`},
	}).Err())

	_, err := q.Enqueue(ctx, crawler.OperationCrawlChannel, crawler.CrawlJob{EntityID: "UC1", Level: 1})
	require.NoError(t, err)

	var calls atomic.Int32
	go func() {
		_ = q.Consume(ctx, func(context.Context, queue.Message) error {
			calls.Add(1)
			return nil
		})
	}()

	// The valid entry was appended last, so once it is handled the malformed one was delivered too.
	require.Eventually(t, func() bool {
		n, err := q.PendingCount(ctx)
		return err == nil && n == 0 && calls.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
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
