package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
)

func TestWorkerHandleAcknowledgesTerminalOutcomes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		res  crawler.Result
		err  error
	}{
		{name: "ok", res: crawler.Result{Outcome: crawler.OutcomeOK, Pages: 1}},
		{name: "depth limit", res: crawler.Result{Outcome: crawler.OutcomeDepthLimitReached}},
		{name: "invalid argument", err: &crawler.CrawlError{Kind: crawler.ErrInvalidArgument, Err: errors.New("bad level")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fc := &fakeCrawler{res: tc.res, err: tc.err}
			w := New(fc, Config{}, zap.NewNop())

			err := w.Handle(context.Background(), queue.Message{ID: "job-1", EntityID: "UC1", Level: 2, Attempt: 1})
			require.NoError(t, err)
			require.Len(t, fc.calls, 1)
			assert.Equal(t, crawler.CrawlJob{EntityID: "UC1", Level: 2}, fc.calls[0])
		})
	}
}

func TestWorkerHandleReturnsRetryableFailures(t *testing.T) {
	t.Parallel()

	for _, kind := range []error{crawler.ErrUpstreamFailure, crawler.ErrStorageFailure} {
		fc := &fakeCrawler{err: &crawler.CrawlError{Kind: kind, EntityID: "UC1", Level: 1, Err: errors.New("boom")}}
		w := New(fc, Config{}, nil)

		err := w.Handle(context.Background(), queue.Message{ID: "job-1", EntityID: "UC1", Level: 1, Attempt: 3})
		require.Error(t, err)
		assert.ErrorIs(t, err, kind)
		assert.True(t, crawler.Retryable(err))
	}
}

func TestWorkerHandleAppliesJobTimeout(t *testing.T) {
	t.Parallel()

	fc := &fakeCrawler{block: true}
	w := New(fc, Config{JobTimeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	err := w.Handle(context.Background(), queue.Message{ID: "job-1", EntityID: "UC1", Level: 1, Attempt: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrUpstreamFailure)
	assert.Less(t, time.Since(start), time.Second)
}

type fakeCrawler struct {
	mu    sync.Mutex
	calls []crawler.CrawlJob
	res   crawler.Result
	err   error
	block bool
}

func (f *fakeCrawler) RunCrawl(ctx context.Context, entityID string, level int) (crawler.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, crawler.CrawlJob{EntityID: entityID, Level: level})
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return crawler.Result{EntityID: entityID, Level: level}, &crawler.CrawlError{
			Kind: crawler.ErrUpstreamFailure, EntityID: entityID, Level: level, Err: ctx.Err(),
		}
	}
	return f.res, f.err
}
