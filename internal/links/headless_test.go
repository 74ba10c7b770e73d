package links

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeadlessScraperValidates(t *testing.T) {
	t.Parallel()

	_, err := NewHeadlessScraper(HeadlessConfig{MaxParallel: -1})
	require.Error(t, err)

	s, err := NewHeadlessScraper(HeadlessConfig{})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, DefaultBaseURL, s.cfg.BaseURL)
	assert.Equal(t, 45*time.Second, s.cfg.NavigationTimeout)
	assert.Nil(t, s.limiter)
}

func TestHeadlessScraperSlotLimiter(t *testing.T) {
	t.Parallel()

	s, err := NewHeadlessScraper(HeadlessConfig{MaxParallel: 1})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.acquire(ctx), context.DeadlineExceeded)

	s.release()
	require.NoError(t, s.acquire(context.Background()))
	s.release()
}
