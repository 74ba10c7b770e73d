package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/links"
)

const channelJSON = `{"items":[{"id":"UC1","snippet":{"title":"Chan","description":"About",
"customUrl":"@chan","publishedAt":"2015-03-01T10:00:00Z","country":"US","defaultLanguage":"en-US",
"thumbnails":{"default":{"url":"https://img/default.jpg"},"high":{"url":"https://img/high.jpg"}}},
"statistics":{"viewCount":"1000","subscriberCount":"42","hiddenSubscriberCount":false,"videoCount":"7"},
"brandingSettings":{"channel":{"keywords":"music \"lo fi\" chill"}}}]}`

const subsPage1 = `{"nextPageToken":"CAUQAA","items":[
{"snippet":{"resourceId":{"kind":"youtube#channel","channelId":"UC2"}}},
{"snippet":{"resourceId":{"kind":"youtube#playlist","channelId":"PL1"}}},
{"snippet":{"resourceId":{"kind":"youtube#channel","channelId":"UC3"}}}]}`

const subsPage2 = `{"items":[{"snippet":{"resourceId":{"kind":"youtube#channel","channelId":"UC4"}}}]}`

func apiError(status int, reason string) string {
	return fmt.Sprintf(`{"error":{"code":%d,"message":"%s happened","errors":[{"reason":"%s"}]}}`, status, reason, reason)
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	handle   func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()
	f.handle(w, r)
}

func newTestClient(t *testing.T, api *fakeAPI, keys []string, scraper links.Scraper) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, APIKeys: keys, PageSize: 3, UserAgent: "yt-test"}, scraper, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestFetchPageFirstPage(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels":
			_, _ = w.Write([]byte(channelJSON))
		case "/subscriptions":
			_, _ = w.Write([]byte(subsPage1))
		default:
			http.NotFound(w, r)
		}
	}}
	scraper := &stubScraper{links: []links.CustomLink{{Title: "Shop", URL: "https://example.com"}}}
	c := newTestClient(t, api, []string{"k1"}, scraper)

	page, err := c.FetchPage(context.Background(), "UC1", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"UC2", "UC3"}, page.Children)
	assert.Equal(t, "CAUQAA", page.NextCursor)
	assert.JSONEq(t, subsPage1, string(page.Raw))

	attrs := page.Attributes
	assert.Equal(t, "Chan", attrs["title"])
	assert.Equal(t, "About", attrs["description"])
	assert.Equal(t, "@chan", attrs["customUrl"])
	assert.Equal(t, int64(1425204000), attrs["publishedAt"])
	assert.Equal(t, "https://img/high.jpg", attrs["thumbnail"])
	assert.Equal(t, "us", attrs["country"])
	assert.Equal(t, "en-us", attrs["language"])
	assert.Equal(t, int64(42), attrs["subscribers"])
	assert.Equal(t, int64(1000), attrs["views"])
	assert.Equal(t, int64(7), attrs["videoCount"])
	assert.Equal(t, false, attrs["subscribersHidden"])
	assert.Equal(t, []string{"music", "lo fi", "chill"}, attrs["keywords"])
	assert.Equal(t, scraper.links, attrs["customLinks"])

	require.Len(t, api.requests, 2)
	subs := api.requests[1].URL.Query()
	assert.Equal(t, "snippet", subs.Get("part"))
	assert.Equal(t, "UC1", subs.Get("channelId"))
	assert.Equal(t, "3", subs.Get("maxResults"))
	assert.Equal(t, "k1", subs.Get("key"))
	assert.Empty(t, subs.Get("pageToken"))
	assert.Equal(t, "yt-test", api.requests[0].UserAgent())
}

func TestFetchPageFollowUpPageSkipsChannelLookup(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(subsPage2))
	}}
	c := newTestClient(t, api, []string{"k1"}, nil)

	page, err := c.FetchPage(context.Background(), "UC1", "CAUQAA")
	require.NoError(t, err)
	assert.Nil(t, page.Attributes)
	assert.Equal(t, []string{"UC4"}, page.Children)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, "CAUQAA", api.requests[0].URL.Query().Get("pageToken"))
}

func TestFetchPageHiddenSubscriptions(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		status int
		reason string
	}{
		{http.StatusForbidden, "subscriptionForbidden"},
		{http.StatusNotFound, "subscriberNotFound"},
	} {
		api := &fakeAPI{handle: func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/channels" {
				_, _ = w.Write([]byte(channelJSON))
				return
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(apiError(tc.status, tc.reason)))
		}}
		c := newTestClient(t, api, []string{"k1"}, nil)

		page, err := c.FetchPage(context.Background(), "UC1", "")
		require.NoError(t, err, tc.reason)
		assert.Equal(t, "Chan", page.Attributes["title"])
		assert.Empty(t, page.Children)
		assert.Empty(t, page.NextCursor)
	}
}

func TestFetchPageChannelNotFound(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}}
	c := newTestClient(t, api, []string{"k1"}, nil)

	_, err := c.FetchPage(context.Background(), "UCgone", "")
	require.ErrorIs(t, err, ErrChannelNotFound)
}

func TestFetchPageRotatesExhaustedKeys(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "k1" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(apiError(http.StatusForbidden, "quotaExceeded")))
			return
		}
		_, _ = w.Write([]byte(subsPage2))
	}}
	c := newTestClient(t, api, []string{"k1", "k2"}, nil)

	page, err := c.FetchPage(context.Background(), "UC1", "next")
	require.NoError(t, err)
	assert.Equal(t, []string{"UC4"}, page.Children)

	_, err = c.FetchPage(context.Background(), "UC1", "next")
	require.NoError(t, err)
	require.Len(t, api.requests, 3)
	assert.Equal(t, "k2", api.requests[2].URL.Query().Get("key"), "exhausted key stays skipped")
}

func TestFetchPageAllKeysExhausted(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(apiError(http.StatusBadRequest, "keyInvalid")))
	}}
	c := newTestClient(t, api, []string{"k1", "k2"}, nil)

	_, err := c.FetchPage(context.Background(), "UC1", "next")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all api keys exhausted")
	assert.Len(t, api.requests, 2)
}

func TestFetchPageOtherErrors(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("not json"))
	}}
	c := newTestClient(t, api, []string{"k1", "k2"}, nil)

	_, err := c.FetchPage(context.Background(), "UC1", "next")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Len(t, api.requests, 1)
}

func TestFetchPageScraperFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/channels" {
			_, _ = w.Write([]byte(channelJSON))
			return
		}
		_, _ = w.Write([]byte(subsPage2))
	}}
	c := newTestClient(t, api, []string{"k1"}, &stubScraper{err: errors.New("blocked")})

	page, err := c.FetchPage(context.Background(), "UC1", "")
	require.NoError(t, err)
	assert.NotContains(t, page.Attributes, "customLinks")
}

func TestNewRequiresKeys(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKeys: []string{" ", ""}}, nil, nil)
	require.ErrorIs(t, err, ErrNoAPIKeys)
}

func TestSplitKeywords(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b c", "d"}, splitKeywords(`a "b c"  d`))
	assert.Empty(t, splitKeywords("   "))
	assert.Equal(t, []string{"solo"}, splitKeywords(`"solo`))
}

type stubScraper struct {
	links []links.CustomLink
	err   error
}

func (s *stubScraper) Scrape(context.Context, string) ([]links.CustomLink, error) {
	return s.links, s.err
}

func TestFetchPageCanceledBeforeRequest(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{handle: func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(channelJSON))
	}}
	c := newTestClient(t, api, []string{"k1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchPage(ctx, "UC1", "")
	require.ErrorIs(t, err, context.Canceled)
}
