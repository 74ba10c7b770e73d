// Package youtube implements the crawler source over the YouTube Data API v3:
// a channel's attributes come from the channels endpoint and its children are
// the channels it publicly subscribes to.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/links"
	"github.com/JakeFAU/channel-discovery-crawler/internal/metrics"
)

// DefaultBaseURL is the public Data API root.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

const (
	maxPageSize     = 50
	maxResponseSize = 8 << 20
)

// Config controls the API client.
type Config struct {
	BaseURL   string
	APIKeys   []string
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

// Client implements crawler.SourceClient.
type Client struct {
	http      *http.Client
	baseURL   string
	keys      *KeyRing
	pageSize  int
	userAgent string
	links     links.Scraper
	logger    *zap.Logger
}

var _ crawler.SourceClient = (*Client)(nil)

// New builds a Client. scraper is optional; when set, the first page of every
// channel carries its custom links.
func New(cfg Config, scraper links.Scraper, logger *zap.Logger) (*Client, error) {
	keys, err := NewKeyRing(cfg.APIKeys)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = maxPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keys:      keys,
		pageSize:  cfg.PageSize,
		userAgent: cfg.UserAgent,
		links:     scraper,
		logger:    logger,
	}, nil
}

// FetchPage returns one page of channelID. The first page (empty cursor)
// carries the channel attributes; later pages only carry children.
func (c *Client) FetchPage(ctx context.Context, channelID, cursor string) (crawler.Page, error) {
	var page crawler.Page
	if cursor == "" {
		attrs, err := c.channelAttributes(ctx, channelID)
		if err != nil {
			return crawler.Page{}, err
		}
		page.Attributes = attrs
	}

	params := url.Values{
		"part":       {"snippet"},
		"channelId":  {channelID},
		"maxResults": {strconv.Itoa(c.pageSize)},
	}
	if cursor != "" {
		params.Set("pageToken", cursor)
	}
	body, err := c.get(ctx, "subscriptions", params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.subscriptionsHidden() {
			c.logger.Debug("subscriptions unavailable",
				zap.String("entity_id", channelID),
				zap.String("reason", apiErr.Reason),
			)
			return page, nil
		}
		return crawler.Page{}, err
	}

	var resp subscriptionListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crawler.Page{}, fmt.Errorf("decode subscriptions: %w", err)
	}
	for _, item := range resp.Items {
		rid := item.Snippet.ResourceID
		if rid.Kind == "youtube#channel" && rid.ChannelID != "" {
			page.Children = append(page.Children, rid.ChannelID)
		}
	}
	page.NextCursor = resp.NextPageToken
	page.Raw = body
	return page, nil
}

func (c *Client) channelAttributes(ctx context.Context, channelID string) (crawler.Attributes, error) {
	params := url.Values{
		"part": {"statistics,snippet,brandingSettings"},
		"id":   {channelID},
	}
	body, err := c.get(ctx, "channels", params)
	if err != nil {
		return nil, err
	}
	var resp channelListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	attrs := resp.Items[0].attributes()

	if c.links != nil {
		custom, err := c.links.Scrape(ctx, channelID)
		switch {
		case err != nil:
			c.logger.Warn("custom link scrape failed", zap.String("entity_id", channelID), zap.Error(err))
		case len(custom) > 0:
			attrs["customLinks"] = custom
		}
	}
	return attrs, nil
}

// get performs a keyed GET, moving to the next key when the current one is
// out of quota or invalid. Every key is tried at most once per call.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	key, slot := c.keys.Current()
	var lastErr error
	for range c.keys.Len() {
		body, status, err := c.do(ctx, endpoint, params, key)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			return body, nil
		}
		apiErr := parseAPIError(status, body)
		if !apiErr.keyExhausted() {
			return nil, fmt.Errorf("%s: %w", endpoint, apiErr)
		}
		metrics.ObserveKeyRotation()
		c.logger.Warn("rotating api key", zap.String("endpoint", endpoint), zap.String("reason", apiErr.Reason))
		lastErr = apiErr
		key, slot = c.keys.Rotate(slot)
	}
	return nil, fmt.Errorf("%s: all api keys exhausted: %w", endpoint, lastErr)
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, key string) ([]byte, int, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", key)
	reqURL := c.baseURL + "/" + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveSourceRequest(endpoint, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return body, resp.StatusCode, nil
}
