package links

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyConfig controls the static scraper.
type CollyConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// CollyScraper fetches about pages with a plain HTTP GET.
type CollyScraper struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyScraper builds a CollyScraper.
func NewCollyScraper(cfg CollyConfig) *CollyScraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &CollyScraper{cfg: cfg, baseCollector: c}
}

// Scrape returns the custom links of channelID.
func (s *CollyScraper) Scrape(ctx context.Context, channelID string) ([]CustomLink, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := s.buildCollector(&body, &fetchErr)
	pageURL := AboutURL(s.cfg.BaseURL, channelID)
	if err := runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return nil, err
	}
	return ParseLinks(bytes.NewReader(body), pageURL)
}

func (s *CollyScraper) buildCollector(body *[]byte, fetchErr *error) *colly.Collector {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)
	configureHooks(collector, body, fetchErr)
	return collector
}

func configureHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, pageURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("links fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", pageURL, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", pageURL, *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
	}
}
