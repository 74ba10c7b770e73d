// Package links scrapes the external links a channel lists on its about page.
package links

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBaseURL is the site the about pages are fetched from.
const DefaultBaseURL = "https://www.youtube.com"

// CustomLink is one external link shown on a channel page.
type CustomLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Icon  string `json:"icon,omitempty"`
}

// Scraper fetches the custom links of a channel.
type Scraper interface {
	Scrape(ctx context.Context, channelID string) ([]CustomLink, error)
}

const modernLinkElement = "yt-channel-external-link-view-model"

// AboutURL returns the about page of channelID under base.
func AboutURL(base, channelID string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/channel/" + url.PathEscape(channelID) + "/about"
}

// ParseLinks extracts custom links from a channel about page. Redirect
// wrappers are unwrapped and duplicate targets are dropped.
func ParseLinks(r io.Reader, baseURL string) ([]CustomLink, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var out []CustomLink
	seen := make(map[string]struct{})
	add := func(title, href, icon string) {
		target := resolveLink(base, href)
		if target == "" {
			return
		}
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}
		if title == "" {
			title = target
		}
		out = append(out, CustomLink{Title: title, URL: target, Icon: resolveLink(base, icon)})
	}

	doc.Find(modernLinkElement).Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a[href]").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		title := cleanText(s.Find("[class*='title']").First().Text())
		if title == "" {
			title = cleanText(a.Text())
		}
		add(title, href, s.Find("img[src]").First().AttrOr("src", ""))
	})

	doc.Find("#link-list-container a[href], #links-section a[href]").Each(func(_ int, a *goquery.Selection) {
		if a.Closest(modernLinkElement).Length() > 0 {
			return
		}
		title := cleanText(a.AttrOr("title", ""))
		if title == "" {
			title = cleanText(a.Text())
		}
		add(title, a.AttrOr("href", ""), a.Find("img[src]").First().AttrOr("src", ""))
	})
	return out, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	u, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if isRedirect(u) {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
	}
	return u.String()
}

func isRedirect(u *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return (host == "youtube.com" || host == "m.youtube.com") && u.Path == "/redirect"
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
