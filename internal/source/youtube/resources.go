package youtube

import (
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

type channelListResponse struct {
	Items []channelResource `json:"items"`
}

type channelResource struct {
	ID      string `json:"id"`
	Snippet struct {
		Title           string               `json:"title"`
		Description     string               `json:"description"`
		CustomURL       string               `json:"customUrl"`
		PublishedAt     string               `json:"publishedAt"`
		Country         string               `json:"country"`
		DefaultLanguage string               `json:"defaultLanguage"`
		Thumbnails      map[string]thumbnail `json:"thumbnails"`
	} `json:"snippet"`
	Statistics struct {
		ViewCount             string `json:"viewCount"`
		SubscriberCount       string `json:"subscriberCount"`
		HiddenSubscriberCount bool   `json:"hiddenSubscriberCount"`
		VideoCount            string `json:"videoCount"`
	} `json:"statistics"`
	BrandingSettings struct {
		Channel struct {
			Keywords string `json:"keywords"`
			Country  string `json:"country"`
		} `json:"channel"`
	} `json:"brandingSettings"`
}

type thumbnail struct {
	URL string `json:"url"`
}

type subscriptionListResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			ResourceID struct {
				Kind      string `json:"kind"`
				ChannelID string `json:"channelId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

func (ch channelResource) attributes() crawler.Attributes {
	s := ch.Snippet
	attrs := crawler.Attributes{
		"title":             s.Title,
		"description":       s.Description,
		"subscribersHidden": ch.Statistics.HiddenSubscriberCount,
	}
	if s.CustomURL != "" {
		attrs["customUrl"] = s.CustomURL
	}
	if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
		attrs["publishedAt"] = t.Unix()
	}
	if thumb := bestThumbnail(s.Thumbnails); thumb != "" {
		attrs["thumbnail"] = thumb
	}
	country := s.Country
	if country == "" {
		country = ch.BrandingSettings.Channel.Country
	}
	if country != "" {
		attrs["country"] = strings.ToLower(country)
	}
	if lang := strings.TrimSpace(s.DefaultLanguage); lang != "" {
		attrs["language"] = strings.ToLower(lang)
	}
	setCount(attrs, "subscribers", ch.Statistics.SubscriberCount)
	setCount(attrs, "views", ch.Statistics.ViewCount)
	setCount(attrs, "videoCount", ch.Statistics.VideoCount)
	if kw := splitKeywords(ch.BrandingSettings.Channel.Keywords); len(kw) > 0 {
		attrs["keywords"] = kw
	}
	return attrs
}

func setCount(attrs crawler.Attributes, key, raw string) {
	if raw == "" {
		return
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		attrs[key] = n
	}
}

func bestThumbnail(thumbs map[string]thumbnail) string {
	for _, size := range []string{"high", "medium", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

// splitKeywords splits the branding keyword string on whitespace, keeping
// double-quoted phrases together.
func splitKeywords(raw string) []string {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case r == '"':
			if inQuote {
				flush()
			}
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
