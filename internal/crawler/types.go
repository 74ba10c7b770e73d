package crawler

import "time"

// OperationCrawlChannel is the queue operation name for a single crawl pass.
const OperationCrawlChannel = "crawl_channel"

// Attributes is the open bag of descriptive fields returned by the source.
// It is persisted verbatim; readers must tolerate missing or unknown keys.
type Attributes map[string]any

// Entity is a persisted node of the discovery graph.
type Entity struct {
	ID           string     `json:"id"`
	LastCrawl    *time.Time `json:"last_crawl,omitempty"`
	Attributes   Attributes `json:"attributes,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// Crawled reports whether the entity has completed at least one page of a crawl pass.
func (e Entity) Crawled() bool {
	return e.LastCrawl != nil
}

// CrawlJob is the unit of work placed on the job queue.
type CrawlJob struct {
	EntityID string `json:"entity_id"`
	Level    int    `json:"level"`
}

// Page is one slice of a paginated source response.
type Page struct {
	// Attributes may be nil on pages after the first.
	Attributes Attributes
	Children   []string
	// NextCursor is empty on the last page.
	NextCursor string
	// Raw holds the upstream payload for archiving; optional.
	Raw []byte
}

// Outcome labels how a crawl pass ended.
type Outcome string

// Terminal outcomes of RunCrawl. Failures are reported through the error value.
const (
	OutcomeOK                Outcome = "ok"
	OutcomeDepthLimitReached Outcome = "depth_limit_reached"
)

// Result summarises a crawl pass.
type Result struct {
	EntityID       string  `json:"entity_id"`
	Level          int     `json:"level"`
	Outcome        Outcome `json:"outcome"`
	Pages          int     `json:"pages"`
	Claimed        int     `json:"claimed"`
	AlreadyClaimed int     `json:"already_claimed"`
	Blocked        int     `json:"blocked"`
	Enqueued       int     `json:"enqueued"`
}
