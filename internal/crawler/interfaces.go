package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by readers when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// EntityStore is the write side of entity persistence used during a crawl pass.
type EntityStore interface {
	// TryClaim atomically creates a bare record for id if none exists.
	// Exactly one concurrent caller observes true for a given id.
	TryClaim(ctx context.Context, id string) (bool, error)
	// Upsert writes attributes and lastCrawl, creating the record if absent.
	// Nil attributes leave any stored attributes untouched.
	Upsert(ctx context.Context, id string, attrs Attributes, lastCrawl time.Time) error
}

// EntityReader is the read side used by the API and the refresh command.
type EntityReader interface {
	Get(ctx context.Context, id string) (Entity, error)
	// ListStale returns crawled entities whose lastCrawl is before the cutoff, oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]Entity, error)
}

// SourceClient fetches pages of an entity from the upstream catalog.
type SourceClient interface {
	FetchPage(ctx context.Context, entityID string, cursor string) (Page, error)
}

// JobQueue accepts asynchronous work with at-least-once delivery.
type JobQueue interface {
	Enqueue(ctx context.Context, operation string, job CrawlJob) (string, error)
}

// Archiver stores raw upstream pages; failures never affect a crawl pass.
type Archiver interface {
	Archive(ctx context.Context, entityID string, raw []byte) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job handles.
type IDGenerator interface {
	NewID() (string, error)
}
