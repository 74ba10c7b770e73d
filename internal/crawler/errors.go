package crawler

import (
	"errors"
	"fmt"
)

// Failure kinds reported by RunCrawl and StartCrawl. Match with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrStorageFailure  = errors.New("storage failure")
)

// CrawlError carries the failure kind plus the entity and level being processed.
type CrawlError struct {
	Kind     error
	EntityID string
	Level    int
	Err      error
}

func (e *CrawlError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: entity %q level %d", e.Kind, e.EntityID, e.Level)
	}
	return fmt.Sprintf("%v: entity %q level %d: %v", e.Kind, e.EntityID, e.Level, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// Is matches the failure kind so callers can write errors.Is(err, ErrStorageFailure).
func (e *CrawlError) Is(target error) bool {
	return e.Kind == target
}

func newCrawlError(kind error, entityID string, level int, err error) *CrawlError {
	return &CrawlError{Kind: kind, EntityID: entityID, Level: level, Err: err}
}

// Retryable reports whether a failed job is worth redelivering.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidArgument) {
		return false
	}
	return errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrStorageFailure)
}
