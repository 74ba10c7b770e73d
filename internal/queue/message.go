// Package queue defines the crawl job payload shared by every queue backend
// and the contracts backends implement for producing and consuming it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

// ErrMalformed marks payloads that can never be processed. Backends drop them.
var ErrMalformed = errors.New("malformed queue message")

// Message is the serialized unit placed on a queue.
type Message struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	EntityID   string    `json:"entity_id"`
	Level      int       `json:"level"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewMessage builds a first-attempt message for job.
func NewMessage(id, operation string, job crawler.CrawlJob, enqueuedAt time.Time) Message {
	return Message{
		ID:         id,
		Operation:  operation,
		EntityID:   job.EntityID,
		Level:      job.Level,
		Attempt:    1,
		EnqueuedAt: enqueuedAt.UTC(),
	}
}

// Job returns the crawl job carried by the message.
func (m Message) Job() crawler.CrawlJob {
	return crawler.CrawlJob{EntityID: m.EntityID, Level: m.Level}
}

// Encode serializes a message to JSON.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses and validates a payload. Non-integer levels, a missing
// operation, or a missing entity id yield ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Operation == "" {
		return Message{}, fmt.Errorf("%w: operation is required", ErrMalformed)
	}
	if m.EntityID == "" {
		return Message{}, fmt.Errorf("%w: entity_id is required", ErrMalformed)
	}
	if m.Attempt < 1 {
		m.Attempt = 1
	}
	return m, nil
}

// Handler processes one message. A non-nil error asks the backend to redeliver.
type Handler func(ctx context.Context, msg Message) error

// Consumer delivers messages to a handler until ctx ends. Backends own
// their concurrency, so Consume must be called once per backend.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Backend is a queue that both accepts crawl jobs and delivers them.
type Backend interface {
	crawler.JobQueue
	Consumer
	Close() error
}
