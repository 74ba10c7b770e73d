// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

// EntityStore keeps entities in a map guarded by a mutex; the mutex makes
// TryClaim linearizable within one process.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[string]crawler.Entity
	now      func() time.Time
}

// NewEntityStore constructs an empty EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities: make(map[string]crawler.Entity),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TryClaim inserts a bare record for id if none exists.
func (s *EntityStore) TryClaim(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("entity id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[id]; exists {
		return false, nil
	}
	s.entities[id] = crawler.Entity{ID: id, DiscoveredAt: s.now()}
	return true, nil
}

// Upsert stores attributes and lastCrawl, creating the record when absent.
func (s *EntityStore) Upsert(_ context.Context, id string, attrs crawler.Attributes, lastCrawl time.Time) error {
	if id == "" {
		return errors.New("entity id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, exists := s.entities[id]
	if !exists {
		entity = crawler.Entity{ID: id, DiscoveredAt: s.now()}
	}
	ts := lastCrawl.UTC()
	entity.LastCrawl = &ts
	if attrs != nil {
		entity.Attributes = maps.Clone(attrs)
	}
	s.entities[id] = entity
	return nil
}

// Get returns a copy of the entity.
func (s *EntityStore) Get(_ context.Context, id string) (crawler.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[id]
	if !ok {
		return crawler.Entity{}, crawler.ErrNotFound
	}
	return cloneEntity(entity), nil
}

// ListStale returns crawled entities last visited before the cutoff, oldest first.
func (s *EntityStore) ListStale(_ context.Context, before time.Time, limit int) ([]crawler.Entity, error) {
	s.mu.RLock()
	out := make([]crawler.Entity, 0)
	for _, entity := range s.entities {
		if entity.LastCrawl != nil && entity.LastCrawl.Before(before) {
			out = append(out, cloneEntity(entity))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastCrawl.Equal(*out[j].LastCrawl) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastCrawl.Before(*out[j].LastCrawl)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many entities are known.
func (s *EntityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func cloneEntity(e crawler.Entity) crawler.Entity {
	cp := e
	if e.LastCrawl != nil {
		ts := *e.LastCrawl
		cp.LastCrawl = &ts
	}
	cp.Attributes = maps.Clone(e.Attributes)
	return cp
}
