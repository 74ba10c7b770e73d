// Package redis provides a Redis-backed EntityStore.
//
// Each entity is a hash at "<prefix>:channel:<id>". The claim is HSETNX on the
// discovered_at field, which Redis executes atomically, so exactly one caller
// creates the hash. Crawled entities are indexed in a sorted set scored by
// lastCrawl (unix milliseconds) to serve staleness queries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

const (
	fieldDiscoveredAt = "discovered_at"
	fieldLastCrawl    = "last_crawl"
	fieldAttributes   = "attributes"

	defaultPrefix = "crawler"
)

// EntityStore persists entities as Redis hashes.
type EntityStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewEntityStore wraps an existing client. The client is owned by the caller.
func NewEntityStore(client redis.UniversalClient, prefix string) (*EntityStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &EntityStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *EntityStore) entityKey(id string) string {
	return fmt.Sprintf("%s:channel:%s", s.prefix, id)
}

func (s *EntityStore) indexKey() string {
	return s.prefix + ":channels:last_crawl"
}

// Ping checks connectivity.
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// TryClaim creates the entity hash if it does not exist.
func (s *EntityStore) TryClaim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("entity id is required")
	}
	created, err := s.client.HSetNX(ctx, s.entityKey(id), fieldDiscoveredAt, formatTime(s.now())).Result()
	if err != nil {
		return false, fmt.Errorf("claim entity: %w", err)
	}
	return created, nil
}

// Upsert writes lastCrawl and, when present, attributes in one MULTI/EXEC.
func (s *EntityStore) Upsert(ctx context.Context, id string, attrs crawler.Attributes, lastCrawl time.Time) error {
	if id == "" {
		return errors.New("entity id is required")
	}
	var attrsJSON []byte
	if attrs != nil {
		raw, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		attrsJSON = raw
	}
	key := s.entityKey(id)
	lastCrawl = lastCrawl.UTC()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldDiscoveredAt, formatTime(s.now()))
		pipe.HSet(ctx, key, fieldLastCrawl, formatTime(lastCrawl))
		if attrsJSON != nil {
			pipe.HSet(ctx, key, fieldAttributes, string(attrsJSON))
		}
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(lastCrawl.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// Get loads an entity hash.
func (s *EntityStore) Get(ctx context.Context, id string) (crawler.Entity, error) {
	fields, err := s.client.HGetAll(ctx, s.entityKey(id)).Result()
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	if len(fields) == 0 {
		return crawler.Entity{}, crawler.ErrNotFound
	}
	return decodeEntity(id, fields)
}

// ListStale walks the lastCrawl index below the cutoff, oldest first.
func (s *EntityStore) ListStale(ctx context.Context, before time.Time, limit int) ([]crawler.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UTC().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list stale entities: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.entityKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load stale entities: %w", err)
	}
	out := make([]crawler.Entity, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		entity, err := decodeEntity(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func decodeEntity(id string, fields map[string]string) (crawler.Entity, error) {
	entity := crawler.Entity{ID: id}
	if raw := fields[fieldDiscoveredAt]; raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return crawler.Entity{}, fmt.Errorf("decode discovered_at for %q: %w", id, err)
		}
		entity.DiscoveredAt = ts
	}
	if raw := fields[fieldLastCrawl]; raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return crawler.Entity{}, fmt.Errorf("decode last_crawl for %q: %w", id, err)
		}
		entity.LastCrawl = &ts
	}
	if raw := fields[fieldAttributes]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &entity.Attributes); err != nil {
			return crawler.Entity{}, fmt.Errorf("decode attributes for %q: %w", id, err)
		}
	}
	return entity, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}
