// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

const defaultTable = "channels"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EntityStoreConfig controls the Postgres connection pool used for entity rows.
type EntityStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// EntityStore persists channel entities. Claims rely on the primary key:
// INSERT ... ON CONFLICT DO NOTHING reports one affected row only to the first writer.
type EntityStore struct {
	pool  pool
	table string
}

// NewEntityStore creates a Postgres-backed EntityStore using the provided config.
func NewEntityStore(ctx context.Context, cfg EntityStoreConfig) (*EntityStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &EntityStore{pool: p, table: table}, nil
}

// NewEntityStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntityStoreWithPool(p pool, table string) (*EntityStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &EntityStore{pool: p, table: resolved}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Ping checks connectivity.
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *EntityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the entity table and its staleness index when missing.
func (s *EntityStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	last_crawl TIMESTAMPTZ NULL,
	attributes JSONB NULL,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_last_crawl_idx ON %[1]s (last_crawl) WHERE last_crawl IS NOT NULL`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// TryClaim inserts a bare row for id and reports whether this call created it.
func (s *EntityStore) TryClaim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("entity id is required")
	}
	query := fmt.Sprintf(`INSERT INTO %s (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim entity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert writes attributes and lastCrawl. Nil attributes keep the stored value.
func (s *EntityStore) Upsert(ctx context.Context, id string, attrs crawler.Attributes, lastCrawl time.Time) error {
	if id == "" {
		return fmt.Errorf("entity id is required")
	}
	var attrsJSON any
	if attrs != nil {
		raw, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		attrsJSON = raw
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, attributes, last_crawl)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
	attributes = COALESCE(EXCLUDED.attributes, %[1]s.attributes),
	last_crawl = EXCLUDED.last_crawl,
	updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, attrsJSON, lastCrawl.UTC()); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// Get loads a single entity.
func (s *EntityStore) Get(ctx context.Context, id string) (crawler.Entity, error) {
	query := fmt.Sprintf(`SELECT id, last_crawl, attributes, discovered_at FROM %s WHERE id = $1`, s.table)
	entity, err := scanEntity(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Entity{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return entity, nil
}

// ListStale returns crawled entities whose last_crawl precedes the cutoff, oldest first.
func (s *EntityStore) ListStale(ctx context.Context, before time.Time, limit int) ([]crawler.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, last_crawl, attributes, discovered_at FROM %s
WHERE last_crawl IS NOT NULL AND last_crawl < $1
ORDER BY last_crawl ASC, id ASC
LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale entities: %w", err)
	}
	defer rows.Close()

	var out []crawler.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale entity: %w", err)
		}
		out = append(out, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale entities: %w", err)
	}
	return out, nil
}

func scanEntity(row pgx.Row) (crawler.Entity, error) {
	var (
		entity    crawler.Entity
		lastCrawl *time.Time
		attrsJSON []byte
	)
	if err := row.Scan(&entity.ID, &lastCrawl, &attrsJSON, &entity.DiscoveredAt); err != nil {
		return crawler.Entity{}, err
	}
	entity.LastCrawl = lastCrawl
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &entity.Attributes); err != nil {
			return crawler.Entity{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return entity, nil
}
