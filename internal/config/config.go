// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the store, queue and archive sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendPubSub   = "pubsub"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Source  SourceConfig  `mapstructure:"source"`
	Links   LinksConfig   `mapstructure:"links"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs traversal depth and worker behavior.
type CrawlerConfig struct {
	MaxDepth          int      `mapstructure:"max_depth"`
	SeedChannelID     string   `mapstructure:"seed_channel_id"`
	Concurrency       int      `mapstructure:"concurrency"`
	JobTimeoutSeconds int      `mapstructure:"job_timeout_seconds"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	QueueDepth        int      `mapstructure:"queue_depth"`
	BlockedChannels   []string `mapstructure:"blocked_channels"`
}

// SourceConfig configures the YouTube Data API client.
type SourceConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	APIKeys        []string `mapstructure:"api_keys"`
	PageSize       int      `mapstructure:"page_size"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
}

// LinksConfig configures custom-link scraping of channel about pages.
type LinksConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Headless       bool   `mapstructure:"headless"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// StoreConfig selects and tunes the entity store.
type StoreConfig struct {
	Backend                string `mapstructure:"backend"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// RedisConfig is shared by the redis store and queue backends.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig selects and tunes the job queue.
type QueueConfig struct {
	Backend             string `mapstructure:"backend"`
	ProjectID           string `mapstructure:"project_id"`
	Topic               string `mapstructure:"topic"`
	Subscription        string `mapstructure:"subscription"`
	Stream              string `mapstructure:"stream"`
	Group               string `mapstructure:"group"`
	Consumer            string `mapstructure:"consumer"`
	BlockMs             int    `mapstructure:"block_ms"`
	ClaimMinIdleSeconds int    `mapstructure:"claim_min_idle_seconds"`
}

// ArchiveConfig controls raw page archiving.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.seed_channel_id", "UC5xDht2blPNWdVtl9PkDmgA")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.job_timeout_seconds", 120)
	v.SetDefault("crawler.max_attempts", 5)
	v.SetDefault("crawler.queue_depth", 1024)
	v.SetDefault("crawler.blocked_channels", []string{})
	v.SetDefault("source.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("source.api_keys", []string{})
	v.SetDefault("source.page_size", 50)
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("source.user_agent", "channel-discovery-crawler/0.1")
	v.SetDefault("links.enabled", false)
	v.SetDefault("links.headless", false)
	v.SetDefault("links.max_parallel", 1)
	v.SetDefault("links.base_url", "https://www.youtube.com")
	v.SetDefault("links.timeout_seconds", 20)
	v.SetDefault("links.user_agent", "Mozilla/5.0 (compatible; channel-discovery-crawler/0.1)")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.table", "channels")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.max_conn_lifetime_seconds", 1800)
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "crawler")
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.topic", "crawl-jobs")
	v.SetDefault("queue.subscription", "crawl-jobs-workers")
	v.SetDefault("queue.stream", "crawler:jobs")
	v.SetDefault("queue.group", "crawler")
	v.SetDefault("queue.consumer", "worker")
	v.SetDefault("queue.block_ms", 5000)
	v.SetDefault("queue.claim_min_idle_seconds", 300)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.prefix", "pages")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("crawler.max_depth must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.job_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Source.PageSize <= 0 || c.Source.PageSize > 50 {
		return fmt.Errorf("source.page_size must be between 1 and 50")
	}
	if c.Links.Enabled && c.Links.Headless && c.Links.MaxParallel <= 0 {
		return fmt.Errorf("links.max_parallel must be > 0 when headless scraping is enabled")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis store")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}

	switch c.Queue.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription must be set for pubsub")
		}
	case BackendRedis:
		if c.Redis.Addr == "" || c.Queue.Stream == "" {
			return fmt.Errorf("redis.addr and queue.stream must be set for the redis queue")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}

	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	return nil
}

// RequireSourceKeys reports an error when no API key is configured. Only
// commands that fetch from the source call it.
func (c Config) RequireSourceKeys() error {
	for _, k := range c.Source.APIKeys {
		if strings.TrimSpace(k) != "" {
			return nil
		}
	}
	return fmt.Errorf("source.api_keys must contain at least one key")
}

// JobTimeout is the per-job crawl budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Crawler.JobTimeoutSeconds) * time.Second
}

// RequestTimeout is the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
