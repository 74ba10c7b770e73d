// Package app builds the long-lived services of the crawler from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-discovery-crawler/internal/archive"
	"github.com/JakeFAU/channel-discovery-crawler/internal/clock/system"
	"github.com/JakeFAU/channel-discovery-crawler/internal/config"
	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
	"github.com/JakeFAU/channel-discovery-crawler/internal/dispatcher"
	"github.com/JakeFAU/channel-discovery-crawler/internal/hash/sha256"
	"github.com/JakeFAU/channel-discovery-crawler/internal/id/uuid"
	"github.com/JakeFAU/channel-discovery-crawler/internal/links"
	"github.com/JakeFAU/channel-discovery-crawler/internal/queue"
	queuememory "github.com/JakeFAU/channel-discovery-crawler/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/channel-discovery-crawler/internal/queue/pubsub"
	queueredis "github.com/JakeFAU/channel-discovery-crawler/internal/queue/redis"
	"github.com/JakeFAU/channel-discovery-crawler/internal/source/youtube"
	gcsstore "github.com/JakeFAU/channel-discovery-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/channel-discovery-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/channel-discovery-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/channel-discovery-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/channel-discovery-crawler/internal/storage/redis"
	"github.com/JakeFAU/channel-discovery-crawler/internal/worker"
)

// ErrNoSource is returned by RunWorkers when no source client was configured.
var ErrNoSource = errors.New("no source client configured: set source.api_keys")

// Repository is the read/write view of the entity store.
type Repository interface {
	crawler.EntityStore
	crawler.EntityReader
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	source crawler.SourceClient
}

// WithSource replaces the YouTube client, mostly for tests and local runs.
func WithSource(src crawler.SourceClient) Option {
	return func(o *options) { o.source = src }
}

// App holds the shared, long-lived services. It is built once at startup.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      Repository
	Queue      queue.Backend
	Trigger    *crawler.Trigger
	Crawler    *crawler.Orchestrator
	Dispatcher *dispatcher.Dispatcher

	checks  []func(context.Context) error
	closers []func() error
}

// New builds every service named by cfg. Any failure closes what was already
// opened and is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	clock := system.New()
	ids := uuid.New()

	var rdb goredis.UniversalClient
	if cfg.Store.Backend == config.BackendRedis || cfg.Queue.Backend == config.BackendRedis {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.checks = append(a.checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		rdb = client
	}

	if a.Store, err = a.buildStore(ctx, rdb); err != nil {
		return nil, err
	}
	if a.Queue, err = a.buildQueue(ctx, rdb, ids, clock); err != nil {
		return nil, err
	}
	a.Trigger = crawler.NewTrigger(a.Queue, logger.Named("trigger"))

	source := o.source
	if source == nil && cfg.RequireSourceKeys() == nil {
		if source, err = a.buildSource(); err != nil {
			return nil, err
		}
	}
	if source == nil {
		logger.Info("no source configured; workers disabled")
		return a, nil
	}

	archiver, err := a.buildArchiver(ctx)
	if err != nil {
		return nil, err
	}
	a.Crawler, err = crawler.NewOrchestrator(
		a.Store,
		source,
		a.Queue,
		clock,
		archiver,
		crawler.Config{MaxDepth: cfg.Crawler.MaxDepth, Blocklist: cfg.Crawler.BlockedChannels},
		logger.Named("orchestrator"),
	)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	w := worker.New(a.Crawler, worker.Config{JobTimeout: cfg.JobTimeout()}, logger.Named("worker"))
	a.Dispatcher = dispatcher.New(a.Queue, logger.Named("dispatcher"))
	a.Dispatcher.Register(crawler.OperationCrawlChannel, w.Handle)
	return a, nil
}

func (a *App) buildStore(ctx context.Context, rdb goredis.UniversalClient) (Repository, error) {
	cfg := a.Config
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewEntityStore(ctx, pgstore.EntityStoreConfig{
			DSN:             cfg.Store.DSN,
			Table:           cfg.Store.Table,
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: time.Duration(cfg.Store.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		a.checks = append(a.checks, store.Ping)
		if cfg.Store.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres store: %w", err)
			}
		}
		a.Logger.Info("using postgres entity store", zap.String("table", cfg.Store.Table))
		return store, nil
	case config.BackendRedis:
		store, err := redisstore.NewEntityStore(rdb, cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		a.Logger.Info("using redis entity store", zap.String("addr", cfg.Redis.Addr))
		return store, nil
	default:
		a.Logger.Info("using in-memory entity store; state is lost on exit")
		return memorystore.NewEntityStore(), nil
	}
}

func (a *App) buildQueue(
	ctx context.Context,
	rdb goredis.UniversalClient,
	ids crawler.IDGenerator,
	clock crawler.Clock,
) (queue.Backend, error) {
	cfg := a.Config
	logger := a.Logger.Named("queue")
	var (
		q   queue.Backend
		err error
	)
	switch cfg.Queue.Backend {
	case config.BackendPubSub:
		q, err = queuepubsub.New(ctx, queuepubsub.Config{
			ProjectID:    cfg.Queue.ProjectID,
			Topic:        cfg.Queue.Topic,
			Subscription: cfg.Queue.Subscription,
			Concurrency:  cfg.Crawler.Concurrency,
			MaxAttempts:  cfg.Crawler.MaxAttempts,
		}, ids, clock, logger)
	case config.BackendRedis:
		q, err = queueredis.New(ctx, rdb, queueredis.Config{
			Stream:       cfg.Queue.Stream,
			Group:        cfg.Queue.Group,
			Consumer:     cfg.Queue.Consumer,
			Concurrency:  cfg.Crawler.Concurrency,
			MaxAttempts:  cfg.Crawler.MaxAttempts,
			Block:        time.Duration(cfg.Queue.BlockMs) * time.Millisecond,
			ClaimMinIdle: time.Duration(cfg.Queue.ClaimMinIdleSeconds) * time.Second,
		}, ids, clock, logger)
	default:
		q = queuememory.NewQueue(queuememory.Config{
			Capacity:    cfg.Crawler.QueueDepth,
			Concurrency: cfg.Crawler.Concurrency,
			MaxAttempts: cfg.Crawler.MaxAttempts,
		}, ids, clock, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s queue: %w", cfg.Queue.Backend, err)
	}
	a.closers = append(a.closers, q.Close)
	a.Logger.Info("job queue ready", zap.String("backend", cfg.Queue.Backend))
	return q, nil
}

func (a *App) buildSource() (crawler.SourceClient, error) {
	cfg := a.Config
	var scraper links.Scraper
	if cfg.Links.Enabled {
		timeout := time.Duration(cfg.Links.TimeoutSeconds) * time.Second
		if cfg.Links.Headless {
			hs, err := links.NewHeadlessScraper(links.HeadlessConfig{
				BaseURL:           cfg.Links.BaseURL,
				UserAgent:         cfg.Links.UserAgent,
				MaxParallel:       cfg.Links.MaxParallel,
				NavigationTimeout: timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("init headless scraper: %w", err)
			}
			a.closers = append(a.closers, func() error { hs.Close(); return nil })
			scraper = hs
		} else {
			scraper = links.NewCollyScraper(links.CollyConfig{
				BaseURL:   cfg.Links.BaseURL,
				UserAgent: cfg.Links.UserAgent,
				Timeout:   timeout,
			})
		}
	}
	client, err := youtube.New(youtube.Config{
		BaseURL:   cfg.Source.BaseURL,
		APIKeys:   cfg.Source.APIKeys,
		PageSize:  cfg.Source.PageSize,
		Timeout:   time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		UserAgent: cfg.Source.UserAgent,
	}, scraper, a.Logger.Named("youtube"))
	if err != nil {
		return nil, fmt.Errorf("init youtube client: %w", err)
	}
	return client, nil
}

func (a *App) buildArchiver(ctx context.Context) (crawler.Archiver, error) {
	cfg := a.Config.Archive
	var blobs crawler.BlobStore
	switch cfg.Backend {
	case config.BackendMemory:
		blobs = memorystore.NewBlobStore()
	case config.BackendLocal:
		store, err := localstore.New(localstore.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		blobs = store
	case config.BackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		blobs = store
	default:
		return nil, nil
	}
	arch, err := archive.New(blobs, sha256.New(), cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("init archiver: %w", err)
	}
	a.Logger.Info("archiving raw pages", zap.String("backend", cfg.Backend), zap.String("prefix", cfg.Prefix))
	return arch, nil
}

// Ready runs every dependency check.
func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunWorkers consumes the queue until ctx ends.
func (a *App) RunWorkers(ctx context.Context) error {
	if a.Dispatcher == nil {
		return ErrNoSource
	}
	if err := a.Dispatcher.Run(ctx); err != nil {
		return fmt.Errorf("run dispatcher: %w", err)
	}
	return nil
}

type idleWaiter interface {
	WaitIdle(ctx context.Context, poll time.Duration) error
}

// WaitIdle blocks until the in-process queue has no pending or in-flight
// jobs. Only the memory backend can report this.
func (a *App) WaitIdle(ctx context.Context, poll time.Duration) error {
	w, ok := a.Queue.(idleWaiter)
	if !ok {
		return fmt.Errorf("queue backend %q cannot report idleness", a.Config.Queue.Backend)
	}
	return w.WaitIdle(ctx, poll)
}

// Close releases services in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
