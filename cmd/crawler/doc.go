// Package main hosts the channel discovery crawler entrypoint.
//
// Architecture overview:
//   - Commands: internal/cli builds the cobra tree. "serve" runs the HTTP API and the workers, "seed" and
//     "refresh" only enqueue jobs, and "crawl" runs a whole traversal in-process on the memory queue.
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, POST /v1/crawls to start a traversal,
//     and GET /v1/channels/{id} to read a stored channel.
//   - Queue & workers: crawl jobs flow through the configured queue (memory, Redis Streams or Pub/Sub). The
//     dispatcher routes each delivery by operation name to the worker, which runs one crawl pass with a
//     per-job timeout and asks for redelivery only on retryable failures.
//   - Crawl pass: the orchestrator pages through a channel's subscriptions via the YouTube Data API client,
//     writes attributes and lastCrawl, and claims each child before enqueuing it one level deeper. Children
//     at the maximum depth are claimed but never crawled.
//   - Persistence: channel records live in memory, Postgres or Redis. Raw API pages are optionally archived
//     to the configured blob store (memory/local/GCS).
//
// Operational notes:
//   - Configuration comes from an optional YAML file (--config) with CRAWLER_* environment overrides.
//   - API keys rotate when one runs out of quota.
//   - The process reacts to SIGINT/SIGTERM by draining the HTTP server and stopping the workers.
//
// Quick checklist:
//   - Set CRAWLER_SOURCE_API_KEYS and pick backends (CRAWLER_STORE_BACKEND, CRAWLER_QUEUE_BACKEND).
//   - Run locally: go run ./cmd/crawler crawl UC5xDht2blPNWdVtl9PkDmgA
//   - Service: go run ./cmd/crawler serve --config config.yaml
package main
