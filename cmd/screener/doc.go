// Package main hosts the risk screening service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /v1/screenings, GET /v1/screenings/{id}, GET /v1/ratelimit,
//     health probes and /metrics. Callers are identified by a verified bearer token subject or their IP, and
//     each screening call is admitted by the per-client sliding-window limiter (memory or Redis).
//   - Orchestration: internal/screening fans one entity out to the requested sources concurrently, joins every
//     task, and merges hits and per-source errors into a single result. One failing source never fails the call.
//   - Sources: OFAC (API strategy, browser strategy, or hybrid of both), the World Bank debarment list, and the
//     ICIJ Offshore Leaks search page. Every source call is retried on transient failures and throttled per
//     upstream. Offline mode answers every source from the embedded fixture dataset.
//   - Persistence & fanout: reports are stored in Postgres (or memory), archived as JSON to the configured
//     BlobStore (memory/local/GCS), and announced on Pub/Sub. All three are best-effort.
//   - Plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus metrics and
//     OpenTelemetry spans cover requests, scrapes, retries and fallbacks.
//
// Quick checklist:
//   - Configure env vars: SCREENER_SERVER_PORT, SCREENER_SCRAPING_MODE, SCREENER_RATE_LIMIT_BACKEND and
//     SCREENER_RATE_LIMIT_REDIS_URL, SCREENER_DATABASE_DSN, SCREENER_STORAGE_BACKEND, SCREENER_PUBSUB_PROJECT_ID.
//   - Run locally without network access: SCREENER_SCRAPING_OFFLINE=true go run ./cmd/screener
//   - With a config file: go run ./cmd/screener -config config.yaml
package main
