// Package api hosts the HTTP server, middleware, and REST handlers for the
// screening service. Notable routes:
//   - POST /v1/screenings (alias POST /api/screening/screen) runs a screening.
//     Only these routes consume rate-limit quota.
//   - GET /v1/screenings/{id} returns a stored report.
//   - GET /v1/ratelimit reports the caller's remaining quota without consuming it.
//   - GET /healthz, /readyz and /api/screening/health for probes.
//   - GET /metrics for Prometheus scraping.
package api
