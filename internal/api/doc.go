// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks for search task submission, GET /v1/queue for status.
//   - POST /v1/backups and /v1/backups/{id}/restore for snapshot management.
//   - POST /v1/maintenance/normalize for re-running normalization over
//     stored articles.
package api
