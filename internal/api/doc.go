// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/urls for seeding, dead-letter inspection, requeue and purge.
//   - /v1/movies for read access to the canonical movie table.
//   - DELETE /v1/users/{id} to remove a user with their ratings and comments.
package api
