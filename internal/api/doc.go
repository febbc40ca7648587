// Package api hosts the HTTP server for the crawl service. Notable routes:
//   - POST /api/crawl, GET /api/crawl/status, POST /api/crawl/stop to drive runs.
//   - GET /api/crawl/events streams the active run's progress as server-sent events.
//   - GET/PUT /api/config reads or swaps the crawl configuration snapshot.
//   - GET /api/content/recent lists artifacts from the current or last run.
//   - GET /api/runs and /api/runs/{run_id} read the run history.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api
