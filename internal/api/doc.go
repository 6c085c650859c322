// Package api hosts the HTTP servers, middleware, and REST handlers of the
// pipeline. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to launch a job, and POST /v1/jobs/{job_id}/analytic-core
//     and /tagops-hub to run the later stages.
//   - GET /v1/jobs, /v1/jobs/{job_id} and /v1/jobs/{job_id}/events for the
//     dashboard history and timeline.
//   - POST /scrape on the scraper service, guarded by X-API-Key.
package api
