// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, the job_events history and Pub/Sub status notifications.
package sinks
