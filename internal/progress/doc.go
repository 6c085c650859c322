// Package progress carries job lifecycle events from the pipeline stages to
// pluggable sinks. Stages call Emit, which never blocks; a background goroutine
// batches events and hands each batch to every sink (logs, Prometheus, the
// job_events history, Pub/Sub notifications).
package progress
