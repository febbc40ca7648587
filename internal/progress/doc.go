// Package progress carries crawl run events from the orchestrator to
// observers. A Broadcaster delivers events to live per-run subscribers, and a
// Hub batches them on a background goroutine for sinks such as logs,
// Prometheus, and run-completion notifications.
package progress
