// Package sinks implements progress.Sink consumers: structured logging,
// Prometheus collectors, and run-completion notifications.
package sinks
