// Package crawl runs change-aware crawl-and-convert runs.
//
// A Registry admits at most one active run. Each run captures the crawl
// configuration snapshot current at its start, fetches pages breadth-first,
// persists pages whose content changed, and converts linked documents with
// bounded parallelism. Only the orchestrator goroutine of a run mutates its
// counters; workers report outcomes over a channel.
package crawl
