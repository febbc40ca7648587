package crawl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

// Run states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
)

// Status is a point-in-time view of the registry.
type Status struct {
	State     string            `json:"state"`
	RunID     string            `json:"run_id,omitempty"`
	StartURL  string            `json:"start_url,omitempty"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Processed int               `json:"processed"`
	LastURL   string            `json:"last_url,omitempty"`
	Counts    history.RunCounts `json:"counts"`
}

// Summary is the final outcome of a run.
type Summary struct {
	RunID  string            `json:"run_id"`
	Status history.RunStatus `json:"status"`
	Counts history.RunCounts `json:"counts"`
	// DocumentURLs are the storage URIs of converted documents.
	DocumentURLs []string `json:"document_urls"`
	// Err is the page-level error that failed the run, if any.
	Err error `json:"-"`
}

// Artifact kinds in the recent list.
const (
	KindPage     = "page"
	KindDocument = "document"
)

// RecentItem identifies one artifact produced by a run.
type RecentItem struct {
	Kind   string    `json:"kind"`
	URL    string    `json:"url"`
	Key    string    `json:"key"`
	URI    string    `json:"uri"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Handle is a live run. Counter fields are written only by the run's
// orchestrator goroutine and read atomically by everyone else.
type Handle struct {
	id        string
	req       Request
	cfg       config.CrawlConfig
	backend   storage.Backend
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	pages     atomic.Int64
	documents atomic.Int64
	errors    atomic.Int64
	lastURL   atomic.Pointer[string]

	recent *ring

	finishOnce sync.Once
	onFinish   func()
	done       chan struct{}
	summary    Summary
}

func newHandle(
	parent context.Context,
	id string,
	req Request,
	cfg config.CrawlConfig,
	backend storage.Backend,
	startedAt time.Time,
	recentLimit int,
) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		id:        id,
		req:       req,
		cfg:       cfg,
		backend:   backend,
		startedAt: startedAt,
		ctx:       ctx,
		cancel:    cancel,
		recent:    newRing(recentLimit),
		done:      make(chan struct{}),
	}
}

// ID returns the run identifier.
func (h *Handle) ID() string {
	return h.id
}

// Config returns the snapshot the run captured at start.
func (h *Handle) Config() config.CrawlConfig {
	return h.cfg
}

// Done is closed once the run is finalized.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop cancels the run. It returns immediately; use Wait to observe the end.
func (h *Handle) Stop() {
	h.cancel()
}

// Wait blocks until the run ends or ctx is done. Cancelling ctx does not
// stop the run.
func (h *Handle) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-h.done:
		return h.summary, nil
	case <-ctx.Done():
		return Summary{}, fmt.Errorf("wait for run %s: %w", h.id, ctx.Err())
	}
}

// Counts returns the current counters.
func (h *Handle) Counts() history.RunCounts {
	return history.RunCounts{
		Pages:     int(h.pages.Load()),
		Documents: int(h.documents.Load()),
		Errors:    int(h.errors.Load()),
	}
}

// Status reports the run as running with its progress.
func (h *Handle) Status() Status {
	counts := h.Counts()
	started := h.startedAt
	st := Status{
		State:     StateRunning,
		RunID:     h.id,
		StartURL:  h.req.URL,
		StartedAt: &started,
		Processed: counts.Pages + counts.Documents,
		Counts:    counts,
	}
	if last := h.lastURL.Load(); last != nil {
		st.LastURL = *last
	}
	return st
}

// Recent returns the artifacts produced so far, newest first.
func (h *Handle) Recent() []RecentItem {
	return h.recent.items()
}

func (h *Handle) finish(summary Summary) {
	h.finishOnce.Do(func() {
		h.summary = summary
		h.cancel()
		if h.onFinish != nil {
			h.onFinish()
		}
		close(h.done)
	})
}

// ring is a bounded, newest-first list of recent artifacts.
type ring struct {
	mu    sync.Mutex
	buf   []RecentItem
	next  int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 50
	}
	return &ring{buf: make([]RecentItem, capacity)}
}

func (r *ring) add(item RecentItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = item
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) items() []RecentItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecentItem, 0, r.count)
	for i := 1; i <= r.count; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
