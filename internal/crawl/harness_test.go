package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/change"
	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/convert"
	"github.com/JakeFAU/markdown-crawler/internal/fetch"
	histmem "github.com/JakeFAU/markdown-crawler/internal/history/memory"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
	blobmem "github.com/JakeFAU/markdown-crawler/internal/storage/memory"
)

const seedURL = "https://example.com/"

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]fetch.Result
	errs  map[string]error
	calls []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: map[string]fetch.Result{}, errs: map[string]error{}}
}

func (f *stubFetcher) page(u, md string, links ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[u] = fetch.Result{
		URL:        u,
		StatusCode: 200,
		Success:    true,
		Markdown:   md,
		Links:      fetch.Links{Internal: links},
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, u string, _ fetch.BrowserOptions) (fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)
	if err := ctx.Err(); err != nil {
		return fetch.Result{URL: u}, err
	}
	if err, ok := f.errs[u]; ok {
		return fetch.Result{URL: u, ErrorMessage: err.Error()}, err
	}
	if res, ok := f.pages[u]; ok {
		return res, nil
	}
	return fetch.Result{URL: u, StatusCode: 404, ErrorMessage: "unexpected status 404"}, nil
}

func (f *stubFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type stubDownloader struct {
	mu    sync.Mutex
	files map[string][]byte
	calls map[string]int
	delay time.Duration
	// block, when set, holds every download until closed or cancelled.
	block chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newStubDownloader() *stubDownloader {
	return &stubDownloader{files: map[string][]byte{}, calls: map[string]int{}}
}

func (d *stubDownloader) file(u string, data string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[u] = []byte(data)
}

func (d *stubDownloader) Download(ctx context.Context, u string) ([]byte, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		cur := d.maxInFlight.Load()
		if n <= cur || d.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	d.mu.Lock()
	d.calls[u]++
	data, ok := d.files[u]
	d.mu.Unlock()

	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("unexpected status 404")
	}
	return data, nil
}

func (d *stubDownloader) callCount(u string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[u]
}

type stubEngine struct {
	out []byte
}

func (e stubEngine) Run(context.Context, string, []byte) ([]byte, error) {
	return e.out, nil
}

// failingBackend rejects every write whose key has one of the prefixes.
type failingBackend struct {
	*blobmem.BlobStore
	prefixes []string

	mu       sync.Mutex
	attempts map[string]int
}

func newFailingBackend(prefixes ...string) *failingBackend {
	return &failingBackend{BlobStore: blobmem.NewBlobStore(), prefixes: prefixes, attempts: map[string]int{}}
}

func (b *failingBackend) Put(ctx context.Context, key string, content []byte) (storage.Ref, error) {
	for _, p := range b.prefixes {
		if strings.HasPrefix(key, p) {
			b.mu.Lock()
			b.attempts[key]++
			b.mu.Unlock()
			return storage.Ref{}, errors.New("bucket unavailable")
		}
	}
	return b.BlobStore.Put(ctx, key, content)
}

func (b *failingBackend) attemptsFor(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[key]
}

type staticOpener struct {
	backend storage.Backend
}

func (o staticOpener) Open(context.Context, storage.Target) (storage.Backend, error) {
	return o.backend, nil
}

// gatedOpener signals entered and holds Open until release is closed.
type gatedOpener struct {
	backend storage.Backend
	entered chan struct{}
	release chan struct{}
}

func (o *gatedOpener) Open(ctx context.Context, _ storage.Target) (storage.Backend, error) {
	o.entered <- struct{}{}
	select {
	case <-o.release:
		return o.backend, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", s.n.Add(1)), nil
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) byStage(stage progress.Stage) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	fetcher     *stubFetcher
	downloader  *stubDownloader
	store       *histmem.Store
	blobs       *blobmem.BlobStore
	events      *recorder
	broadcaster *progress.Broadcaster
	holder      *config.Holder
	registry    *Registry
}

func baseConfig() config.CrawlConfig {
	return config.CrawlConfig{
		Database:          "memory",
		Storage:           storage.Target{Type: storage.TypeMemory},
		MaxDepth:          0,
		MaxPages:          10,
		StayOnDomain:      true,
		ParallelDownloads: 2,
		AllowedFileTypes:  convert.SupportedExtensions(),
		ChangeStrategy:    change.StrategyContentHash,
	}
}

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	cfg     config.CrawlConfig
	backend storage.Backend
	opener  StorageOpener
	clock   Clock
}

// stepClock advances by step on every read.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func withClock(c Clock) harnessOption {
	return func(s *harnessSetup) { s.clock = c }
}

func withConfig(fn func(*config.CrawlConfig)) harnessOption {
	return func(s *harnessSetup) { fn(&s.cfg) }
}

func withBackend(b storage.Backend) harnessOption {
	return func(s *harnessSetup) { s.backend = b }
}

func withOpener(o StorageOpener) harnessOption {
	return func(s *harnessSetup) { s.opener = o }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	setup := &harnessSetup{cfg: baseConfig()}
	for _, opt := range opts {
		opt(setup)
	}
	hs := &harness{
		fetcher:     newStubFetcher(),
		downloader:  newStubDownloader(),
		store:       histmem.NewStore(),
		blobs:       blobmem.NewBlobStore(),
		events:      &recorder{},
		broadcaster: progress.NewBroadcaster(64, nil),
	}
	backend := setup.backend
	if backend == nil {
		backend = hs.blobs
	}
	var opener StorageOpener = staticOpener{backend: backend}
	if setup.opener != nil {
		opener = setup.opener
	}
	holder, err := config.NewHolder(setup.cfg)
	require.NoError(t, err)
	hs.holder = holder

	orch, err := NewOrchestrator(Dependencies{
		Fetcher:    hs.fetcher,
		Downloader: hs.downloader,
		Converter:  convert.New(stubEngine{out: []byte("converted pdf text\n")}),
		History:    hs.store,
		Storage:    opener,
		IDs:        &seqIDs{},
		Events:     progress.Emitters{hs.events, hs.broadcaster},
		Clock:      setup.clock,
	})
	require.NoError(t, err)
	hs.registry = NewRegistry(orch, holder, WithBroadcaster(hs.broadcaster), WithRecentLimit(10))
	return hs
}

func (hs *harness) start(t *testing.T, req Request) *Handle {
	t.Helper()
	if req.URL == "" {
		req.URL = seedURL
	}
	h, err := hs.registry.Start(context.Background(), req)
	require.NoError(t, err)
	return h
}

func (hs *harness) run(t *testing.T, req Request) Summary {
	t.Helper()
	return wait(t, hs.start(t, req))
}

func wait(t *testing.T, h *Handle) Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := h.Wait(ctx)
	require.NoError(t, err)
	return sum
}
