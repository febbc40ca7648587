package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/change"
	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/convert"
	"github.com/JakeFAU/markdown-crawler/internal/crawl"
	"github.com/JakeFAU/markdown-crawler/internal/fetch"
	histmem "github.com/JakeFAU/markdown-crawler/internal/history/memory"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
	blobmem "github.com/JakeFAU/markdown-crawler/internal/storage/memory"
)

const seedURL = "https://example.com/"

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fetch.Result
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, u string, _ fetch.BrowserOptions) (fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return fetch.Result{URL: u, ErrorMessage: f.err.Error()}, f.err
	}
	if res, ok := f.pages[u]; ok {
		return res, nil
	}
	return fetch.Result{URL: u, StatusCode: 404, ErrorMessage: "unexpected status 404"}, nil
}

type fakeDownloader struct {
	files   map[string][]byte
	gate    chan struct{}
	started atomic.Int32
}

func (d *fakeDownloader) Download(ctx context.Context, u string) ([]byte, error) {
	d.started.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, ok := d.files[u]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type counterIDs struct {
	n atomic.Int64
}

func (c *counterIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", c.n.Add(1)), nil
}

type memOpener struct {
	blobs *blobmem.BlobStore
}

func (o memOpener) Open(context.Context, storage.Target) (storage.Backend, error) {
	return o.blobs, nil
}

type fixture struct {
	fetcher    *fakeFetcher
	downloader *fakeDownloader
	store      *histmem.Store
	registry   *crawl.Registry
	server     *Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		fetcher:    &fakeFetcher{pages: map[string]fetch.Result{}},
		downloader: &fakeDownloader{files: map[string][]byte{}},
		store:      histmem.NewStore(),
	}
	holder, err := config.NewHolder(config.CrawlConfig{
		Storage:           storage.Target{Type: storage.TypeMemory},
		MaxPages:          10,
		StayOnDomain:      true,
		ParallelDownloads: 2,
		AllowedFileTypes:  convert.SupportedExtensions(),
		ChangeStrategy:    change.StrategyContentHash,
	})
	require.NoError(t, err)
	broadcaster := progress.NewBroadcaster(32, nil)
	orch, err := crawl.NewOrchestrator(crawl.Dependencies{
		Fetcher:    f.fetcher,
		Downloader: f.downloader,
		Converter:  convert.New(nil),
		History:    f.store,
		Storage:    memOpener{blobs: blobmem.NewBlobStore()},
		IDs:        &counterIDs{},
		Events:     broadcaster,
	})
	require.NoError(t, err)
	f.registry = crawl.NewRegistry(orch, holder, crawl.WithBroadcaster(broadcaster))
	f.server = NewServer(f.registry, f.store, opts...)
	return f
}

func (f *fixture) page(u, md string, links ...string) {
	f.fetcher.mu.Lock()
	defer f.fetcher.mu.Unlock()
	f.fetcher.pages[u] = fetch.Result{
		URL:        u,
		StatusCode: 200,
		Success:    true,
		Markdown:   md,
		Links:      fetch.Links{Internal: links},
	}
}
