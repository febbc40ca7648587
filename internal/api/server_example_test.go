package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/crawl"
	histmem "github.com/JakeFAU/markdown-crawler/internal/history/memory"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

type idleCrawler struct{}

func (idleCrawler) Start(context.Context, crawl.Request) (*crawl.Handle, error) {
	return nil, crawl.ErrRunActive
}

func (idleCrawler) Stop() (*crawl.Handle, error) { return nil, crawl.ErrNoActiveRun }

func (idleCrawler) Status() crawl.Status { return crawl.Status{State: crawl.StateIdle} }

func (idleCrawler) Recent() []crawl.RecentItem { return []crawl.RecentItem{} }

func (idleCrawler) Subscribe() (*crawl.Handle, <-chan progress.Event, func(), error) {
	return nil, nil, nil, crawl.ErrNoActiveRun
}

func (idleCrawler) Config() config.CrawlConfig { return config.CrawlConfig{} }

func (idleCrawler) UpdateConfig(config.Update) (config.CrawlConfig, error) {
	return config.CrawlConfig{}, nil
}

// ExampleNewServer shows the status route of an idle service.
func ExampleNewServer() {
	server := NewServer(idleCrawler{}, histmem.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/api/crawl/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	fmt.Print(rec.Body.String())
	// Output:
	// {"state":"idle","processed":0,"counts":{"total_pages":0,"total_documents":0,"error_count":0}}
}
