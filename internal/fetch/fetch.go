// Package fetch retrieves pages and documents for a crawl run.
//
// A Pipeline renders a page with a primary Renderer (colly), optionally
// promotes it to a headless browser, and converts the HTML to markdown with
// page links split into internal and external sets.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/fetch/markdown"
)

// Links re-exports the markdown link split.
type Links = markdown.Links

// BrowserOptions tune one fetch.
type BrowserOptions struct {
	// Headless forces the browser renderer when one is configured.
	Headless  bool
	UserAgent string
	Headers   http.Header
}

// Result is the outcome of fetching one page.
type Result struct {
	URL          string
	StatusCode   int
	Success      bool
	Title        string
	Markdown     string
	HTML         string
	Links        Links
	ErrorMessage string
	UsedHeadless bool
	Duration     time.Duration
}

// Fetcher is the page fetch primitive used by the crawl orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts BrowserOptions) (Result, error)
}

// Page is raw rendered HTML from a Renderer.
type Page struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	UsedHeadless bool
	Duration     time.Duration
}

// Renderer retrieves the HTML of a URL.
type Renderer interface {
	Render(ctx context.Context, url string, opts BrowserOptions) (Page, error)
}

// Promoter decides whether a plain fetch needs a headless re-render.
type Promoter interface {
	ShouldPromote(page Page) bool
}

// ErrNoRenderer is returned when a Pipeline has nothing to fetch with.
var ErrNoRenderer = errors.New("no page renderer configured")

// Pipeline implements Fetcher on top of Renderers and a markdown renderer.
type Pipeline struct {
	primary  Renderer
	headless Renderer
	promoter Promoter
	md       *markdown.Renderer
	logger   *zap.Logger
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithHeadless adds a browser renderer and the promoter deciding when to use it.
func WithHeadless(r Renderer, p Promoter) PipelineOption {
	return func(pl *Pipeline) {
		pl.headless = r
		pl.promoter = p
	}
}

// WithMarkdown overrides the markdown renderer.
func WithMarkdown(md *markdown.Renderer) PipelineOption {
	return func(pl *Pipeline) {
		if md != nil {
			pl.md = md
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(pl *Pipeline) {
		if logger != nil {
			pl.logger = logger
		}
	}
}

// NewPipeline builds a Pipeline around the primary renderer.
func NewPipeline(primary Renderer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		primary: primary,
		md:      markdown.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch renders url and converts it to markdown. Transport failures return
// an error; HTTP error statuses return an unsuccessful Result.
func (p *Pipeline) Fetch(ctx context.Context, url string, opts BrowserOptions) (Result, error) {
	renderer := p.primary
	if (opts.Headless || renderer == nil) && p.headless != nil {
		renderer = p.headless
	}
	if renderer == nil {
		return Result{URL: url, ErrorMessage: ErrNoRenderer.Error()}, ErrNoRenderer
	}

	page, err := renderer.Render(ctx, url, opts)
	if err != nil {
		return Result{URL: url, ErrorMessage: err.Error()}, fmt.Errorf("render %s: %w", url, err)
	}
	if !page.UsedHeadless && p.headless != nil && p.promoter != nil && p.promoter.ShouldPromote(page) {
		p.logger.Debug("promoting to headless", zap.String("url", url))
		promoted, err := p.headless.Render(ctx, url, opts)
		if err != nil {
			p.logger.Warn("headless render failed; using plain fetch", zap.String("url", url), zap.Error(err))
		} else {
			page = promoted
		}
	}

	result := Result{
		URL:          page.URL,
		StatusCode:   page.StatusCode,
		HTML:         string(page.Body),
		UsedHeadless: page.UsedHeadless,
		Duration:     page.Duration,
	}
	if result.URL == "" {
		result.URL = url
	}
	if page.StatusCode >= http.StatusBadRequest {
		result.ErrorMessage = fmt.Sprintf("unexpected status %d", page.StatusCode)
		return result, nil
	}

	doc, err := p.md.Render(result.URL, result.HTML)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}
	result.Success = true
	result.Title = doc.Title
	result.Markdown = doc.Markdown
	result.Links = doc.Links
	return result, nil
}
