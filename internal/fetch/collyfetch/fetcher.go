// Package collyfetch renders pages with a plain HTTP fetch through gocolly.
package collyfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/markdown-crawler/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Renderer implements fetch.Renderer using a cloned Colly collector per request.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ fetch.Renderer = (*Renderer)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Renderer sharing one pooled transport.
func New(cfg Config) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	return &Renderer{cfg: cfg, baseCollector: c}
}

// Render executes a single GET. Colly reports HTTP error statuses through
// OnError; those are returned as errors.
func (r *Renderer) Render(ctx context.Context, url string, opts fetch.BrowserOptions) (fetch.Page, error) {
	var (
		page     fetch.Page
		fetchErr error
	)
	collector := r.buildCollector(opts)
	collector.Context = ctx
	r.configureHooks(collector, opts, time.Now(), &page, &fetchErr)
	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return fetch.Page{}, err
	}
	return page, nil
}

func (r *Renderer) buildCollector(opts fetch.BrowserOptions) *colly.Collector {
	collector := r.baseCollector.Clone()
	collector.UserAgent = r.cfg.UserAgent
	if opts.UserAgent != "" {
		collector.UserAgent = opts.UserAgent
	}
	collector.IgnoreRobotsTxt = !r.cfg.RespectRobots
	collector.SetRequestTimeout(r.cfg.Timeout)
	return collector
}

func (r *Renderer) configureHooks(
	hooks collectorHooks,
	opts fetch.BrowserOptions,
	start time.Time,
	page *fetch.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(req *colly.Request) {
		for key, values := range opts.Headers {
			for _, v := range values {
				req.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(resp *colly.Response) {
		*page = fetch.Page{
			URL:        resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers.Clone(),
			Body:       append([]byte(nil), resp.Body...),
			Duration:   time.Since(start),
		}
	})
	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", resp.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

// runCollector visits url and waits for the visit to return. The collector's
// requests carry ctx, so cancellation ends the visit before the hooks can
// write to the caller's results.
func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
