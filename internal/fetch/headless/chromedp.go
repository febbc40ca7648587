// Package headless renders pages with headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/markdown-crawler/internal/fetch"
)

// ErrNotHTML is returned when the main document is not an HTML page, e.g. a
// PDF the browser opened inline. Documents go through the downloader.
var ErrNotHTML = errors.New("main document is not html")

// defaultBlocked keeps the tab from loading resources that never reach the
// markdown output.
var defaultBlocked = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.mp4", "*.webm", "*.mp3",
}

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for late scripts.
	Settle time.Duration
	// LoadMedia disables the image, font and media blocklist.
	LoadMedia bool
}

// Renderer implements fetch.Renderer with one tab per render on a shared
// browser process.
type Renderer struct {
	cfg      Config
	slots    chan struct{}
	blocked  []string
	browser  context.Context
	shutdown context.CancelFunc
}

var _ fetch.Renderer = (*Renderer)(nil)

// New creates a headless renderer. Chrome is started lazily on first use.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	r := &Renderer{cfg: cfg}
	if cfg.MaxParallel > 0 {
		r.slots = make(chan struct{}, cfg.MaxParallel)
	}
	if !cfg.LoadMedia {
		r.blocked = defaultBlocked
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	r.browser, r.shutdown = chromedp.NewExecAllocator(context.Background(), opts...)
	return r, nil
}

// Close shuts down the browser.
func (r *Renderer) Close() {
	r.shutdown()
}

// Render opens url in a fresh tab and returns the DOM after scripts settle.
func (r *Renderer) Render(ctx context.Context, url string, opts fetch.BrowserOptions) (fetch.Page, error) {
	if err := r.takeSlot(ctx); err != nil {
		return fetch.Page{}, err
	}
	defer r.giveSlot()

	tab, closeTab := chromedp.NewContext(r.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, r.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	if err := chromedp.Run(tab, r.actions(opts, url, &html, &location)...); err != nil {
		if ctx.Err() != nil {
			return fetch.Page{}, fmt.Errorf("headless render canceled: %w", ctx.Err())
		}
		return fetch.Page{}, fmt.Errorf("chromedp run: %w", err)
	}

	resp := doc.snapshot(url, location)
	if !resp.isHTML() {
		return fetch.Page{}, fmt.Errorf("%s (%s): %w", resp.url, resp.mimeType, ErrNotHTML)
	}
	return fetch.Page{
		URL:          resp.url,
		StatusCode:   resp.status,
		Headers:      resp.headers,
		Body:         []byte(html),
		UsedHeadless: true,
		Duration:     time.Since(start),
	}, nil
}

func (r *Renderer) actions(opts fetch.BrowserOptions, url string, html, location *string) []chromedp.Action {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = r.cfg.UserAgent
	}
	return []chromedp.Action{
		r.prepareTab(userAgent, opts.Headers),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(location),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
}

func (r *Renderer) prepareTab(userAgent string, headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(r.blocked) > 0 {
			if err := network.SetBlockedURLs(r.blocked).Do(ctx); err != nil {
				return fmt.Errorf("block media: %w", err)
			}
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(cdpHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) takeSlot(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) giveSlot() {
	if r.slots != nil {
		<-r.slots
	}
}

// documentResponse tracks the last main-document response the tab received.
type documentResponse struct {
	mu       sync.Mutex
	status   int
	headers  http.Header
	url      string
	mimeType string
}

func (d *documentResponse) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range e.Response.Headers {
		for _, v := range headerValues(value) {
			headers.Add(key, v)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(e.Response.Status)
	d.headers = headers
	d.url = e.Response.URL
	d.mimeType = e.Response.MimeType
}

// snapshot copies the response, falling back to the tab location and then
// the requested URL when no document response was seen.
func (d *documentResponse) snapshot(requestURL, location string) documentResponse {
	d.mu.Lock()
	out := documentResponse{
		status:   d.status,
		headers:  d.headers.Clone(),
		url:      d.url,
		mimeType: d.mimeType,
	}
	d.mu.Unlock()

	if out.url == "" {
		out.url = location
	}
	if out.url == "" {
		out.url = requestURL
	}
	if out.status == 0 {
		out.status = http.StatusOK
	}
	if out.headers == nil {
		out.headers = http.Header{}
	}
	return out
}

// isHTML treats an unknown MIME type as HTML.
func (d *documentResponse) isHTML() bool {
	if d.mimeType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(d.mimeType)
	if err != nil {
		return true
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func headerValues(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			out = append(out, fmt.Sprint(entry))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func cdpHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = values
		}
	}
	return out
}
