package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/markdown-crawler/internal/fetch/ratelimit"
)

// Downloader retrieves raw document bytes.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// ErrTooLarge is returned when a document exceeds the configured size cap.
var ErrTooLarge = errors.New("document exceeds size limit")

// DownloadConfig controls HTTPDownloader.
type DownloadConfig struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	// RatePerSecond caps request starts per host across all workers; 0
	// disables it.
	RatePerSecond float64
	Burst         int
	OnThrottle    ratelimit.DelayFunc
}

// HTTPDownloader fetches documents over HTTP with per-host rate limiting.
type HTTPDownloader struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	userAgent string
	maxBytes  int64
}

// NewHTTPDownloader builds a downloader. A nil client gets a pooled default.
func NewHTTPDownloader(client *http.Client, cfg DownloadConfig) *HTTPDownloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 15 * time.Second,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPDownloader{
		client: client,
		limiter: ratelimit.New(ratelimit.Config{
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
			OnDelay:       cfg.OnThrottle,
		}),
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
	}
}

// Download waits for the host's rate-limit token, then GETs url and returns
// the body.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	if err := d.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
