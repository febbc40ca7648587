// Package ratelimit paces outbound requests per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayFunc observes how long a request waited for its host's token.
type DelayFunc func(host string, d time.Duration)

// Config holds rate limiter configuration.
type Config struct {
	// RatePerSecond is the per-host request rate; <= 0 disables limiting.
	RatePerSecond float64
	Burst         int
	OnDelay       DelayFunc
}

// Limiter hands out one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	onDelay  DelayFunc
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		onDelay:  cfg.OnDelay,
	}
}

// Wait blocks until rawURL's host has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.forHost(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth reporting.
	if d := time.Since(start); d > time.Millisecond && l.onDelay != nil {
		l.onDelay(host, d)
	}
	return nil
}

// Hosts returns how many hosts have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	return lim
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
