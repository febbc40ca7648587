package config

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/markdown-crawler/internal/change"
	"github.com/JakeFAU/markdown-crawler/internal/convert"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

// Limits enforced on crawl snapshots.
const (
	MaxDepthLimit          = 10
	MaxPagesLimit          = 10000
	ParallelDownloadsLimit = 64
)

// ValidationError rejects a configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CrawlConfig is the immutable snapshot a run captures at start. Holders
// replace it wholesale; fields are never mutated in place.
type CrawlConfig struct {
	Database          string          `json:"database"`
	Storage           storage.Target  `json:"storage"`
	MaxDepth          int             `json:"max_depth"`
	MaxPages          int             `json:"max_pages"`
	StayOnDomain      bool            `json:"stay_on_domain"`
	FollowSubdomains  bool            `json:"follow_subdomains"`
	ParallelDownloads int             `json:"parallel_downloads"`
	AllowedFileTypes  []string        `json:"allowed_file_types"`
	ChangeStrategy    change.Strategy `json:"change_strategy"`
	ForceRefresh      bool            `json:"force_refresh"`
	RetryDelay        time.Duration   `json:"retry_delay"`
}

// Crawl derives the initial snapshot from the loaded configuration.
func (c Config) Crawl() (CrawlConfig, error) {
	strategy, err := change.ParseStrategy(c.Crawler.ChangeStrategy)
	if err != nil {
		return CrawlConfig{}, &ValidationError{Field: "change_strategy", Reason: err.Error()}
	}
	target := storage.Target{Type: strings.ToLower(c.Storage.Type)}
	switch target.Type {
	case storage.TypeGCS:
		target.Bucket = c.Storage.GCSBucket
	case storage.TypeLocal:
		target.Path = c.Storage.LocalPath
	}
	if err := target.Validate(); err != nil {
		return CrawlConfig{}, &ValidationError{Field: "storage", Reason: err.Error()}
	}
	snap := CrawlConfig{
		Database:          c.Database.Driver,
		Storage:           target,
		MaxDepth:          c.Crawler.MaxDepth,
		MaxPages:          c.Crawler.MaxPages,
		StayOnDomain:      c.Crawler.StayOnDomain,
		FollowSubdomains:  c.Crawler.FollowSubdomains,
		ParallelDownloads: c.Crawler.ParallelDownloads,
		AllowedFileTypes:  c.Crawler.AllowedFileTypes,
		ChangeStrategy:    strategy,
		ForceRefresh:      c.Crawler.ForceRefresh,
		RetryDelay:        time.Duration(c.Crawler.RetryDelayMs) * time.Millisecond,
	}
	return snap.normalize()
}

// Validate checks every limit and returns the first *ValidationError.
func (c CrawlConfig) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize returns a validated copy with file types lowercased, deduplicated
// and stripped of leading dots.
func (c CrawlConfig) normalize() (CrawlConfig, error) {
	if c.MaxDepth < 0 || c.MaxDepth > MaxDepthLimit {
		return CrawlConfig{}, &ValidationError{Field: "max_depth", Reason: fmt.Sprintf("must be between 0 and %d", MaxDepthLimit)}
	}
	if c.MaxPages < 1 || c.MaxPages > MaxPagesLimit {
		return CrawlConfig{}, &ValidationError{Field: "max_pages", Reason: fmt.Sprintf("must be between 1 and %d", MaxPagesLimit)}
	}
	if c.ParallelDownloads < 1 || c.ParallelDownloads > ParallelDownloadsLimit {
		return CrawlConfig{}, &ValidationError{
			Field:  "parallel_downloads",
			Reason: fmt.Sprintf("must be between 1 and %d", ParallelDownloadsLimit),
		}
	}
	if c.RetryDelay < 0 {
		return CrawlConfig{}, &ValidationError{Field: "retry_delay", Reason: "must not be negative"}
	}
	if _, err := change.ParseStrategy(string(c.ChangeStrategy)); err != nil {
		return CrawlConfig{}, &ValidationError{Field: "change_strategy", Reason: err.Error()}
	}
	if c.ChangeStrategy == "" {
		c.ChangeStrategy = change.StrategyContentHash
	}
	types, err := normalizeFileTypes(c.AllowedFileTypes)
	if err != nil {
		return CrawlConfig{}, err
	}
	c.AllowedFileTypes = types
	return c, nil
}

func normalizeFileTypes(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, &ValidationError{Field: "allowed_file_types", Reason: "at least one file type is required"}
	}
	supported := convert.SupportedExtensions()
	out := make([]string, 0, len(in))
	for _, raw := range in {
		ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), ".")
		if !slices.Contains(supported, ext) {
			return nil, &ValidationError{
				Field:  "allowed_file_types",
				Reason: fmt.Sprintf("%q is not one of %s", raw, strings.Join(supported, ", ")),
			}
		}
		if !slices.Contains(out, ext) {
			out = append(out, ext)
		}
	}
	return out, nil
}

// Allows reports whether a document extension (without dot, any case) is in
// the allowed set.
func (c CrawlConfig) Allows(ext string) bool {
	return slices.Contains(c.AllowedFileTypes, strings.ToLower(strings.TrimPrefix(ext, ".")))
}

// RunConfig is the subset embedded in the run's history row.
func (c CrawlConfig) RunConfig() history.RunConfig {
	return history.RunConfig{
		MaxDepth:     c.MaxDepth,
		StayOnDomain: c.StayOnDomain,
		StorageType:  c.Storage.Type,
	}
}

// WithStorage returns a copy targeting a different storage destination.
func (c CrawlConfig) WithStorage(target storage.Target) CrawlConfig {
	c.Storage = target
	return c
}

// Update is a partial crawl configuration change; nil fields keep the
// current value.
type Update struct {
	MaxDepth          *int     `json:"max_depth,omitempty"`
	MaxPages          *int     `json:"max_pages,omitempty"`
	StayOnDomain      *bool    `json:"stay_on_domain,omitempty"`
	FollowSubdomains  *bool    `json:"follow_subdomains,omitempty"`
	ParallelDownloads *int     `json:"parallel_downloads,omitempty"`
	AllowedFileTypes  []string `json:"allowed_file_types,omitempty"`
	ChangeStrategy    *string  `json:"change_strategy,omitempty"`
	ForceRefresh      *bool    `json:"force_refresh,omitempty"`
}

// Apply returns a new validated snapshot with u applied on top of c. c is
// left untouched.
func (c CrawlConfig) Apply(u Update) (CrawlConfig, error) {
	next := c
	next.AllowedFileTypes = slices.Clone(c.AllowedFileTypes)
	if u.MaxDepth != nil {
		next.MaxDepth = *u.MaxDepth
	}
	if u.MaxPages != nil {
		next.MaxPages = *u.MaxPages
	}
	if u.StayOnDomain != nil {
		next.StayOnDomain = *u.StayOnDomain
	}
	if u.FollowSubdomains != nil {
		next.FollowSubdomains = *u.FollowSubdomains
	}
	if u.ParallelDownloads != nil {
		next.ParallelDownloads = *u.ParallelDownloads
	}
	if u.AllowedFileTypes != nil {
		next.AllowedFileTypes = slices.Clone(u.AllowedFileTypes)
	}
	if u.ChangeStrategy != nil {
		next.ChangeStrategy = change.Strategy(strings.ToLower(strings.TrimSpace(*u.ChangeStrategy)))
		if next.ChangeStrategy == "" {
			return CrawlConfig{}, &ValidationError{Field: "change_strategy", Reason: "must not be empty"}
		}
	}
	if u.ForceRefresh != nil {
		next.ForceRefresh = *u.ForceRefresh
	}
	return next.normalize()
}

// Holder publishes the active CrawlConfig. Readers never block; updates are
// serialized and swap the snapshot atomically.
type Holder struct {
	mu      sync.Mutex
	current atomic.Pointer[CrawlConfig]
}

// NewHolder validates initial and makes it the active snapshot.
func NewHolder(initial CrawlConfig) (*Holder, error) {
	snap, err := initial.normalize()
	if err != nil {
		return nil, err
	}
	h := &Holder{}
	h.current.Store(&snap)
	return h, nil
}

// Current returns the active snapshot.
func (h *Holder) Current() CrawlConfig {
	return *h.current.Load()
}

// Update applies u to the active snapshot. On error the active snapshot is
// unchanged.
func (h *Holder) Update(u Update) (CrawlConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := h.Current().Apply(u)
	if err != nil {
		return CrawlConfig{}, err
	}
	h.current.Store(&next)
	return next, nil
}
