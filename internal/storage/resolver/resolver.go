// Package resolver opens storage backends for per-run storage targets.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/storage"
	"github.com/JakeFAU/markdown-crawler/internal/storage/gcs"
	"github.com/JakeFAU/markdown-crawler/internal/storage/local"
	"github.com/JakeFAU/markdown-crawler/internal/storage/memory"
)

// ClientFunc lazily constructs the shared GCS client.
type ClientFunc func(ctx context.Context) (*gcsclient.Client, error)

// Resolver maps storage targets to backends, sharing one GCS client and
// one in-memory store across runs.
type Resolver struct {
	newClient ClientFunc
	prefix    string
	logger    *zap.Logger

	mu     sync.Mutex
	client *gcsclient.Client
	mem    *memory.BlobStore
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClientFunc overrides how the GCS client is built.
func WithClientFunc(fn ClientFunc) Option {
	return func(r *Resolver) { r.newClient = fn }
}

// WithGCSPrefix prefixes every GCS object name.
func WithGCSPrefix(prefix string) Option {
	return func(r *Resolver) { r.prefix = prefix }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		newClient: func(ctx context.Context) (*gcsclient.Client, error) {
			return gcsclient.NewClient(ctx)
		},
		logger: zap.NewNop(),
		mem:    memory.NewBlobStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns a backend for target.
func (r *Resolver) Open(ctx context.Context, target storage.Target) (storage.Backend, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(target.Type) {
	case storage.TypeLocal:
		backend, err := local.New(local.Config{BaseDir: target.Path})
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return backend, nil
	case storage.TypeGCS:
		client, err := r.gcsClient(ctx)
		if err != nil {
			return nil, err
		}
		backend, err := gcs.New(client, gcs.Config{Bucket: target.Bucket, Prefix: r.prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs storage: %w", err)
		}
		return backend, nil
	default:
		return r.mem, nil
	}
}

// Memory exposes the shared in-memory backend.
func (r *Resolver) Memory() *memory.BlobStore {
	return r.mem
}

// Close releases the GCS client if one was created.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func (r *Resolver) gcsClient(ctx context.Context) (*gcsclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := r.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	r.logger.Info("gcs client initialized")
	r.client = client
	return client, nil
}
