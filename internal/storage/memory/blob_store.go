// Package memory stores artifacts in-process for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

// BlobStore keeps artifacts in a map and returns memory:// references.
type BlobStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes int
}

var _ storage.Backend = (*BlobStore)(nil)

// NewBlobStore creates an empty in-memory store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Type implements storage.Backend.
func (s *BlobStore) Type() string {
	return storage.TypeMemory
}

// Put stores a copy of content under key.
func (s *BlobStore) Put(ctx context.Context, key string, content []byte) (storage.Ref, error) {
	if err := storage.ValidateKey(key); err != nil {
		return storage.Ref{}, &storage.UploadError{Backend: storage.TypeMemory, Key: key, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return storage.Ref{}, &storage.UploadError{Backend: storage.TypeMemory, Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), content...)
	s.writes++
	return storage.Ref{Type: storage.TypeMemory, Key: key, URI: "memory://" + key}, nil
}

// Get returns a copy of the stored content.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys lists stored keys in lexical order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes counts successful Put calls.
func (s *BlobStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
