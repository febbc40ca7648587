// Package storage defines the artifact persistence abstraction shared by the
// local filesystem, Google Cloud Storage, and in-memory backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend types.
const (
	TypeLocal  = "local"
	TypeGCS    = "gcs"
	TypeMemory = "memory"
)

// MarkdownContentType is attached to every .md artifact.
const MarkdownContentType = "text/markdown; charset=utf-8"

// Ref locates a persisted artifact.
type Ref struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	URI  string `json:"uri"`
}

// Backend persists artifacts by key. Writes are atomic and overwrite-safe:
// a reader never observes a partially written object, and writing identical
// content twice leaves the same artifact in place.
type Backend interface {
	Type() string
	Put(ctx context.Context, key string, content []byte) (Ref, error)
}

// Target is the storage destination requested for one run.
type Target struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

// Validate checks the target has the fields its type requires.
func (t Target) Validate() error {
	switch strings.ToLower(t.Type) {
	case TypeLocal:
		if strings.TrimSpace(t.Path) == "" {
			return errors.New("local storage requires a path")
		}
	case TypeGCS:
		if strings.TrimSpace(t.Bucket) == "" {
			return errors.New("gcs storage requires a bucket")
		}
	case TypeMemory:
	default:
		return fmt.Errorf("unknown storage type %q", t.Type)
	}
	return nil
}

// UploadError reports a failed write for a key.
type UploadError struct {
	Backend string
	Key     string
	Err     error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s to %s: %v", e.Key, e.Backend, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ContentType returns the MIME type recorded for key.
func ContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".md"):
		return MarkdownContentType
	default:
		return "application/octet-stream"
	}
}

// ValidateKey rejects empty keys and keys escaping the backend root.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key %q must be relative", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("key %q escapes the storage root", key)
		}
	}
	return nil
}

// PutWithRetry writes once and, on failure, retries a single time after
// delay. The last failure is returned as *UploadError.
func PutWithRetry(ctx context.Context, b Backend, key string, content []byte, delay time.Duration) (Ref, error) {
	ref, err := b.Put(ctx, key, content)
	if err == nil {
		return ref, nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Ref{}, asUploadError(b, key, err)
	case <-timer.C:
	}
	ref, err = b.Put(ctx, key, content)
	if err != nil {
		return Ref{}, asUploadError(b, key, err)
	}
	return ref, nil
}

func asUploadError(b Backend, key string, err error) error {
	var upErr *UploadError
	if errors.As(err, &upErr) {
		return err
	}
	return &UploadError{Backend: b.Type(), Key: key, Err: err}
}
