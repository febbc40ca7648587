// Package local implements a storage.Backend on the local filesystem.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

// Config captures the parameters for the local filesystem backend.
type Config struct {
	// BaseDir is the root directory where artifacts are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts under a base directory.
type BlobStore struct {
	baseDir string
}

var _ storage.Backend = (*BlobStore)(nil)

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(base)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(base, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(base, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}
	return &BlobStore{baseDir: base}, nil
}

// Type implements storage.Backend.
func (s *BlobStore) Type() string {
	return storage.TypeLocal
}

// BaseDir returns the absolute root directory.
func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

// Put writes content to a temp file beside the destination and renames it
// into place. Identical existing content is left untouched.
func (s *BlobStore) Put(ctx context.Context, key string, content []byte) (storage.Ref, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return storage.Ref{}, &storage.UploadError{Backend: storage.TypeLocal, Key: key, Err: err}
	}
	ref := storage.Ref{Type: storage.TypeLocal, Key: key, URI: "file://" + fullPath}
	if err := ctx.Err(); err != nil {
		return storage.Ref{}, &storage.UploadError{Backend: storage.TypeLocal, Key: key, Err: err}
	}

	// #nosec G304 -- path is confined to baseDir by resolve.
	if existing, err := os.ReadFile(fullPath); err == nil && bytes.Equal(existing, content) {
		return ref, nil
	}
	if err := writeAtomic(fullPath, content); err != nil {
		return storage.Ref{}, &storage.UploadError{Backend: storage.TypeLocal, Key: key, Err: err}
	}
	return ref, nil
}

func (s *BlobStore) resolve(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func writeAtomic(fullPath string, content []byte) (err error) {
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
