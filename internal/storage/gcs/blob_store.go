// Package gcs provides a storage.Backend backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/markdown-crawler/internal/hash/sha256"
	crawlstorage "github.com/JakeFAU/markdown-crawler/internal/storage"
)

// Config captures the parameters required to write to a bucket.
type Config struct {
	Bucket string
	// Prefix is prepended to every key, without a trailing slash.
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ crawlstorage.Backend = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Type implements storage.Backend.
func (s *BlobStore) Type() string {
	return crawlstorage.TypeGCS
}

// Put uploads content and returns a gs:// reference. Objects whose recorded
// sha256 metadata already matches are not re-uploaded. A failed upload is
// cancelled so no partial object is committed.
func (s *BlobStore) Put(ctx context.Context, key string, content []byte) (crawlstorage.Ref, error) {
	if err := crawlstorage.ValidateKey(key); err != nil {
		return crawlstorage.Ref{}, s.uploadError(key, err)
	}
	name := key
	if s.prefix != "" {
		name = s.prefix + "/" + key
	}
	ref := crawlstorage.Ref{
		Type: crawlstorage.TypeGCS,
		Key:  key,
		URI:  fmt.Sprintf("gs://%s/%s", s.bucket, name),
	}
	sum := sha256.Sum(content)
	obj := s.client.Bucket(s.bucket).Object(name)

	if attrs, err := obj.Attrs(ctx); err == nil && attrs.Metadata["sha256"] == sum {
		return ref, nil
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := obj.NewWriter(writeCtx)
	writer.ContentType = crawlstorage.ContentType(key)
	writer.Metadata = map[string]string{"sha256": sum}
	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		cancel()
		_ = writer.Close()
		return crawlstorage.Ref{}, s.uploadError(key, fmt.Errorf("copy object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return crawlstorage.Ref{}, s.uploadError(key, fmt.Errorf("close writer: %w", err))
	}
	return ref, nil
}

func (s *BlobStore) uploadError(key string, err error) error {
	return &crawlstorage.UploadError{Backend: crawlstorage.TypeGCS, Key: key, Err: err}
}
