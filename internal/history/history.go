// Package history defines the durable audit record of crawl runs, the page
// versions they produced, and the documents they converted.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/markdown-crawler/internal/hash/sha256"
)

// Errors returned by Store implementations.
var (
	ErrNotFound          = errors.New("history record not found")
	ErrRunNotFound       = errors.New("crawl run not found")
	ErrRunFinalized      = errors.New("crawl run already finalized")
	ErrDuplicateDocument = errors.New("document already recorded for run")
	ErrInvalidStatus     = errors.New("invalid run status")
)

// RunStatus mirrors the crawl_history.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunStopped:
		return true
	default:
		return false
	}
}

// ExtractionStatus mirrors document_metadata.extraction_status.
type ExtractionStatus string

// Document extraction outcomes.
const (
	ExtractionSuccess     ExtractionStatus = "success"
	ExtractionFailed      ExtractionStatus = "failed"
	ExtractionUnsupported ExtractionStatus = "unsupported"
)

// RunConfig is the configuration snapshot embedded in each run row.
type RunConfig struct {
	MaxDepth     int    `json:"max_depth"`
	StayOnDomain bool   `json:"stay_on_domain"`
	StorageType  string `json:"storage_type"`
}

// RunCounts are the aggregate counters written when a run is finalized.
type RunCounts struct {
	Pages     int `json:"total_pages"`
	Documents int `json:"total_documents"`
	Errors    int `json:"error_count"`
}

// Run is one crawl execution (crawl_history row).
type Run struct {
	ID        string     `json:"id"`
	StartURL  string     `json:"start_url"`
	StartedAt time.Time  `json:"start_time"`
	EndedAt   *time.Time `json:"end_time,omitempty"`
	Status    RunStatus  `json:"status"`
	Counts    RunCounts  `json:"counts"`
	Config    RunConfig  `json:"config"`
}

// ContentVersion is one persisted page snapshot.
type ContentVersion struct {
	ID             int64     `json:"id"`
	URL            string    `json:"url"`
	URLHash        string    `json:"url_hash"`
	ContentHash    string    `json:"content_hash"`
	StructuralHash string    `json:"structural_hash"`
	StorageType    string    `json:"storage_type"`
	StoragePath    string    `json:"storage_path"`
	CreatedAt      time.Time `json:"created_at"`
	RunID          string    `json:"crawl_id"`
}

// DocumentMetadata is one document conversion outcome.
type DocumentMetadata struct {
	ID               int64            `json:"id"`
	URL              string           `json:"url"`
	URLHash          string           `json:"url_hash"`
	DocumentType     string           `json:"document_type"`
	OriginalFilename string           `json:"original_filename"`
	ContentHash      string           `json:"content_hash"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	CreatedAt        time.Time        `json:"created_at"`
	RunID            string           `json:"crawl_id"`
}

// Store persists runs, versions, and document metadata with referential
// integrity between them.
type Store interface {
	// BeginRun inserts a running row. run.ID must be set by the caller.
	BeginRun(ctx context.Context, run Run) (Run, error)
	// FinalizeRun sets the terminal status, counters and end time exactly once.
	FinalizeRun(ctx context.Context, runID string, status RunStatus, counts RunCounts, endedAt time.Time) error
	// GetRun loads a run or returns ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// LatestVersion returns the newest version for url or ErrNotFound.
	LatestVersion(ctx context.Context, url string) (ContentVersion, error)
	// RecordVersion appends a version and returns it with ID and CreatedAt set.
	RecordVersion(ctx context.Context, v ContentVersion) (ContentVersion, error)
	// ListVersions returns versions for url, newest first.
	ListVersions(ctx context.Context, url string, limit int) ([]ContentVersion, error)

	// RecordDocument appends a document row; a second row for the same
	// (run, url) returns ErrDuplicateDocument.
	RecordDocument(ctx context.Context, d DocumentMetadata) (DocumentMetadata, error)
	// ListDocuments returns the documents recorded for a run in insertion order.
	ListDocuments(ctx context.Context, runID string) ([]DocumentMetadata, error)

	Close() error
}

// URLHash returns the indexed digest of a URL.
func URLHash(url string) string {
	return sha256.SumString(url)
}

// ValidateFinalStatus rejects statuses a run cannot be finalized with.
func ValidateFinalStatus(status RunStatus) error {
	if !status.Terminal() {
		return ErrInvalidStatus
	}
	return nil
}

// ValidateExtractionStatus rejects unknown document outcomes.
func ValidateExtractionStatus(status ExtractionStatus) error {
	switch status {
	case ExtractionSuccess, ExtractionFailed, ExtractionUnsupported:
		return nil
	default:
		return errors.New("invalid extraction status")
	}
}

// NormalizeLimit clamps list limits to a sane range.
func NormalizeLimit(limit int) int {
	const (
		defaultLimit = 50
		maxLimit     = 500
	)
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}
