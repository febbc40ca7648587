// Package sqlite implements history.Store on a local SQLite file using sqlx.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/markdown-crawler/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_history (
	id TEXT PRIMARY KEY,
	start_url TEXT NOT NULL,
	start_time TIMESTAMP NOT NULL,
	end_time TIMESTAMP,
	status TEXT NOT NULL,
	total_pages INTEGER NOT NULL DEFAULT 0,
	total_documents INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	config TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS content_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	url_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	structural_hash TEXT NOT NULL DEFAULT '',
	storage_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	crawl_id TEXT NOT NULL REFERENCES crawl_history(id)
);

CREATE TABLE IF NOT EXISTS document_metadata (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	url_hash TEXT NOT NULL,
	document_type TEXT NOT NULL DEFAULT '',
	original_filename TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	extraction_status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	crawl_id TEXT NOT NULL REFERENCES crawl_history(id),
	UNIQUE (crawl_id, url)
);

CREATE INDEX IF NOT EXISTS idx_content_versions_url_hash ON content_versions(url_hash);
CREATE INDEX IF NOT EXISTS idx_document_metadata_crawl ON document_metadata(crawl_id);
CREATE INDEX IF NOT EXISTS idx_crawl_history_start ON crawl_history(start_time);
`

// Store is a history.Store backed by SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

type runRow struct {
	ID             string       `db:"id"`
	StartURL       string       `db:"start_url"`
	StartTime      time.Time    `db:"start_time"`
	EndTime        sql.NullTime `db:"end_time"`
	Status         string       `db:"status"`
	TotalPages     int          `db:"total_pages"`
	TotalDocuments int          `db:"total_documents"`
	ErrorCount     int          `db:"error_count"`
	Config         string       `db:"config"`
}

type versionRow struct {
	ID             int64     `db:"id"`
	URL            string    `db:"url"`
	URLHash        string    `db:"url_hash"`
	ContentHash    string    `db:"content_hash"`
	StructuralHash string    `db:"structural_hash"`
	StorageType    string    `db:"storage_type"`
	StoragePath    string    `db:"storage_path"`
	CreatedAt      time.Time `db:"created_at"`
	CrawlID        string    `db:"crawl_id"`
}

type documentRow struct {
	ID               int64     `db:"id"`
	URL              string    `db:"url"`
	URLHash          string    `db:"url_hash"`
	DocumentType     string    `db:"document_type"`
	OriginalFilename string    `db:"original_filename"`
	ContentHash      string    `db:"content_hash"`
	ExtractionStatus string    `db:"extraction_status"`
	CreatedAt        time.Time `db:"created_at"`
	CrawlID          string    `db:"crawl_id"`
}

// Open creates (if needed) and opens the database at path, bootstrapping the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection serializes access and keeps foreign key pragmas consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// BeginRun inserts a running crawl_history row.
func (s *Store) BeginRun(ctx context.Context, run history.Run) (history.Run, error) {
	if run.ID == "" {
		return history.Run{}, errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	run.Status = history.RunRunning
	run.EndedAt = nil
	run.Counts = history.RunCounts{}

	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return history.Run{}, fmt.Errorf("marshal run config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crawl_history (id, start_url, start_time, status, config)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartURL, run.StartedAt, string(run.Status), string(cfg))
	if err != nil {
		return history.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinalizeRun writes the terminal status once; later calls return history.ErrRunFinalized.
func (s *Store) FinalizeRun(
	ctx context.Context,
	runID string,
	status history.RunStatus,
	counts history.RunCounts,
	endedAt time.Time,
) error {
	if err := history.ValidateFinalStatus(status); err != nil {
		return err
	}
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_history
		SET status = ?, end_time = ?, total_pages = ?, total_documents = ?, error_count = ?
		WHERE id = ? AND status = ?`,
		string(status), endedAt, counts.Pages, counts.Documents, counts.Errors,
		runID, string(history.RunRunning))
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return history.ErrRunFinalized
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (history.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM crawl_history WHERE id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Run{}, history.ErrRunNotFound
	}
	if err != nil {
		return history.Run{}, fmt.Errorf("get run: %w", err)
	}
	return row.toRun()
}

// ListRuns returns runs ordered by start time, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]history.Run, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM crawl_history ORDER BY start_time DESC, rowid DESC LIMIT ?`,
		history.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]history.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// LatestVersion returns the newest content version for url.
func (s *Store) LatestVersion(ctx context.Context, url string) (history.ContentVersion, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM content_versions WHERE url_hash = ? ORDER BY id DESC LIMIT 1`,
		history.URLHash(url))
	if errors.Is(err, sql.ErrNoRows) {
		return history.ContentVersion{}, history.ErrNotFound
	}
	if err != nil {
		return history.ContentVersion{}, fmt.Errorf("latest version: %w", err)
	}
	return row.toVersion(), nil
}

// RecordVersion appends a content version.
func (s *Store) RecordVersion(ctx context.Context, v history.ContentVersion) (history.ContentVersion, error) {
	v.URLHash = history.URLHash(v.URL)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO content_versions
			(url, url_hash, content_hash, structural_hash, storage_type, storage_path, created_at, crawl_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.URL, v.URLHash, v.ContentHash, v.StructuralHash, v.StorageType, v.StoragePath, v.CreatedAt, v.RunID)
	if err != nil {
		return history.ContentVersion{}, fmt.Errorf("insert version: %w", mapConstraint(err))
	}
	if v.ID, err = res.LastInsertId(); err != nil {
		return history.ContentVersion{}, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

// ListVersions returns versions for url, newest first.
func (s *Store) ListVersions(ctx context.Context, url string, limit int) ([]history.ContentVersion, error) {
	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM content_versions WHERE url_hash = ? ORDER BY id DESC LIMIT ?`,
		history.URLHash(url), history.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	out := make([]history.ContentVersion, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toVersion())
	}
	return out, nil
}

// RecordDocument inserts a document row, unique per (run, url).
func (s *Store) RecordDocument(ctx context.Context, d history.DocumentMetadata) (history.DocumentMetadata, error) {
	if err := history.ValidateExtractionStatus(d.ExtractionStatus); err != nil {
		return history.DocumentMetadata{}, err
	}
	d.URLHash = history.URLHash(d.URL)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_metadata
			(url, url_hash, document_type, original_filename, content_hash, extraction_status, created_at, crawl_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.URL, d.URLHash, d.DocumentType, d.OriginalFilename, d.ContentHash,
		string(d.ExtractionStatus), d.CreatedAt, d.RunID)
	if err != nil {
		return history.DocumentMetadata{}, fmt.Errorf("insert document: %w", mapConstraint(err))
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return history.DocumentMetadata{}, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

// ListDocuments returns a run's documents in insertion order.
func (s *Store) ListDocuments(ctx context.Context, runID string) ([]history.DocumentMetadata, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM document_metadata WHERE crawl_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]history.DocumentMetadata, 0, len(rows))
	for _, row := range rows {
		out = append(out, history.DocumentMetadata{
			ID:               row.ID,
			URL:              row.URL,
			URLHash:          row.URLHash,
			DocumentType:     row.DocumentType,
			OriginalFilename: row.OriginalFilename,
			ContentHash:      row.ContentHash,
			ExtractionStatus: history.ExtractionStatus(row.ExtractionStatus),
			CreatedAt:        row.CreatedAt,
			RunID:            row.CrawlID,
		})
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (r runRow) toRun() (history.Run, error) {
	run := history.Run{
		ID:        r.ID,
		StartURL:  r.StartURL,
		StartedAt: r.StartTime,
		Status:    history.RunStatus(r.Status),
		Counts: history.RunCounts{
			Pages:     r.TotalPages,
			Documents: r.TotalDocuments,
			Errors:    r.ErrorCount,
		},
	}
	if r.EndTime.Valid {
		ended := r.EndTime.Time
		run.EndedAt = &ended
	}
	if err := json.Unmarshal([]byte(r.Config), &run.Config); err != nil {
		return history.Run{}, fmt.Errorf("decode run config: %w", err)
	}
	return run, nil
}

func (r versionRow) toVersion() history.ContentVersion {
	return history.ContentVersion{
		ID:             r.ID,
		URL:            r.URL,
		URLHash:        r.URLHash,
		ContentHash:    r.ContentHash,
		StructuralHash: r.StructuralHash,
		StorageType:    r.StorageType,
		StoragePath:    r.StoragePath,
		CreatedAt:      r.CreatedAt,
		RunID:          r.CrawlID,
	}
}

func mapConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique:
		return history.ErrDuplicateDocument
	case sqlite3.ErrConstraintForeignKey:
		return history.ErrRunNotFound
	default:
		return err
	}
}
