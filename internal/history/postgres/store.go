// Package postgres implements history.Store on a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/markdown-crawler/internal/history"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Schema is applied by EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_history (
	id TEXT PRIMARY KEY,
	start_url TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	status TEXT NOT NULL,
	total_pages INTEGER NOT NULL DEFAULT 0,
	total_documents INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	config JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE TABLE IF NOT EXISTS content_versions (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	url_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	structural_hash TEXT NOT NULL DEFAULT '',
	storage_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	crawl_id TEXT NOT NULL REFERENCES crawl_history(id)
);
CREATE INDEX IF NOT EXISTS idx_content_versions_url_hash ON content_versions(url_hash);
CREATE TABLE IF NOT EXISTS document_metadata (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	url_hash TEXT NOT NULL,
	document_type TEXT NOT NULL DEFAULT '',
	original_filename TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	extraction_status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	crawl_id TEXT NOT NULL REFERENCES crawl_history(id),
	UNIQUE (crawl_id, url)
);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store writes crawl history into Postgres.
type Store struct {
	pool pool
	now  func() time.Time
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, now: func() time.Time { return time.Now().UTC() }}, nil
}

// NewStoreWithPool wraps an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the history tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
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
	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_history (id, start_url, start_time, status, config)
VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.StartURL, run.StartedAt, string(run.Status), cfg)
	if err != nil {
		return history.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinalizeRun sets the terminal state inside a transaction so a run is closed at most once.
func (s *Store) FinalizeRun(
	ctx context.Context,
	runID string,
	status history.RunStatus,
	counts history.RunCounts,
	endedAt time.Time,
) (err error) {
	if err := history.ValidateFinalStatus(status); err != nil {
		return err
	}
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
UPDATE crawl_history
SET status = $2, end_time = $3, total_pages = $4, total_documents = $5, error_count = $6
WHERE id = $1 AND status = 'running'`,
		runID, string(status), endedAt, counts.Pages, counts.Documents, counts.Errors)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		scanErr := tx.QueryRow(ctx, `SELECT status FROM crawl_history WHERE id = $1`, runID).Scan(&current)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return history.ErrRunNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("finalize run: %w", scanErr)
		}
		return history.ErrRunFinalized
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

const runColumns = `id, start_url, start_time, end_time, status, total_pages, total_documents, error_count, config`

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (history.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_history WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Run{}, history.ErrRunNotFound
	}
	if err != nil {
		return history.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]history.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM crawl_history ORDER BY start_time DESC LIMIT $1`,
		history.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []history.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

const versionColumns = `id, url, url_hash, content_hash, structural_hash, storage_type, storage_path, created_at, crawl_id`

// LatestVersion returns the newest version for url.
func (s *Store) LatestVersion(ctx context.Context, url string) (history.ContentVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM content_versions WHERE url_hash = $1 ORDER BY id DESC LIMIT 1`,
		history.URLHash(url))
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.ContentVersion{}, history.ErrNotFound
	}
	if err != nil {
		return history.ContentVersion{}, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

// RecordVersion appends a version row.
func (s *Store) RecordVersion(ctx context.Context, v history.ContentVersion) (history.ContentVersion, error) {
	v.URLHash = history.URLHash(v.URL)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	err := s.pool.QueryRow(ctx, `
INSERT INTO content_versions
	(url, url_hash, content_hash, structural_hash, storage_type, storage_path, created_at, crawl_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		v.URL, v.URLHash, v.ContentHash, v.StructuralHash, v.StorageType, v.StoragePath, v.CreatedAt, v.RunID,
	).Scan(&v.ID)
	if err != nil {
		return history.ContentVersion{}, fmt.Errorf("insert version: %w", mapConstraint(err))
	}
	return v, nil
}

// ListVersions returns versions for url, newest first.
func (s *Store) ListVersions(ctx context.Context, url string, limit int) ([]history.ContentVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM content_versions WHERE url_hash = $1 ORDER BY id DESC LIMIT $2`,
		history.URLHash(url), history.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()
	var out []history.ContentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("list versions: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return out, nil
}

// RecordDocument inserts a document row.
func (s *Store) RecordDocument(ctx context.Context, d history.DocumentMetadata) (history.DocumentMetadata, error) {
	if err := history.ValidateExtractionStatus(d.ExtractionStatus); err != nil {
		return history.DocumentMetadata{}, err
	}
	d.URLHash = history.URLHash(d.URL)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	err := s.pool.QueryRow(ctx, `
INSERT INTO document_metadata
	(url, url_hash, document_type, original_filename, content_hash, extraction_status, created_at, crawl_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		d.URL, d.URLHash, d.DocumentType, d.OriginalFilename, d.ContentHash,
		string(d.ExtractionStatus), d.CreatedAt, d.RunID,
	).Scan(&d.ID)
	if err != nil {
		return history.DocumentMetadata{}, fmt.Errorf("insert document: %w", mapConstraint(err))
	}
	return d, nil
}

// ListDocuments returns a run's documents in insertion order.
func (s *Store) ListDocuments(ctx context.Context, runID string) ([]history.DocumentMetadata, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_history WHERE id = $1)`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if !exists {
		return nil, history.ErrRunNotFound
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, url, url_hash, document_type, original_filename, content_hash, extraction_status, created_at, crawl_id
FROM document_metadata WHERE crawl_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []history.DocumentMetadata
	for rows.Next() {
		var (
			d      history.DocumentMetadata
			status string
		)
		if err := rows.Scan(&d.ID, &d.URL, &d.URLHash, &d.DocumentType, &d.OriginalFilename,
			&d.ContentHash, &status, &d.CreatedAt, &d.RunID); err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		d.ExtractionStatus = history.ExtractionStatus(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanRun(row pgx.Row) (history.Run, error) {
	var (
		run    history.Run
		ended  *time.Time
		status string
		cfg    []byte
	)
	if err := row.Scan(&run.ID, &run.StartURL, &run.StartedAt, &ended, &status,
		&run.Counts.Pages, &run.Counts.Documents, &run.Counts.Errors, &cfg); err != nil {
		return history.Run{}, err
	}
	run.EndedAt = ended
	run.Status = history.RunStatus(status)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &run.Config); err != nil {
			return history.Run{}, fmt.Errorf("decode run config: %w", err)
		}
	}
	return run, nil
}

func scanVersion(row pgx.Row) (history.ContentVersion, error) {
	var v history.ContentVersion
	err := row.Scan(&v.ID, &v.URL, &v.URLHash, &v.ContentHash, &v.StructuralHash,
		&v.StorageType, &v.StoragePath, &v.CreatedAt, &v.RunID)
	return v, err
}

func mapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		return history.ErrDuplicateDocument
	case foreignKeyViolation:
		return history.ErrRunNotFound
	default:
		return err
	}
}
