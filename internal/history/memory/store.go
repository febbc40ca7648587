// Package memory provides an in-process history.Store for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/markdown-crawler/internal/history"
)

// Store keeps runs, versions, and documents in maps guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	runs      map[string]history.Run
	runOrder  []string
	versions  map[string][]history.ContentVersion
	documents map[string][]history.DocumentMetadata
	docIndex  map[docKey]struct{}
	nextID    int64
}

type docKey struct {
	runID string
	url   string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		runs:      make(map[string]history.Run),
		versions:  make(map[string][]history.ContentVersion),
		documents: make(map[string][]history.DocumentMetadata),
		docIndex:  make(map[docKey]struct{}),
	}
}

// BeginRun stores a new running run.
func (s *Store) BeginRun(_ context.Context, run history.Run) (history.Run, error) {
	if run.ID == "" {
		return history.Run{}, errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return history.Run{}, fmt.Errorf("run %s already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	run.Status = history.RunRunning
	run.EndedAt = nil
	run.Counts = history.RunCounts{}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return run, nil
}

// FinalizeRun closes a running run exactly once.
func (s *Store) FinalizeRun(
	_ context.Context,
	runID string,
	status history.RunStatus,
	counts history.RunCounts,
	endedAt time.Time,
) error {
	if err := history.ValidateFinalStatus(status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return history.ErrRunNotFound
	}
	if run.Status != history.RunRunning || run.EndedAt != nil {
		return history.ErrRunFinalized
	}
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	run.Status = status
	run.Counts = counts
	run.EndedAt = &endedAt
	s.runs[runID] = run
	return nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(_ context.Context, runID string) (history.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return history.Run{}, history.ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]history.Run, error) {
	limit = history.NormalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]history.Run, 0, min(limit, len(s.runOrder)))
	for i := len(s.runOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[s.runOrder[i]])
	}
	return out, nil
}

// LatestVersion returns the newest version recorded for url.
func (s *Store) LatestVersion(_ context.Context, url string) (history.ContentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[history.URLHash(url)]
	if len(versions) == 0 {
		return history.ContentVersion{}, history.ErrNotFound
	}
	return versions[len(versions)-1], nil
}

// RecordVersion appends a version for an existing run.
func (s *Store) RecordVersion(_ context.Context, v history.ContentVersion) (history.ContentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[v.RunID]; !ok {
		return history.ContentVersion{}, history.ErrRunNotFound
	}
	s.nextID++
	v.ID = s.nextID
	v.URLHash = history.URLHash(v.URL)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	s.versions[v.URLHash] = append(s.versions[v.URLHash], v)
	return v, nil
}

// ListVersions returns versions for url newest first.
func (s *Store) ListVersions(_ context.Context, url string, limit int) ([]history.ContentVersion, error) {
	limit = history.NormalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[history.URLHash(url)]
	out := make([]history.ContentVersion, 0, min(limit, len(versions)))
	for i := len(versions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, versions[i])
	}
	return out, nil
}

// RecordDocument appends one document row per (run, url).
func (s *Store) RecordDocument(_ context.Context, d history.DocumentMetadata) (history.DocumentMetadata, error) {
	if err := history.ValidateExtractionStatus(d.ExtractionStatus); err != nil {
		return history.DocumentMetadata{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[d.RunID]; !ok {
		return history.DocumentMetadata{}, history.ErrRunNotFound
	}
	key := docKey{runID: d.RunID, url: d.URL}
	if _, dup := s.docIndex[key]; dup {
		return history.DocumentMetadata{}, history.ErrDuplicateDocument
	}
	s.nextID++
	d.ID = s.nextID
	d.URLHash = history.URLHash(d.URL)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.docIndex[key] = struct{}{}
	s.documents[d.RunID] = append(s.documents[d.RunID], d)
	return d, nil
}

// ListDocuments returns the run's documents ordered by ID.
func (s *Store) ListDocuments(_ context.Context, runID string) ([]history.DocumentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, history.ErrRunNotFound
	}
	out := append([]history.DocumentMetadata(nil), s.documents[runID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements history.Store; it performs no action.
func (s *Store) Close() error {
	return nil
}
