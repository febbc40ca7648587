package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/history"
)

// listRuns handles GET /api/runs?limit=. It returns {"runs": [...]} newest
// first, 400 for a malformed limit, or 500 if the store fails.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.historyTimeout)
	defer cancel()

	runs, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// getRun handles GET /api/runs/{run_id}. It returns the run with its
// document rows, 404 when the run is unknown, or 500 otherwise.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		s.writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.historyTimeout)
	defer cancel()

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	docs, err := s.runs.ListDocuments(ctx, runID)
	if err != nil {
		s.logger.Error("list documents failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []history.DocumentMetadata{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run, "documents": docs})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return history.NormalizeLimit(val), nil
}
