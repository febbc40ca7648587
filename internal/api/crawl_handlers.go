package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/crawl"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

type startCrawlRequest struct {
	URL           string          `json:"url"`
	Storage       *storage.Target `json:"storage,omitempty"`
	SkipDocs      bool            `json:"skip_docs"`
	DownloadFiles bool            `json:"download_files"`
	Headless      bool            `json:"headless"`
	Wait          bool            `json:"wait"`
}

type runResponse struct {
	RunID        string             `json:"run_id"`
	Status       history.RunStatus  `json:"status"`
	Counts       *history.RunCounts `json:"counts,omitempty"`
	DocumentURLs []string           `json:"document_urls,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// startCrawl handles POST /api/crawl. It answers 202 with the run ID, or with
// wait=true blocks until the run ends and answers with its summary.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var body startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	h, err := s.crawls.Start(r.Context(), crawl.Request{
		URL:           body.URL,
		Storage:       body.Storage,
		SkipDocs:      body.SkipDocs,
		DownloadFiles: body.DownloadFiles,
		Headless:      body.Headless,
	})
	switch {
	case errors.Is(err, crawl.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, crawl.ErrRunActive):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("start crawl failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}

	if !body.Wait {
		s.writeJSON(w, http.StatusAccepted, runResponse{RunID: h.ID(), Status: history.RunRunning})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
	defer cancel()
	sum, err := h.Wait(ctx)
	if err != nil {
		// The run keeps going; the client can poll status.
		s.writeJSON(w, http.StatusAccepted, runResponse{RunID: h.ID(), Status: history.RunRunning, Error: err.Error()})
		return
	}
	s.writeJSON(w, summaryStatus(sum), toRunResponse(sum))
}

func summaryStatus(sum crawl.Summary) int {
	var fetchErr *crawl.FetchError
	switch {
	case errors.As(sum.Err, &fetchErr):
		return http.StatusBadGateway
	case sum.Status == history.RunFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func toRunResponse(sum crawl.Summary) runResponse {
	counts := sum.Counts
	resp := runResponse{
		RunID:        sum.RunID,
		Status:       sum.Status,
		Counts:       &counts,
		DocumentURLs: sum.DocumentURLs,
	}
	if resp.DocumentURLs == nil {
		resp.DocumentURLs = []string{}
	}
	if sum.Err != nil {
		resp.Error = sum.Err.Error()
	}
	return resp
}

func (s *Server) crawlStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.crawls.Status())
}

// stopCrawl handles POST /api/crawl/stop. Stopping is always acknowledged;
// run_id is set when a run was active.
func (s *Server) stopCrawl(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"acknowledged": true}
	h, err := s.crawls.Stop()
	switch {
	case errors.Is(err, crawl.ErrNoActiveRun):
	case err != nil:
		s.logger.Error("stop crawl failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to stop crawl")
		return
	default:
		resp["run_id"] = h.ID()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.crawls.Config())
}

// updateConfig handles PUT /api/config. Rejected updates leave the active
// snapshot unchanged.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var u config.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snap, err := s.crawls.UpdateConfig(u)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("update config failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to update config")
		return
	}
	s.logger.Info("crawl config updated",
		zap.Int("max_depth", snap.MaxDepth),
		zap.Int("parallel_downloads", snap.ParallelDownloads),
		zap.Strings("allowed_file_types", snap.AllowedFileTypes),
	)
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) recentContent(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"items": s.crawls.Recent()})
}

// crawlEvents streams the active run's progress as server-sent events until
// the run ends or the client disconnects.
func (s *Server) crawlEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	h, events, cancel, err := s.crawls.Subscribe()
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				s.logger.Debug("event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-h.Done():
			// Late subscribers can miss the terminal event; close after
			// whatever is already buffered.
			for {
				select {
				case evt, ok := <-events:
					if !ok {
						return
					}
					if err := writeEvent(w, evt); err != nil {
						return
					}
					flusher.Flush()
				default:
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, evt progress.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Stage, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
