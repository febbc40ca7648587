package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/crawl"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/metrics"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// Crawler is the run registry the handlers drive.
type Crawler interface {
	Start(ctx context.Context, req crawl.Request) (*crawl.Handle, error)
	Stop() (*crawl.Handle, error)
	Status() crawl.Status
	Recent() []crawl.RecentItem
	Subscribe() (*crawl.Handle, <-chan progress.Event, func(), error)
	Config() config.CrawlConfig
	UpdateConfig(u config.Update) (config.CrawlConfig, error)
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the run registry and history store.
type Server struct {
	router         chi.Router
	crawls         Crawler
	runs           history.Store
	metrics        *metrics.Metrics
	ready          ReadyFunc
	logger         *zap.Logger
	requestTimeout time.Duration
	waitTimeout    time.Duration
	historyTimeout time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables request metrics and the /metrics route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadiness sets the /readyz check.
func WithReadiness(fn ReadyFunc) Option {
	return func(s *Server) { s.ready = fn }
}

// WithWaitTimeout bounds how long POST /api/crawl with wait=true blocks.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.waitTimeout = d
		}
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(crawls Crawler, runs history.Store, opts ...Option) *Server {
	s := &Server{
		crawls:         crawls,
		runs:           runs,
		logger:         zap.NewNop(),
		requestTimeout: 30 * time.Second,
		waitTimeout:    30 * time.Minute,
		historyTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.metrics.Middleware)

	// Streaming and long-polling routes manage their own lifetimes.
	r.Get("/api/crawl/events", s.crawlEvents)
	r.Post("/api/crawl", s.startCrawl)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(s.requestTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/crawl/status", s.crawlStatus)
			r.Post("/crawl/stop", s.stopCrawl)
			r.Get("/config", s.getConfig)
			r.Put("/config", s.updateConfig)
			r.Get("/content/recent", s.recentContent)
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
