// Package server builds the crawl service's dependencies and runs its HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/api"
	"github.com/JakeFAU/markdown-crawler/internal/clock/system"
	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/convert"
	"github.com/JakeFAU/markdown-crawler/internal/crawl"
	"github.com/JakeFAU/markdown-crawler/internal/fetch"
	"github.com/JakeFAU/markdown-crawler/internal/fetch/collyfetch"
	"github.com/JakeFAU/markdown-crawler/internal/fetch/detector"
	"github.com/JakeFAU/markdown-crawler/internal/fetch/headless"
	"github.com/JakeFAU/markdown-crawler/internal/fetch/markdown"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	histmem "github.com/JakeFAU/markdown-crawler/internal/history/memory"
	"github.com/JakeFAU/markdown-crawler/internal/history/postgres"
	"github.com/JakeFAU/markdown-crawler/internal/history/sqlite"
	"github.com/JakeFAU/markdown-crawler/internal/id/uuid"
	"github.com/JakeFAU/markdown-crawler/internal/metrics"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/markdown-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/markdown-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/markdown-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/markdown-crawler/internal/storage/resolver"
)

type notifier interface {
	progresssinks.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	history      history.Store
	storage      *resolver.Resolver
	headless     *headless.Renderer
	publisher    notifier
	progressHub  *progress.Hub
	broadcaster  *progress.Broadcaster
	crawls       *crawl.Registry
	apiServer    *api.Server

	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	history   history.Store
	publisher notifier
}

// WithHistoryStore injects a history store instead of opening the configured one.
func WithHistoryStore(store history.Store) Option {
	return func(o *buildOptions) { o.history = store }
}

// WithPublisher injects the run-completion publisher.
func WithPublisher(p notifier) Option {
	return func(o *buildOptions) { o.publisher = p }
}

// Build creates the application's dependencies. On error everything opened
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	app := &App{cfg: cfg, logger: logger}
	app.runCtx, app.cancelRuns = context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("storage_type", cfg.Storage.Type),
	)

	if err = app.setupMetrics(); err != nil {
		return nil, err
	}
	if bo.history != nil {
		app.history = bo.history
	} else if err = app.setupHistory(ctx); err != nil {
		return nil, err
	}
	app.storage = resolver.New(
		resolver.WithGCSPrefix(cfg.Storage.GCSPrefix),
		resolver.WithLogger(logger.Named("storage")),
	)
	fetcher, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}
	if bo.publisher != nil {
		app.publisher = bo.publisher
	} else if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(); err != nil {
		return nil, err
	}
	if err = app.setupCrawl(fetcher); err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		app.crawls,
		app.history,
		api.WithLogger(logger.Named("api")),
		api.WithMetrics(app.metrics),
		api.WithReadiness(app.ready),
	)
	return app, nil
}

func (a *App) setupMetrics() error {
	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.promRegistry)
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	a.metrics = m
	return nil
}

func (a *App) setupHistory(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      a.cfg.Database.DSN,
			MaxConns: a.cfg.Database.MaxConns,
			MinConns: a.cfg.Database.MinConns,
		})
		if err != nil {
			return fmt.Errorf("postgres history init failed: %w", err)
		}
		a.history = store
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres history schema failed: %w", err)
		}
		a.logger.Info("using postgres history store")
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, a.cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite history init failed: %w", err)
		}
		a.history = store
		a.logger.Info("using sqlite history store", zap.String("path", a.cfg.Database.SQLitePath))
	default:
		a.history = histmem.NewStore()
		a.logger.Warn("using in-memory history store; history is lost on restart")
	}
	return nil
}

func (a *App) setupFetcher() (fetch.Fetcher, error) {
	primary := collyfetch.New(collyfetch.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBodySize:   int(a.cfg.Fetch.MaxBodyBytes),
	})
	opts := []fetch.PipelineOption{
		fetch.WithMarkdown(markdown.New(markdown.WithReadability(a.cfg.Fetch.Readability))),
		fetch.WithLogger(a.logger.Named("fetch")),
	}
	if hc := a.cfg.Fetch.Headless; hc.Enabled {
		renderer, err := headless.New(headless.Config{
			MaxParallel:       hc.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(hc.NavTimeoutSeconds) * time.Second,
			Settle:            time.Duration(hc.SettleMs) * time.Millisecond,
			LoadMedia:         hc.LoadMedia,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.headless = renderer
		opts = append(opts, fetch.WithHeadless(renderer, detector.NewHeuristic(hc.PromotionThreshold)))
		a.logger.Info("headless rendering enabled", zap.Int("max_parallel", hc.MaxParallel))
	}
	a.logger.Info("using colly page fetcher", zap.String("user_agent", a.cfg.Crawler.UserAgent))
	return fetch.NewPipeline(primary, opts...), nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic, a.logger.Named("pubsub"))
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(a.promRegistry)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.ProgressBatchWait(),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewNotifySink(a.publisher, a.cfg.PubSub.Topic, a.logger.Named("progress_notify")),
	)
	a.broadcaster = progress.NewBroadcaster(a.cfg.Progress.SubscriberBuffer, a.logger.Named("progress_broadcast"))
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupCrawl(fetcher fetch.Fetcher) error {
	snapshot, err := a.cfg.Crawl()
	if err != nil {
		return fmt.Errorf("crawl config: %w", err)
	}
	holder, err := config.NewHolder(snapshot)
	if err != nil {
		return fmt.Errorf("crawl config: %w", err)
	}
	engine := convert.NewExecEngine(
		a.cfg.Converter.Commands,
		convert.WithTempDir(a.cfg.Converter.TempDir),
		convert.WithLogger(a.logger.Named("convert")),
	)
	downloader := fetch.NewHTTPDownloader(nil, fetch.DownloadConfig{
		UserAgent:     a.cfg.Crawler.UserAgent,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBytes:      a.cfg.Fetch.MaxBodyBytes,
		RatePerSecond: a.cfg.Crawler.DownloadRate,
		Burst:         a.cfg.Crawler.DownloadBurst,
		OnThrottle:    a.metrics.ObserveThrottle,
	})
	orch, err := crawl.NewOrchestrator(crawl.Dependencies{
		Fetcher:    fetcher,
		Downloader: downloader,
		Converter:  convert.New(engine),
		History:    a.history,
		Storage:    a.storage,
		IDs:        uuid.NewUUIDGenerator(),
		Clock:      system.New(),
		Events:     progress.Emitters{a.progressHub, a.broadcaster},
		Metrics:    a.metrics,
		Logger:     a.logger.Named("crawl"),
	})
	if err != nil {
		return fmt.Errorf("crawl orchestrator init failed: %w", err)
	}
	a.crawls = crawl.NewRegistry(orch, holder,
		crawl.WithBroadcaster(a.broadcaster),
		crawl.WithRecentLimit(a.cfg.Server.RecentLimit),
		crawl.WithBaseContext(a.runCtx),
		crawl.WithLogger(a.logger.Named("registry")),
	)
	a.logger.Info("crawl registry ready",
		zap.Int("max_depth", snapshot.MaxDepth),
		zap.Int("parallel_downloads", snapshot.ParallelDownloads),
		zap.String("change_strategy", string(snapshot.ChangeStrategy)),
	)
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if _, err := a.history.ListRuns(ctx, 1); err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	return nil
}

// Crawls returns the run registry.
func (a *App) Crawls() *crawl.Registry {
	return a.crawls
}

// Broadcaster returns the per-run progress stream.
func (a *App) Broadcaster() *progress.Broadcaster {
	return a.broadcaster
}

// History returns the history store.
func (a *App) History() history.Store {
	return a.history
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln)
}

// serve handles requests on ln until ctx is done, then stops the active run,
// drains HTTP, and closes the application.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	// Event streams and waiting POSTs end with the run, so the run goes
	// first and gets its own budget.
	runCtx, cancelRun := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	a.stopRuns(runCtx)
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// stopRuns cancels the active run and waits for it to be finalized.
func (a *App) stopRuns(ctx context.Context) {
	var h *crawl.Handle
	if a.crawls != nil {
		h = a.crawls.Active()
	}
	if a.cancelRuns != nil {
		a.cancelRuns()
	}
	if h == nil {
		return
	}
	if _, err := h.Wait(ctx); err != nil {
		a.logger.Warn("active run did not finish before shutdown", zap.String("run_id", h.ID()), zap.Error(err))
	}
}

// Close releases every dependency that was opened. It is safe on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	// The run's finalize writes history and emits RUN_DONE, so it must
	// finish before the stores and the hub go away.
	a.stopRuns(ctx)
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history close: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
