package crawl

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// Registry owns the single active run and the last finished one.
type Registry struct {
	orch        *Orchestrator
	holder      *config.Holder
	broadcaster *progress.Broadcaster
	recentLimit int
	baseCtx     context.Context
	logger      *zap.Logger

	mu     sync.Mutex
	active *Handle
	last   *Handle
	// starting is set while a Start prepares its run outside mu.
	starting bool
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithBroadcaster enables per-run subscriptions.
func WithBroadcaster(b *progress.Broadcaster) RegistryOption {
	return func(r *Registry) { r.broadcaster = b }
}

// WithRecentLimit caps the recent-content list of each run.
func WithRecentLimit(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.recentLimit = n
		}
	}
}

// WithBaseContext sets the parent context of every run. Cancelling it stops
// the active run.
func WithBaseContext(ctx context.Context) RegistryOption {
	return func(r *Registry) {
		if ctx != nil {
			r.baseCtx = ctx
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry builds a Registry that starts runs with orch and reads the
// crawl configuration from holder.
func NewRegistry(orch *Orchestrator, holder *config.Holder, opts ...RegistryOption) *Registry {
	r := &Registry{
		orch:        orch,
		holder:      holder,
		recentLimit: 50,
		baseCtx:     context.Background(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the active configuration snapshot.
func (r *Registry) Config() config.CrawlConfig {
	return r.holder.Current()
}

// UpdateConfig swaps in a new snapshot. Runs already started keep theirs.
func (r *Registry) UpdateConfig(u config.Update) (config.CrawlConfig, error) {
	return r.holder.Update(u)
}

// Start launches a run for req. It fails with ErrRunActive, without side
// effects, while another run is in progress or being started.
func (r *Registry) Start(ctx context.Context, req Request) (*Handle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.active != nil || r.starting {
		r.mu.Unlock()
		return nil, ErrRunActive
	}
	r.starting = true
	cfg := r.holder.Current()
	r.mu.Unlock()

	if req.Storage != nil {
		cfg = cfg.WithStorage(*req.Storage)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	prepCtx, cancel := mergeCancel(r.baseCtx, ctx)
	defer cancel()
	// Storage and history I/O run without mu so Status, Recent, and Stop
	// stay responsive. The caller's ctx bounds setup only; the run lives
	// under baseCtx.
	h, err := r.orch.prepare(prepCtx, r.baseCtx, req, cfg, r.recentLimit)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting = false
	if err != nil {
		return nil, err
	}
	h.onFinish = func() { r.release(h) }
	r.active = h

	go r.orch.execute(h)
	return h, nil
}

func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == h {
		r.active = nil
	}
	r.last = h
}

// Stop cancels the active run and returns its handle.
func (r *Registry) Stop() (*Handle, error) {
	h := r.Active()
	if h == nil {
		return nil, ErrNoActiveRun
	}
	r.logger.Info("stopping crawl run", zap.String("run_id", h.ID()))
	h.Stop()
	return h, nil
}

// Active returns the running handle, or nil.
func (r *Registry) Active() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Status reports idle or the active run's progress.
func (r *Registry) Status() Status {
	if h := r.Active(); h != nil {
		return h.Status()
	}
	return Status{State: StateIdle}
}

// Recent lists artifacts from the active run, or the last finished run
// when idle.
func (r *Registry) Recent() []RecentItem {
	r.mu.Lock()
	h := r.active
	if h == nil {
		h = r.last
	}
	r.mu.Unlock()
	if h == nil {
		return []RecentItem{}
	}
	return h.Recent()
}

// Subscribe attaches to the active run's progress stream. The returned
// channel closes after the run's final event or when cancel is called.
func (r *Registry) Subscribe() (*Handle, <-chan progress.Event, func(), error) {
	if r.broadcaster == nil {
		return nil, nil, nil, ErrNoActiveRun
	}
	h := r.Active()
	if h == nil {
		return nil, nil, nil, ErrNoActiveRun
	}
	ch, cancel := r.broadcaster.Subscribe(h.ID())
	return h, ch, cancel, nil
}

// mergeCancel returns a context cancelled when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
