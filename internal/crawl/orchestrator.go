package crawl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/change"
	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/convert"
	"github.com/JakeFAU/markdown-crawler/internal/fetch"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/keys"
	"github.com/JakeFAU/markdown-crawler/internal/metrics"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

// StorageOpener resolves a run's storage target to a backend.
type StorageOpener interface {
	Open(ctx context.Context, target storage.Target) (storage.Backend, error)
}

// DocumentConverter turns document bytes into markdown.
type DocumentConverter interface {
	Convert(ctx context.Context, data []byte, format convert.Format) (string, error)
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Dependencies are the collaborators a crawl run uses.
type Dependencies struct {
	Fetcher    fetch.Fetcher
	Downloader fetch.Downloader
	Converter  DocumentConverter
	History    history.Store
	Storage    StorageOpener
	IDs        IDGenerator
	Clock      Clock
	Events     progress.Emitter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Orchestrator executes crawl runs.
type Orchestrator struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewOrchestrator validates deps and fills optional ones.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("crawl: fetcher is required")
	case deps.Downloader == nil:
		return nil, errors.New("crawl: downloader is required")
	case deps.Converter == nil:
		return nil, errors.New("crawl: converter is required")
	case deps.History == nil:
		return nil, errors.New("crawl: history store is required")
	case deps.Storage == nil:
		return nil, errors.New("crawl: storage opener is required")
	case deps.IDs == nil:
		return nil, errors.New("crawl: id generator is required")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: deps.Logger}, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// prepare opens the run's backend and inserts its running history row.
// The returned handle's context derives from base, not ctx.
func (o *Orchestrator) prepare(
	ctx context.Context,
	base context.Context,
	req Request,
	cfg config.CrawlConfig,
	recentLimit int,
) (*Handle, error) {
	backend, err := o.deps.Storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	run, err := o.deps.History.BeginRun(ctx, history.Run{
		ID:        id,
		StartURL:  req.URL,
		StartedAt: o.deps.Clock.Now(),
		Config:    cfg.RunConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return newHandle(base, run.ID, req, cfg, backend, run.StartedAt, recentLimit), nil
}

// runState is owned by the orchestrator goroutine of one run.
type runState struct {
	o       *Orchestrator
	h       *Handle
	logger  *zap.Logger
	scope   scope
	detect  *change.Detector
	ctx     context.Context
	abort   context.CancelFunc
	fatal   error
	docSeen map[string]struct{}
	docURIs []string
}

// execute crawls until the frontier is exhausted, the run is stopped, or a
// fatal error occurs, then finalizes the run.
func (o *Orchestrator) execute(h *Handle) {
	ctx, abort := context.WithCancel(h.ctx)
	defer abort()
	rs := &runState{
		o:       o,
		h:       h,
		logger:  o.logger.With(zap.String("run_id", h.id)),
		scope:   newScope(h.req.URL, h.cfg.StayOnDomain, h.cfg.FollowSubdomains),
		detect:  change.NewDetector(o.deps.History, h.cfg.ChangeStrategy, h.cfg.ForceRefresh),
		ctx:     ctx,
		abort:   abort,
		docSeen: make(map[string]struct{}),
	}
	rs.logger.Info("crawl run started",
		zap.String("url", h.req.URL),
		zap.Int("max_depth", h.cfg.MaxDepth),
		zap.String("storage", h.backend.Type()),
	)
	rs.emit(progress.Event{Stage: progress.StageRunStart, URL: h.req.URL})

	rs.crawlPages()
	rs.finalize()
}

type frontierItem struct {
	url   string
	depth int
}

func (rs *runState) crawlPages() {
	cfg := rs.h.cfg
	frontier := []frontierItem{{url: rs.h.req.URL}}
	visited := map[string]struct{}{rs.h.req.URL: {}}
	fetched := 0

	for len(frontier) > 0 && fetched < cfg.MaxPages {
		if rs.ctx.Err() != nil || rs.fatal != nil {
			return
		}
		item := frontier[0]
		frontier = frontier[1:]
		fetched++

		res, ok := rs.fetchPage(item)
		if !ok {
			continue
		}
		if err := rs.persistPage(res); err != nil {
			if rs.ctx.Err() == nil {
				rs.fail(err)
			}
			return
		}

		links := append(slices.Clone(res.Links.Internal), res.Links.External...)
		pages, docs := rs.scope.partitionLinks(links)
		if item.depth < cfg.MaxDepth {
			for _, p := range pages {
				if _, seen := visited[p]; seen {
					continue
				}
				visited[p] = struct{}{}
				frontier = append(frontier, frontierItem{url: p, depth: item.depth + 1})
			}
		}
		if !rs.h.req.SkipDocs {
			rs.processDocuments(docs)
		}
	}
}

// fetchPage retrieves one page. A failed seed page fails the run; later
// failures are counted and skipped.
func (rs *runState) fetchPage(item frontierItem) (fetch.Result, bool) {
	deps := rs.o.deps
	res, err := deps.Fetcher.Fetch(rs.ctx, item.url, fetch.BrowserOptions{Headless: rs.h.req.Headless})
	if err == nil && !res.Success {
		err = errors.New(res.ErrorMessage)
	}
	if err == nil {
		deps.Metrics.ObserveFetch(res.UsedHeadless, res.Duration)
		return res, true
	}
	if rs.ctx.Err() != nil {
		return fetch.Result{}, false
	}
	fetchErr := &FetchError{URL: item.url, Err: err}
	rs.logger.Warn("page fetch failed", zap.String("url", item.url), zap.Error(err))
	if item.depth == 0 {
		rs.fail(fetchErr)
		return fetch.Result{}, false
	}
	rs.h.errors.Add(1)
	rs.emit(progress.Event{
		Stage:  progress.StagePageDone,
		URL:    item.url,
		Status: string(history.ExtractionFailed),
		Note:   fetchErr.Error(),
	})
	return fetch.Result{}, false
}

// persistPage classifies the page and, when new or changed, writes the
// artifact and its content version.
func (rs *runState) persistPage(res fetch.Result) error {
	deps := rs.o.deps
	hashes := change.Compute(res.Markdown)
	class, err := rs.detect.Classify(rs.ctx, res.URL, hashes)
	if err != nil {
		return fmt.Errorf("classify %s: %w", res.URL, err)
	}

	key := keys.Page(res.URL)
	var ref storage.Ref
	if class.Persist() {
		ref, err = storage.PutWithRetry(rs.ctx, rs.h.backend, key, []byte(res.Markdown), rs.h.cfg.RetryDelay)
		deps.Metrics.ObserveUpload(rs.h.backend.Type(), err)
		if err != nil {
			return err
		}
		_, err = deps.History.RecordVersion(rs.ctx, history.ContentVersion{
			URL:            res.URL,
			ContentHash:    hashes.Content,
			StructuralHash: hashes.Structural,
			StorageType:    ref.Type,
			StoragePath:    ref.URI,
			RunID:          rs.h.id,
		})
		if err != nil {
			return fmt.Errorf("record version %s: %w", res.URL, err)
		}
		rs.h.recent.add(RecentItem{
			Kind:   KindPage,
			URL:    res.URL,
			Key:    ref.Key,
			URI:    ref.URI,
			Status: string(class),
			At:     deps.Clock.Now(),
		})
	}

	rs.h.pages.Add(1)
	rs.setLastURL(res.URL)
	rs.logger.Debug("page processed",
		zap.String("url", res.URL),
		zap.String("classification", string(class)),
	)
	evt := progress.Event{
		Stage:          progress.StagePageDone,
		URL:            res.URL,
		Classification: string(class),
		Bytes:          int64(len(res.Markdown)),
		Dur:            res.Duration,
	}
	if class.Persist() {
		evt.Key = ref.Key
	}
	rs.emit(evt)
	return nil
}

func (rs *runState) fail(err error) {
	if rs.fatal == nil {
		rs.fatal = err
		rs.logger.Error("crawl run aborted", zap.Error(err))
	}
	rs.abort()
}

func (rs *runState) setLastURL(u string) {
	rs.h.lastURL.Store(&u)
}

func (rs *runState) emit(evt progress.Event) {
	counts := rs.h.Counts()
	evt.RunID = rs.h.id
	evt.TS = rs.o.deps.Clock.Now()
	evt.Processed = counts.Pages + counts.Documents
	evt.Counts = progress.Counts(counts)
	rs.o.deps.Events.Emit(evt)
}

func (rs *runState) finalize() {
	status := history.RunCompleted
	runErr := rs.fatal
	switch {
	case rs.fatal != nil:
		status = history.RunFailed
	case rs.h.ctx.Err() != nil:
		status = history.RunStopped
		runErr = ErrStopped
	}

	counts := rs.h.Counts()
	endedAt := rs.o.deps.Clock.Now()
	ctx := context.WithoutCancel(rs.h.ctx)
	if err := rs.o.deps.History.FinalizeRun(ctx, rs.h.id, status, counts, endedAt); err != nil {
		rs.logger.Error("finalize run failed", zap.Error(err))
	}

	uris := slices.Clone(rs.docURIs)
	slices.Sort(uris)
	summary := Summary{
		RunID:        rs.h.id,
		Status:       status,
		Counts:       counts,
		DocumentURLs: uris,
		Err:          runErr,
	}
	evt := progress.Event{
		Stage:  progress.StageRunDone,
		Status: string(status),
		Dur:    max(endedAt.Sub(rs.h.startedAt), 0),
	}
	if runErr != nil {
		evt.Note = runErr.Error()
	}
	rs.emit(evt)
	rs.logger.Info("crawl run finished",
		zap.String("status", string(status)),
		zap.Int("pages", counts.Pages),
		zap.Int("documents", counts.Documents),
		zap.Int("errors", counts.Errors),
	)
	rs.h.finish(summary)
}
