package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/markdown-crawler/internal/convert"
	"github.com/JakeFAU/markdown-crawler/internal/hash/sha256"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/keys"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

// docOutcome is what a document worker hands back to the orchestrator.
type docOutcome struct {
	meta history.DocumentMetadata
	ref  storage.Ref
	err  error
	// abandoned marks work cut short by a stop; it is not recorded.
	abandoned bool
	bytes     int64
	dur       time.Duration
}

// processDocuments fans the page's new document links out to at most
// ParallelDownloads workers and applies their outcomes as they arrive.
func (rs *runState) processDocuments(urls []string) {
	pending := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, seen := rs.docSeen[u]; seen {
			continue
		}
		rs.docSeen[u] = struct{}{}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return
	}

	ctx := rs.ctx
	outcomes := make(chan docOutcome)
	go func() {
		var g errgroup.Group
		g.SetLimit(rs.h.cfg.ParallelDownloads)
		for _, u := range pending {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				outcomes <- rs.processDocument(ctx, u)
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)
	}()

	for out := range outcomes {
		rs.applyDocument(out)
	}
}

// processDocument downloads, converts and stores one document. It runs on
// a worker goroutine and must not touch run counters.
func (rs *runState) processDocument(ctx context.Context, u string) docOutcome {
	deps := rs.o.deps
	start := time.Now()
	ext, _ := documentExtension(u)
	format := convert.FormatForExtension(ext)
	out := docOutcome{meta: history.DocumentMetadata{
		URL:              u,
		DocumentType:     ext,
		OriginalFilename: keys.Filename(u),
		RunID:            rs.h.id,
	}}
	finish := func(status history.ExtractionStatus, err error) docOutcome {
		out.meta.ExtractionStatus = status
		out.err = err
		out.dur = time.Since(start)
		if err != nil && ctx.Err() != nil {
			out.abandoned = true
		}
		return out
	}

	if !rs.h.cfg.Allows(ext) || !format.Supported() {
		return finish(history.ExtractionUnsupported, nil)
	}

	data, err := deps.Downloader.Download(ctx, u)
	if err != nil {
		return finish(history.ExtractionFailed, fmt.Errorf("download %s: %w", u, err))
	}
	deps.Metrics.AddDownloadBytes(len(data))
	out.meta.ContentHash = sha256.Sum(data)
	out.bytes = int64(len(data))

	if rs.h.req.DownloadFiles {
		_, err := storage.PutWithRetry(ctx, rs.h.backend, keys.File(u), data, rs.h.cfg.RetryDelay)
		deps.Metrics.ObserveUpload(rs.h.backend.Type(), err)
		if err != nil {
			return finish(history.ExtractionFailed, err)
		}
	}

	convStart := time.Now()
	md, err := deps.Converter.Convert(ctx, data, format)
	deps.Metrics.ObserveConversion(format.String(), err, time.Since(convStart))
	if errors.Is(err, convert.ErrUnsupportedFormat) {
		return finish(history.ExtractionUnsupported, nil)
	}
	if err != nil {
		return finish(history.ExtractionFailed, err)
	}

	ref, err := storage.PutWithRetry(ctx, rs.h.backend, keys.Document(u), []byte(md), rs.h.cfg.RetryDelay)
	deps.Metrics.ObserveUpload(rs.h.backend.Type(), err)
	if err != nil {
		return finish(history.ExtractionFailed, err)
	}
	out.ref = ref
	return finish(history.ExtractionSuccess, nil)
}

// applyDocument records one outcome. Only the orchestrator goroutine calls it.
func (rs *runState) applyDocument(out docOutcome) {
	if out.abandoned {
		rs.logger.Debug("document abandoned", zap.String("url", out.meta.URL))
		return
	}
	if rs.fatal != nil {
		return
	}
	ctx := context.WithoutCancel(rs.ctx)
	if _, err := rs.o.deps.History.RecordDocument(ctx, out.meta); err != nil {
		rs.fail(fmt.Errorf("record document %s: %w", out.meta.URL, err))
		return
	}

	rs.h.documents.Add(1)
	if out.err != nil {
		rs.h.errors.Add(1)
		rs.logger.Warn("document failed", zap.String("url", out.meta.URL), zap.Error(out.err))
	}
	if out.meta.ExtractionStatus == history.ExtractionSuccess {
		rs.docURIs = append(rs.docURIs, out.ref.URI)
		rs.h.recent.add(RecentItem{
			Kind:   KindDocument,
			URL:    out.meta.URL,
			Key:    out.ref.Key,
			URI:    out.ref.URI,
			Status: string(out.meta.ExtractionStatus),
			At:     rs.o.deps.Clock.Now(),
		})
	}
	rs.setLastURL(out.meta.URL)

	evt := progress.Event{
		Stage:  progress.StageDocumentDone,
		URL:    out.meta.URL,
		Key:    out.ref.Key,
		Status: string(out.meta.ExtractionStatus),
		Bytes:  out.bytes,
		Dur:    out.dur,
	}
	if out.err != nil {
		evt.Note = out.err.Error()
	}
	rs.emit(evt)
}
