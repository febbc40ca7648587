package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   prometheus.Histogram
	pages         *prometheus.CounterVec
	documents     *prometheus.CounterVec
	documentBytes prometheus.Counter
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_finished_total",
			Help: "Crawl runs finished, by final status.",
		}, []string{"status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Pages processed, by change classification.",
		}, []string{"classification"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_documents_total",
			Help: "Documents processed, by extraction status.",
		}, []string{"status"}),
		documentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_document_bytes_total",
			Help: "Bytes of original documents downloaded.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsFinished, s.runsActive, s.runDuration,
		s.pages, s.documents, s.documentBytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runsActive.Inc()
		case progress.StagePageDone:
			s.pages.WithLabelValues(labelOr(evt.Classification, "error")).Inc()
		case progress.StageDocumentDone:
			s.documents.WithLabelValues(labelOr(evt.Status, "unknown")).Inc()
			if evt.Bytes > 0 {
				s.documentBytes.Add(float64(evt.Bytes))
			}
		case progress.StageRunDone:
			s.runsFinished.WithLabelValues(evt.Status).Inc()
			s.runsActive.Dec()
			if evt.Dur > 0 {
				s.runDuration.Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func labelOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
