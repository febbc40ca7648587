package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("processed", evt.Processed),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Key != "" {
			fields = append(fields, zap.String("key", evt.Key))
		}
		if evt.Classification != "" {
			fields = append(fields, zap.String("classification", evt.Classification))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageRunDone {
			fields = append(fields,
				zap.Int("pages", evt.Counts.Pages),
				zap.Int("documents", evt.Counts.Documents),
				zap.Int("errors", evt.Counts.Errors),
				zap.Duration("dur", evt.Dur),
			)
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
