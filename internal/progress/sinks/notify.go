package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

// Publisher sends a payload to a topic and returns the server message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunSummary is the notification payload published when a run finishes.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	Counts     progress.Counts `json:"counts"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   float64         `json:"duration_seconds"`
	Note       string          `json:"note,omitempty"`
}

// NotifySink publishes a RunSummary for every RUN_DONE event.
type NotifySink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifySink builds a sink publishing to topic.
func NewNotifySink(publisher Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes summaries for finished runs; other stages are ignored.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageRunDone {
			continue
		}
		summary := RunSummary{
			RunID:      evt.RunID,
			Status:     evt.Status,
			Counts:     evt.Counts,
			FinishedAt: evt.TS.UTC(),
			Duration:   evt.Dur.Seconds(),
			Note:       evt.Note,
		}
		id, err := s.publisher.Publish(ctx, s.topic, summary)
		if err != nil {
			return fmt.Errorf("publish run summary %s: %w", evt.RunID, err)
		}
		s.logger.Debug("run summary published", zap.String("run_id", evt.RunID), zap.String("message_id", id))
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
