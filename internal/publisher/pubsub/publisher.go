// Package pubsub publishes crawl notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Publisher sends JSON payloads to Pub/Sub topics, caching topic handles.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New wraps an existing client.
func New(client *pubsub.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger, topics: make(map[string]*pubsub.Topic)}
}

// Dial creates a client for projectID using Application Default Credentials
// and verifies topicID exists.
func Dial(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client, logger)
	exists, err := client.Topic(topicID).Exists(ctx)
	if err == nil && !exists {
		err = fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			p.logger.Warn("close pubsub client after topic check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	return p, nil
}

// Publish marshals payload to JSON and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending publishes and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
