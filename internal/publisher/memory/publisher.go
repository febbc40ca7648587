// Package memory records published notifications in memory for tests and
// local runs without Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// Message captures one publish call.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the payload and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Close implements io.Closer.
func (p *Publisher) Close() error {
	return nil
}
