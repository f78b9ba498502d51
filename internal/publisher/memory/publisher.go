// Package memory keeps acquisition events in process when no Pub/Sub topic
// is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/olam-creations/lefilonao-sub001/internal/store"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	failWith error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", fmt.Errorf("publish %s: %w", topic, p.failWith)
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the acquisition events recorded so far, in publish order.
// Payloads that are not a store.Event are skipped.
func (p *Publisher) Events() []store.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []store.Event
	for _, m := range p.messages {
		if ev, ok := m.Payload.(store.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}
