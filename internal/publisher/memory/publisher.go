// Package memory captures published payloads in process. Dry runs use it to
// preview announcements without contacting any broker.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher keeps every payload in publish order.
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

// FailWith makes every subsequent Publish return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the message and returns "memory-<n>" for the n-th publish.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", fmt.Errorf("memory publish to %q: %w", topic, p.failWith)
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
