// Package memory keeps recent status notifications in process for tests and
// local runs without Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"
)

const defaultLimit = 256

// Publisher retains the most recent published payloads.
type Publisher struct {
	mu       sync.RWMutex
	limit    int
	total    int
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a Publisher that keeps the last limit messages. A non-positive
// limit uses 256.
func New(limit int) *Publisher {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Publisher{limit: limit}
}

// Publish records the message and returns a sequential pseudo id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	if over := len(p.messages) - p.limit; over > 0 {
		p.messages = append(p.messages[:0], p.messages[over:]...)
	}
	return fmt.Sprintf("memory-%d", p.total), nil
}

// Messages returns a copy of the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.messages...)
}
