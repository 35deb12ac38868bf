// Package memory provides an in-memory Publisher for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one captured publication.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher records published messages instead of sending them anywhere.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
}

// New constructs an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish captures the payload and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messages = append(p.messages, Message{Topic: topic, Payload: data})
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
