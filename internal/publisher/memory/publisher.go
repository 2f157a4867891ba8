// Package memory records completion notifications in process, standing in
// for Pub/Sub in tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Notification is one recorded document-embedded event.
type Notification struct {
	Topic   string
	Payload any
}

// Publisher implements pipeline.Publisher by keeping notifications in memory.
type Publisher struct {
	mu   sync.RWMutex
	sent []Notification
}

// New returns an empty in-process Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the notification and returns a local pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, Notification{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.sent)), nil
}

// Notifications returns a copy of everything published so far.
func (p *Publisher) Notifications() []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Notification, len(p.sent))
	copy(out, p.sent)
	return out
}
