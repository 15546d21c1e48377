// Package events publishes suggestion lifecycle events so downstream
// consumers (rule deployment, analytics) can react to governance
// transitions without polling the store.
package events

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a lifecycle transition.
type EventType string

const (
	EventSubmitted EventType = "suggestion.submitted"
	EventApproved  EventType = "suggestion.approved"
	EventRejected  EventType = "suggestion.rejected"
	EventExpired   EventType = "suggestion.expired"
	EventPromoted  EventType = "rule.promoted"
)

// Event describes one transition of one suggestion.
type Event struct {
	ID           string            `json:"id"`
	Type         EventType         `json:"type"`
	SuggestionID string            `json:"suggestion_id"`
	RuleName     string            `json:"rule_name,omitempty"`
	Actor        string            `json:"actor,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Detail       map[string]string `json:"detail,omitempty"`
}

// Sink receives lifecycle events. Publish must be safe for concurrent
// use.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// MemorySink collects events in memory. Used in tests and in
// development mode when no brokers are configured.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
