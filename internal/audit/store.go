package audit

import (
	"context"
	"sync"
	"time"
)

// Query filters entries when reading the trail back.
type Query struct {
	Actor    string
	Resource string
	Action   Action
	Since    time.Time
	Limit    int
}

// Store persists audit entries. Implementations must return entries in
// ascending sequence order so chain verification can walk them directly.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Entries(ctx context.Context, q Query) ([]Entry, error)
	Last(ctx context.Context) (*Entry, bool, error)
}

// MemoryStore keeps the trail in memory. Used in tests and in
// development mode when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemoryStore) Entries(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if !matchesQuery(&e, q) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Last(ctx context.Context) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, false, nil
	}
	last := s.entries[len(s.entries)-1]
	return &last, true, nil
}

// tamper overwrites a stored entry in place. Only reachable from tests.
func (s *MemoryStore) tamper(i int, mutate func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.entries[i])
}

func matchesQuery(e *Entry, q Query) bool {
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if q.Resource != "" && e.Resource != q.Resource {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
