package suggestion

import (
	"context"
	"sort"
	"sync"
	"time"

	"rulegate/internal/rules"
)

// ListQuery filters suggestion listings.
type ListQuery struct {
	Status Status
	Author string
	Limit  int
}

// Store persists suggestions and promoted rule versions. Terminal
// records are never deleted; Decide is the only mutation of status and
// must apply atomically against the current persisted state.
type Store interface {
	Create(ctx context.Context, s *Suggestion) error
	Get(ctx context.Context, id string) (*Suggestion, error)
	List(ctx context.Context, q ListQuery) ([]Suggestion, error)

	// Decide transitions a pending suggestion to a terminal status.
	// Returns ErrAlreadyDecided when the suggestion is no longer
	// pending, ErrNotFound when it does not exist.
	Decide(ctx context.Context, id string, r Resolution) error

	// ExpireBefore marks pending suggestions whose expiry timestamp
	// has passed and returns them for audit and event emission.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]Suggestion, error)

	// AppendVersion assigns the next version number for the rule name
	// and persists the promotion record.
	AppendVersion(ctx context.Context, v *RuleVersion) error

	// ActiveRules returns the latest promoted version of every rule,
	// excluding rules whose latest version is disabled.
	ActiveRules(ctx context.Context) ([]*rules.Rule, error)
}

// MemoryStore is the in-memory Store used in tests and development
// mode. Semantics mirror the Postgres store, including the
// status-guarded transition.
type MemoryStore struct {
	mu          sync.RWMutex
	suggestions map[string]*Suggestion
	versions    map[string][]RuleVersion
	order       []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		suggestions: make(map[string]*Suggestion),
		versions:    make(map[string][]RuleVersion),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Suggestion) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.suggestions[s.ID] = &cp
	m.order = append(m.order, s.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.suggestions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, q ListQuery) ([]Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Suggestion
	// Most recent first, matching the Postgres ordering.
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.suggestions[m.order[i]]
		if q.Status != "" && s.Status != q.Status {
			continue
		}
		if q.Author != "" && s.Author != q.Author {
			continue
		}
		out = append(out, *s)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Decide(ctx context.Context, id string, r Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.suggestions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusPending {
		return ErrAlreadyDecided
	}

	s.Status = r.Status
	s.Approver = r.Reviewer
	s.Notes = r.Notes
	s.AckImpact = r.AckImpact
	decidedAt := r.DecidedAt
	s.DecidedAt = &decidedAt
	return nil
}

func (m *MemoryStore) ExpireBefore(ctx context.Context, cutoff time.Time) ([]Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Suggestion
	for _, id := range m.order {
		s := m.suggestions[id]
		if s.Status != StatusPending || s.ExpiresAt.After(cutoff) {
			continue
		}
		s.Status = StatusExpired
		decidedAt := cutoff
		s.DecidedAt = &decidedAt
		expired = append(expired, *s)
	}
	return expired, nil
}

func (m *MemoryStore) AppendVersion(ctx context.Context, v *RuleVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v.Version = len(m.versions[v.Name]) + 1
	m.versions[v.Name] = append(m.versions[v.Name], *v)
	return nil
}

func (m *MemoryStore) ActiveRules(ctx context.Context) ([]*rules.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.versions))
	for name := range m.versions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*rules.Rule, 0, len(names))
	for _, name := range names {
		vs := m.versions[name]
		latest := vs[len(vs)-1]
		if !latest.Enabled {
			continue
		}
		rule := latest.Rule
		out = append(out, &rule)
	}
	return out, nil
}

// Versions returns all promotion records for a rule name, oldest first.
func (m *MemoryStore) Versions(name string) []RuleVersion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RuleVersion, len(m.versions[name]))
	copy(out, m.versions[name])
	return out
}
