package records

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and single-node dev
// deployments. It applies the same predicates as the ClickHouse store.
type MemoryStore struct {
	mu      sync.RWMutex
	records []TransactionRecord
	rng     *rand.Rand
}

// NewMemoryStore builds a store over the given records.
func NewMemoryStore(recs []TransactionRecord) *MemoryStore {
	m := &MemoryStore{rng: rand.New(rand.NewSource(1))}
	m.records = append(m.records, recs...)
	return m
}

// Add appends records to the store.
func (m *MemoryStore) Add(recs ...TransactionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// QueryRecords returns up to q.Limit records matching the predicates.
func (m *MemoryStore) QueryRecords(ctx context.Context, q Query) ([]TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapQueryError("QueryRecords", err)
	}

	m.mu.RLock()
	var matched []TransactionRecord
	for i := range m.records {
		if matchesQuery(&m.records[i], q) {
			matched = append(matched, m.records[i])
		}
	}
	m.mu.RUnlock()

	if q.Random {
		m.mu.Lock()
		m.rng.Shuffle(len(matched), func(i, j int) {
			matched[i], matched[j] = matched[j], matched[i]
		})
		m.mu.Unlock()
	} else {
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matchesQuery(r *TransactionRecord, q Query) bool {
	if q.Since != nil && r.OccurredAt.Before(*q.Since) {
		return false
	}
	if q.WeekendOrOffHours && !isWeekendOrOffHours(r) {
		return false
	}
	if q.FlaggedOrDisputed && !r.RiskMarked() {
		return false
	}
	if q.MinAmount != nil && r.Amount < *q.MinAmount {
		return false
	}
	if q.IDFrom != "" && r.ID < q.IDFrom {
		return false
	}
	if q.IDTo != "" && r.ID > q.IDTo {
		return false
	}
	return true
}

func isWeekendOrOffHours(r *TransactionRecord) bool {
	day := r.OccurredAt.UTC().Weekday()
	hour := r.OccurredAt.UTC().Hour()
	return day == time.Saturday || day == time.Sunday || hour < 6 || hour >= 22
}
