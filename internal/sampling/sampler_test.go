package sampling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rulegate/internal/records"
	"rulegate/internal/rules"
)

// fakeStore serves canned responses per stratum predicate and records the
// queries it saw.
type fakeStore struct {
	mu        sync.Mutex
	queries   []records.Query
	recent    []records.TransactionRecord
	weekend   []records.TransactionRecord
	flagged   []records.TransactionRecord
	highValue []records.TransactionRecord
	random    []records.TransactionRecord
	err       error
}

func (f *fakeStore) QueryRecords(ctx context.Context, q records.Query) ([]records.TransactionRecord, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	var recs []records.TransactionRecord
	switch {
	case q.Since != nil:
		recs = f.recent
	case q.WeekendOrOffHours:
		recs = f.weekend
	case q.FlaggedOrDisputed:
		recs = f.flagged
	case q.MinAmount != nil:
		recs = f.highValue
	case q.Random:
		recs = f.random
	}
	if len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs, nil
}

func (f *fakeStore) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func makeRecords(prefix string, n int) []records.TransactionRecord {
	out := make([]records.TransactionRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, records.TransactionRecord{
			ID:               fmt.Sprintf("%s_%03d", prefix, i),
			OccurredAt:       time.Now().UTC(),
			Amount:           float64(i),
			Device:           "web",
			BaselineDecision: rules.DecisionAllow,
		})
	}
	return out
}

func TestSampleMergesAllStrata(t *testing.T) {
	store := &fakeStore{
		recent:    makeRecords("recent", 30),
		weekend:   makeRecords("weekend", 20),
		flagged:   makeRecords("flagged", 20),
		highValue: makeRecords("high", 15),
		random:    makeRecords("random", 15),
	}
	s := New(store, DefaultConfig())

	sample, err := s.Sample(context.Background(), 100)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if sample.Size() != 100 {
		t.Errorf("Sample() size = %d, want 100", sample.Size())
	}
	if store.queryCount() != 5 {
		t.Errorf("store saw %d queries, want 5", store.queryCount())
	}

	counts := make(map[Stratum]int)
	for _, tag := range sample.Tags {
		counts[tag]++
	}
	want := map[Stratum]int{
		StratumRecent:    30,
		StratumWeekend:   20,
		StratumFlagged:   20,
		StratumHighValue: 15,
		StratumRandom:    15,
	}
	for stratum, n := range want {
		if counts[stratum] != n {
			t.Errorf("stratum %s count = %d, want %d", stratum, counts[stratum], n)
		}
	}
}

func TestSampleDeduplicatesFirstStratumWins(t *testing.T) {
	shared := records.TransactionRecord{
		ID:               "tx_shared",
		OccurredAt:       time.Now().UTC(),
		Amount:           9000,
		BaselineDecision: rules.DecisionAllow,
		Flagged:          true,
	}
	store := &fakeStore{
		recent:    []records.TransactionRecord{shared},
		flagged:   []records.TransactionRecord{shared},
		highValue: []records.TransactionRecord{shared},
	}
	s := New(store, DefaultConfig())

	sample, err := s.Sample(context.Background(), 100)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if sample.Size() != 1 {
		t.Fatalf("Sample() size = %d, want 1 after dedup", sample.Size())
	}
	if tag := sample.Tags["tx_shared"]; tag != StratumRecent {
		t.Errorf("shared record tag = %s, want %s (first stratum wins)", tag, StratumRecent)
	}
}

func TestSampleAcceptsShortfalls(t *testing.T) {
	// Flagged stratum underdelivers; its shortfall must not be
	// redistributed to other strata.
	store := &fakeStore{
		recent:    makeRecords("recent", 30),
		weekend:   makeRecords("weekend", 20),
		flagged:   makeRecords("flagged", 3),
		highValue: makeRecords("high", 15),
		random:    makeRecords("random", 15),
	}
	s := New(store, DefaultConfig())

	sample, err := s.Sample(context.Background(), 100)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if sample.Size() != 83 {
		t.Errorf("Sample() size = %d, want 83 (shortfall accepted)", sample.Size())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, q := range store.queries {
		if q.Limit > 30 {
			t.Errorf("a stratum was asked for %d records; shortfall was redistributed", q.Limit)
		}
	}
}

func TestSampleUnavailableOnStoreFailure(t *testing.T) {
	store := &fakeStore{err: records.WrapConnectionError("Query", errors.New("connection refused"))}
	s := New(store, DefaultConfig())

	_, err := s.Sample(context.Background(), 100)
	if err == nil {
		t.Fatal("Sample() expected error for unreachable store")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error %v does not match ErrUnavailable", err)
	}
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Errorf("error %v is not an UnavailableError", err)
	}
}

func TestSampleUnavailableOnZeroRecords(t *testing.T) {
	s := New(&fakeStore{}, DefaultConfig())

	_, err := s.Sample(context.Background(), 100)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Sample() on empty store error = %v, want ErrUnavailable", err)
	}
}

func TestSampleSizeBounds(t *testing.T) {
	store := &fakeStore{random: makeRecords("random", 200)}
	cfg := DefaultConfig()
	cfg.DefaultSize = 40
	cfg.MaxSize = 60
	s := New(store, cfg)

	sample, err := s.Sample(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sample(0) error = %v", err)
	}
	if sample.Requested != 40 {
		t.Errorf("Sample(0) requested = %d, want default 40", sample.Requested)
	}

	sample, err = s.Sample(context.Background(), 10_000)
	if err != nil {
		t.Fatalf("Sample(10000) error = %v", err)
	}
	if sample.Requested != 60 {
		t.Errorf("Sample(10000) requested = %d, want clamped 60", sample.Requested)
	}
}

func TestStratumTargetsSumToSize(t *testing.T) {
	for _, size := range []int{1, 10, 33, 100, 999, 50_000} {
		targets := stratumTargets(size)
		sum := 0
		for _, n := range targets {
			sum += n
		}
		if sum != size {
			t.Errorf("stratumTargets(%d) sums to %d", size, sum)
		}
		if targets[StratumRandom] < 0 {
			t.Errorf("stratumTargets(%d) random target negative: %d", size, targets[StratumRandom])
		}
	}
}
