package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trail appends signed entries to a Store, maintaining the hash chain.
// Record is synchronous; the chain requires strict ordering of entries.
type Trail struct {
	mu    sync.Mutex
	store Store
	key   []byte

	sequence     uint64
	previousHash string

	now func() time.Time
}

// NewTrail derives the signing key from secret and recovers the chain
// position from the last persisted entry.
func NewTrail(ctx context.Context, store Store, secret []byte) (*Trail, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	t := &Trail{
		store:        store,
		key:          key,
		previousHash: genesisHash(),
		now:          time.Now,
	}

	last, ok, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover audit chain state: %w", err)
	}
	if ok {
		t.sequence = last.Sequence
		t.previousHash = last.EntryHash
	}

	return t, nil
}

// Record appends a signed entry for the given action. The chain only
// advances after the store accepts the entry, so a failed write leaves
// no gap.
func (t *Trail) Record(ctx context.Context, action Action, actor, resource string, detail map[string]string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := &Entry{
		ID:       uuid.NewString(),
		Sequence: t.sequence + 1,
		// Postgres keeps microsecond precision; truncate so reloaded
		// entries hash identically.
		Timestamp:    t.now().UTC().Truncate(time.Microsecond),
		Action:       action,
		Actor:        actor,
		Resource:     resource,
		Detail:       detail,
		PreviousHash: t.previousHash,
	}
	entry.Sign(t.key)

	if err := t.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	t.sequence = entry.Sequence
	t.previousHash = entry.EntryHash

	return entry, nil
}

// Entries reads back persisted entries matching the query.
func (t *Trail) Entries(ctx context.Context, q Query) ([]Entry, error) {
	return t.store.Entries(ctx, q)
}

// VerifyChain walks the full trail, checking every signature, chain
// link, sequence step, and timestamp ordering.
func (t *Trail) VerifyChain(ctx context.Context) error {
	entries, err := t.store.Entries(ctx, Query{})
	if err != nil {
		return fmt.Errorf("failed to read audit trail: %w", err)
	}

	var prev *Entry
	for i := range entries {
		e := &entries[i]

		if !e.Verify(t.key) {
			return fmt.Errorf("%w at sequence %d", ErrInvalidSignature, e.Sequence)
		}

		if prev == nil {
			if e.Sequence == 1 && e.PreviousHash != genesisHash() {
				return fmt.Errorf("%w: first entry does not chain from genesis", ErrChainBroken)
			}
		} else {
			if e.PreviousHash != prev.EntryHash {
				return fmt.Errorf("%w at sequence %d", ErrChainBroken, e.Sequence)
			}
			if e.Sequence != prev.Sequence+1 {
				return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, prev.Sequence+1, e.Sequence)
			}
			if e.Timestamp.Before(prev.Timestamp) {
				return fmt.Errorf("%w at sequence %d", ErrTimestampAnomaly, e.Sequence)
			}
		}

		prev = e
	}

	return nil
}

// Sequence returns the sequence number of the most recent entry.
func (t *Trail) Sequence() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sequence
}
