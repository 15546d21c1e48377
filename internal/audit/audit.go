// Package audit provides a tamper-evident trail of governance actions.
// Entries form a hash chain with HMAC signatures so that modification,
// deletion, or insertion of records is detectable after the fact.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrChainBroken      = errors.New("audit chain integrity broken")
	ErrSequenceGap      = errors.New("sequence gap detected in audit trail")
	ErrInvalidSignature = errors.New("invalid audit entry signature")
	ErrTimestampAnomaly = errors.New("timestamp anomaly detected")
)

// Action identifies the governance event an entry records.
type Action string

const (
	ActionSuggestionSubmitted Action = "suggestion.submitted"
	ActionSuggestionApproved  Action = "suggestion.approved"
	ActionSuggestionRejected  Action = "suggestion.rejected"
	ActionSuggestionExpired   Action = "suggestion.expired"
	ActionRulePromoted        Action = "rule.promoted"
	ActionGenerationFailed    Action = "generation.failed"
	ActionPolicyBlocked       Action = "policy.blocked"
)

// Entry is a single audit record. Each entry carries the hash of its
// predecessor, so the whole trail verifies as one chain.
type Entry struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	Action   Action            `json:"action"`
	Actor    string            `json:"actor"`
	Resource string            `json:"resource"`
	Detail   map[string]string `json:"detail,omitempty"`

	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
	Signature    string `json:"signature"`
}

// computeHash hashes the entry fields in deterministic order, excluding
// the signature and entry hash themselves.
func (e *Entry) computeHash() string {
	h := sha256.New()

	h.Write([]byte(e.ID))
	h.Write([]byte(strconv.FormatUint(e.Sequence, 10)))
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(e.Action))
	h.Write([]byte(e.Actor))
	h.Write([]byte(e.Resource))

	if len(e.Detail) > 0 {
		keys := make([]string, 0, len(e.Detail))
		for k := range e.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte(e.Detail[k]))
		}
	}

	h.Write([]byte(e.PreviousHash))

	return hex.EncodeToString(h.Sum(nil))
}

// Sign computes the entry hash and signs it with the given HMAC key.
func (e *Entry) Sign(key []byte) {
	e.EntryHash = e.computeHash()

	h := hmac.New(sha256.New, key)
	h.Write([]byte(e.EntryHash))
	h.Write([]byte(e.PreviousHash))
	e.Signature = hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the entry hash and checks the signature.
func (e *Entry) Verify(key []byte) bool {
	if e.computeHash() != e.EntryHash {
		return false
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(e.EntryHash))
	h.Write([]byte(e.PreviousHash))
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(e.Signature), []byte(expected))
}

// genesisHash anchors the first entry of the chain.
func genesisHash() string {
	h := sha256.New()
	h.Write([]byte("rulegate-audit-genesis-v1"))
	return hex.EncodeToString(h.Sum(nil))
}

// deriveKey derives the 32-byte HMAC signing key from the configured
// secret. An empty secret yields a random ephemeral key, which keeps
// development setups working but means verification will not survive a
// restart.
func deriveKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)

	if len(secret) == 0 {
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		slog.Warn("audit signing key is ephemeral; configure a secret to verify across restarts")
		return key, nil
	}

	r := hkdf.New(sha256.New, secret, []byte("rulegate-audit-v1"), []byte("entry-signing"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return key, nil
}
