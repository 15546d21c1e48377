// Package suggestion implements the governance state machine that takes
// a proposed rule from submission through validation, impact analysis,
// and a two-person review to a terminal disposition.
package suggestion

import (
	"time"

	"rulegate/internal/dryrun"
	"rulegate/internal/overlap"
	"rulegate/internal/rules"
)

// Status is the governance state of a suggestion. pending is the only
// non-terminal state; terminal suggestions are immutable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether a suggestion in this status can still
// transition.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Suggestion is a proposed rule with everything a reviewer needs to
// decide on it. Warning violations attach here; error violations never
// reach persistence.
type Suggestion struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	Instruction string `json:"instruction"`
	Author      string `json:"author"`

	Rule       *rules.Rule       `json:"rule"`
	Violations []rules.Violation `json:"violations,omitempty"`

	Impact *dryrun.ImpactReport `json:"impact,omitempty"`
	// ImpactUnavailable carries the reason when the sample store could
	// not produce records. Empty whenever Impact is set.
	ImpactUnavailable string          `json:"impact_unavailable,omitempty"`
	Overlap           []overlap.Entry `json:"overlap,omitempty"`

	Approver  string `json:"approver,omitempty"`
	Notes     string `json:"notes,omitempty"`
	AckImpact bool   `json:"ack_impact,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// HasWarnings reports whether the suggestion carries any attached
// violations. Only warnings survive to persistence, so severity does
// not need re-checking here.
func (s *Suggestion) HasWarnings() bool {
	return len(s.Violations) > 0
}

// Resolution is a requested transition out of pending.
type Resolution struct {
	Status    Status
	Reviewer  string
	Notes     string
	AckImpact bool
	DecidedAt time.Time
}

// RuleVersion is the immutable record appended when a suggestion is
// approved and its rule promoted to the active set. Enabled is the
// operator kill switch: a rule whose latest version is disabled drops
// out of the active set without rewriting history.
type RuleVersion struct {
	Name         string               `json:"name"`
	Version      int                  `json:"version"`
	Rule         rules.Rule           `json:"rule"`
	SuggestionID string               `json:"suggestion_id"`
	ApprovedBy   string               `json:"approved_by"`
	Impact       *dryrun.ImpactReport `json:"impact,omitempty"`
	Overlap      []overlap.Entry      `json:"overlap,omitempty"`
	PromotedAt   time.Time            `json:"promoted_at"`
	Enabled      bool                 `json:"enabled"`
}
