// Package generation calls the external rule-generation collaborator. The
// collaborator is a black box that either returns a structured rule
// proposal or fails hard; free-text responses are never valid input for
// validation, and malformed output is never repaired.
package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"rulegate/internal/catalog"
	"rulegate/internal/rules"
)

// FailureReason classifies terminal generation failures.
type FailureReason string

const (
	ReasonTimeout     FailureReason = "timeout"
	ReasonMalformed   FailureReason = "malformed"
	ReasonRateLimited FailureReason = "rate_limited"
	ReasonUnavailable FailureReason = "unavailable"
)

// ErrGenerationFailed is matched by errors.Is for any generation failure.
var ErrGenerationFailed = errors.New("generation: failed")

// GenerationFailure is terminal for the request: the pipeline never
// retries internally, the caller decides. ContentHash identifies the
// instruction for log correlation and reproduction.
type GenerationFailure struct {
	Reason      FailureReason
	ContentHash string
	Err         error
}

func (e *GenerationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation: %s (content %s): %v", e.Reason, e.ContentHash, e.Err)
	}
	return fmt.Sprintf("generation: %s (content %s)", e.Reason, e.ContentHash)
}

func (e *GenerationFailure) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrGenerationFailed
}

// Is lets errors.Is(err, ErrGenerationFailed) match all failures.
func (e *GenerationFailure) Is(target error) bool {
	return target == ErrGenerationFailed
}

func newFailure(reason FailureReason, hash string, err error) *GenerationFailure {
	return &GenerationFailure{Reason: reason, ContentHash: hash, Err: err}
}

// ContentHash returns the hex SHA-256 of an instruction. Used as the cache
// key and logged with every failure.
func ContentHash(instruction string) string {
	sum := sha256.Sum256([]byte(instruction))
	return hex.EncodeToString(sum[:])
}

// Generator produces a structured rule proposal from an instruction and
// the catalog expressed as a constrained output schema.
type Generator interface {
	Generate(ctx context.Context, instruction string, cat *catalog.Catalog) (*rules.Rule, error)
}

// OutputSchema is the constrained shape sent to the collaborator so its
// response can only reference cataloged fields, known operators, and
// valid decisions.
type OutputSchema struct {
	Fields        []SchemaField `json:"fields"`
	Operators     []string      `json:"operators"`
	Decisions     []string      `json:"decisions"`
	MaxConditions int           `json:"max_conditions"`
}

// SchemaField mirrors one catalog descriptor in the output schema.
type SchemaField struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Min       *float64    `json:"min,omitempty"`
	Max       *float64    `json:"max,omitempty"`
	Enum      []string    `json:"enum,omitempty"`
	MaxLength int         `json:"max_length,omitempty"`
	Nullable  bool        `json:"nullable,omitempty"`
}

// BuildSchema projects the catalog and policy constants into the
// constrained output schema.
func BuildSchema(cat *catalog.Catalog, policy *catalog.PolicyConfig) OutputSchema {
	fields := make([]SchemaField, 0, len(cat.Features))
	for i := range cat.Features {
		d := &cat.Features[i]
		if d.PII || policy.IsDisallowed(d.Name) {
			// Never offer PII or disallowed fields to the generator.
			continue
		}
		fields = append(fields, SchemaField{
			Name:      d.Name,
			Type:      string(d.Type),
			Min:       d.Min,
			Max:       d.Max,
			Enum:      d.Enum,
			MaxLength: d.MaxLength,
			Nullable:  d.Nullable,
		})
	}

	decisions := make([]string, 0, len(rules.ValidDecisions))
	for _, d := range rules.ValidDecisions {
		decisions = append(decisions, string(d))
	}

	return OutputSchema{
		Fields:        fields,
		Operators:     rules.Operators,
		Decisions:     decisions,
		MaxConditions: policy.MaxConditions,
	}
}
