// Package rules defines the fraud rule model: decisions, conditions,
// violations, and rule evaluation against transaction records.
package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Decision is the outcome a rule assigns to a matching record.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

// ValidDecisions lists the accepted decision values in precedence order.
var ValidDecisions = []Decision{DecisionAllow, DecisionReview, DecisionBlock}

// IsValid reports whether d is a known decision.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionAllow, DecisionReview, DecisionBlock:
		return true
	}
	return false
}

// rank orders decisions by strictness for precedence merging.
func (d Decision) rank() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionReview:
		return 1
	default:
		return 0
	}
}

// Stricter returns the stricter of two decisions (block > review > allow).
// Layering a proposed decision over a baseline never downgrades the baseline.
func Stricter(a, b Decision) Decision {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Rule is a fraud detection rule: an ordered condition list evaluated as a
// logical AND, with nested groups supplying OR.
type Rule struct {
	Name        string      `yaml:"name" json:"name" validate:"required,rule_name"`
	Description string      `yaml:"description" json:"description" validate:"required,max=500"`
	Decision    Decision    `yaml:"decision" json:"decision" validate:"required,decision"`
	Category    string      `yaml:"category,omitempty" json:"category,omitempty" validate:"omitempty,max=64"`
	Conditions  []Condition `yaml:"conditions" json:"conditions" validate:"required,min=1,max=32"`
}

// ConditionCount returns the total number of leaf conditions, counting
// through nested groups.
func (r *Rule) ConditionCount() int {
	total := 0
	for i := range r.Conditions {
		total += r.Conditions[i].leafCount()
	}
	return total
}

// Fields returns the set of field names referenced anywhere in the rule.
func (r *Rule) Fields() map[string]bool {
	fields := make(map[string]bool)
	for i := range r.Conditions {
		r.Conditions[i].collectFields(fields)
	}
	return fields
}

// ParseRule parses a single rule from YAML bytes.
func ParseRule(data []byte) (*Rule, error) {
	var rule Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	return &rule, nil
}

// ParseRules parses one or more rules from YAML bytes. A document holding a
// single rule object is accepted alongside the list form.
func ParseRules(data []byte) ([]*Rule, error) {
	var parsed []*Rule
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		rule, singleErr := ParseRule(data)
		if singleErr != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		return []*Rule{rule}, nil
	}
	return parsed, nil
}
