// Package policygate scans instructions and generated rules for policy
// compliance: disallowed fields, PII references, discrimination-proxy
// language, and overly broad negations. Blocking errors and advisory
// warnings are separated by severity; warnings never stop the pipeline.
package policygate

import (
	"fmt"
	"regexp"

	"rulegate/internal/catalog"
	"rulegate/internal/records"
	"rulegate/internal/rules"
)

// Gate applies the policy constants to instructions and rules.
type Gate struct {
	policy   *catalog.PolicyConfig
	catalog  *catalog.Catalog
	patterns []*regexp.Regexp
}

// New compiles the policy's sensitive-language patterns and returns a Gate.
func New(cat *catalog.Catalog, policy *catalog.PolicyConfig) (*Gate, error) {
	patterns := make([]*regexp.Regexp, 0, len(policy.SensitivePatterns))
	for _, p := range policy.SensitivePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid sensitive pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Gate{policy: policy, catalog: cat, patterns: patterns}, nil
}

// Check runs the instruction pass, the rule pass, or both, depending on
// which inputs are present.
func (g *Gate) Check(instruction string, rule *rules.Rule) []rules.Violation {
	var violations []rules.Violation
	if instruction != "" {
		violations = append(violations, g.CheckInstruction(instruction)...)
	}
	if rule != nil {
		violations = append(violations, g.CheckRule(rule)...)
	}
	return violations
}

// CheckInstruction matches the raw instruction against the sensitive
// language patterns. It runs before any generation call so a
// non-compliant instruction is rejected without spending a generation.
func (g *Gate) CheckInstruction(instruction string) []rules.Violation {
	var violations []rules.Violation
	for _, re := range g.patterns {
		if match := re.FindString(instruction); match != "" {
			violations = append(violations, rules.ErrorViolation(
				rules.ViolationSensitiveLanguage, "", "",
				fmt.Sprintf("instruction contains sensitive language: %q", match)))
		}
	}
	return violations
}

// CheckRule scans a generated rule, recursing into nested groups:
// disallowed fields are errors, PII fields are warnings, and a rule whose
// entire condition list is one inequality or a single-value not_in is
// flagged as an overly broad negation.
func (g *Gate) CheckRule(rule *rules.Rule) []rules.Violation {
	var violations []rules.Violation
	for i := range rule.Conditions {
		violations = append(violations,
			g.checkCondition(&rule.Conditions[i], fmt.Sprintf("conditions[%d]", i))...)
	}
	if v, broad := g.broadNegation(rule); broad {
		violations = append(violations, v)
	}
	return violations
}

func (g *Gate) checkCondition(c *rules.Condition, path string) []rules.Violation {
	switch c.Kind() {
	case rules.KindLeaf:
		return g.checkField(c.Field, path)
	case rules.KindAll:
		var out []rules.Violation
		for i := range c.All {
			out = append(out, g.checkCondition(&c.All[i], fmt.Sprintf("%s.all[%d]", path, i))...)
		}
		return out
	case rules.KindAny:
		var out []rules.Violation
		for i := range c.Any {
			out = append(out, g.checkCondition(&c.Any[i], fmt.Sprintf("%s.any[%d]", path, i))...)
		}
		return out
	}
	return nil
}

func (g *Gate) checkField(field, path string) []rules.Violation {
	var out []rules.Violation
	if g.policy.IsDisallowed(field) {
		out = append(out, rules.ErrorViolation(rules.ViolationDisallowedField,
			path+".field", field,
			fmt.Sprintf("field %q is disallowed by policy", field)))
	}
	if g.isPII(field) {
		out = append(out, rules.WarningViolation(rules.ViolationPIIField,
			path+".field", field,
			fmt.Sprintf("field %q carries personally identifying information", field)))
	}
	return out
}

func (g *Gate) isPII(field string) bool {
	if g.policy.IsPII(field) {
		return true
	}
	if desc, ok := g.catalog.Lookup(field); ok && desc.PII {
		return true
	}
	return false
}

// broadNegation flags a rule whose entire condition list is a single
// inequality leaf or a not_in excluding exactly one value. Such a rule
// matches nearly the whole population.
func (g *Gate) broadNegation(rule *rules.Rule) (rules.Violation, bool) {
	if len(rule.Conditions) != 1 {
		return rules.Violation{}, false
	}
	c := &rule.Conditions[0]
	if c.Kind() != rules.KindLeaf {
		return rules.Violation{}, false
	}

	broad := false
	switch c.Op {
	case rules.OpNotEqual:
		broad = true
	case rules.OpNotIn:
		if items, ok := asSlice(c.Value); ok && len(items) == 1 {
			broad = true
		}
	}
	if !broad {
		return rules.Violation{}, false
	}

	return rules.WarningViolation(rules.ViolationBroadNegation, "conditions[0]", c.Field,
		fmt.Sprintf("rule matches every record except where %s excludes a single value; consider narrowing", c.Field)), true
}

func asSlice(v any) ([]any, bool) {
	switch items := v.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// StripPII returns a copy of the record with catalog-flagged and
// policy-listed PII fields cleared. Applied to anything shown to a
// reviewer or written to logs.
func (g *Gate) StripPII(rec records.TransactionRecord) records.TransactionRecord {
	out := rec
	for _, field := range g.piiFieldNames() {
		switch field {
		case "email":
			out.Email = ""
		case "ip_address":
			out.IPAddress = ""
		case "card_bin":
			out.CardBIN = ""
		}
	}
	return out
}

func (g *Gate) piiFieldNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range g.policy.PIIFields {
		if !seen[f] {
			seen[f] = true
			names = append(names, f)
		}
	}
	for _, f := range g.catalog.PIIFields() {
		if !seen[f] {
			seen[f] = true
			names = append(names, f)
		}
	}
	return names
}
