package rules

import "fmt"

// Severity splits violations into blocking errors and advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation codes produced by the structure validator.
const (
	ViolationMalformedName      = "malformed_name"
	ViolationDescriptionLength  = "description_length"
	ViolationInvalidDecision    = "invalid_decision"
	ViolationConditionBounds    = "condition_bounds"
	ViolationMalformedCondition = "malformed_condition"
)

// Violation codes produced by the catalog validator.
const (
	ViolationUnknownField      = "unknown_field"
	ViolationIllegalOperator   = "illegal_operator"
	ViolationTypeMismatch      = "type_mismatch"
	ViolationOutOfRange        = "out_of_range"
	ViolationEnumMismatch      = "enum_mismatch"
	ViolationNullValue         = "null_value"
	ViolationTooManyConditions = "too_many_conditions"
)

// Violation codes produced by the policy gate.
const (
	ViolationSensitiveLanguage = "sensitive_language"
	ViolationDisallowedField   = "disallowed_field"
	ViolationPIIField          = "pii_field"
	ViolationBroadNegation     = "broad_negation"
)

// Violation records one rejected or flagged aspect of an instruction or
// rule. Path locates the offending node, e.g. "conditions[2].value".
type Violation struct {
	Type     string   `json:"type" yaml:"type"`
	Severity Severity `json:"severity" yaml:"severity"`
	Path     string   `json:"path,omitempty" yaml:"path,omitempty"`
	Field    string   `json:"field,omitempty" yaml:"field,omitempty"`
	Message  string   `json:"message" yaml:"message"`
}

func (v Violation) String() string {
	if v.Path != "" {
		return fmt.Sprintf("%s: %s: %s", v.Severity, v.Path, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Severity, v.Message)
}

// ErrorViolation builds a blocking violation.
func ErrorViolation(vtype, path, field, message string) Violation {
	return Violation{Type: vtype, Severity: SeverityError, Path: path, Field: field, Message: message}
}

// WarningViolation builds an advisory violation.
func WarningViolation(vtype, path, field, message string) Violation {
	return Violation{Type: vtype, Severity: SeverityWarning, Path: path, Field: field, Message: message}
}

// HasErrors reports whether any violation in the list is blocking.
func HasErrors(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

// SplitBySeverity partitions violations into errors and warnings,
// preserving order.
func SplitBySeverity(violations []Violation) (errors, warnings []Violation) {
	for _, v := range violations {
		if v.Severity == SeverityError {
			errors = append(errors, v)
		} else {
			warnings = append(warnings, v)
		}
	}
	return errors, warnings
}
