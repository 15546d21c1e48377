package validate

import (
	"fmt"
	"strings"

	"rulegate/internal/catalog"
	"rulegate/internal/rules"
)

// ValidateAgainstCatalog resolves every leaf condition against the feature
// catalog: field existence, operator legality for the field's type, value
// type without coercion, numeric range, enum membership, and nullability.
// When the rule exceeds the policy condition limit, per-condition detail is
// skipped and a single too_many_conditions error is returned.
func (v *Validator) ValidateAgainstCatalog(rule *rules.Rule) Result {
	if rule == nil {
		return resultOf([]rules.Violation{
			rules.ErrorViolation(rules.ViolationMalformedCondition, "", "", "rule is missing"),
		}, nil)
	}

	if count := rule.ConditionCount(); count > v.policy.MaxConditions {
		return resultOf([]rules.Violation{
			rules.ErrorViolation(rules.ViolationTooManyConditions, "conditions", "",
				fmt.Sprintf("rule has %d conditions, policy allows at most %d",
					count, v.policy.MaxConditions)),
		}, nil)
	}

	var errs []rules.Violation
	for i := range rule.Conditions {
		errs = append(errs, v.checkCondition(&rule.Conditions[i], fmt.Sprintf("conditions[%d]", i))...)
	}
	return resultOf(errs, nil)
}

func (v *Validator) checkCondition(c *rules.Condition, path string) []rules.Violation {
	switch c.Kind() {
	case rules.KindLeaf:
		return v.checkLeaf(c, path)
	case rules.KindAll:
		var errs []rules.Violation
		for i := range c.All {
			errs = append(errs, v.checkCondition(&c.All[i], fmt.Sprintf("%s.all[%d]", path, i))...)
		}
		return errs
	case rules.KindAny:
		var errs []rules.Violation
		for i := range c.Any {
			errs = append(errs, v.checkCondition(&c.Any[i], fmt.Sprintf("%s.any[%d]", path, i))...)
		}
		return errs
	default:
		return []rules.Violation{rules.ErrorViolation(rules.ViolationMalformedCondition, path, "",
			"condition must be exactly one of: a field comparison, an all group, or an any group")}
	}
}

func (v *Validator) checkLeaf(c *rules.Condition, path string) []rules.Violation {
	desc, ok := v.catalog.Lookup(c.Field)
	if !ok {
		return []rules.Violation{rules.ErrorViolation(rules.ViolationUnknownField,
			path+".field", c.Field,
			fmt.Sprintf("unknown field %q: not in the feature catalog", c.Field))}
	}

	if !rules.IsOperator(c.Op) {
		return []rules.Violation{rules.ErrorViolation(rules.ViolationIllegalOperator,
			path+".op", c.Field,
			fmt.Sprintf("unknown operator %q", c.Op))}
	}

	if bad := checkOperatorLegality(desc, c.Op, path); bad != nil {
		return []rules.Violation{*bad}
	}

	return checkValue(desc, c.Op, c.Value, path+".value")
}

// checkOperatorLegality applies the type-directed operator table: ordering
// only on numeric fields, containment only on strings, membership on
// number, string, and enum fields, equality everywhere.
func checkOperatorLegality(desc *catalog.FeatureDescriptor, op, path string) *rules.Violation {
	var bad *rules.Violation

	switch {
	case rules.OrderingOperators[op] && !desc.Type.Ordered():
		v := rules.ErrorViolation(rules.ViolationIllegalOperator, path+".op", desc.Name,
			fmt.Sprintf("operator %q requires a numeric field, but %q has type %s", op, desc.Name, desc.Type))
		bad = &v
	case op == rules.OpContains && !desc.Type.Substring():
		v := rules.ErrorViolation(rules.ViolationIllegalOperator, path+".op", desc.Name,
			fmt.Sprintf("operator %q requires a string field, but %q has type %s", op, desc.Name, desc.Type))
		bad = &v
	case rules.MembershipOperators[op] && !desc.Type.Membership():
		v := rules.ErrorViolation(rules.ViolationIllegalOperator, path+".op", desc.Name,
			fmt.Sprintf("operator %q is not legal for %q fields of type %s", op, desc.Name, desc.Type))
		bad = &v
	}
	return bad
}

func checkValue(desc *catalog.FeatureDescriptor, op string, value any, path string) []rules.Violation {
	if value == nil {
		if desc.Nullable {
			return nil
		}
		return []rules.Violation{rules.ErrorViolation(rules.ViolationNullValue, path, desc.Name,
			fmt.Sprintf("field %q is not nullable", desc.Name))}
	}

	if rules.MembershipOperators[op] {
		return checkMembershipValue(desc, value, path)
	}

	if op == rules.OpContains {
		if _, ok := value.(string); !ok {
			return []rules.Violation{rules.ErrorViolation(rules.ViolationTypeMismatch, path, desc.Name,
				fmt.Sprintf("operator %q requires a string value, got %v", op, value))}
		}
		return nil
	}

	if bad := checkScalar(desc, value, path); bad != nil {
		return []rules.Violation{*bad}
	}
	return nil
}

// checkMembershipValue requires a non-empty array whose elements are each
// individually valid for the field.
func checkMembershipValue(desc *catalog.FeatureDescriptor, value any, path string) []rules.Violation {
	items, ok := asSlice(value)
	if !ok {
		return []rules.Violation{rules.ErrorViolation(rules.ViolationTypeMismatch, path, desc.Name,
			"membership operators require an array value")}
	}
	if len(items) == 0 {
		return []rules.Violation{rules.ErrorViolation(rules.ViolationTypeMismatch, path, desc.Name,
			"membership operators require a non-empty array")}
	}

	var errs []rules.Violation
	for i, item := range items {
		if bad := checkScalar(desc, item, fmt.Sprintf("%s[%d]", path, i)); bad != nil {
			errs = append(errs, *bad)
		}
	}
	return errs
}

// checkScalar validates one scalar value against the field's declared
// type. Values are never coerced across types.
func checkScalar(desc *catalog.FeatureDescriptor, value any, path string) *rules.Violation {
	switch desc.Type {
	case catalog.TypeNumber:
		f, ok := toFloat64(value)
		if !ok {
			v := rules.ErrorViolation(rules.ViolationTypeMismatch, path, desc.Name,
				fmt.Sprintf("field %q expects a number, got %v (%T)", desc.Name, value, value))
			return &v
		}
		if !desc.InRange(f) {
			v := rules.ErrorViolation(rules.ViolationOutOfRange, path, desc.Name,
				fmt.Sprintf("value %g is outside the declared range %s for field %q",
					f, desc.RangeString(), desc.Name))
			return &v
		}

	case catalog.TypeString:
		s, ok := value.(string)
		if !ok {
			v := rules.ErrorViolation(rules.ViolationTypeMismatch, path, desc.Name,
				fmt.Sprintf("field %q expects a string, got %v (%T)", desc.Name, value, value))
			return &v
		}
		if desc.MaxLength > 0 && len(s) > desc.MaxLength {
			v := rules.ErrorViolation(rules.ViolationOutOfRange, path, desc.Name,
				fmt.Sprintf("value length %d exceeds max length %d for field %q",
					len(s), desc.MaxLength, desc.Name))
			return &v
		}

	case catalog.TypeEnum:
		s, ok := value.(string)
		if !ok {
			v := rules.ErrorViolation(rules.ViolationTypeMismatch, path, desc.Name,
				fmt.Sprintf("field %q expects one of its enum values, got %v (%T)", desc.Name, value, value))
			return &v
		}
		if !desc.InEnum(s) {
			v := rules.ErrorViolation(rules.ViolationEnumMismatch, path, desc.Name,
				fmt.Sprintf("value %q is not valid for field %q; valid values: %s",
					s, desc.Name, strings.Join(desc.Enum, ", ")))
			return &v
		}

	case catalog.TypeBoolean:
		if _, ok := value.(bool); !ok {
			v := rules.ErrorViolation(rules.ViolationTypeMismatch, path, desc.Name,
				fmt.Sprintf("field %q expects a boolean, got %v (%T)", desc.Name, value, value))
			return &v
		}
	}
	return nil
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
	case []int:
		out := make([]any, len(items))
		for i, n := range items {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(items))
		for i, f := range items {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
