package rules

import (
	"strings"
)

// FieldSource supplies named feature values for evaluation. The second
// return reports whether the field is present and non-null.
type FieldSource interface {
	Field(name string) (any, bool)
}

// Evaluate reports whether every top-level condition matches the source.
// The top-level list is a logical AND; nested groups supply OR via "any".
// A rule with no conditions matches nothing.
func Evaluate(conditions []Condition, src FieldSource) bool {
	if len(conditions) == 0 {
		return false
	}
	for i := range conditions {
		if !evalCondition(&conditions[i], src) {
			return false
		}
	}
	return true
}

// Matches reports whether the rule matches the source record.
func (r *Rule) Matches(src FieldSource) bool {
	return Evaluate(r.Conditions, src)
}

func evalCondition(c *Condition, src FieldSource) bool {
	switch c.Kind() {
	case KindLeaf:
		return evalLeaf(c, src)
	case KindAll:
		for i := range c.All {
			if !evalCondition(&c.All[i], src) {
				return false
			}
		}
		return true
	case KindAny:
		for i := range c.Any {
			if evalCondition(&c.Any[i], src) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// evalLeaf applies a single comparison. Absent or null field values never
// match, including under negated operators.
func evalLeaf(c *Condition, src FieldSource) bool {
	value, ok := src.Field(c.Field)
	if !ok || value == nil {
		return false
	}

	switch c.Op {
	case OpEqual:
		return equalsValue(value, c.Value)
	case OpNotEqual:
		return !equalsValue(value, c.Value)
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return compareNumeric(value, c.Value, c.Op)
	case OpIn:
		return containsValue(c.Value, value)
	case OpNotIn:
		return !containsValue(c.Value, value)
	case OpContains:
		return containsString(value, c.Value)
	default:
		return false
	}
}

// equalsValue compares typed values without cross-type coercion, except
// between numeric widths, which compare by value.
func equalsValue(a, b any) bool {
	if af, aok := toFloat64(a); aok {
		bf, bok := toFloat64(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func compareNumeric(a, b any, op string) bool {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGreater:
		return af > bf
	case OpLess:
		return af < bf
	case OpGreaterEqual:
		return af >= bf
	case OpLessEqual:
		return af <= bf
	}
	return false
}

// containsValue reports whether list (a condition array value) contains v.
func containsValue(list, v any) bool {
	items, ok := asSlice(list)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalsValue(v, item) {
			return true
		}
	}
	return false
}

func containsString(value, substr any) bool {
	str, ok := value.(string)
	if !ok {
		return false
	}
	sub, ok := substr.(string)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(str), strings.ToLower(sub))
}

// asSlice normalizes the array forms produced by the YAML and JSON decoders.
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
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
