package rules

// Operator identifiers for leaf conditions.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpContains     = "contains"
)

// Operators lists every operator the condition language accepts.
var Operators = []string{
	OpEqual, OpNotEqual,
	OpGreater, OpLess, OpGreaterEqual, OpLessEqual,
	OpIn, OpNotIn, OpContains,
}

// OrderingOperators are legal on numeric fields only.
var OrderingOperators = map[string]bool{
	OpGreater:      true,
	OpLess:         true,
	OpGreaterEqual: true,
	OpLessEqual:    true,
}

// MembershipOperators take an array value.
var MembershipOperators = map[string]bool{
	OpIn:    true,
	OpNotIn: true,
}

// IsOperator reports whether op is a known operator.
func IsOperator(op string) bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// ConditionKind identifies which arm of the condition variant is populated.
type ConditionKind int

const (
	KindInvalid ConditionKind = iota
	KindLeaf
	KindAll
	KindAny
)

// Condition is one node of a rule's condition tree. Exactly one arm must be
// set: a leaf comparison (field, op, value), an "all" group (logical AND),
// or an "any" group (logical OR). Mixed or empty nodes are rejected by
// validation, not by decoding, so that violations can carry the node's path.
type Condition struct {
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	Op    string `yaml:"op,omitempty" json:"op,omitempty"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
	All   []Condition `yaml:"all,omitempty" json:"all,omitempty"`
	Any   []Condition `yaml:"any,omitempty" json:"any,omitempty"`
}

// Kind classifies the node. A node mixing leaf fields with group arms, or
// populating both groups, or populating nothing, is KindInvalid.
func (c *Condition) Kind() ConditionKind {
	hasLeaf := c.Field != "" || c.Op != "" || c.Value != nil
	hasAll := c.All != nil
	hasAny := c.Any != nil

	switch {
	case hasLeaf && !hasAll && !hasAny:
		return KindLeaf
	case hasAll && !hasLeaf && !hasAny:
		return KindAll
	case hasAny && !hasLeaf && !hasAll:
		return KindAny
	default:
		return KindInvalid
	}
}

// children returns the group members for KindAll and KindAny nodes.
func (c *Condition) children() []Condition {
	if c.All != nil {
		return c.All
	}
	return c.Any
}

func (c *Condition) leafCount() int {
	switch c.Kind() {
	case KindLeaf:
		return 1
	case KindAll, KindAny:
		total := 0
		kids := c.children()
		for i := range kids {
			total += kids[i].leafCount()
		}
		return total
	default:
		// Malformed nodes still occupy a condition slot.
		return 1
	}
}

func (c *Condition) collectFields(fields map[string]bool) {
	switch c.Kind() {
	case KindLeaf:
		if c.Field != "" {
			fields[c.Field] = true
		}
	case KindAll, KindAny:
		kids := c.children()
		for i := range kids {
			kids[i].collectFields(fields)
		}
	}
}

// Leaf builds a leaf comparison condition.
func Leaf(field, op string, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// AllOf builds an AND group.
func AllOf(conds ...Condition) Condition {
	if conds == nil {
		conds = []Condition{}
	}
	return Condition{All: conds}
}

// AnyOf builds an OR group.
func AnyOf(conds ...Condition) Condition {
	if conds == nil {
		conds = []Condition{}
	}
	return Condition{Any: conds}
}
