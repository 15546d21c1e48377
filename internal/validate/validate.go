// Package validate checks proposed rules: first shape (structure), then
// field-by-field legality against the feature catalog. Both passes are
// pure functions over the rule; repeated validation of the same rule
// yields identical results.
package validate

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"rulegate/internal/catalog"
	"rulegate/internal/rules"
)

const (
	nameMinLen        = 3
	nameMaxLen        = 64
	descriptionMaxLen = 500
)

var ruleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,63}$`)

// Result is the outcome of one validation pass.
type Result struct {
	Valid    bool              `json:"valid"`
	Errors   []rules.Violation `json:"errors,omitempty"`
	Warnings []rules.Violation `json:"warnings,omitempty"`
}

func resultOf(errs, warns []rules.Violation) Result {
	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

// Validator runs structure and catalog validation for proposed rules.
type Validator struct {
	validate *validator.Validate
	catalog  *catalog.Catalog
	policy   *catalog.PolicyConfig
}

// New builds a Validator over the given catalog and policy constants.
func New(cat *catalog.Catalog, policy *catalog.PolicyConfig) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Tag handlers for the rule shape. Registration only fails for
	// empty tag names, which are fixed strings here.
	_ = v.RegisterValidation("rule_name", func(fl validator.FieldLevel) bool {
		return ruleNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("decision", func(fl validator.FieldLevel) bool {
		return rules.Decision(fl.Field().String()).IsValid()
	})

	return &Validator{validate: v, catalog: cat, policy: policy}
}

// ValidateStructure checks rule shape only: required fields, naming
// convention, description bounds, decision enum, condition-array bounds,
// and that every condition node populates exactly one arm of the variant.
func (v *Validator) ValidateStructure(rule *rules.Rule) Result {
	if rule == nil {
		return resultOf([]rules.Violation{
			rules.ErrorViolation(rules.ViolationMalformedCondition, "", "", "rule is missing"),
		}, nil)
	}

	var errs []rules.Violation

	if err := v.validate.Struct(rule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, violationFromFieldError(fe))
			}
		} else {
			errs = append(errs, rules.ErrorViolation(
				rules.ViolationMalformedCondition, "", "",
				fmt.Sprintf("rule could not be validated: %v", err)))
		}
	}

	for i := range rule.Conditions {
		errs = append(errs, checkShape(&rule.Conditions[i], fmt.Sprintf("conditions[%d]", i))...)
	}

	return resultOf(errs, nil)
}

// checkShape walks the condition tree flagging nodes that mix or omit
// variant arms and groups with no members.
func checkShape(c *rules.Condition, path string) []rules.Violation {
	var errs []rules.Violation

	switch c.Kind() {
	case rules.KindLeaf:
		if c.Field == "" {
			errs = append(errs, rules.ErrorViolation(rules.ViolationMalformedCondition,
				path+".field", "", "condition is missing a field"))
		}
		if c.Op == "" {
			errs = append(errs, rules.ErrorViolation(rules.ViolationMalformedCondition,
				path+".op", c.Field, "condition is missing an operator"))
		}
	case rules.KindAll:
		if len(c.All) == 0 {
			errs = append(errs, rules.ErrorViolation(rules.ViolationMalformedCondition,
				path, "", "all group must contain at least one condition"))
		}
		for i := range c.All {
			errs = append(errs, checkShape(&c.All[i], fmt.Sprintf("%s.all[%d]", path, i))...)
		}
	case rules.KindAny:
		if len(c.Any) == 0 {
			errs = append(errs, rules.ErrorViolation(rules.ViolationMalformedCondition,
				path, "", "any group must contain at least one condition"))
		}
		for i := range c.Any {
			errs = append(errs, checkShape(&c.Any[i], fmt.Sprintf("%s.any[%d]", path, i))...)
		}
	default:
		errs = append(errs, rules.ErrorViolation(rules.ViolationMalformedCondition,
			path, "",
			"condition must be exactly one of: a field comparison, an all group, or an any group"))
	}

	return errs
}

func violationFromFieldError(fe validator.FieldError) rules.Violation {
	switch fe.StructField() {
	case "Name":
		if fe.Tag() == "required" {
			return rules.ErrorViolation(rules.ViolationMalformedName, "name", "", "rule name is required")
		}
		return rules.ErrorViolation(rules.ViolationMalformedName, "name", "",
			fmt.Sprintf("rule name must be a %d-%d character lowercase identifier matching [a-z][a-z0-9_]*",
				nameMinLen, nameMaxLen))
	case "Description":
		if fe.Tag() == "required" {
			return rules.ErrorViolation(rules.ViolationDescriptionLength, "description", "",
				"rule description is required")
		}
		return rules.ErrorViolation(rules.ViolationDescriptionLength, "description", "",
			fmt.Sprintf("rule description must be at most %d characters", descriptionMaxLen))
	case "Decision":
		return rules.ErrorViolation(rules.ViolationInvalidDecision, "decision", "",
			fmt.Sprintf("decision must be one of: %s, %s, %s",
				rules.DecisionAllow, rules.DecisionReview, rules.DecisionBlock))
	case "Conditions":
		return rules.ErrorViolation(rules.ViolationConditionBounds, "conditions", "",
			"rule must declare between 1 and 32 conditions")
	case "Category":
		return rules.ErrorViolation(rules.ViolationDescriptionLength, "category", "",
			"rule category must be at most 64 characters")
	default:
		return rules.ErrorViolation(rules.ViolationMalformedCondition, fe.Field(), "",
			fmt.Sprintf("invalid %s", fe.Field()))
	}
}

// Run executes structure validation followed by catalog validation,
// stopping after the structure pass when it fails.
func (v *Validator) Run(rule *rules.Rule) Result {
	structure := v.ValidateStructure(rule)
	if !structure.Valid {
		return structure
	}
	return v.ValidateAgainstCatalog(rule)
}
