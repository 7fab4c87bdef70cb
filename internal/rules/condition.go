// Package rules provides the generic predicate engine shared by the scoring
// and routing engines. A condition is evaluated against a lead flattened to
// dotted paths; combination semantics (OR for scoring, AND for routing) are
// fixed contracts exposed as separate entry points.
package rules

import (
	"fmt"
	"regexp"
)

// Operator is the closed set of comparison operators a condition may use.
// Unknown operators are rejected at config-write time; if one still reaches
// evaluation (stale persisted config), it evaluates to false.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpRegex        Operator = "regex"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpExists       Operator = "exists"
	OpNotExists    Operator = "not_exists"
)

var knownOperators = map[Operator]bool{
	OpEquals:       true,
	OpNotEquals:    true,
	OpGreaterThan:  true,
	OpLessThan:     true,
	OpGreaterEqual: true,
	OpLessEqual:    true,
	OpContains:     true,
	OpNotContains:  true,
	OpStartsWith:   true,
	OpEndsWith:     true,
	OpRegex:        true,
	OpIn:           true,
	OpNotIn:        true,
	OpExists:       true,
	OpNotExists:    true,
}

// Condition is a single predicate over one flattened lead field.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Validate checks a condition at config-write time so malformed rules are
// rejected before they are persisted, instead of silently evaluating false.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	if !knownOperators[c.Operator] {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}

	switch c.Operator {
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("regex operator requires a string pattern")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
	case OpIn, OpNotIn:
		if _, ok := c.Value.([]any); !ok {
			if _, ok := c.Value.([]string); !ok {
				return fmt.Errorf("%s operator requires a list value", c.Operator)
			}
		}
	case OpExists, OpNotExists:
		// Value is ignored.
	default:
		if c.Value == nil {
			return fmt.Errorf("%s operator requires a value", c.Operator)
		}
	}

	return nil
}

// ValidateAll validates every condition in a set, returning the first error.
func ValidateAll(conds []Condition) error {
	for i, c := range conds {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}
