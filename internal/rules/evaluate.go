package rules

import (
	"regexp"
	"strings"
	"sync"

	"leadflow_backend/platform/logger"
)

// Evaluator evaluates conditions against flattened lead records. It owns the
// compiled-regex cache; construct one per process and inject it, rather than
// relying on package-level state.
type Evaluator struct {
	log *logger.Logger

	mu         sync.RWMutex
	regexCache map[string]*regexp.Regexp // nil entry = pattern failed to compile
}

// NewEvaluator creates an evaluator with an empty regex cache.
func NewEvaluator(log *logger.Logger) *Evaluator {
	return &Evaluator{
		log:        log,
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// EvaluateAny reports whether ANY condition matches (OR combination).
// This is the scoring contract: an IF_THEN rule fires when at least one of
// its conditions holds. An empty condition set never matches.
func (e *Evaluator) EvaluateAny(conds []Condition, rec Record) bool {
	for _, c := range conds {
		if e.Evaluate(c, rec) {
			return true
		}
	}
	return false
}

// EvaluateAll reports whether ALL conditions match (AND combination).
// This is the routing contract: a routing rule applies only when every
// condition holds. An empty condition set matches everything, which lets a
// final catch-all rule exist.
func (e *Evaluator) EvaluateAll(conds []Condition, rec Record) bool {
	for _, c := range conds {
		if !e.Evaluate(c, rec) {
			return false
		}
	}
	return true
}

// Evaluate applies a single condition to the record. Malformed conditions
// (unknown operator, invalid regex) log and evaluate false; they never abort
// the pipeline. Missing fields resolve exists/not_exists normally and make
// every other operator false.
func (e *Evaluator) Evaluate(c Condition, rec Record) bool {
	value, present := rec.Lookup(c.Field)

	switch c.Operator {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}

	if !present {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return valuesEqual(value, c.Value)
	case OpNotEquals:
		return !valuesEqual(value, c.Value)
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return e.compareNumeric(c.Operator, value, c.Value)
	case OpContains:
		return containsFold(toString(value), toString(c.Value))
	case OpNotContains:
		return !containsFold(toString(value), toString(c.Value))
	case OpStartsWith:
		return hasPrefixFold(toString(value), toString(c.Value))
	case OpEndsWith:
		return hasSuffixFold(toString(value), toString(c.Value))
	case OpRegex:
		return e.matchRegex(c, toString(value))
	case OpIn:
		return inList(value, c.Value)
	case OpNotIn:
		return !inList(value, c.Value)
	default:
		if e.log != nil {
			e.log.Warn("rule condition with unknown operator skipped",
				"operator", string(c.Operator), "field", c.Field)
		}
		return false
	}
}

func (e *Evaluator) compareNumeric(op Operator, left, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return false
	}
	switch op {
	case OpGreaterThan:
		return lf > rf
	case OpLessThan:
		return lf < rf
	case OpGreaterEqual:
		return lf >= rf
	case OpLessEqual:
		return lf <= rf
	}
	return false
}

// matchRegex compiles the pattern once and caches the result, including
// failed compiles so a bad pattern is not recompiled on every lead.
func (e *Evaluator) matchRegex(c Condition, value string) bool {
	pattern, ok := c.Value.(string)
	if !ok {
		return false
	}

	e.mu.RLock()
	re, cached := e.regexCache[pattern]
	e.mu.RUnlock()

	if !cached {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			if e.log != nil {
				e.log.Warn("rule condition with invalid regex skipped",
					"pattern", pattern, "field", c.Field, "error", err)
			}
			compiled = nil
		}
		e.mu.Lock()
		e.regexCache[pattern] = compiled
		e.mu.Unlock()
		re = compiled
	}

	if re == nil {
		return false
	}
	return re.MatchString(value)
}

func valuesEqual(left, right any) bool {
	if lf, lok := toFloat(left); lok {
		if rf, rok := toFloat(right); rok {
			return lf == rf
		}
	}
	return toString(left) == toString(right)
}

func inList(value, list any) bool {
	switch items := list.(type) {
	case []any:
		for _, item := range items {
			if valuesEqual(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if valuesEqual(value, item) {
				return true
			}
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func hasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}

func hasSuffixFold(s, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(s), strings.ToLower(suffix))
}
