// Package condition implements the value comparator (C1) and condition
// evaluator (C4): the predicate language over events, sequences, and
// property bags described in spec §4.1-4.3.
package condition

import (
	"log/slog"
	"strings"

	"github.com/vitaliisemenov/featureflag/internal/model"
)

// Comparator applies a single operator to an (actual, expected) pair.
// It never panics: an unknown operator or a bad regex pattern logs a
// warning and returns false (spec §7 evaluation anomalies).
type Comparator struct {
	logger *slog.Logger
	regex  *regexCache
}

// NewComparator builds a comparator with its own regex cache. A nil
// logger defaults to slog.Default().
func NewComparator(logger *slog.Logger) *Comparator {
	return NewComparatorWithCacheSize(logger, defaultRegexCacheSize)
}

// NewComparatorWithCacheSize builds a comparator whose regex cache holds
// at most size compiled patterns, per the configured regex_cache_size.
func NewComparatorWithCacheSize(logger *slog.Logger, size int) *Comparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{logger: logger, regex: newRegexCache(size)}
}

// Compare evaluates actual <operator> expected.
func (c *Comparator) Compare(actual model.Value, op model.Operator, expected model.Value) bool {
	switch op {
	case model.OpEqual:
		return actual.AsString() == expected.AsString()
	case model.OpNotEqual:
		return actual.AsString() != expected.AsString()
	case model.OpEqualCI:
		return lower(actual.AsString()) == lower(expected.AsString())
	case model.OpNotEqualCI:
		return lower(actual.AsString()) != lower(expected.AsString())
	case model.OpLess, model.OpLessEqual, model.OpGreater, model.OpGreaterEqual:
		return c.compareOrdering(actual, op, expected)
	case model.OpIn:
		return c.compareMembership(actual, expected, true)
	case model.OpNotIn:
		return !c.compareMembership(actual, expected, true)
	case model.OpContains, model.OpContainsCI:
		return strings.Contains(lower(actual.AsString()), lower(expected.AsString()))
	case model.OpStartsWith:
		return strings.HasPrefix(actual.AsString(), expected.AsString())
	case model.OpStartsWithCI:
		return strings.HasPrefix(lower(actual.AsString()), lower(expected.AsString()))
	case model.OpEndsWith:
		return strings.HasSuffix(actual.AsString(), expected.AsString())
	case model.OpEndsWithCI:
		return strings.HasSuffix(lower(actual.AsString()), lower(expected.AsString()))
	case model.OpRegex:
		return c.compareRegex(actual, expected)
	default:
		c.logger.Warn("condition: unknown operator", "operator", op)
		return false
	}
}

// compareOrdering tries numeric comparison first; if either side fails
// to parse as a finite number, it falls back to lexicographic order.
func (c *Comparator) compareOrdering(actual model.Value, op model.Operator, expected model.Value) bool {
	an, aok := actual.AsNumber()
	en, eok := expected.AsNumber()

	if aok && eok {
		switch op {
		case model.OpLess:
			return an < en
		case model.OpLessEqual:
			return an <= en
		case model.OpGreater:
			return an > en
		case model.OpGreaterEqual:
			return an >= en
		}
	}

	as, es := actual.AsString(), expected.AsString()
	switch op {
	case model.OpLess:
		return as < es
	case model.OpLessEqual:
		return as <= es
	case model.OpGreater:
		return as > es
	case model.OpGreaterEqual:
		return as >= es
	}
	return false
}

// compareMembership tests actual against expected as a set. When
// expected is already an array value, its elements are the set;
// otherwise its string form is split on commas with per-element
// whitespace trimmed. Membership is always case-insensitive.
func (c *Comparator) compareMembership(actual, expected model.Value, _ bool) bool {
	target := lower(actual.AsString())

	if expected.Kind() == model.KindArray {
		for _, item := range expected.Items() {
			if lower(item.AsString()) == target {
				return true
			}
		}
		return false
	}

	for _, part := range strings.Split(expected.AsString(), ",") {
		if lower(strings.TrimSpace(part)) == target {
			return true
		}
	}
	return false
}

func (c *Comparator) compareRegex(actual, expected model.Value) bool {
	pattern := expected.AsString()
	re, err := c.regex.get(pattern)
	if err != nil {
		c.logger.Warn("condition: invalid regex pattern", "pattern", pattern, "error", err)
		return false
	}
	return re.MatchString(actual.AsString())
}

func lower(s string) string { return strings.ToLower(s) }
