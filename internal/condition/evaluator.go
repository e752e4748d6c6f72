package condition

import (
	"github.com/vitaliisemenov/featureflag/internal/history"
	"github.com/vitaliisemenov/featureflag/internal/model"
	"github.com/vitaliisemenov/featureflag/internal/properties"
)

// millisPerDay mirrors history.millisPerDay; kept local since the
// history package does not export it.
const millisPerDay = int64(24 * 60 * 60 * 1000)

// Evaluator composes the three independent predicates a rule's
// conditions are built from (events, user properties, device
// properties) with logical AND (spec §4.3). An empty condition list at
// any level is vacuously true.
type Evaluator struct {
	cmp *Comparator
}

// NewEvaluator builds an evaluator around the given comparator.
func NewEvaluator(cmp *Comparator) *Evaluator {
	return &Evaluator{cmp: cmp}
}

// Evaluate reports whether conds holds against the given event log
// snapshot, current time, and property bags.
func (e *Evaluator) Evaluate(conds model.Conditions, events []history.Record, nowMillis int64, bags *properties.Bags) bool {
	if !e.evaluateEvents(conds.Events, events, nowMillis) {
		return false
	}
	if !e.evaluateProperties(conds.UserProperties, conds.EffectiveUserOperator(), bags.User) {
		return false
	}
	if !e.evaluateProperties(conds.Device, conds.EffectiveDeviceOperator(), bags.Device) {
		return false
	}
	return true
}

func (e *Evaluator) evaluateEvents(cfg model.EventsConfig, events []history.Record, nowMillis int64) bool {
	if len(cfg.Events) == 0 {
		return true
	}
	if cfg.EffectiveMode() == model.ModeSequence {
		return e.evaluateSequence(cfg, events, nowMillis)
	}
	return e.evaluateSimple(cfg, events, nowMillis)
}

func (e *Evaluator) evaluateSimple(cfg model.EventsConfig, events []history.Record, nowMillis int64) bool {
	combinator := cfg.EffectiveOperator()
	isAnd := combinator != model.CombinatorOr

	for _, ec := range cfg.Events {
		result := e.evaluateEventCondition(ec, events, nowMillis)
		if isAnd && !result {
			return false
		}
		if !isAnd && result {
			return true
		}
	}
	// AND: every condition passed without a short-circuit false.
	// OR: none passed.
	return isAnd
}

// evaluateEventCondition evaluates a single event condition against the
// full log, per spec §4.3.1: count branch, else param branch, else plain
// existence, each possibly inverted by `not`.
func (e *Evaluator) evaluateEventCondition(ec model.EventCondition, events []history.Record, nowMillis int64) bool {
	matched := e.filterMatching(ec, events, nowMillis)

	var result bool
	switch {
	case ec.Count != nil:
		result = e.cmp.Compare(model.NewNumber(float64(len(matched))), ec.Count.Operator, ec.Count.Value)
	case ec.Param != nil:
		result = e.anyMatchesParams(matched, ec.Param)
	default:
		result = len(matched) > 0
	}

	if ec.Not {
		result = !result
	}
	return result
}

// filterMatching returns the events in the log whose name matches ec's
// key under its name-operator, restricted to ec's time window if set.
func (e *Evaluator) filterMatching(ec model.EventCondition, events []history.Record, nowMillis int64) []history.Record {
	var out []history.Record
	for _, ev := range events {
		if !e.cmp.Compare(model.NewString(ev.Name), ec.NameOperator(), model.NewString(ec.Key)) {
			continue
		}
		if ec.WithinLastDays != nil && !withinWindow(ev.TimestampMillis, nowMillis, *ec.WithinLastDays) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// withinWindow reports whether an event at timestampMillis falls within
// days of nowMillis. days is clamped to [0, 365] (spec §9).
func withinWindow(timestampMillis, nowMillis int64, days int) bool {
	if days < 0 {
		days = 0
	}
	if days > 365 {
		days = 365
	}
	cutoff := nowMillis - int64(days)*millisPerDay
	return timestampMillis >= cutoff
}

// anyMatchesParams reports whether at least one of the matched events
// satisfies every parameter predicate in spec.
func (e *Evaluator) anyMatchesParams(matched []history.Record, spec map[string]model.OperandSpec) bool {
	for _, ev := range matched {
		if e.eventMatchesParams(ev, spec) {
			return true
		}
	}
	return false
}

func (e *Evaluator) eventMatchesParams(ev history.Record, spec map[string]model.OperandSpec) bool {
	for key, want := range spec {
		actual, ok := ev.Parameters[key]
		if !ok {
			return false
		}
		if !e.cmp.Compare(model.NewString(actual), want.Operator, want.Value) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateProperties(conds []model.PropertyCondition, combinator model.Combinator, bag *properties.Bag) bool {
	if len(conds) == 0 {
		return true
	}

	isAnd := combinator != model.CombinatorOr
	for _, cond := range conds {
		result := e.evaluatePropertyCondition(cond, bag)
		if isAnd && !result {
			return false
		}
		if !isAnd && result {
			return true
		}
	}
	return isAnd
}

func (e *Evaluator) evaluatePropertyCondition(cond model.PropertyCondition, bag *properties.Bag) bool {
	value, ok := bag.Get(cond.Key)
	result := ok && e.cmp.Compare(model.NewString(value), cond.Value.Operator, cond.Value.Value)
	if cond.Not {
		result = !result
	}
	return result
}
