package condition

import (
	"math"

	"github.com/vitaliisemenov/featureflag/internal/history"
	"github.com/vitaliisemenov/featureflag/internal/model"
)

// evaluateSequence dispatches to the direct or indirect matcher
// (spec §4.3.2). Both apply per-event time-window filters identically;
// they differ only in whether steps must consume contiguous events.
func (e *Evaluator) evaluateSequence(cfg model.EventsConfig, events []history.Record, nowMillis int64) bool {
	if cfg.Ordering == model.OrderingIndirect {
		return e.evaluateIndirectSequence(cfg.Events, events, nowMillis)
	}
	return e.evaluateDirectSequence(cfg.Events, events, nowMillis)
}

// evaluateDirectSequence tries every candidate start position in turn
// (spec §4.3.2: "starting at each log position"), requiring every step
// to consume a contiguous run immediately following the previous step's
// consumed events. A chain that breaks from one start position doesn't
// rule out the sequence matching from a later one — the whole log is a
// candidate start, not just the first occurrence of the first step.
func (e *Evaluator) evaluateDirectSequence(steps []model.EventCondition, events []history.Record, nowMillis int64) bool {
	if len(steps) == 0 {
		return true
	}

	for start := 0; start <= len(events); start++ {
		if e.matchesDirectSequenceFrom(steps, events, start, nowMillis) {
			return true
		}
	}
	return false
}

// matchesDirectSequenceFrom reports whether every step in order consumes
// a contiguous run starting at start.
func (e *Evaluator) matchesDirectSequenceFrom(steps []model.EventCondition, events []history.Record, start int, nowMillis int64) bool {
	pos := start
	for _, step := range steps {
		newPos, ok := e.consumeDirectStep(step, events, pos, nowMillis)
		if !ok {
			return false
		}
		pos = newPos
	}
	return true
}

// consumeDirectStep greedily consumes events matching step starting at
// pos, up to the step's cap, then checks the step's success condition.
func (e *Evaluator) consumeDirectStep(step model.EventCondition, events []history.Record, pos int, nowMillis int64) (int, bool) {
	cap := stepCap(step)

	count := 0
	i := pos
	for i < len(events) && count < cap {
		if !e.matchesStep(step, events[i], nowMillis) {
			break
		}
		count = saturatingAdd(count, 1)
		i++
	}

	success := stepSucceeds(e, step, count)
	if step.Not {
		success = !success
	}
	if !success {
		return pos, false
	}
	return i, true
}

// evaluateIndirectSequence requires steps to match in order, with any
// number of unrelated events between successive step matches. Per step,
// the scan starts at the position following the previous step's match.
// A counted step's success is judged over every matching event in the
// remaining suffix, but (per spec §9 Open Questions) the position still
// only advances past the FIRST matching event in that suffix, not the
// last — the simpler forward-scan-from-previous-match semantics.
func (e *Evaluator) evaluateIndirectSequence(steps []model.EventCondition, events []history.Record, nowMillis int64) bool {
	pos := 0
	for _, step := range steps {
		count := 0
		firstMatch := -1
		for j := pos; j < len(events); j++ {
			if e.matchesStep(step, events[j], nowMillis) {
				count = saturatingAdd(count, 1)
				if firstMatch == -1 {
					firstMatch = j
				}
			}
		}

		success := stepSucceeds(e, step, count)
		if step.Not {
			success = !success
		}
		if !success {
			return false
		}
		if firstMatch != -1 {
			pos = firstMatch + 1
		}
	}
	return true
}

// matchesStep reports whether ev satisfies a sequence step's name,
// within_last_days window, and (if present) per-event parameter
// predicates. Parameter checks happen here, during matching, not as a
// separate post-hoc pass.
func (e *Evaluator) matchesStep(step model.EventCondition, ev history.Record, nowMillis int64) bool {
	if !e.cmp.Compare(model.NewString(ev.Name), step.NameOperator(), model.NewString(step.Key)) {
		return false
	}
	if step.WithinLastDays != nil && !withinWindow(ev.TimestampMillis, nowMillis, *step.WithinLastDays) {
		return false
	}
	if step.Param != nil && !e.eventMatchesParams(ev, step.Param) {
		return false
	}
	return true
}

// stepSucceeds applies a sequence step's count operator (if any) to the
// number of events it actually consumed/counted, else falls back to
// plain existence.
func stepSucceeds(e *Evaluator, step model.EventCondition, count int) bool {
	if step.Count != nil {
		return e.cmp.Compare(model.NewNumber(float64(count)), step.Count.Operator, step.Count.Value)
	}
	return count > 0
}

// stepCap returns the maximum number of events a direct-sequence step
// may consume, derived from its count operator (spec §4.3.2): ==k and
// <=k yield k; <k yields k-1; >=k and >k (and no count at all) are
// unbounded except that an uncounted step always caps at 1 (it just
// needs to occupy its slot in the run).
func stepCap(step model.EventCondition) int {
	if step.Count == nil {
		return 1
	}
	n, ok := step.Count.Value.AsNumber()
	if !ok {
		return math.MaxInt32
	}
	k := int(n)
	switch step.Count.Operator {
	case model.OpEqual, model.OpLessEqual:
		return k
	case model.OpLess:
		if k-1 < 0 {
			return 0
		}
		return k - 1
	default: // >=, >, and anything else treated as unbounded
		return math.MaxInt32
	}
}

// saturatingAdd adds delta to n, clamping at math.MaxInt32 instead of
// wrapping (spec §9 Numeric safety).
func saturatingAdd(n, delta int) int {
	if n > math.MaxInt32-delta {
		return math.MaxInt32
	}
	return n + delta
}
