// Package features implements the feature table and its listener
// registry (spec §4.5, C6): the current feature→value cache, recomputed
// by walking the rule-set's feature index, with diff-based listener
// notification.
package features

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/featureflag/internal/condition"
	"github.com/vitaliisemenov/featureflag/internal/history"
	"github.com/vitaliisemenov/featureflag/internal/properties"
	"github.com/vitaliisemenov/featureflag/internal/ruleset"
)

// Listener receives a feature's new value on every change. value is nil
// when the feature became absent (no rule matched, or it was dropped
// from the rule set entirely).
type Listener func(feature string, value *string)

// Change describes one feature whose resolved value differed between
// two consecutive re-evaluations.
type Change struct {
	Feature string
	Value   *string
}

// Table holds the current feature→value cache and the set of
// registered listeners. It is safe for concurrent use; listener
// invocation always happens after the internal lock is released
// (spec §4.5).
type Table struct {
	mu        sync.RWMutex
	values    map[string]string
	listeners map[uuid.UUID]Listener
	logger    *slog.Logger
}

// New returns an empty feature table. A nil logger defaults to
// slog.Default().
func New(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		values:    map[string]string{},
		listeners: map[uuid.UUID]Listener{},
		logger:    logger,
	}
}

// Get looks up a feature's current resolved value.
func (t *Table) Get(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[name]
	return v, ok
}

// Snapshot returns a copy of the entire current feature table.
func (t *Table) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// AddListener registers fn and returns an opaque token for later removal.
func (t *Table) AddListener(fn Listener) uuid.UUID {
	token := uuid.New()
	t.mu.Lock()
	t.listeners[token] = fn
	t.mu.Unlock()
	return token
}

// RemoveListener unregisters the listener identified by token, if any.
func (t *Table) RemoveListener(token uuid.UUID) {
	t.mu.Lock()
	delete(t.listeners, token)
	t.mu.Unlock()
}

// ClearAllListeners removes every registered listener.
func (t *Table) ClearAllListeners() {
	t.mu.Lock()
	t.listeners = map[uuid.UUID]Listener{}
	t.mu.Unlock()
}

// Reset clears a single feature's cached value without recomputing it.
// Callers pair this with Reevaluate to satisfy reset_feature's
// "clear and immediately re-evaluate" contract.
func (t *Table) Reset(name string) {
	t.mu.Lock()
	delete(t.values, name)
	t.mu.Unlock()
}

// ResetAll clears every cached feature value.
func (t *Table) ResetAll() {
	t.mu.Lock()
	t.values = map[string]string{}
	t.mu.Unlock()
}

// Reevaluate walks doc's feature index, resolving each feature to the
// value of the first rule whose conditions hold (or leaving it absent),
// installs the result as the new table, and notifies listeners of every
// feature whose value changed. doc may be nil, which resolves every
// feature to absent (e.g. before any rule set has ever loaded).
func (t *Table) Reevaluate(
	doc *ruleset.Document,
	eval *condition.Evaluator,
	events []history.Record,
	nowMillis int64,
	bags *properties.Bags,
) []Change {
	changes, notify := t.ReevaluateDeferred(doc, eval, events, nowMillis, bags)
	notify()
	return changes
}

// ReevaluateDeferred does the same recomputation and commit as
// Reevaluate, but returns listener notification as a func instead of
// invoking it. Callers that hold a lock of their own across the
// recompute (e.g. the engine's mutation executor) call notify only
// after releasing it, so a listener is never invoked while any
// caller-side lock is held.
func (t *Table) ReevaluateDeferred(
	doc *ruleset.Document,
	eval *condition.Evaluator,
	events []history.Record,
	nowMillis int64,
	bags *properties.Bags,
) (changes []Change, notify func()) {
	newValues := map[string]string{}
	if doc != nil {
		for featureName, rules := range doc.Features {
			for _, rule := range rules {
				if eval.Evaluate(rule.Conditions, events, nowMillis, bags) {
					newValues[featureName] = rule.Value
					break
				}
			}
		}
	}

	t.mu.Lock()
	changes = diff(t.values, newValues)
	t.values = newValues
	listeners := make([]Listener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	return changes, func() {
		for _, change := range changes {
			for _, fn := range listeners {
				fn(change.Feature, change.Value)
			}
		}
	}
}

// diff computes the set of features whose value differs between old
// and next, covering additions, removals, and value changes.
func diff(old, next map[string]string) []Change {
	var changes []Change
	for name, newVal := range next {
		if oldVal, ok := old[name]; !ok || oldVal != newVal {
			v := newVal
			changes = append(changes, Change{Feature: name, Value: &v})
		}
	}
	for name := range old {
		if _, ok := next[name]; !ok {
			changes = append(changes, Change{Feature: name, Value: nil})
		}
	}
	return changes
}
