package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/featureflag/internal/history"
	"github.com/vitaliisemenov/featureflag/internal/model"
)

func TestSequence_DirectContiguousMatch(t *testing.T) {
	e := newEvaluator()
	events := seqEvents("A", "B", "C", "A", "D")

	assert.True(t, e.evaluateSequence(seqCfg(model.OrderingDirect, "A", "B"), events, 100))
	assert.False(t, e.evaluateSequence(seqCfg(model.OrderingDirect, "A", "C"), events, 100))
	assert.False(t, e.evaluateSequence(seqCfg(model.OrderingDirect, "A", "D"), events, 100))
}

func TestSequence_DirectRetriesFromLaterStartPosition(t *testing.T) {
	e := newEvaluator()
	events := seqEvents("login", "logout", "login", "purchase")

	assert.True(t, e.evaluateSequence(seqCfg(model.OrderingDirect, "login", "purchase"), events, 100))
}

func TestSequence_IndirectAllowsGaps(t *testing.T) {
	e := newEvaluator()
	events := seqEvents("A", "B", "C", "A", "D")

	assert.True(t, e.evaluateSequence(seqCfg(model.OrderingIndirect, "A", "C"), events, 100))
	assert.True(t, e.evaluateSequence(seqCfg(model.OrderingIndirect, "A", "D"), events, 100))
	assert.False(t, e.evaluateSequence(seqCfg(model.OrderingIndirect, "D", "A"), events, 100))
}

func TestSequence_DirectCountOperator(t *testing.T) {
	e := newEvaluator()
	events := seqEvents("login", "play", "play", "play", "logout")

	cfg := model.EventsConfig{
		Mode:     model.ModeSequence,
		Ordering: model.OrderingDirect,
		Events: []model.EventCondition{
			{Key: "login"},
			{Key: "play", Count: &model.OperandSpec{Operator: model.OpGreaterEqual, Value: model.NewNumber(3)}},
			{Key: "logout"},
		},
	}
	assert.True(t, e.evaluateSequence(cfg, events, 100))

	cfg.Events[1].Count = &model.OperandSpec{Operator: model.OpEqual, Value: model.NewNumber(2)}
	assert.False(t, e.evaluateSequence(cfg, events, 100))
}

func TestSequence_EmptyStepsMatchesTrivially(t *testing.T) {
	e := newEvaluator()
	assert.True(t, e.evaluateDirectSequence(nil, nil, 0))
}

func TestSequence_ParamCheckedDuringConsumption(t *testing.T) {
	e := newEvaluator()
	events := []history.Record{
		rec("purchase", 1, map[string]string{"sku": "A"}),
		rec("ship", 2, nil),
	}

	cfg := model.EventsConfig{
		Mode:     model.ModeSequence,
		Ordering: model.OrderingDirect,
		Events: []model.EventCondition{
			{Key: "purchase", Param: map[string]model.OperandSpec{
				"sku": {Operator: model.OpEqual, Value: model.NewString("B")},
			}},
			{Key: "ship"},
		},
	}
	assert.False(t, e.evaluateSequence(cfg, events, 100))
}

func seqEvents(names ...string) []history.Record {
	out := make([]history.Record, len(names))
	for i, n := range names {
		out[i] = rec(n, int64(i+1), nil)
	}
	return out
}

func seqCfg(ordering model.SequenceOrdering, keys ...string) model.EventsConfig {
	events := make([]model.EventCondition, len(keys))
	for i, k := range keys {
		events[i] = model.EventCondition{Key: k}
	}
	return model.EventsConfig{Mode: model.ModeSequence, Ordering: ordering, Events: events}
}
