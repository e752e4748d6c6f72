package model

import (
	"bytes"
	"encoding/json"
)

// OperandSpec pairs an operator with its expected operand value. It is
// the shape repeated for count, param, and property-value predicates.
type OperandSpec struct {
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// EventCondition is a single event predicate within an events-config:
// name match (with optional count, time window, and parameter
// predicates) or a step within a sequence.
type EventCondition struct {
	Key            string                 `json:"key" validate:"required"`
	Operator       Operator               `json:"operator,omitempty"`
	Count          *OperandSpec           `json:"count,omitempty"`
	WithinLastDays *int                   `json:"within_last_days,omitempty"`
	Param          map[string]OperandSpec `json:"param,omitempty"`
	Not            bool                   `json:"not,omitempty"`
}

// NameOperator returns the operator used to match the event's name,
// defaulting to equality when unset.
func (c EventCondition) NameOperator() Operator {
	if c.Operator == "" {
		return OpEqual
	}
	return c.Operator
}

// PropertyCondition is a single predicate against a property bag.
type PropertyCondition struct {
	Key   string      `json:"key" validate:"required"`
	Value OperandSpec `json:"value"`
	Not   bool        `json:"not,omitempty"`
}

// EventsConfig describes how a rule's event conditions combine: a
// simple AND/OR set, or an ordered sequence (contiguous or gapped).
type EventsConfig struct {
	Mode     EventsMode       `json:"mode,omitempty"`
	Operator Combinator       `json:"operator,omitempty"`
	Ordering SequenceOrdering `json:"ordering,omitempty"`
	Events   []EventCondition `json:"events"`
}

// UnmarshalJSON accepts both the canonical object shape
// ({mode, operator, ordering, events}) and the legacy bare array of
// condition objects, treated as {mode: simple, operator: AND, events:
// [...]} (spec §6).
func (c *EventsConfig) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []EventCondition
		if err := json.Unmarshal(data, &events); err != nil {
			return err
		}
		*c = EventsConfig{Mode: ModeSimple, Operator: CombinatorAnd, Events: events}
		return nil
	}

	type eventsConfigAlias EventsConfig
	var alias eventsConfigAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = EventsConfig(alias)
	return nil
}

// EffectiveMode returns the mode, defaulting legacy bare-array configs
// (no "mode" key) to simple.
func (c EventsConfig) EffectiveMode() EventsMode {
	if c.Mode == "" {
		return ModeSimple
	}
	return c.Mode
}

// EffectiveOperator returns the simple-mode combinator, defaulting to AND.
func (c EventsConfig) EffectiveOperator() Combinator {
	if c.Operator == "" {
		return CombinatorAnd
	}
	return c.Operator
}

// Conditions is the full predicate set attached to a rule: an events
// configuration plus independent user- and device-property predicate
// lists, all combined with logical AND at the top level.
type Conditions struct {
	Events                 EventsConfig        `json:"events"`
	UserProperties         []PropertyCondition `json:"user_properties,omitempty"`
	UserPropertiesOperator Combinator          `json:"user_properties_operator,omitempty"`
	Device                 []PropertyCondition `json:"device,omitempty"`
	DeviceOperator         Combinator          `json:"device_operator,omitempty"`
}

// EffectiveUserOperator returns the user-properties combinator, default AND.
func (c Conditions) EffectiveUserOperator() Combinator {
	if c.UserPropertiesOperator == "" {
		return CombinatorAnd
	}
	return c.UserPropertiesOperator
}

// EffectiveDeviceOperator returns the device-properties combinator, default AND.
func (c Conditions) EffectiveDeviceOperator() Combinator {
	if c.DeviceOperator == "" {
		return CombinatorAnd
	}
	return c.DeviceOperator
}

// Rule is one entry in a feature's ordered rule list: a value to return
// plus the conditions that must all hold for it to apply.
type Rule struct {
	Value      string     `json:"value"`
	Conditions Conditions `json:"conditions"`
}

// RuleDocument is the parsed immutable rules document: each feature
// name maps to an ordered list of rules, evaluated first-match-wins.
type RuleDocument struct {
	Features map[string][]Rule `json:"features"`
}

// PointerDocument names the currently active immutable rules document
// by content hash, plus optional polling hints.
type PointerDocument struct {
	SchemaVersion       string `json:"schema_version,omitempty"`
	Version             string `json:"version"`
	Path                string `json:"path,omitempty"`
	UpdatedAt           string `json:"updated_at,omitempty"`
	FeatureCount        int    `json:"feature_count,omitempty"`
	TTLSecs             int    `json:"ttl_secs,omitempty"`
	MinPollIntervalSecs int    `json:"min_poll_interval_secs,omitempty"`
}
