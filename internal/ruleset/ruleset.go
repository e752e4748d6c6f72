// Package ruleset parses the immutable rules document (spec §4.4, C5)
// and builds the four inverted indexes used for dispatch and future
// targeted re-evaluation.
package ruleset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vitaliisemenov/featureflag/internal/model"
)

// NameSet is a set of feature names, keyed for O(1) membership tests.
type NameSet map[string]struct{}

// Document is a parsed rules document plus its derived indexes and
// content hash. It is immutable once built; a rule-set replacement
// builds a brand new Document rather than mutating one in place.
type Document struct {
	Hash     string
	Features map[string][]model.Rule

	// EventIndex, UserPropertyIndex, and DevicePropertyIndex exist to
	// support future targeted re-evaluation and persistence alongside
	// the content hash; only FeatureIndex is consulted during
	// evaluation today.
	EventIndex          map[string]NameSet
	UserPropertyIndex   map[string]NameSet
	DevicePropertyIndex map[string]NameSet

	// FeatureIndex is Features itself, kept as a distinct field name so
	// callers reading index fields don't need to special-case the
	// primary one.
	FeatureIndex map[string][]model.Rule
}

// Parse decodes raw bytes into a RuleDocument, accepting either the
// canonical {"features": {...}} shape or the legacy bare feature-map
// shape (spec §4.4). Both yield the same internal representation.
func Parse(raw []byte) (model.RuleDocument, error) {
	var wrapper struct {
		Features map[string][]model.Rule `json:"features"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return model.RuleDocument{}, fmt.Errorf("ruleset: invalid document: %w", err)
	}
	if wrapper.Features != nil {
		return model.RuleDocument{Features: wrapper.Features}, nil
	}

	var legacy map[string][]model.Rule
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return model.RuleDocument{}, fmt.Errorf("ruleset: invalid document: %w", err)
	}
	return model.RuleDocument{Features: legacy}, nil
}

// Build parses raw and constructs a fully indexed Document in one step.
func Build(raw []byte) (*Document, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return BuildFromDocument(doc), nil
}

// BuildFromDocument builds indexes and the content hash from an
// already-parsed document.
func BuildFromDocument(doc model.RuleDocument) *Document {
	eventIdx := map[string]NameSet{}
	userIdx := map[string]NameSet{}
	deviceIdx := map[string]NameSet{}

	for featureName, rules := range doc.Features {
		for _, rule := range rules {
			for _, ec := range rule.Conditions.Events.Events {
				addToIndex(eventIdx, ec.Key, featureName)
			}
			for _, pc := range rule.Conditions.UserProperties {
				addToIndex(userIdx, pc.Key, featureName)
			}
			for _, pc := range rule.Conditions.Device {
				addToIndex(deviceIdx, pc.Key, featureName)
			}
		}
	}

	return &Document{
		Hash:                ContentHash(doc),
		Features:            doc.Features,
		FeatureIndex:        doc.Features,
		EventIndex:          eventIdx,
		UserPropertyIndex:   userIdx,
		DevicePropertyIndex: deviceIdx,
	}
}

func addToIndex(idx map[string]NameSet, key, featureName string) {
	set, ok := idx[key]
	if !ok {
		set = NameSet{}
		idx[key] = set
	}
	set[featureName] = struct{}{}
}

// ContentHash computes a stable sha256 hex digest of a rule document.
// encoding/json marshals map keys in sorted order, so this is
// deterministic regardless of map iteration order or original document
// shape (canonical vs legacy).
func ContentHash(doc model.RuleDocument) string {
	canon, err := json.Marshal(doc.Features)
	if err != nil {
		// Features is built entirely from json.Unmarshal output plus
		// scalar/struct fields; it cannot fail to re-marshal.
		return ""
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether a persisted hash still matches a freshly
// computed hash of doc. A mismatch means the persisted indexes must be
// discarded and rebuilt (spec §4.4).
func VerifyHash(doc model.RuleDocument, storedHash string) bool {
	return ContentHash(doc) == storedHash
}

// Rules returns the ordered rule list for a feature, or nil if the
// feature does not exist in this document.
func (d *Document) Rules(featureName string) []model.Rule {
	if d == nil {
		return nil
	}
	return d.FeatureIndex[featureName]
}

// FeatureNames returns every feature name this document defines.
func (d *Document) FeatureNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Features))
	for name := range d.Features {
		names = append(names, name)
	}
	return names
}
