package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/vitaliisemenov/featureflag/internal/history"
)

// storedEvent mirrors history.Record's exported fields; the insertion
// sequence number is not persisted since JSON array order already
// preserves it (spec §5 property 1, monotonic history order).
type storedEvent struct {
	Name            string            `json:"name"`
	TimestampMillis int64             `json:"timestamp_millis"`
	Parameters      map[string]string `json:"parameters,omitempty"`
}

func encodeEvents(records []history.Record) []byte {
	out := make([]storedEvent, len(records))
	for i, r := range records {
		out[i] = storedEvent{Name: r.Name, TimestampMillis: r.TimestampMillis, Parameters: r.Parameters}
	}
	data, err := json.Marshal(out)
	if err != nil {
		slog.Default().Error("engine: event log serialization failed unexpectedly", "error", err)
		return []byte("[]")
	}
	return data
}

// decodeEvents parses a persisted event log back into append calls
// against store. Used when restoring a session from persistence.
func decodeEvents(data []byte) ([]storedEvent, error) {
	var out []storedEvent
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
