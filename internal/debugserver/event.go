// Package debugserver exposes the live feature table over a WebSocket
// stream for host-side debugging, grounded on the teacher's real-time
// dashboard broadcaster: a buffered-channel hub fanning out to a
// registry of subscribers, each removed on first send failure.
package debugserver

import "time"

// Change is one feature-value transition broadcast to every connected
// subscriber.
type Change struct {
	Feature   string    `json:"feature"`
	Value     *string   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

// ErrChannelFull is returned by Hub.Publish when the broadcast buffer
// has no room and the change is dropped rather than blocking the
// feature table's mutation executor.
var ErrChannelFull = errChannelFull{}

type errChannelFull struct{}

func (errChannelFull) Error() string { return "debugserver: broadcast channel full" }
