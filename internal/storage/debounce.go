package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQuietPeriod    = 5 * time.Second
	defaultCountThreshold = 10
	writeTimeout          = 10 * time.Second
)

// EventWriter debounces event-log persistence (spec §4.7): a write
// fires after a 5-second quiet period since the last append, or
// immediately once 10 appends have accumulated since the last write,
// whichever comes first. It is driven by the event store's OnAppend
// hook and issues writes off whatever goroutine calls OnAppend,
// keeping the mutation executor itself unblocked.
type EventWriter struct {
	mu             sync.Mutex
	store          KVStore
	key            string
	snapshot       func() []byte
	logger         *slog.Logger
	quietPeriod    time.Duration
	countThreshold int

	appendCount int
	timer       *time.Timer
	closed      bool
}

// NewEventWriter builds a debounced writer. snapshot is called at flush
// time to obtain the current serialized event log; it must not block
// for long, since it runs synchronously before the write.
func NewEventWriter(store KVStore, key string, snapshot func() []byte, logger *slog.Logger) *EventWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWriter{
		store:          store,
		key:            key,
		snapshot:       snapshot,
		logger:         logger,
		quietPeriod:    defaultQuietPeriod,
		countThreshold: defaultCountThreshold,
	}
}

// OnAppend should be registered as the event store's append callback.
// It schedules or accelerates the next flush.
func (w *EventWriter) OnAppend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.appendCount++
	if w.appendCount >= w.countThreshold {
		w.appendCount = 0
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		go w.flush()
		return
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(w.quietPeriod, w.onQuietPeriodElapsed)
	} else {
		w.timer.Reset(w.quietPeriod)
	}
}

func (w *EventWriter) onQuietPeriodElapsed() {
	w.mu.Lock()
	w.appendCount = 0
	w.timer = nil
	w.mu.Unlock()
	w.flush()
}

// flush serializes and persists the current event log. A failure is
// logged and left for the next scheduled write to retry; in-memory
// state is never blocked on persistence (spec §4.7, §7).
func (w *EventWriter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	data := w.snapshot()
	if err := w.store.Set(ctx, w.key, data); err != nil {
		w.logger.Error("storage: event log persistence failed, will retry on next write", "error", err)
	}
}

// Close stops any pending timer. It does not flush; callers that need
// a final durable write should call flush logic explicitly before
// shutdown.
func (w *EventWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
