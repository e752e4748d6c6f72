package debugserver

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Subscriber receives broadcast changes. websocketSubscriber is the
// only production implementation; tests may supply their own.
type Subscriber interface {
	ID() string
	Send(change Change) error
	Close() error
	Context() context.Context
}

// Hub fans feature changes out to every connected subscriber. A change
// that can't be enqueued (buffer full) is dropped rather than blocking
// the caller, which is the feature table's own listener dispatch.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}

	changeChan chan Change
	sequence   int64

	logger  *slog.Logger
	metrics *Metrics

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewHub builds a Hub. A nil logger defaults to slog.Default(); a nil
// metrics disables Prometheus recording.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: map[Subscriber]struct{}{},
		changeChan:  make(chan Change, 1000),
		logger:      logger.With("component", "debugserver_hub"),
		metrics:     metrics,
		stopChan:    make(chan struct{}),
	}
}

// Subscribe registers sub to receive future broadcasts.
func (h *Hub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Info("subscriber added", "subscriber_id", sub.ID(), "total", count)
	if h.metrics != nil {
		h.metrics.ConnectionsActive.Set(float64(count))
	}
}

// Unsubscribe removes sub and closes it.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = sub.Close()
	h.logger.Info("subscriber removed", "subscriber_id", sub.ID(), "total", count)
	if h.metrics != nil {
		h.metrics.ConnectionsActive.Set(float64(count))
	}
}

// ActiveSubscribers returns the current subscriber count.
func (h *Hub) ActiveSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish enqueues change for broadcast, assigning it the next sequence
// number. It never blocks: a full buffer drops the change and returns
// ErrChannelFull.
func (h *Hub) Publish(change Change) error {
	change.Sequence = atomic.AddInt64(&h.sequence, 1)
	select {
	case h.changeChan <- change:
		return nil
	default:
		h.logger.Warn("broadcast buffer full, dropping change", "feature", change.Feature)
		if h.metrics != nil {
			h.metrics.DroppedTotal.Inc()
		}
		return ErrChannelFull
	}
}

// Start runs the broadcast worker until ctx is done or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.broadcastWorker(ctx)
}

// Stop signals the broadcast worker to exit and waits, bounded by ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.once.Do(func() { close(h.stopChan) })

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) broadcastWorker(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case change := <-h.changeChan:
			h.broadcast(change)
		}
	}
}

func (h *Hub) broadcast(change Change) {
	start := time.Now()

	h.mu.RLock()
	subscribers := make([]Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subscribers = append(subscribers, sub)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subscribers {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			select {
			case <-sub.Context().Done():
				h.Unsubscribe(sub)
				return
			default:
			}
			if err := sub.Send(change); err != nil {
				h.logger.Warn("send to subscriber failed, removing", "subscriber_id", sub.ID(), "error", err)
				h.Unsubscribe(sub)
			}
		}(sub)
	}
	wg.Wait()

	if h.metrics != nil {
		h.metrics.ChangesTotal.Inc()
		h.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}
}
