package debugserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubscriber struct {
	id       string
	mu       sync.Mutex
	received []Change
	ctx      context.Context
	cancel   context.CancelFunc
	failSend bool
}

func newStubSubscriber(id string) *stubSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &stubSubscriber{id: id, ctx: ctx, cancel: cancel}
}

func (s *stubSubscriber) ID() string               { return s.id }
func (s *stubSubscriber) Context() context.Context { return s.ctx }
func (s *stubSubscriber) Close() error             { s.cancel(); return nil }

func (s *stubSubscriber) Send(change Change) error {
	if s.failSend {
		return assert.AnError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, change)
	return nil
}

func (s *stubSubscriber) snapshot() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Change(nil), s.received...)
}

func TestHub_PublishBroadcastsToAllSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop(context.Background())

	a := newStubSubscriber("a")
	b := newStubSubscriber("b")
	hub.Subscribe(a)
	hub.Subscribe(b)
	assert.Equal(t, 2, hub.ActiveSubscribers())

	require.NoError(t, hub.Publish(Change{Feature: "popup", Value: strPtr("on")}))

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1 && len(b.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHub_FailedSendRemovesSubscriber(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop(context.Background())

	bad := newStubSubscriber("bad")
	bad.failSend = true
	hub.Subscribe(bad)

	require.NoError(t, hub.Publish(Change{Feature: "f"}))

	require.Eventually(t, func() bool {
		return hub.ActiveSubscribers() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHub_PublishReportsErrorWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, nil)
	// No Start call: nothing drains changeChan, so it fills up.
	var lastErr error
	for i := 0; i < 1001; i++ {
		lastErr = hub.Publish(Change{Feature: "f"})
	}
	assert.ErrorIs(t, lastErr, ErrChannelFull)
}

func strPtr(s string) *string { return &s }
