package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/featureflag/internal/storage/memkv"
)

func TestEventWriter_FlushesOnCountThreshold(t *testing.T) {
	store := memkv.New()
	var snapshotCalls int32
	w := NewEventWriter(store, "events", func() []byte {
		atomic.AddInt32(&snapshotCalls, 1)
		return []byte("snapshot")
	}, nil)

	for i := 0; i < defaultCountThreshold; i++ {
		w.OnAppend()
	}

	require.Eventually(t, func() bool {
		v, ok, _ := store.Get(context.Background(), "events")
		return ok && string(v) == "snapshot"
	}, time.Second, 5*time.Millisecond)
}

func TestEventWriter_FlushesAfterQuietPeriod(t *testing.T) {
	store := memkv.New()
	w := NewEventWriter(store, "events", func() []byte { return []byte("quiet") }, nil)
	w.quietPeriod = 20 * time.Millisecond

	w.OnAppend()

	require.Eventually(t, func() bool {
		v, ok, _ := store.Get(context.Background(), "events")
		return ok && string(v) == "quiet"
	}, time.Second, 5*time.Millisecond)
}

func TestEventWriter_CloseStopsPendingTimer(t *testing.T) {
	store := memkv.New()
	w := NewEventWriter(store, "events", func() []byte { return []byte("x") }, nil)
	w.quietPeriod = 50 * time.Millisecond

	w.OnAppend()
	w.Close()

	time.Sleep(100 * time.Millisecond)
	_, ok, _ := store.Get(context.Background(), "events")
	assert.False(t, ok)
}
