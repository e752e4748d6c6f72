package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/featureflag/internal/config"
	"github.com/vitaliisemenov/featureflag/internal/model"
	"github.com/vitaliisemenov/featureflag/internal/properties"
	"github.com/vitaliisemenov/featureflag/internal/ruleset"
	"github.com/vitaliisemenov/featureflag/internal/storage"
	"github.com/vitaliisemenov/featureflag/internal/storage/memkv"

	"golang.org/x/time/rate"
)

type stubFetcher struct {
	mu                  sync.Mutex
	version             string
	body                []byte
	country             string
	pointerErr          error
	documentErr         error
	calls               int32
	minPollIntervalSecs int
	alwaysReturnPointer bool // skip the NotModified shortcut even when etag matches
}

func (s *stubFetcher) FetchPointer(ctx context.Context, etag string) (*PointerResult, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pointerErr != nil {
		return nil, s.pointerErr
	}
	if etag == s.version && !s.alwaysReturnPointer {
		return &PointerResult{NotModified: true, ETag: etag}, nil
	}
	return &PointerResult{
		Pointer: model.PointerDocument{Version: s.version, MinPollIntervalSecs: s.minPollIntervalSecs},
		Country: s.country,
	}, nil
}

func (s *stubFetcher) FetchDocument(ctx context.Context, version string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.documentErr != nil {
		return nil, s.documentErr
	}
	return s.body, nil
}

func testNamespace() storage.Namespace {
	return storage.Namespace{Company: "acme", Tenant: "default", Environment: "test"}
}

func newTestManager(fetcher Fetcher, callbacks Callbacks) (*Manager, *memkv.Store) {
	store := memkv.New()
	ns := testNamespace()
	bags := properties.NewBags()
	m := New(fetcher, nil, store, ns, config.RefreshConfig{PollInterval: time.Hour}, config.NetworkConfig{
		RequestTimeout:       time.Second,
		CountryDetectTimeout: time.Second,
	}, callbacks, bags, nil)
	return m, store
}

func TestManager_RefreshInstallsNewDocument(t *testing.T) {
	fetcher := &stubFetcher{version: "v1", body: []byte(`{"features":{"f":[{"value":"on","conditions":{"events":{"events":[]}}}]}}`)}

	var readyDoc *ruleset.Document
	m, _ := newTestManager(fetcher, Callbacks{
		OnReady: func(doc *ruleset.Document) { readyDoc = doc },
	})

	require.NoError(t, m.Refresh(context.Background()))

	doc := m.Current()
	require.NotNil(t, doc)
	require.NotNil(t, readyDoc)
	rules := doc.Rules("f")
	require.Len(t, rules, 1)
	assert.Equal(t, "on", rules[0].Value)
}

func TestManager_RefreshSkipsUnchangedVersion(t *testing.T) {
	fetcher := &stubFetcher{version: "v1", body: []byte(`{"features":{"f":[]}}`)}
	m, _ := newTestManager(fetcher, Callbacks{})

	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Refresh(context.Background()))

	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.calls))
}

func TestManager_UnchangedVersionStillRaisesPollInterval(t *testing.T) {
	fetcher := &stubFetcher{
		version:             "v1",
		body:                []byte(`{"features":{"f":[]}}`),
		alwaysReturnPointer: true,
		minPollIntervalSecs: 7200,
	}
	m, _ := newTestManager(fetcher, Callbacks{})

	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Refresh(context.Background()))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 7200, m.pollSeconds)
}

func TestManager_PointerErrorRetainsCachedDocument(t *testing.T) {
	fetcher := &stubFetcher{version: "v1", body: []byte(`{"features":{"f":[]}}`)}
	m, _ := newTestManager(fetcher, Callbacks{})
	require.NoError(t, m.Refresh(context.Background()))

	fetcher.mu.Lock()
	fetcher.pointerErr = errors.New("network down")
	fetcher.mu.Unlock()

	err := m.Refresh(context.Background())
	assert.Error(t, err)
	assert.NotNil(t, m.Current())
}

func TestManager_ApplyLocalBypassesNetwork(t *testing.T) {
	m, _ := newTestManager(nil, Callbacks{})
	err := m.ApplyLocal([]byte(`{"features":{"local":[]}}`))
	require.NoError(t, err)
	assert.NotNil(t, m.Current())

	err = m.Refresh(context.Background())
	assert.Error(t, err)
}

func TestManager_ConcurrentRefreshesCollapse(t *testing.T) {
	fetcher := &stubFetcher{version: "v1", body: []byte(`{"features":{"f":[]}}`)}
	m, _ := newTestManager(fetcher, Callbacks{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Refresh(context.Background())
		}()
	}
	wg.Wait()
	assert.NotNil(t, m.Current())
}

func TestManager_LoadCachedInstallsPersistedDocument(t *testing.T) {
	store := memkv.New()
	ns := testNamespace()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, ns.RulesBodyKey(), []byte(`{"features":{"cached":[]}}`)))

	bags := properties.NewBags()
	m := New(nil, nil, store, ns, config.RefreshConfig{}, config.NetworkConfig{}, Callbacks{}, bags, nil)
	require.NoError(t, m.LoadCached(ctx))
	assert.NotNil(t, m.Current())
}

func TestManager_RateLimitedManualRefresh(t *testing.T) {
	fetcher := &stubFetcher{version: "v1", body: []byte(`{"features":{"f":[]}}`)}
	m, _ := newTestManager(fetcher, Callbacks{})
	m.network.ManualRefreshPerMin = 1
	m.limiter = rate.NewLimiter(0, 1)

	require.NoError(t, m.RefreshManual(context.Background()))
	assert.Error(t, m.RefreshManual(context.Background()))
}
