package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/featureflag/internal/config"
	"github.com/vitaliisemenov/featureflag/internal/storage"
	"github.com/vitaliisemenov/featureflag/internal/storage/memkv"
)

func testConfig() *config.Config {
	return &config.Config{
		Identity: config.Identity{Company: "acme", Tenant: "default", Environment: "test", APIKey: "key"},
		Refresh:  config.RefreshConfig{PollInterval: time.Hour},
		Retain:   config.RetainConfig{MaxEvents: 5000, MaxEventAgeDays: 7},
		Network:  config.NetworkConfig{RequestTimeout: time.Second, RegexCacheSize: 100},
		Storage:  config.StorageConfig{Backend: "memory"},
		Log:      config.LogConfig{Level: "info", Format: "json"},
	}
}

const popupRules = `{"features":{"popup":[{"value":"on","conditions":{"events":{"events":[{"key":"level_complete","count":{"operator":">=","value":3}}]}}}]}}`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(testConfig(), memkv.New(), nil, nil, Hooks{}, nil)
	require.NoError(t, e.InitializeLocal([]byte(popupRules)))
	return e
}

func TestEngine_EnableAfterThreeEvents(t *testing.T) {
	e := newTestEngine(t)

	e.LogEvent("level_complete", nil)
	e.LogEvent("level_complete", nil)
	_, ok := e.GetFeatureValue("popup")
	assert.False(t, ok)

	e.LogEvent("level_complete", nil)
	value, ok := e.GetFeatureValue("popup")
	require.True(t, ok)
	assert.Equal(t, "on", value)
	assert.True(t, e.IsFeatureEnabled("popup"))
}

func TestEngine_ResetFeatureClearsThenRearms(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 3; i++ {
		e.LogEvent("level_complete", nil)
	}
	require.True(t, e.IsFeatureEnabled("popup"))

	e.ResetFeature("popup")
	_, ok := e.GetFeatureValue("popup")
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		e.LogEvent("level_complete", nil)
	}
	assert.True(t, e.IsFeatureEnabled("popup"))
}

func TestEngine_ListenerFiresOnChangeScopedToFeature(t *testing.T) {
	e := newTestEngine(t)

	var fired int
	var lastValue *string
	e.AddListener("popup", func(value *string) {
		fired++
		lastValue = value
	})

	e.LogEvent("level_complete", nil)
	e.LogEvent("level_complete", nil)
	e.LogEvent("level_complete", nil)

	assert.Equal(t, 1, fired)
	require.NotNil(t, lastValue)
	assert.Equal(t, "on", *lastValue)
}

func TestEngine_RemoveAllListenersStopsNotifications(t *testing.T) {
	e := newTestEngine(t)

	var fired int
	e.AddListener("popup", func(value *string) { fired++ })
	e.RemoveAllListeners("popup")

	for i := 0; i < 3; i++ {
		e.LogEvent("level_complete", nil)
	}
	assert.Equal(t, 0, fired)
}

func TestEngine_SetUserPropertyTriggersReevaluation(t *testing.T) {
	e := New(testConfig(), memkv.New(), nil, nil, Hooks{}, nil)
	rules := `{"features":{"vip":[{"value":"on","conditions":{"user_properties":[{"key":"tier","value":{"operator":"==","value":"gold"}}]}}]}}`
	require.NoError(t, e.InitializeLocal([]byte(rules)))

	_, ok := e.GetFeatureValue("vip")
	assert.False(t, ok)

	e.SetUserProperty("tier", "gold")
	value, ok := e.GetFeatureValue("vip")
	require.True(t, ok)
	assert.Equal(t, "on", value)

	e.RemoveUserProperty("tier")
	_, ok = e.GetFeatureValue("vip")
	assert.False(t, ok)
}

func TestEngine_ClearEventHistoryResetsCountConditions(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 3; i++ {
		e.LogEvent("level_complete", nil)
	}
	require.True(t, e.IsFeatureEnabled("popup"))

	e.ClearEventHistory()
	assert.Empty(t, e.GetEventHistory())
	assert.False(t, e.IsFeatureEnabled("popup"))
}

func TestEngine_ClearCacheRemovesPersistedAndInMemoryRules(t *testing.T) {
	store := memkv.New()
	cfg := testConfig()
	e := New(cfg, store, nil, nil, Hooks{}, nil)
	require.NoError(t, e.InitializeLocal([]byte(popupRules)))

	ns := storage.Namespace{Company: cfg.Identity.Company, Tenant: cfg.Identity.Tenant, Environment: cfg.Identity.Environment}
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, ns.RulesBodyKey(), []byte(popupRules)))

	require.NoError(t, e.ClearCache(ctx, ns))

	_, ok, err := store.Get(ctx, ns.RulesBodyKey())
	require.NoError(t, err)
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		e.LogEvent("level_complete", nil)
	}
	_, ok = e.GetFeatureValue("popup")
	assert.False(t, ok)
}

func TestEngine_ListenerReenteringEngineDoesNotDeadlock(t *testing.T) {
	e := newTestEngine(t)

	done := make(chan struct{})
	e.AddListener("popup", func(value *string) {
		e.ResetFeature("popup")
		close(done)
	})

	e.LogEvent("level_complete", nil)
	e.LogEvent("level_complete", nil)
	e.LogEvent("level_complete", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener callback deadlocked re-entering the engine")
	}

	_, ok := e.GetFeatureValue("popup")
	assert.False(t, ok)
}

func TestEngine_InitializeEnsuresDeviceIdentity(t *testing.T) {
	store := memkv.New()
	e := New(testConfig(), store, nil, nil, Hooks{}, nil)
	require.NoError(t, e.Initialize(context.Background()))

	_, ok, err := store.Get(context.Background(), storage.DeviceIDKey)
	require.NoError(t, err)
	assert.True(t, ok)

	value, ok := e.bags.Device.Get("first_open")
	require.True(t, ok)
	assert.Equal(t, "true", value)
}
