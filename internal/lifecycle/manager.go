package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/vitaliisemenov/featureflag/internal/config"
	"github.com/vitaliisemenov/featureflag/internal/properties"
	"github.com/vitaliisemenov/featureflag/internal/ruleset"
	"github.com/vitaliisemenov/featureflag/internal/storage"

	"golang.org/x/time/rate"
)

// Callbacks are the host-visible events the lifecycle manager fires.
// OnReady fires exactly once, the first time a rule set (cached or
// freshly fetched) becomes available. OnRulesUpdated fires on every
// subsequent installation of a new document (spec §4.6).
type Callbacks struct {
	OnReady        func(doc *ruleset.Document)
	OnRulesUpdated func(doc *ruleset.Document)
}

// Manager drives the rule fetch/apply lifecycle: initial cache load,
// conditional pointer polling, immutable document fetch on version
// change, and a jittered auto-refresh timer. Exactly one fetch may be
// in flight at a time; concurrent requests collapse onto it.
type Manager struct {
	fetcher   Fetcher
	detector  CountryDetector
	store     storage.KVStore
	ns        storage.Namespace
	refresh   config.RefreshConfig
	network   config.NetworkConfig
	callbacks Callbacks
	bags      *properties.Bags
	logger    *slog.Logger

	limiter *rate.Limiter

	mu          sync.Mutex
	current     *ruleset.Document
	etag        string
	pollSeconds int // effective poll interval, raised (never lowered) by the pointer's hint
	readyFired  bool
	inFlight    bool
	waiters     []chan error
	timer       *time.Timer
	closed      bool
}

// New builds a Manager. fetcher and detector may be nil for local-only
// use (see Manager.ApplyLocal).
func New(fetcher Fetcher, detector CountryDetector, store storage.KVStore, ns storage.Namespace, refresh config.RefreshConfig, network config.NetworkConfig, callbacks Callbacks, bags *properties.Bags, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(float64(network.ManualRefreshPerMin) / 60.0)
	if network.ManualRefreshPerMin <= 0 {
		limit = rate.Inf
	}
	return &Manager{
		fetcher:     fetcher,
		detector:    detector,
		store:       store,
		ns:          ns,
		refresh:     refresh,
		network:     network,
		callbacks:   callbacks,
		bags:        bags,
		logger:      logger,
		limiter:     rate.NewLimiter(limit, 1),
		pollSeconds: int(refresh.ClampedPollInterval().Seconds()),
	}
}

// Current returns the currently installed document, or nil before any
// rule set has ever loaded.
func (m *Manager) Current() *ruleset.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// LoadCached installs whatever rules document is persisted, if any,
// firing OnReady if found. Call this once during initialize() before
// the first network fetch (spec §4.6: cache is consulted first).
func (m *Manager) LoadCached(ctx context.Context) error {
	body, ok, err := m.store.Get(ctx, m.ns.RulesBodyKey())
	if err != nil {
		return fmt.Errorf("lifecycle: load cached rules: %w", err)
	}
	if !ok {
		return nil
	}

	doc, err := ruleset.Build(body)
	if err != nil {
		m.logger.Warn("lifecycle: cached rules document is corrupt, ignoring", "error", err)
		return nil
	}

	hash, _, err := m.store.Get(ctx, m.ns.RulesHashKey())
	if err == nil && len(hash) > 0 {
		m.etag = string(hash)
	}

	m.install(doc)
	return nil
}

// ApplyLocal parses a host-supplied rule-document string directly,
// bypassing all network activity (spec §6 initialize_local).
func (m *Manager) ApplyLocal(raw []byte) error {
	doc, err := ruleset.Build(raw)
	if err != nil {
		return fmt.Errorf("lifecycle: parse local rules document: %w", err)
	}
	m.install(doc)
	return nil
}

// Refresh performs one fetch cycle: a conditional pointer GET, and, if
// the version changed, a fetch of the new immutable document. A second
// caller arriving while a fetch is in flight collapses onto it and
// receives the same result, rather than issuing a second request.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.fetcher == nil {
		return fmt.Errorf("lifecycle: refresh called without a fetcher (local mode)")
	}

	m.mu.Lock()
	if m.inFlight {
		wait := make(chan error, 1)
		m.waiters = append(m.waiters, wait)
		m.mu.Unlock()
		select {
		case err := <-wait:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.inFlight = true
	m.mu.Unlock()

	err := m.doRefresh(ctx)

	m.mu.Lock()
	m.inFlight = false
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()
	for _, w := range waiters {
		w <- err
	}
	return err
}

// RefreshManual is Refresh gated by the manual-refresh rate limiter
// (spec §6 refresh_rules, §5 rate limiting).
func (m *Manager) RefreshManual(ctx context.Context) error {
	if !m.limiter.Allow() {
		return fmt.Errorf("lifecycle: manual refresh rate limit exceeded")
	}
	return m.Refresh(ctx)
}

func (m *Manager) doRefresh(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, m.network.RequestTimeout)
	defer cancel()

	m.mu.Lock()
	etag := m.etag
	m.mu.Unlock()

	ptr, err := m.fetcher.FetchPointer(fetchCtx, etag)
	if err != nil {
		m.logger.Warn("lifecycle: pointer fetch failed, retaining cached rules", "error", err)
		return err
	}
	if ptr.NotModified {
		m.touchCacheTimestamp(ctx)
		return nil
	}

	country := ptr.Country
	if country == "" && m.detector != nil {
		country = m.detectCountry(ctx)
	}
	if country != "" {
		m.bags.Device.Set(properties.CountryKey, country)
	}

	m.mu.Lock()
	unchanged := m.current != nil && ptr.Pointer.Version == m.etag
	if ptr.Pointer.MinPollIntervalSecs > m.pollSeconds {
		m.pollSeconds = ptr.Pointer.MinPollIntervalSecs
	}
	m.mu.Unlock()
	if unchanged {
		m.touchCacheTimestamp(ctx)
		return nil
	}

	docCtx, docCancel := context.WithTimeout(ctx, m.network.RequestTimeout)
	defer docCancel()
	body, err := m.fetcher.FetchDocument(docCtx, ptr.Pointer.Version)
	if err != nil {
		m.logger.Warn("lifecycle: document fetch failed, retaining cached rules", "error", err)
		return err
	}

	doc, err := ruleset.Build(body)
	if err != nil {
		m.logger.Warn("lifecycle: fetched document failed to parse, retaining previous rule set", "error", err)
		return err
	}

	if err := m.persist(ctx, body, doc.Hash); err != nil {
		m.logger.Error("lifecycle: persisting fetched rules failed, continuing with in-memory copy", "error", err)
	}

	m.mu.Lock()
	m.etag = ptr.Pointer.Version
	m.mu.Unlock()

	m.install(doc)
	return nil
}

func (m *Manager) detectCountry(ctx context.Context) string {
	detectCtx, cancel := context.WithTimeout(ctx, m.network.CountryDetectTimeout)
	defer cancel()
	country, err := m.detector(detectCtx)
	if err != nil {
		m.logger.Debug("lifecycle: country detection failed", "error", err)
		return ""
	}
	return country
}

func (m *Manager) touchCacheTimestamp(ctx context.Context) {
	if err := m.store.Set(ctx, m.ns.RulesCacheTimestampKey(), []byte(fmt.Sprintf("%d", time.Now().UnixMilli()))); err != nil {
		m.logger.Error("lifecycle: cache timestamp persistence failed", "error", err)
	}
}

func (m *Manager) persist(ctx context.Context, body []byte, hash string) error {
	if err := m.store.Set(ctx, m.ns.RulesBodyKey(), body); err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.ns.RulesHashKey(), []byte(hash)); err != nil {
		return err
	}
	m.touchCacheTimestamp(ctx)
	return nil
}

func (m *Manager) install(doc *ruleset.Document) {
	m.mu.Lock()
	m.current = doc
	first := !m.readyFired
	m.readyFired = true
	m.mu.Unlock()

	if first {
		if m.callbacks.OnReady != nil {
			m.callbacks.OnReady(doc)
		}
		return
	}
	if m.callbacks.OnRulesUpdated != nil {
		m.callbacks.OnRulesUpdated(doc)
	}
}

// ClearLocal discards the in-memory rule set and ETag without touching
// persistence (the caller is expected to have already deleted the
// persisted keys). The feature table must be re-evaluated by the
// caller afterward; every feature resolves to absent until the next
// fetch installs a document.
func (m *Manager) ClearLocal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.etag = ""
}

// StartAutoRefresh begins the jittered polling loop if auto-refresh is
// enabled in configuration. It returns immediately; refresh failures
// are logged and do not stop the loop (spec §4.6, §7).
func (m *Manager) StartAutoRefresh(ctx context.Context) {
	if !m.refresh.AutoRefresh || m.fetcher == nil {
		return
	}
	m.scheduleNext(ctx)
}

func (m *Manager) scheduleNext(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	base := time.Duration(m.pollSeconds) * time.Second
	m.mu.Unlock()

	delay := jitter(base)
	m.mu.Lock()
	m.timer = time.AfterFunc(delay, func() {
		if err := m.Refresh(ctx); err != nil {
			m.logger.Warn("lifecycle: scheduled refresh failed", "error", err)
		}
		m.scheduleNext(ctx)
	})
	m.mu.Unlock()
}

// jitter applies up to ±10% jitter to a poll interval (spec §4.6).
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	spread := float64(base) * 0.10
	offset := (rand.Float64()*2 - 1) * spread
	return base + time.Duration(offset)
}

// Close stops the auto-refresh timer. Safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
