// Package engine implements the concurrency controller (spec §4.8, C9)
// that wires the event log, property bags, rule-set lifecycle, and
// feature table behind the host API verb surface (spec §6). Every
// mutating verb serializes through a single mutex — the mutation
// executor — so the feature table is never read mid-recompute; listener
// callbacks and network/persistence work run off that executor and
// re-enter only to install their results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/featureflag/internal/condition"
	"github.com/vitaliisemenov/featureflag/internal/config"
	"github.com/vitaliisemenov/featureflag/internal/features"
	"github.com/vitaliisemenov/featureflag/internal/history"
	"github.com/vitaliisemenov/featureflag/internal/lifecycle"
	"github.com/vitaliisemenov/featureflag/internal/properties"
	"github.com/vitaliisemenov/featureflag/internal/ruleset"
	"github.com/vitaliisemenov/featureflag/internal/storage"
)

// Clock abstracts "now" in milliseconds, threaded through to the event
// store and the evaluator so tests control time without sleeping.
type Clock func() int64

// Hooks are the host-visible lifecycle callbacks, distinct from the
// per-feature Listener registrations (spec §4.6).
type Hooks struct {
	OnReady        func()
	OnRulesUpdated func()
}

// Engine is the host-facing facade: one instance per (company, tenant,
// environment) session.
type Engine struct {
	mu sync.Mutex // the mutation executor

	cfg    *config.Config
	ns     storage.Namespace
	store  storage.KVStore
	logger *slog.Logger
	clock  Clock

	history     *history.Store
	bags        *properties.Bags
	table       *features.Table
	evaluator   *condition.Evaluator
	lifecycle   *lifecycle.Manager
	eventWriter *storage.EventWriter
	hooks       Hooks

	listenerFeatures map[uuid.UUID]string

	// pendingNotify accumulates feature-table listener dispatch deferred
	// from inside the current mutation-executor critical section. It is
	// taken and cleared (takePendingNotifyLocked) and invoked only after
	// e.mu is released, so a listener calling back into the engine never
	// deadlocks on e.mu (spec §4.5/§4.8).
	pendingNotify func()
}

// chainNotify composes two deferred notify funcs so neither is lost when
// a single critical section triggers more than one table recompute (e.g.
// loadCachedEventsLocked replaying several events, each through the
// OnAppend hook).
func chainNotify(a, b func()) func() {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func() { a(); b() }
	}
}

// New builds an Engine from validated configuration. fetcher and
// detector may be nil; with a nil fetcher, rule sets come only from
// InitializeLocal or the persisted cache.
func New(cfg *config.Config, store storage.KVStore, fetcher lifecycle.Fetcher, detector lifecycle.CountryDetector, hooks Hooks, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ns := storage.Namespace{Company: cfg.Identity.Company, Tenant: cfg.Identity.Tenant, Environment: cfg.Identity.Environment}

	clock := func() int64 { return time.Now().UnixMilli() }
	hist := history.New(history.Config{MaxEvents: cfg.Retain.MaxEvents, MaxAgeDays: cfg.Retain.MaxEventAgeDays}, history.Clock(clock))
	bags := properties.NewBags()
	table := features.New(logger)
	comparator := condition.NewComparatorWithCacheSize(logger, cfg.Network.RegexCacheSize)
	evaluator := condition.NewEvaluator(comparator)

	e := &Engine{
		cfg:              cfg,
		ns:               ns,
		store:            store,
		logger:           logger,
		clock:            clock,
		history:          hist,
		bags:             bags,
		table:            table,
		evaluator:        evaluator,
		hooks:            hooks,
		listenerFeatures: map[uuid.UUID]string{},
	}

	e.eventWriter = storage.NewEventWriter(store, ns.EventsKey(), e.snapshotEvents, logger)
	hist.OnAppend(func() {
		e.eventWriter.OnAppend()
		e.reevaluateTableLocked()
	})

	e.lifecycle = lifecycle.New(fetcher, detector, store, ns, cfg.Refresh, cfg.Network, lifecycle.Callbacks{
		OnReady:        func(doc *ruleset.Document) { e.onDocumentInstalled(doc, e.hooks.OnReady) },
		OnRulesUpdated: func(doc *ruleset.Document) { e.onDocumentInstalled(doc, e.hooks.OnRulesUpdated) },
	}, bags, logger)

	return e
}

func (e *Engine) snapshotEvents() []byte {
	records := e.history.Snapshot()
	return encodeEvents(records)
}

// onDocumentInstalled re-enters the mutation executor to recompute the
// feature table after a rule-set change observed off-executor (a
// background fetch), then fires the host-visible hook.
func (e *Engine) onDocumentInstalled(doc *ruleset.Document, hook func()) {
	e.mu.Lock()
	e.reevaluateTableLockedWithDoc(doc)
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
	if hook != nil {
		hook()
	}
}

// reevaluateTableLocked and reevaluateTableLockedWithDoc recompute the
// feature table and chain the resulting listener dispatch into
// e.pendingNotify. Callers must hold e.mu and must not invoke listeners
// themselves; instead, after releasing e.mu, they must call the func
// returned by takePendingNotifyLocked (spec §4.5/§4.8: listener callbacks
// never run while the mutation executor is locked, since a listener may
// re-enter the engine with a mutating verb).
func (e *Engine) reevaluateTableLocked() {
	e.reevaluateTableLockedWithDoc(e.lifecycle.Current())
}

func (e *Engine) reevaluateTableLockedWithDoc(doc *ruleset.Document) {
	events := e.history.Snapshot()
	_, notify := e.table.ReevaluateDeferred(doc, e.evaluator, events, e.clock(), e.bags)
	e.pendingNotify = chainNotify(e.pendingNotify, notify)
}

// takePendingNotifyLocked returns and clears the accumulated deferred
// listener dispatch. Caller must hold e.mu when calling this, then
// release e.mu before invoking the returned func.
func (e *Engine) takePendingNotifyLocked() func() {
	notify := e.pendingNotify
	e.pendingNotify = nil
	if notify == nil {
		return func() {}
	}
	return notify
}

// Initialize loads any cached rule set, ensures the device identity
// keys exist, performs one rule fetch, and starts auto-refresh if
// configured. ctx bounds only the initial fetch; auto-refresh runs
// detached afterward.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := config.Validate(e.cfg); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if err := e.ensureDeviceIdentity(ctx); err != nil {
		e.logger.Error("engine: device identity persistence failed", "error", err)
	}

	e.mu.Lock()
	if err := e.loadCachedEventsLocked(ctx); err != nil {
		e.logger.Warn("engine: persisted event log failed to load, starting empty", "error", err)
	}
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()

	// A cached document is installed through the OnReady callback, which
	// takes e.mu itself, so the cached load runs with e.mu released.
	if err := e.lifecycle.LoadCached(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.reevaluateTableLocked()
	notify = e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()

	if err := e.lifecycle.Refresh(ctx); err != nil {
		e.logger.Warn("engine: initial rule fetch failed, continuing with cached rules if any", "error", err)
	}

	e.lifecycle.StartAutoRefresh(context.Background())
	return nil
}

// InitializeLocal parses a host-supplied rule document directly,
// skipping all network activity (spec §6 initialize_local).
func (e *Engine) InitializeLocal(raw []byte) error {
	return e.lifecycle.ApplyLocal(raw)
}

// LoadCached restores persisted events and the last-installed rule set
// without issuing a network fetch or starting auto-refresh. It exists
// for hosts that want to resume a prior session (e.g. a short-lived
// process reopening its store between invocations) without forcing a
// round trip when no fetcher is configured.
func (e *Engine) LoadCached(ctx context.Context) error {
	if err := e.ensureDeviceIdentity(ctx); err != nil {
		e.logger.Error("engine: device identity persistence failed", "error", err)
	}

	e.mu.Lock()
	if err := e.loadCachedEventsLocked(ctx); err != nil {
		e.logger.Warn("engine: persisted event log failed to load, starting empty", "error", err)
	}
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()

	// See Initialize: the cached load runs with e.mu released.
	if err := e.lifecycle.LoadCached(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.reevaluateTableLocked()
	notify = e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
	return nil
}

func (e *Engine) ensureDeviceIdentity(ctx context.Context) error {
	if _, ok, err := e.store.Get(ctx, storage.DeviceIDKey); err != nil {
		return err
	} else if !ok {
		if err := e.store.Set(ctx, storage.DeviceIDKey, []byte(uuid.NewString())); err != nil {
			return err
		}
	}

	_, ok, err := e.store.Get(ctx, storage.FirstOpenKey)
	if err != nil {
		return err
	}
	firstOpen := !ok
	if firstOpen {
		if err := e.store.Set(ctx, storage.FirstOpenKey, []byte("seen")); err != nil {
			return err
		}
	}
	e.bags.Device.Set("first_open", boolString(firstOpen))
	return nil
}

// loadCachedEventsLocked restores a persisted event log. Caller must
// hold e.mu; each restored append re-triggers the table re-evaluation
// hook, which is harmless here since Initialize re-evaluates again once
// the rule set itself has loaded.
func (e *Engine) loadCachedEventsLocked(ctx context.Context) error {
	raw, ok, err := e.store.Get(ctx, e.ns.EventsKey())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	events, err := decodeEvents(raw)
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.history.Append(ev.Name, ev.TimestampMillis, ev.Parameters)
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// LogEvent appends an event and synchronously re-evaluates the feature
// table before returning (spec §5 property 1: monotonic history order,
// and the synchronous re-evaluation guarantee).
func (e *Engine) LogEvent(name string, parameters map[string]string) {
	e.mu.Lock()
	e.history.Append(name, e.clock(), parameters)
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// GetEventHistory returns the event log in call order (supplemented
// host verb, spec §6 note).
func (e *Engine) GetEventHistory() []history.Record {
	return history.SortedBySeq(e.history.Snapshot())
}

// ClearEventHistory empties the event log and re-evaluates (spec §6
// clear_event_history).
func (e *Engine) ClearEventHistory() {
	e.mu.Lock()
	e.history.Clear()
	e.eventWriter.OnAppend()
	e.reevaluateTableLocked()
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// SetUserProperty stores a user property and re-evaluates.
func (e *Engine) SetUserProperty(key, value string) {
	e.mu.Lock()
	e.bags.User.Set(key, value)
	e.reevaluateTableLocked()
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// RemoveUserProperty removes a user property and re-evaluates.
func (e *Engine) RemoveUserProperty(key string) {
	e.mu.Lock()
	e.bags.User.Remove(key)
	e.reevaluateTableLocked()
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// SetDeviceProperty stores a device property and re-evaluates.
func (e *Engine) SetDeviceProperty(key, value string) {
	e.mu.Lock()
	e.bags.Device.Set(key, value)
	e.reevaluateTableLocked()
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// RemoveDeviceProperty removes a device property and re-evaluates.
func (e *Engine) RemoveDeviceProperty(key string) {
	e.mu.Lock()
	e.bags.Device.Remove(key)
	e.reevaluateTableLocked()
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// GetFeatureValue returns a feature's current resolved value.
func (e *Engine) GetFeatureValue(name string) (string, bool) {
	return e.table.Get(name)
}

// truthyValues is the closed set a feature value's lowercase form must
// belong to for IsFeatureEnabled to report true (spec §6).
var truthyValues = map[string]struct{}{
	"true": {}, "on": {}, "enabled": {}, "1": {},
}

// IsFeatureEnabled reports whether name's current value is truthy.
// Absence and any non-truthy value both report false.
func (e *Engine) IsFeatureEnabled(name string) bool {
	value, ok := e.table.Get(name)
	if !ok {
		return false
	}
	_, truthy := truthyValues[strings.ToLower(value)]
	return truthy
}

// ResetFeature clears a feature's cached value and re-evaluates,
// notifying listeners if the recomputed value differs.
func (e *Engine) ResetFeature(name string) {
	e.mu.Lock()
	e.table.Reset(name)
	e.reevaluateTableLocked()
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// ResetAllFeatures clears every cached feature value and re-evaluates.
func (e *Engine) ResetAllFeatures() {
	e.mu.Lock()
	e.table.ResetAll()
	e.reevaluateTableLocked()
	notify := e.takePendingNotifyLocked()
	e.mu.Unlock()
	notify()
}

// AddListener registers a callback scoped to a single feature, returning
// an opaque removal token (spec §6 add_listener).
func (e *Engine) AddListener(feature string, fn func(value *string)) uuid.UUID {
	token := e.table.AddListener(func(changedFeature string, value *string) {
		if changedFeature == feature {
			fn(value)
		}
	})
	e.mu.Lock()
	e.listenerFeatures[token] = feature
	e.mu.Unlock()
	return token
}

// RemoveListener removes a single listener by its token.
func (e *Engine) RemoveListener(token uuid.UUID) {
	e.table.RemoveListener(token)
	e.mu.Lock()
	delete(e.listenerFeatures, token)
	e.mu.Unlock()
}

// RemoveAllListeners removes every listener registered for feature.
func (e *Engine) RemoveAllListeners(feature string) {
	e.mu.Lock()
	var tokens []uuid.UUID
	for token, f := range e.listenerFeatures {
		if f == feature {
			tokens = append(tokens, token)
		}
	}
	for _, token := range tokens {
		delete(e.listenerFeatures, token)
	}
	e.mu.Unlock()

	for _, token := range tokens {
		e.table.RemoveListener(token)
	}
}

// ClearAllListeners removes every registered listener for every feature.
func (e *Engine) ClearAllListeners() {
	e.table.ClearAllListeners()
	e.mu.Lock()
	e.listenerFeatures = map[uuid.UUID]string{}
	e.mu.Unlock()
}

// RefreshRules issues a manual rule-set refresh, subject to the
// configured manual-refresh rate limit (spec §6 refresh_rules).
func (e *Engine) RefreshRules(ctx context.Context) error {
	return e.lifecycle.RefreshManual(ctx)
}

// ClearCache deletes the persisted rules body, hash, and cache
// timestamp for ns. If ns is this engine's own namespace, the in-memory
// rule set is cleared too and the feature table is re-evaluated to
// absent (spec §6 clear_cache).
func (e *Engine) ClearCache(ctx context.Context, ns storage.Namespace) error {
	for _, key := range []string{ns.RulesBodyKey(), ns.RulesHashKey(), ns.RulesCacheTimestampKey()} {
		if err := e.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("engine: clear cache: %w", err)
		}
	}
	if ns == e.ns {
		e.mu.Lock()
		e.lifecycle.ClearLocal()
		e.reevaluateTableLocked()
		notify := e.takePendingNotifyLocked()
		e.mu.Unlock()
		notify()
	}
	return nil
}

// Close stops background work (auto-refresh, debounced persistence).
// A non-empty event log is then written once more, so appends still
// waiting on the debounce are not lost; an empty log is not written.
func (e *Engine) Close() {
	e.lifecycle.Close()
	e.eventWriter.Close()
	if e.history.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.Set(ctx, e.ns.EventsKey(), e.snapshotEvents()); err != nil {
		e.logger.Error("engine: final event log write failed", "error", err)
	}
}
