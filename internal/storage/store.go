// Package storage defines the key/value persistence boundary (spec
// §4.7, C8) and the debounced writer that keeps the event log
// persisted without blocking the mutation executor. The production
// backing store is an external collaborator (spec §1 Out of scope);
// this package ships an in-memory default and a sqlite-backed
// reference implementation under internal/storage/sqlite.
package storage

import "context"

// KVStore is the durable key/value backing store the engine persists
// rules, events, and device identity into. Get reports whether the key
// was present; a missing key is not an error.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Namespace identifies the (company, tenant, environment) scope most
// persisted keys live under (spec §6 Persisted keys). The cross-tenant
// first-open flag and device-id keys bypass it.
type Namespace struct {
	Company     string
	Tenant      string
	Environment string
}

func (n Namespace) prefix() string {
	return n.Company + ":" + n.Tenant + ":" + n.Environment
}

// RulesBodyKey is the persisted raw rules document body.
func (n Namespace) RulesBodyKey() string { return n.prefix() + ":rules:body" }

// RulesHashKey is the persisted content hash of the installed rules document.
func (n Namespace) RulesHashKey() string { return n.prefix() + ":rules:hash" }

// RulesCacheTimestampKey is refreshed on every successful pointer check,
// independent of whether the rules body changed.
func (n Namespace) RulesCacheTimestampKey() string { return n.prefix() + ":rules:cached_at" }

// EventsKey is the serialized event log for this namespace.
func (n Namespace) EventsKey() string { return n.prefix() + ":events" }

// SchemaDiscoveryKey is the persisted schema-discovery telemetry state.
func (n Namespace) SchemaDiscoveryKey() string { return n.prefix() + ":schema_discovery" }

// FirstOpenKey is cross-tenant: the host's very first launch is a
// device-level fact, not a (company, tenant, env) one.
const FirstOpenKey = "device:first_open"

// DeviceIDKey is cross-tenant for the same reason as FirstOpenKey.
const DeviceIDKey = "device:id"
