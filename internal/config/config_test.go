package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Identity: Identity{Company: "acme", Tenant: "default", Environment: "prod", APIKey: "secret"},
		Refresh:  RefreshConfig{PollInterval: time.Hour},
		Retain:   RetainConfig{MaxEvents: 5000, MaxEventAgeDays: 7},
		Network:  NetworkConfig{RequestTimeout: 30 * time.Second, RegexCacheSize: 1000},
		Storage:  StorageConfig{Backend: "memory"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidate_RejectsMissingIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Company = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsWhitespaceInIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Tenant = "my tenant"
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsUnknownStorageBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "postgres"
	assert.Error(t, Validate(cfg))
}

func TestRefreshConfig_ClampedPollInterval(t *testing.T) {
	r := RefreshConfig{PollInterval: 5 * time.Second}
	assert.Equal(t, minPollInterval, r.ClampedPollInterval())

	r.PollInterval = 48 * time.Hour
	assert.Equal(t, maxPollInterval, r.ClampedPollInterval())

	r.PollInterval = 2 * time.Hour
	assert.Equal(t, 2*time.Hour, r.ClampedPollInterval())
}

func TestLoad_FailsWithoutIdentity(t *testing.T) {
	// Identity has no default and isn't supplied via file or env here,
	// so Load must surface the validation error rather than silently
	// proceeding with an empty company/tenant/api-key (spec §7).
	_, err := Load("")
	assert.Error(t, err)
}
