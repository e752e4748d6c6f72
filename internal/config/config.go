// Package config loads and validates engine configuration (spec §6
// initialize/initialize_local parameters): identity, retention, and
// rule-fetch settings, read from YAML via viper with environment
// variable overrides, and checked with go-playground/validator tags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full set of parameters host call initialize() accepts,
// plus the ambient settings (logging, storage backend) the teacher
// keeps alongside domain config.
type Config struct {
	Identity Identity      `mapstructure:"identity"`
	Refresh  RefreshConfig `mapstructure:"refresh"`
	Retain   RetainConfig  `mapstructure:"retain"`
	Network  NetworkConfig `mapstructure:"network"`
	Storage  StorageConfig `mapstructure:"storage"`
	Log      LogConfig     `mapstructure:"log"`
	Debug    bool          `mapstructure:"debug"`
}

// Identity is the (company, tenant, environment) scope every persisted
// key and rule fetch is namespaced by, plus the fetch API key.
type Identity struct {
	Company     string `mapstructure:"company" validate:"required,excludesall= \t\n"`
	Tenant      string `mapstructure:"tenant" validate:"required,excludesall= \t\n"`
	Environment string `mapstructure:"environment" validate:"required,excludesall= \t\n"`
	APIKey      string `mapstructure:"api_key" validate:"required"`
}

// RefreshConfig controls the rule-fetch lifecycle (C7).
type RefreshConfig struct {
	AutoRefresh    bool          `mapstructure:"auto_refresh"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"min=0"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" validate:"min=0"`
}

const (
	minPollInterval = 60 * time.Second
	maxPollInterval = 24 * time.Hour
)

// ClampedPollInterval applies the spec §4.6 bounds.
func (r RefreshConfig) ClampedPollInterval() time.Duration {
	d := r.PollInterval
	if d < minPollInterval {
		d = minPollInterval
	}
	if d > maxPollInterval {
		d = maxPollInterval
	}
	return d
}

// RetainConfig controls event-log retention (C2).
type RetainConfig struct {
	MaxEvents       int `mapstructure:"max_events" validate:"gte=0"`
	MaxEventAgeDays int `mapstructure:"max_event_age_days" validate:"gte=0"`
}

// NetworkConfig controls fetch timeouts, the regex cache size shared by
// the comparator, and the remote endpoints the reference HTTP fetcher
// talks to.
type NetworkConfig struct {
	RequestTimeout       time.Duration `mapstructure:"request_timeout" validate:"min=0"`
	CountryDetectTimeout time.Duration `mapstructure:"country_detect_timeout" validate:"min=0"`
	RegexCacheSize       int           `mapstructure:"regex_cache_size" validate:"gte=0"`
	ManualRefreshPerMin  int           `mapstructure:"manual_refresh_per_minute" validate:"gte=0"`

	// PointerURL and DocumentURLTemplate configure the reference HTTP
	// fetcher (spec §1 Out of scope: the transport itself is an
	// external collaborator, but a host still has to point it
	// somewhere). DocumentURLTemplate's single "%s" verb is replaced
	// with the pointer's version.
	PointerURL          string `mapstructure:"pointer_url"`
	DocumentURLTemplate string `mapstructure:"document_url_template"`
}

// StorageConfig selects the backing KVStore implementation.
type StorageConfig struct {
	Backend    string `mapstructure:"backend" validate:"oneof=memory sqlite"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LogConfig mirrors pkg/logger.Config, kept distinct so this package
// has no import-time dependency on it.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from path (if non-empty) layered under
// environment variable overrides and documented defaults, then
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("FEATUREFLAG")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("refresh.auto_refresh", true)
	v.SetDefault("refresh.poll_interval", "1h")
	v.SetDefault("refresh.session_timeout", "30m")

	v.SetDefault("retain.max_events", 5000)
	v.SetDefault("retain.max_event_age_days", 7)

	v.SetDefault("network.request_timeout", "30s")
	v.SetDefault("network.country_detect_timeout", "5s")
	v.SetDefault("network.regex_cache_size", 1000)
	v.SetDefault("network.manual_refresh_per_minute", 6)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_path", "featureflag.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("debug", false)
}

// Validate checks struct tags and the configuration-error rules spec
// §7 names explicitly: empty or whitespace-bearing company/tenant/env
// or API key refuses initialization before any network traffic.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}
