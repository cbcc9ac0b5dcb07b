// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// Config is the top-level Pipewise assistant service configuration.
type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Assistant  AssistantConfig           `mapstructure:"assistant"`
	RateLimits map[string]BucketConfig   `mapstructure:"rate_limits"`
	Escalation EscalationConfig          `mapstructure:"escalation"`
	Storage    StorageConfig             `mapstructure:"storage"`
}

// ServerConfig controls how the service listens for connections.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// APIToken is the bearer token callers must present. Empty means
	// development mode: any non-empty bearer token is accepted.
	APIToken string `mapstructure:"api_token"`
	// RateLimitRPS is the sustained per-IP request rate enforced at the
	// transport layer, before session validation. Zero disables the
	// per-IP guard.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// MaxTrackedIPs caps the visitor map of the per-IP guard. Zero
	// applies the guard's built-in default.
	MaxTrackedIPs int `mapstructure:"max_tracked_ips"`
}

// ProviderConfig holds credentials for one upstream model vendor.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// AssistantConfig tunes the orchestration core.
type AssistantConfig struct {
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	ReadinessTTL      time.Duration `mapstructure:"readiness_ttl"`
	FailurePhraseFile string        `mapstructure:"failure_phrase_file"`
	PhraseScanLimit   int           `mapstructure:"phrase_scan_limit"`
	// DealsFile optionally points at a YAML list of open pipeline
	// deals used to build fallback plans. Empty means plans are built
	// over an empty deal list.
	DealsFile string `mapstructure:"deals_file"`
}

// BucketConfig caps one rate-limit bucket.
type BucketConfig struct {
	WindowSeconds int   `mapstructure:"window_seconds"`
	Max           int64 `mapstructure:"max"`
}

// EscalationConfig tunes the throttled escalation reporter.
type EscalationConfig struct {
	Categories map[string]EscalationCategoryConfig `mapstructure:"categories"`
}

// EscalationCategoryConfig tunes one escalation category window.
type EscalationCategoryConfig struct {
	Window                  time.Duration `mapstructure:"window"`
	MaxPerWindow            int           `mapstructure:"max_per_window"`
	DistinctCodesToEscalate int           `mapstructure:"distinct_codes_to_escalate"`
}

// StorageConfig locates the persistent store.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults installs configuration defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:18942")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("assistant.call_timeout", 60*time.Second)
	v.SetDefault("assistant.readiness_ttl", 15*time.Second)
	v.SetDefault("assistant.phrase_scan_limit", 2048)
	v.SetDefault("rate_limits.assistant_task", map[string]any{"window_seconds": 3600, "max": 100})
	v.SetDefault("rate_limits.chart_generation", map[string]any{"window_seconds": 3600, "max": 20})
	v.SetDefault("storage.path", "pipewise.db")
}

// SetupEnv binds PIPEWISE_-prefixed environment variables on v.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("PIPEWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pwerr.Wrapf(err, pwerr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeConfigValidateInvalidValue, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, pwerr.Wrapf(errors.Join(errs...), pwerr.CodeConfigValidateInvalidValue, "validating config")
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateRateLimits()...)
	errs = append(errs, c.validateEscalation()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, pwerr.New(pwerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit_rps must not be negative, got %g", c.Server.RateLimitRPS))
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"config: server.rate_limit_burst must be positive when rate_limit_rps is set, got %d", c.Server.RateLimitBurst))
	}
	if c.Server.MaxTrackedIPs < 0 {
		errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"config: server.max_tracked_ips must not be negative, got %d", c.Server.MaxTrackedIPs))
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	known := map[string]bool{"anthropic": true, "openai": true, "google": true}
	for name, pc := range c.Providers {
		if !known[name] {
			errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"config: providers.%s is not a supported provider (anthropic, openai, google)", name))
			continue
		}
		if pc.APIKey == "" {
			errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.api_key must not be empty", name))
		}
	}

	return errs
}

func (c *Config) validateRateLimits() []error {
	var errs []error

	for name, bc := range c.RateLimits {
		if bc.WindowSeconds <= 0 {
			errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"config: rate_limits.%s.window_seconds must be greater than 0, got %d", name, bc.WindowSeconds))
		}
		if bc.Max <= 0 {
			errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"config: rate_limits.%s.max must be greater than 0, got %d", name, bc.Max))
		}
	}

	return errs
}

func (c *Config) validateEscalation() []error {
	var errs []error

	for name, ec := range c.Escalation.Categories {
		if ec.Window <= 0 {
			errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"config: escalation.categories.%s.window must be positive", name))
		}
		if ec.MaxPerWindow <= 0 {
			errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"config: escalation.categories.%s.max_per_window must be positive", name))
		}
		if ec.DistinctCodesToEscalate <= 0 {
			errs = append(errs, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"config: escalation.categories.%s.distinct_codes_to_escalate must be positive", name))
		}
	}

	return errs
}
