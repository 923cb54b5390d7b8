// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment key.
const EnvPrefix = "DVBSCHED_"

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader. An empty configPath means environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file path, if any.
func (l *Loader) Path() string { return l.configPath }

// Load applies defaults, the file and the environment, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes YAML over cfg. Unknown fields are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func env(name string) string { return EnvPrefix + name }

// mergeEnv overrides cfg from the environment.
func mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString(env("LOG_LEVEL"), cfg.LogLevel)
	cfg.Backend = ParseString(env("BACKEND"), cfg.Backend)
	cfg.DBus.System = ParseBool(env("DBUS_SYSTEM"), cfg.DBus.System)

	cfg.Sched.Grace = ParseDuration(env("GRACE"), cfg.Sched.Grace)
	cfg.Sched.Policy = ParseString(env("POLICY"), cfg.Sched.Policy)
	cfg.Sync.RetryInterval = ParseDuration(env("SYNC_RETRY"), cfg.Sync.RetryInterval)
	cfg.Breaker.Threshold = ParseInt(env("BREAKER_THRESHOLD"), cfg.Breaker.Threshold)
	cfg.Breaker.ResetTimeout = ParseDuration(env("BREAKER_RESET"), cfg.Breaker.ResetTimeout)

	cfg.API.ListenAddr = ParseString(env("LISTEN"), cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(env("RATE_LIMIT"), cfg.API.RateLimit)
	cfg.API.ShutdownTimeout = ParseDuration(env("SHUTDOWN_TIMEOUT"), cfg.API.ShutdownTimeout)

	cfg.Journal.Path = ParseString(env("JOURNAL_PATH"), cfg.Journal.Path)

	cfg.Redis.Addr = ParseString(env("REDIS_ADDR"), cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(env("REDIS_PASSWORD"), cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(env("REDIS_DB"), cfg.Redis.DB)
	cfg.Redis.Channel = ParseString(env("REDIS_CHANNEL"), cfg.Redis.Channel)

	cfg.Tracing.Enabled = ParseBool(env("OTEL_ENABLED"), cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = ParseString(env("OTEL_EXPORTER"), cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = ParseString(env("OTEL_ENDPOINT"), cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = ParseFloat(env("OTEL_SAMPLING_RATE"), cfg.Tracing.SamplingRate)
}
