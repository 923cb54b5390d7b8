// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence: defaults < YAML file < DVBSCHED_* environment. The file is
// parsed strictly; unknown keys are an error.
package config

import "time"

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel string `yaml:"logLevel"`

	// Backend selects the recorder binding: "dbus" or "memory".
	Backend string        `yaml:"backend"`
	DBus    DBusConfig    `yaml:"dbus"`
	Memory  MemoryConfig  `yaml:"memory"`
	Sched   SchedConfig   `yaml:"scheduler"`
	Sync    SyncConfig    `yaml:"sync"`
	Breaker BreakerConfig `yaml:"breaker"`
	API     APIConfig     `yaml:"api"`
	Journal JournalConfig `yaml:"journal"`
	Redis   RedisConfig   `yaml:"redis"`
	Tracing TracingConfig `yaml:"tracing"`
}

// DBusConfig selects the bus the GNOME DVB daemon lives on.
type DBusConfig struct {
	System bool `yaml:"system"`
}

// MemoryConfig describes the simulated daemon's device groups.
type MemoryConfig struct {
	Groups []MemoryGroup `yaml:"groups"`
}

// MemoryGroup is one simulated device group and its channels.
type MemoryGroup struct {
	ID       uint32   `yaml:"id"`
	Channels []uint32 `yaml:"channels"`
}

// SchedConfig holds the conflict rules. Both fields are hot-reloadable.
type SchedConfig struct {
	Grace  time.Duration `yaml:"grace"`
	Policy string        `yaml:"policy"`
}

// SyncConfig tunes the notification sync.
type SyncConfig struct {
	RetryInterval time.Duration `yaml:"retryInterval"`
}

// BreakerConfig guards recorder calls.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"resetTimeout"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// JournalConfig locates the decision journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig enables event fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Backend:  "dbus",
		Sched: SchedConfig{
			Grace:  time.Hour,
			Policy: "single-tuner",
		},
		Sync: SyncConfig{RetryInterval: 5 * time.Second},
		Breaker: BreakerConfig{
			Threshold:    5,
			ResetTimeout: 30 * time.Second,
		},
		API: APIConfig{
			ListenAddr:      ":8089",
			RateLimit:       120,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{Channel: "dvbsched:events"},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
