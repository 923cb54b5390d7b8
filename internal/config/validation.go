// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/dvbsched/internal/conflict"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Msg, e.Value)
}

// Validate reports every invalid field at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field string, value any, msg string) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Msg: msg})
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		add("logLevel", cfg.LogLevel, "unknown log level")
	}

	switch cfg.Backend {
	case "dbus":
	case "memory":
		if len(cfg.Memory.Groups) == 0 {
			add("memory.groups", len(cfg.Memory.Groups), "memory backend needs at least one group")
		}
		seen := make(map[uint32]bool)
		for _, g := range cfg.Memory.Groups {
			if seen[g.ID] {
				add("memory.groups", g.ID, "duplicate group id")
			}
			seen[g.ID] = true
		}
	default:
		add("backend", cfg.Backend, "must be dbus or memory")
	}

	if cfg.Sched.Grace < 0 {
		add("scheduler.grace", cfg.Sched.Grace, "must not be negative")
	}
	if _, err := conflict.ParsePolicy(cfg.Sched.Policy); err != nil {
		add("scheduler.policy", cfg.Sched.Policy, "must be single-tuner or same-channel")
	}
	if cfg.Sync.RetryInterval <= 0 {
		add("sync.retryInterval", cfg.Sync.RetryInterval, "must be positive")
	}
	if cfg.Breaker.Threshold <= 0 {
		add("breaker.threshold", cfg.Breaker.Threshold, "must be positive")
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		add("breaker.resetTimeout", cfg.Breaker.ResetTimeout, "must be positive")
	}

	if cfg.API.ListenAddr == "" {
		add("api.listenAddr", cfg.API.ListenAddr, "must not be empty")
	}
	if cfg.API.RateLimit < 0 {
		add("api.rateLimit", cfg.API.RateLimit, "must not be negative")
	}
	if cfg.Redis.DB < 0 {
		add("redis.db", cfg.Redis.DB, "must not be negative")
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Exporter != "grpc" && cfg.Tracing.Exporter != "http" {
			add("tracing.exporter", cfg.Tracing.Exporter, "must be grpc or http")
		}
		if cfg.Tracing.Endpoint == "" {
			add("tracing.endpoint", cfg.Tracing.Endpoint, "required when tracing is enabled")
		}
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		add("tracing.samplingRate", cfg.Tracing.SamplingRate, "must be within [0, 1]")
	}

	return errors.Join(errs...)
}

// Checker derives the conflict rules from cfg. cfg must be valid.
func (cfg AppConfig) Checker() conflict.Checker {
	policy, _ := conflict.ParsePolicy(cfg.Sched.Policy)
	return conflict.New(cfg.Sched.Grace, policy)
}
