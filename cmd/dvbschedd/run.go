// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/dvbsched/internal/api"
	"github.com/ManuGH/dvbsched/internal/bus"
	"github.com/ManuGH/dvbsched/internal/config"
	"github.com/ManuGH/dvbsched/internal/engine"
	"github.com/ManuGH/dvbsched/internal/journal"
	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/recorder/gnomedvb"
	"github.com/ManuGH/dvbsched/internal/recorder/memory"
	"github.com/ManuGH/dvbsched/internal/store"
	"github.com/ManuGH/dvbsched/internal/telemetry"
	"github.com/ManuGH/dvbsched/internal/timer"
	"github.com/ManuGH/dvbsched/internal/timersync"
)

const serviceName = "dvbschedd"

// run wires every component and blocks until ctx ends or one fails.
func run(ctx context.Context, holder *config.ConfigHolder) error {
	cfg := holder.Get()
	logger := xglog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	base, closeProvider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	defer closeProvider()
	provider := recorder.InstrumentProvider(base, recorder.BreakerSettings{
		Threshold:    cfg.Breaker.Threshold,
		ResetTimeout: cfg.Breaker.ResetTimeout,
	})

	groups, err := discoverGroups(ctx, provider, cfg.Sync.RetryInterval)
	if err != nil {
		return err
	}
	logger.Info().Str("event", "groups.discovered").Interface("groups", groups).Msg("device groups discovered")

	events := bus.NewMemoryBus(64)
	publishers := bus.Fanout{events}
	if cfg.Redis.Addr != "" {
		rp, err := bus.NewRedisPublisher(ctx, bus.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, xglog.WithComponent("bus"))
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rp.Close() }()
		publishers = append(publishers, rp)
	}

	engineOpts := []engine.Option{engine.WithChecker(cfg.Checker())}
	var jr api.JournalReader
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, journal.DefaultConfig())
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		engineOpts = append(engineOpts, engine.WithJournal(j))
		jr = j
	}

	registry := store.NewRegistry()
	recorders := make(map[timer.GroupID]recorder.Recorder, len(groups))
	syncers := make(map[timer.GroupID]api.Syncer, len(groups))
	breakers := make(map[timer.GroupID]api.BreakerState, len(groups))
	var runners []*timersync.Syncer
	for _, g := range groups {
		rec, err := provider.Recorder(g)
		if err != nil {
			return fmt.Errorf("recorder for group %d: %w", g, err)
		}
		recorders[g] = rec
		if inst, ok := rec.(*recorder.Instrumented); ok {
			breakers[g] = inst.Breaker()
		}
		s := timersync.New(rec, registry.Group(g),
			timersync.WithPublisher(publishers),
			timersync.WithRetryInterval(cfg.Sync.RetryInterval))
		syncers[g] = s
		runners = append(runners, s)
	}

	eng := engine.New(registry, recorders, engineOpts...)

	srv := api.New(api.Deps{
		Scheduler:      eng,
		Syncers:        syncers,
		Breakers:       breakers,
		Journal:        jr,
		Events:         events,
		Version:        cfg.Version,
		RateLimit:      cfg.API.RateLimit,
		TracingService: tracingService(cfg),
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range runners {
		g.Go(func() error { return s.Run(gctx) })
	}
	g.Go(func() error {
		return srv.Serve(gctx, cfg.API.ListenAddr, cfg.API.ShutdownTimeout)
	})
	g.Go(func() error {
		watchReload(gctx, holder, eng, base)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return serviceName
}

// newProvider selects the recorder binding.
func newProvider(cfg config.AppConfig) (recorder.Provider, func(), error) {
	switch cfg.Backend {
	case "memory":
		opts := make([]memory.Option, 0, len(cfg.Memory.Groups)+1)
		for _, g := range cfg.Memory.Groups {
			channels := make([]timer.ChannelID, 0, len(g.Channels))
			for _, c := range g.Channels {
				channels = append(channels, timer.ChannelID(c))
			}
			opts = append(opts, memory.WithGroup(timer.GroupID(g.ID), channels...))
		}
		if cfg.Sched.Policy == "same-channel" {
			opts = append(opts, memory.WithSameChannelPolicy())
		}
		return memory.New(opts...), func() {}, nil
	default:
		conn, err := gnomedvb.Connect(cfg.DBus.System)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to D-Bus: %w", err)
		}
		return gnomedvb.NewProvider(conn), func() { _ = conn.Close() }, nil
	}
}

// discoverGroups polls until the daemon answers. The set of groups is
// fixed for the lifetime of the process.
func discoverGroups(ctx context.Context, p recorder.Provider, interval time.Duration) ([]timer.GroupID, error) {
	logger := xglog.WithComponent("daemon")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		groups, err := p.Groups(ctx)
		if err == nil {
			return groups, nil
		}
		logger.Warn().Err(err).Str("event", "groups.discovery_failed").Dur("retry_in", interval).Msg("recorder daemon not reachable yet")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
