package main

import (
	"context"

	"github.com/ManuGH/dvbsched/internal/config"
	"github.com/ManuGH/dvbsched/internal/engine"
	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/recorder/memory"
)

// watchReload applies the hot-reloadable settings: log level, grace window
// and conflict policy.
func watchReload(ctx context.Context, holder *config.ConfigHolder, eng *engine.Engine, base recorder.Provider) {
	logger := xglog.WithComponent("daemon")

	updates := make(chan config.AppConfig, 1)
	holder.RegisterListener(updates)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
		return
	}
	defer holder.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			if err := xglog.SetLevel(cfg.LogLevel); err != nil {
				logger.Warn().Err(err).Msg("ignoring invalid log level")
			}
			applyRules(cfg, eng, base)
			logger.Info().
				Str("event", "config.applied").
				Str("policy", cfg.Sched.Policy).
				Dur("grace", cfg.Sched.Grace).
				Msg("reloaded scheduling rules")
		}
	}
}

// applyRules swaps the conflict rules. The simulated daemon follows the same
// policy so its answers agree with the engine's pre-check.
func applyRules(cfg config.AppConfig, eng *engine.Engine, base recorder.Provider) {
	eng.SetChecker(cfg.Checker())
	if d, ok := base.(*memory.Daemon); ok {
		d.SetSameChannelPolicy(cfg.Sched.Policy == "same-channel")
	}
}
