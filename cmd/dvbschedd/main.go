// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command dvbschedd keeps a conflict-checked mirror of the recorder
// daemon's timers and serves scheduling requests over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/dvbsched/internal/config"
	xglog "github.com/ManuGH/dvbsched/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{
		Service: "dvbschedd",
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString(config.EnvPrefix+"CONFIG", ""))
	}

	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}
	if err := xglog.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn().Err(err).Msg("ignoring invalid log level")
	}

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("backend", cfg.Backend).
		Str("policy", cfg.Sched.Policy).
		Dur("grace", cfg.Sched.Grace).
		Msg("configuration loaded")

	holder := config.NewConfigHolder(cfg, loader)
	if err := run(ctx, holder); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon stopped with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}
