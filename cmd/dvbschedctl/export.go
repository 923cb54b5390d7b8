// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/urfave/cli"

	"github.com/ManuGH/dvbsched/internal/api"
)

func exportTimers(c *cli.Context) error {
	out := c.String("out")
	if out == "" {
		return errors.New("--out is required")
	}
	timers, err := client(c).Timers(context.Background(), c.Uint("group"), false)
	if err != nil {
		return err
	}
	if err := writeExport(out, timers); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "exported %d timers to %s\n", len(timers), out)
	return nil
}

// writeExport replaces path atomically; readers never see a partial file.
func writeExport(path string, timers []api.TimerResponse) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending export file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(timers); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	return nil
}
