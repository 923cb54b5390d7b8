// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command dvbschedctl is the command line client of dvbschedd.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

var version = "v0.1.0"

var (
	groupFlag = cli.UintFlag{
		Name:  "group, g",
		Usage: "device group id",
		Value: 0,
	}
	startFlag = cli.StringFlag{
		Name:  "start, s",
		Usage: `start as "YYYY-MM-DD HH:MM" (local wall clock)`,
	}
	channelFlag = cli.UintFlag{
		Name:  "channel, c",
		Usage: "channel (service) id",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dvbschedctl"
	app.HelpName = "dvbschedctl"
	app.Usage = "schedule recordings through dvbschedd"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server",
			Value:  "http://127.0.0.1:8089",
			EnvVar: "DVBSCHED_SERVER",
			Usage:  "daemon base URL",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 10 * time.Second,
			Usage: "request timeout",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "list cached timers of a group",
			Flags:   []cli.Flag{groupFlag, cli.BoolFlag{Name: "active, a", Usage: "only timers recording now"}},
			Action:  listTimers,
		},
		{
			Name:  "add",
			Usage: "add a timer",
			Flags: []cli.Flag{groupFlag, channelFlag, startFlag,
				cli.IntFlag{Name: "minutes, m", Usage: "duration in minutes"}},
			Action: addTimer,
		},
		{
			Name:  "add-event",
			Usage: "add a timer covering a guide event",
			Flags: []cli.Flag{groupFlag, channelFlag, startFlag,
				cli.UintFlag{Name: "event-id, e", Usage: "guide event id"},
				cli.Int64Flag{Name: "seconds", Usage: "event duration in seconds"},
				cli.StringFlag{Name: "name, n", Usage: "event title"}},
			Action: addEvent,
		},
		{
			Name:      "coverage",
			Usage:     "report whether a guide event is already recorded",
			Flags:     []cli.Flag{groupFlag, channelFlag, startFlag, cli.Int64Flag{Name: "seconds", Usage: "event duration in seconds"}},
			Action:    coverage,
		},
		{
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "delete a timer",
			ArgsUsage: "TIMER_ID",
			Flags:     []cli.Flag{groupFlag},
			Action:    deleteTimer,
		},
		{
			Name:      "reschedule",
			Usage:     "move or resize a timer",
			ArgsUsage: "TIMER_ID",
			Flags:     []cli.Flag{groupFlag, startFlag, cli.IntFlag{Name: "minutes, m", Usage: "new duration in minutes"}},
			Action:    reschedule,
		},
		{
			Name:   "resync",
			Usage:  "refetch all timers of a group from the recorder",
			Flags:  []cli.Flag{groupFlag},
			Action: resync,
		},
		{
			Name:  "journal",
			Usage: "show recent scheduling decisions",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "group, g", Usage: "device group id"},
				cli.StringFlag{Name: "op", Usage: "operation filter, e.g. add_timer"},
				cli.IntFlag{Name: "limit, l", Value: 20, Usage: "maximum entries"},
			},
			Action: showJournal,
		},
		{
			Name:  "export",
			Usage: "write a group's timers to a JSON file atomically",
			Flags: []cli.Flag{groupFlag, cli.StringFlag{Name: "out, o", Usage: "destination file"}},
			Action: exportTimers,
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dvbschedctl:", err)
		os.Exit(1)
	}
}
