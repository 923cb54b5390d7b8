package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli"

	"github.com/ManuGH/dvbsched/internal/api"
	"github.com/ManuGH/dvbsched/internal/timer"
)

func client(c *cli.Context) *Client {
	return NewClient(c.GlobalString("server"), c.GlobalDuration("timeout"))
}

// start validates --start locally so typos never reach the daemon.
func start(c *cli.Context) (string, error) {
	raw := c.String("start")
	if raw == "" {
		return "", errors.New("--start is required")
	}
	w, err := timer.ParseWallTime(raw)
	if err != nil {
		return "", err
	}
	return w.String(), nil
}

func timerArg(c *cli.Context) (uint64, error) {
	raw := c.Args().First()
	if raw == "" {
		return 0, errors.New("missing TIMER_ID")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid TIMER_ID %q", raw)
	}
	return id, nil
}

func listTimers(c *cli.Context) error {
	timers, err := client(c).Timers(context.Background(), c.Uint("group"), c.Bool("active"))
	if err != nil {
		return err
	}
	if len(timers) == 0 {
		fmt.Fprintln(c.App.Writer, "no timers")
		return nil
	}
	printTimers(c, timers)
	return nil
}

func printTimers(c *cli.Context, timers []api.TimerResponse) {
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHANNEL\tSTART\tEND\tMIN\tNAME")
	for _, t := range timers {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\n", t.ID, t.Channel, t.Start, t.End, t.DurationMinutes, t.Name)
	}
	_ = tw.Flush()
}

func addTimer(c *cli.Context) error {
	s, err := start(c)
	if err != nil {
		return err
	}
	id, err := client(c).AddTimer(context.Background(), c.Uint("group"), api.AddTimerRequest{
		Channel:         uint32(c.Uint("channel")),
		Start:           s,
		DurationMinutes: c.Int("minutes"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "created timer %d\n", id)
	return nil
}

func eventRequest(c *cli.Context) (api.EventRequest, error) {
	s, err := start(c)
	if err != nil {
		return api.EventRequest{}, err
	}
	return api.EventRequest{
		EventID:         uint32(c.Uint("event-id")),
		Channel:         uint32(c.Uint("channel")),
		Start:           s,
		DurationSeconds: c.Int64("seconds"),
		Name:            c.String("name"),
	}, nil
}

func addEvent(c *cli.Context) error {
	req, err := eventRequest(c)
	if err != nil {
		return err
	}
	id, err := client(c).AddTimerForEvent(context.Background(), c.Uint("group"), req)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "created timer %d\n", id)
	return nil
}

func coverage(c *cli.Context) error {
	req, err := eventRequest(c)
	if err != nil {
		return err
	}
	cov, err := client(c).Coverage(context.Background(), c.Uint("group"), req)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, cov)
	return nil
}

func deleteTimer(c *cli.Context) error {
	id, err := timerArg(c)
	if err != nil {
		return err
	}
	if err := client(c).DeleteTimer(context.Background(), c.Uint("group"), id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted timer %d\n", id)
	return nil
}

func reschedule(c *cli.Context) error {
	id, err := timerArg(c)
	if err != nil {
		return err
	}
	if !c.IsSet("start") && !c.IsSet("minutes") {
		return errors.New("nothing to change: pass --start and/or --minutes")
	}
	cl := client(c)
	ctx := context.Background()
	group := c.Uint("group")

	if c.IsSet("start") {
		s, err := start(c)
		if err != nil {
			return err
		}
		outcome, err := cl.SetStart(ctx, group, id, s)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "start: %s\n", outcome)
	}
	if c.IsSet("minutes") {
		outcome, err := cl.SetDuration(ctx, group, id, c.Int("minutes"))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "duration: %s\n", outcome)
	}
	return nil
}

func resync(c *cli.Context) error {
	st, err := client(c).Resync(context.Background(), c.Uint("group"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "group %d %s: %d timers\n", st.Group, st.State, st.Timers)
	return nil
}

func showJournal(c *cli.Context) error {
	q := url.Values{}
	if g := c.String("group"); g != "" {
		q.Set("group", g)
	}
	if op := c.String("op"); op != "" {
		q.Set("op", op)
	}
	q.Set("limit", strconv.Itoa(c.Int("limit")))

	entries, err := client(c).Journal(context.Background(), q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tGROUP\tOP\tTIMER\tOUTCOME\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n", e.At.Format("2006-01-02 15:04:05"), e.Group, e.Op, e.TimerID, e.Outcome, e.Detail)
	}
	return tw.Flush()
}
