// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder is the boundary to the remote recording daemon.
//
// A Recorder serves one device group. Calls may block on the transport and
// honour ctx. Refusals that are part of normal operation (an active timer
// cannot be moved) are reported as an Outcome, not as an error.
package recorder

import (
	"context"

	"github.com/ManuGH/dvbsched/internal/timer"
)

// Outcome is the in-band result of a mutation on an existing timer.
type Outcome int

const (
	Applied Outcome = iota
	// Refused means the daemon declined, typically because the timer is
	// currently recording.
	Refused
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "refused"
}

// Recorder is the per-group facade of the daemon.
type Recorder interface {
	Group() timer.GroupID

	// AddTimer creates a timer and returns the id assigned by the daemon.
	// Errors: ErrConflict, ErrInvalidChannel, ErrUnreachable.
	AddTimer(ctx context.Context, channel timer.ChannelID, start timer.WallTime, minutes int) (timer.ID, error)
	// DeleteTimer removes a timer, aborting it if it is recording.
	// Errors: ErrNotFound, ErrUnreachable.
	DeleteTimer(ctx context.Context, id timer.ID) error
	SetStartTime(ctx context.Context, id timer.ID, start timer.WallTime) (Outcome, error)
	SetDuration(ctx context.Context, id timer.ID, minutes int) (Outcome, error)

	GetTimers(ctx context.Context) ([]timer.ID, error)
	StartTime(ctx context.Context, id timer.ID) (timer.WallTime, error)
	Duration(ctx context.Context, id timer.ID) (int, error)
	Channel(ctx context.Context, id timer.ID) (timer.ChannelID, error)
	IsActive(ctx context.Context, id timer.ID) (bool, error)
	Name(ctx context.Context, id timer.ID) (string, error)

	// Subscribe opens the change stream. The subscription is live when
	// Subscribe returns, so a fetch issued afterwards cannot miss a change.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Event is one element of the change stream.
type Event struct {
	Notification timer.Notification
	// Restarted marks a transport reconnect or daemon restart. Notifications
	// may have been lost; consumers must refetch.
	Restarted bool
}

// Subscription delivers Events until closed or until ctx of Subscribe ends.
type Subscription interface {
	C() <-chan Event
	Close() error
}

// Provider enumerates device groups and hands out their recorders.
type Provider interface {
	Groups(ctx context.Context) ([]timer.GroupID, error)
	Recorder(group timer.GroupID) (Recorder, error)
}

// FetchTimer populates a full Timer from the per-field getters.
func FetchTimer(ctx context.Context, r Recorder, id timer.ID) (timer.Timer, error) {
	start, err := r.StartTime(ctx, id)
	if err != nil {
		return timer.Timer{}, err
	}
	minutes, err := r.Duration(ctx, id)
	if err != nil {
		return timer.Timer{}, err
	}
	channel, err := r.Channel(ctx, id)
	if err != nil {
		return timer.Timer{}, err
	}
	name, err := r.Name(ctx, id)
	if err != nil {
		return timer.Timer{}, err
	}
	return timer.Timer{
		ID:              id,
		GroupID:         r.Group(),
		Channel:         channel,
		Start:           start,
		DurationMinutes: minutes,
		Name:            name,
	}, nil
}

// FetchAll lists and fetches every timer of r. A timer that vanishes between
// listing and fetching is skipped.
func FetchAll(ctx context.Context, r Recorder) ([]timer.Timer, error) {
	ids, err := r.GetTimers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]timer.Timer, 0, len(ids))
	for _, id := range ids {
		t, err := FetchTimer(ctx, r, id)
		if err != nil {
			if IsTransport(err) {
				return nil, err
			}
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
