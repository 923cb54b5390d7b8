// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries schedule change events to UIs.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/dvbsched/internal/timer"
)

// EventType names a schedule change.
type EventType string

const (
	TimerAdded     EventType = "timer.added"
	TimerUpdated   EventType = "timer.updated"
	TimerRemoved   EventType = "timer.removed"
	ScheduleSynced EventType = "schedule.resynced"
)

// Event is one applied change to a group's cached schedule.
type Event struct {
	Type    EventType     `json:"type"`
	Group   timer.GroupID `json:"group_id"`
	TimerID timer.ID      `json:"timer_id,omitempty"`
	Timer   *timer.Timer  `json:"timer,omitempty"`
	// Version is the store version after the change.
	Version uint64    `json:"version"`
	At      time.Time `json:"at"`
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber receives events until closed.
type Subscriber interface {
	C() <-chan Event
	Close() error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
