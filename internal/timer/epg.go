// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timer

import "time"

// EPGEvent is a broadcast programme owned by the guide. It is read-only here.
type EPGEvent struct {
	EventID  uint32        `json:"event_id"`
	Channel  ChannelID     `json:"channel"`
	Start    WallTime      `json:"start"`
	Duration time.Duration `json:"duration"`
	Name     string        `json:"name,omitempty"`
}

// DurationMinutes rounds the event length up to whole minutes so the timer
// covers the complete programme.
func (e EPGEvent) DurationMinutes() int {
	mins := e.Duration / time.Minute
	if e.Duration%time.Minute != 0 {
		mins++
	}
	return int(mins)
}

// Timer derives the recording instruction for this event in group.
func (e EPGEvent) Timer(group GroupID) Timer {
	return Timer{
		GroupID:         group,
		Channel:         e.Channel,
		Start:           e.Start,
		DurationMinutes: e.DurationMinutes(),
		Name:            e.Name,
	}
}
