// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"time"

	"github.com/ManuGH/dvbsched/internal/resilience"
	"github.com/ManuGH/dvbsched/internal/timer"
	"github.com/ManuGH/dvbsched/internal/timersync"
)

// AddTimerRequest is the body of POST /groups/{group}/timers.
// Start uses timer.WallTimeLayout.
type AddTimerRequest struct {
	Channel         uint32 `json:"channel"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
}

// EventRequest describes a guide event. The duration is in seconds.
type EventRequest struct {
	EventID         uint32 `json:"event_id"`
	Channel         uint32 `json:"channel"`
	Start           string `json:"start"`
	DurationSeconds int64  `json:"duration_seconds"`
	Name            string `json:"name,omitempty"`
}

func (e EventRequest) event() (timer.EPGEvent, error) {
	start, err := timer.ParseWallTime(e.Start)
	if err != nil {
		return timer.EPGEvent{}, err
	}
	if e.DurationSeconds < 0 || e.DurationSeconds > timer.MaxDurationMinutes*60 {
		return timer.EPGEvent{}, fmt.Errorf("duration_seconds must be within [0, %d], got %d", timer.MaxDurationMinutes*60, e.DurationSeconds)
	}
	return timer.EPGEvent{
		EventID:  e.EventID,
		Channel:  timer.ChannelID(e.Channel),
		Start:    start,
		Duration: time.Duration(e.DurationSeconds) * time.Second,
		Name:     e.Name,
	}, nil
}

// SetStartRequest is the body of PUT .../start.
type SetStartRequest struct {
	Start string `json:"start"`
}

// SetDurationRequest is the body of PUT .../duration.
type SetDurationRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

// TimerResponse is one cached timer.
type TimerResponse struct {
	ID              uint32 `json:"id"`
	Group           uint32 `json:"group_id"`
	Channel         uint32 `json:"channel"`
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
	Name            string `json:"name,omitempty"`
}

func newTimerResponse(t timer.Timer) TimerResponse {
	return TimerResponse{
		ID:              uint32(t.ID),
		Group:           uint32(t.GroupID),
		Channel:         uint32(t.Channel),
		Start:           t.Start.String(),
		End:             t.End().String(),
		DurationMinutes: t.DurationMinutes,
		Name:            t.Name,
	}
}

func newTimerList(ts []timer.Timer) []TimerResponse {
	out := make([]TimerResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, newTimerResponse(t))
	}
	return out
}

// CreatedResponse answers a successful add. The timer appears in listings
// once the recorder's notification has been applied.
type CreatedResponse struct {
	ID uint32 `json:"id"`
}

// OutcomeResponse answers a reschedule. "refused" is not an error.
type OutcomeResponse struct {
	Outcome string `json:"outcome"`
}

// CoverageResponse answers POST .../coverage.
type CoverageResponse struct {
	Coverage string `json:"coverage"`
}

// GroupStatus is one entry of GET /groups and /healthz.
type GroupStatus struct {
	timersync.Status
	Breaker resilience.State `json:"breaker,omitempty"`
}

// HealthResponse answers GET /healthz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version,omitempty"`
	Groups  []GroupStatus `json:"groups"`
}
