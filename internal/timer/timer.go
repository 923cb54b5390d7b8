// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timer holds the recording timer data model shared by the store,
// the conflict checker, the recorder facade and the scheduling engine.
package timer

import (
	"fmt"
	"strings"
	"time"
)

// ID is assigned by the recorder daemon. Zero means "not created yet".
type ID uint32

// GroupID identifies a device (tuner) group. Timers are partitioned per group.
type GroupID uint32

// ChannelID is the daemon's opaque channel identifier (service id).
type ChannelID uint32

// WallTime is a local wall-clock instant with minute precision. It carries no
// zone: the daemon and the OS own timezone and DST handling.
type WallTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// FromTime takes the wall-clock fields of t in its own location.
func FromTime(t time.Time) WallTime {
	return WallTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
	}
}

// Naive maps t onto the zone-less axis WallTime values are compared on.
// Seconds are kept so "now" stays precise against minute-granular starts.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Time returns w on the naive axis. Out-of-range fields are normalised the
// way time.Date does.
func (w WallTime) Time() time.Time {
	return time.Date(w.Year, time.Month(w.Month), w.Day, w.Hour, w.Minute, 0, 0, time.UTC)
}

// Add shifts w by d, truncated to the minute.
func (w WallTime) Add(d time.Duration) WallTime {
	return FromTime(w.Time().Add(d))
}

// Before reports whether w is strictly earlier than o.
func (w WallTime) Before(o WallTime) bool {
	return w.Time().Before(o.Time())
}

// Valid reports whether the fields describe a real calendar minute.
func (w WallTime) Valid() bool {
	if w.Month < 1 || w.Month > 12 || w.Day < 1 || w.Hour < 0 || w.Hour > 23 || w.Minute < 0 || w.Minute > 59 {
		return false
	}
	return FromTime(w.Time()) == w
}

func (w WallTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", w.Year, w.Month, w.Day, w.Hour, w.Minute)
}

// Slice returns the daemon's wire form [year, month, day, hour, minute].
func (w WallTime) Slice() []int32 {
	return []int32{int32(w.Year), int32(w.Month), int32(w.Day), int32(w.Hour), int32(w.Minute)}
}

// WallTimeFromSlice parses the daemon's wire form.
func WallTimeFromSlice(v []uint32) (WallTime, error) {
	if len(v) < 5 {
		return WallTime{}, fmt.Errorf("timer: start time needs 5 fields, got %d", len(v))
	}
	return WallTime{
		Year:   int(v[0]),
		Month:  int(v[1]),
		Day:    int(v[2]),
		Hour:   int(v[3]),
		Minute: int(v[4]),
	}, nil
}

// WallTimeLayout is the textual form used by the API and the CLI.
const WallTimeLayout = "2006-01-02 15:04"

// ParseWallTime parses "YYYY-MM-DD HH:MM". A "T" separator is accepted too.
func ParseWallTime(s string) (WallTime, error) {
	t, err := time.Parse(WallTimeLayout, strings.Replace(strings.TrimSpace(s), "T", " ", 1))
	if err != nil {
		return WallTime{}, fmt.Errorf("timer: parse start %q: %w", s, err)
	}
	return FromTime(t), nil
}

// Timer is a scheduled recording instruction.
type Timer struct {
	ID              ID        `json:"id"`
	GroupID         GroupID   `json:"group_id"`
	Channel         ChannelID `json:"channel"`
	Start           WallTime  `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Name            string    `json:"name,omitempty"`
}

// End is the exclusive end of the recording interval.
func (t Timer) End() WallTime {
	return t.Start.Add(t.Duration())
}

// MaxDurationMinutes is the longest recording accepted (one week).
const MaxDurationMinutes = 7 * 24 * 60

// ValidDuration reports whether minutes is a usable recording length.
func ValidDuration(minutes int) bool {
	return minutes > 0 && minutes <= MaxDurationMinutes
}

// Duration returns the recording length.
func (t Timer) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Active reports whether now falls within [start, start+duration).
// now is read on the naive axis (see Naive).
func (t Timer) Active(now time.Time) bool {
	n := Naive(now)
	start := t.Start.Time()
	return !n.Before(start) && n.Before(start.Add(t.Duration()))
}

// Overlaps reports whether the half-open intervals of t and o intersect.
// Touching intervals (one ends where the other starts) do not overlap.
func (t Timer) Overlaps(o Timer) bool {
	return Intersect(t.Start.Time(), t.Duration(), o.Start.Time(), o.Duration())
}

// Intersect is the half-open interval test
// aStart < bEnd && bStart < aEnd.
func Intersect(aStart time.Time, aLen time.Duration, bStart time.Time, bLen time.Duration) bool {
	return aStart.Before(bStart.Add(bLen)) && bStart.Before(aStart.Add(aLen))
}
