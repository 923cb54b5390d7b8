package conflict

import (
	"sort"
	"time"

	"github.com/ManuGH/dvbsched/internal/timer"
)

// Coverage tells how much of an EPG event existing timers already record.
type Coverage int

const (
	CoverageNone Coverage = iota
	CoveragePartial
	CoverageComplete
)

func (c Coverage) String() string {
	switch c {
	case CoveragePartial:
		return "partial"
	case CoverageComplete:
		return "complete"
	default:
		return "none"
	}
}

// EventCoverage merges the timers on the event's channel and measures how
// much of [start, start+duration) they span. Timers on other channels never
// record the event, whatever the conflict policy.
func EventCoverage(existing []timer.Timer, ev timer.EPGEvent) Coverage {
	evStart := ev.Start.Time()
	evEnd := evStart.Add(time.Duration(ev.DurationMinutes()) * time.Minute)
	if !evStart.Before(evEnd) {
		return CoverageNone
	}

	type span struct{ from, to time.Time }
	var spans []span
	for _, t := range existing {
		if t.Channel != ev.Channel {
			continue
		}
		from, to := t.Start.Time(), t.End().Time()
		if from.Before(evStart) {
			from = evStart
		}
		if to.After(evEnd) {
			to = evEnd
		}
		if from.Before(to) {
			spans = append(spans, span{from, to})
		}
	}
	if len(spans) == 0 {
		return CoverageNone
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].from.Before(spans[j].from) })
	cursor := evStart
	for _, s := range spans {
		if s.from.After(cursor) {
			return CoveragePartial
		}
		if s.to.After(cursor) {
			cursor = s.to
		}
	}
	if cursor.Before(evEnd) {
		return CoveragePartial
	}
	return CoverageComplete
}
