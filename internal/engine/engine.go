// Package engine is the scheduling surface used by UIs.
//
// The engine pre-checks requests against the cached schedule and forwards
// them to the recorder daemon. It never writes to a TimerStore: the cache
// changes only when the daemon's notification comes back through timersync.
package engine

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/dvbsched/internal/conflict"
	"github.com/ManuGH/dvbsched/internal/journal"
	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/metrics"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/store"
	"github.com/ManuGH/dvbsched/internal/timer"
)

// Journal records decisions. *journal.Journal satisfies it.
type Journal interface {
	Append(ctx context.Context, e journal.Entry) error
}

// Engine serves scheduling requests for a fixed set of device groups.
type Engine struct {
	registry  *store.Registry
	recorders map[timer.GroupID]recorder.Recorder
	checker   atomic.Pointer[conflict.Checker]
	journal   Journal
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithJournal records every request outcome to j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithChecker sets the initial conflict rules.
func WithChecker(c conflict.Checker) Option {
	return func(e *Engine) { e.checker.Store(&c) }
}

// New creates an engine. recorders defines the known groups; their stores
// are taken from registry.
func New(registry *store.Registry, recorders map[timer.GroupID]recorder.Recorder, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		recorders: recorders,
		now:       time.Now,
		logger:    xglog.WithComponent("engine"),
	}
	e.checker.Store(&conflict.Checker{})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetChecker swaps the conflict rules (config reload).
func (e *Engine) SetChecker(c conflict.Checker) {
	e.checker.Store(&c)
}

// Checker returns the rules in effect.
func (e *Engine) Checker() conflict.Checker {
	return *e.checker.Load()
}

// Groups lists the known device groups in ascending order.
func (e *Engine) Groups() []timer.GroupID {
	out := make([]timer.GroupID, 0, len(e.recorders))
	for g := range e.recorders {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) lookup(op string, group timer.GroupID) (recorder.Recorder, *store.TimerStore, error) {
	rec, ok := e.recorders[group]
	if !ok {
		return nil, nil, &Error{Sentinel: ErrUnknownGroup, Op: op, Group: group}
	}
	return rec, e.registry.Group(group), nil
}

// RequestAddTimer schedules a new recording. The candidate is checked
// against the cached schedule first; the daemon has the final word.
func (e *Engine) RequestAddTimer(ctx context.Context, group timer.GroupID, channel timer.ChannelID, start timer.WallTime, minutes int) (timer.ID, error) {
	candidate := timer.Timer{GroupID: group, Channel: channel, Start: start, DurationMinutes: minutes}
	entry := journal.Entry{Op: "add_timer"}
	return e.addTimer(ctx, entry, candidate)
}

// RequestAddTimerForEvent schedules the recording of an EPG event.
func (e *Engine) RequestAddTimerForEvent(ctx context.Context, group timer.GroupID, ev timer.EPGEvent) (timer.ID, error) {
	entry := journal.Entry{Op: "add_timer_for_event", EventID: ev.EventID, Detail: ev.Name}
	if ev.Duration <= 0 {
		err := invalid(entry.Op, group, "event %d has no duration", ev.EventID)
		e.finish(ctx, entry, group, err)
		return 0, err
	}
	return e.addTimer(ctx, entry, ev.Timer(group))
}

func (e *Engine) addTimer(ctx context.Context, entry journal.Entry, candidate timer.Timer) (timer.ID, error) {
	op, group := entry.Op, candidate.GroupID
	entry.Channel = uint32(candidate.Channel)
	entry.Start = candidate.Start.String()
	entry.DurationMinutes = candidate.DurationMinutes

	rec, st, err := e.lookup(op, group)
	if err == nil {
		err = validate(op, group, candidate.Start, candidate.DurationMinutes)
	}
	if err != nil {
		e.finish(ctx, entry, group, err)
		return 0, err
	}

	res := e.Checker().Check(st.AllSortedByStart(), candidate, e.now())
	if !res.OK() {
		err := fromResult(op, group, res)
		e.finish(ctx, entry, group, err)
		return 0, err
	}

	id, rerr := rec.AddTimer(ctx, candidate.Channel, candidate.Start, candidate.DurationMinutes)
	if rerr != nil {
		err := fromRecorder(op, group, 0, rerr)
		e.finish(ctx, entry, group, err)
		return 0, err
	}
	entry.TimerID = uint32(id)
	e.finish(ctx, entry, group, nil)
	return id, nil
}

func validate(op string, group timer.GroupID, start timer.WallTime, minutes int) error {
	if minutes <= 0 {
		return invalid(op, group, "duration must be positive, got %d", minutes)
	}
	if minutes > timer.MaxDurationMinutes {
		return invalid(op, group, "duration exceeds %d minutes, got %d", timer.MaxDurationMinutes, minutes)
	}
	if !start.Valid() {
		return invalid(op, group, "invalid start %s", start)
	}
	return nil
}

// RequestDeleteTimer removes a timer, aborting it if it is recording.
func (e *Engine) RequestDeleteTimer(ctx context.Context, group timer.GroupID, id timer.ID) error {
	const op = "delete_timer"
	entry := journal.Entry{Op: op, TimerID: uint32(id)}

	rec, _, err := e.lookup(op, group)
	if err == nil && id == 0 {
		err = invalid(op, group, "timer id is required")
	}
	if err == nil {
		if rerr := rec.DeleteTimer(ctx, id); rerr != nil {
			err = fromRecorder(op, group, id, rerr)
		}
	}
	e.finish(ctx, entry, group, err)
	return err
}

// RequestSetStartTime moves a timer. A recording timer is Refused.
func (e *Engine) RequestSetStartTime(ctx context.Context, group timer.GroupID, id timer.ID, start timer.WallTime) (recorder.Outcome, error) {
	return e.reschedule(ctx, "set_start_time", group, id, func(t *timer.Timer) { t.Start = start },
		func(rec recorder.Recorder) (recorder.Outcome, error) { return rec.SetStartTime(ctx, id, start) })
}

// RequestSetDuration changes a timer's length. A recording timer is Refused.
func (e *Engine) RequestSetDuration(ctx context.Context, group timer.GroupID, id timer.ID, minutes int) (recorder.Outcome, error) {
	return e.reschedule(ctx, "set_duration", group, id, func(t *timer.Timer) { t.DurationMinutes = minutes },
		func(rec recorder.Recorder) (recorder.Outcome, error) { return rec.SetDuration(ctx, id, minutes) })
}

func (e *Engine) reschedule(ctx context.Context, op string, group timer.GroupID, id timer.ID,
	change func(*timer.Timer), send func(recorder.Recorder) (recorder.Outcome, error)) (recorder.Outcome, error) {
	entry := journal.Entry{Op: op, TimerID: uint32(id)}
	fail := func(err error) (recorder.Outcome, error) {
		e.finish(ctx, entry, group, err)
		return recorder.Refused, err
	}

	rec, st, err := e.lookup(op, group)
	if err != nil {
		return fail(err)
	}
	cur, ok := st.Get(id)
	if !ok {
		return fail(&Error{Sentinel: ErrNotFound, Op: op, Group: group, TimerID: id})
	}
	next := cur
	change(&next)
	entry.Channel = uint32(next.Channel)
	entry.Start = next.Start.String()
	entry.DurationMinutes = next.DurationMinutes
	if err := validate(op, group, next.Start, next.DurationMinutes); err != nil {
		return fail(err)
	}

	now := e.now()
	if e.recording(ctx, rec, cur, now) {
		e.refused(ctx, entry, group, "timer is recording")
		return recorder.Refused, nil
	}
	if res := e.Checker().Check(st.AllSortedByStart(), next, now); !res.OK() {
		return fail(fromResult(op, group, res))
	}

	outcome, rerr := send(rec)
	if rerr != nil {
		return fail(fromRecorder(op, group, id, rerr))
	}
	if outcome == recorder.Refused {
		e.refused(ctx, entry, group, "refused by recorder")
		return recorder.Refused, nil
	}
	e.finish(ctx, entry, group, nil)
	return recorder.Applied, nil
}

// clockSkew is how far the daemon's clock may be from ours before the
// cached view of a recording's state is trusted on its own.
const clockSkew = 5 * time.Minute

// recording reports whether cur is being recorded. Near the edges of the
// recording window the daemon, whose clock starts recordings, is asked.
// A failed query leaves the decision to the daemon's answer to the change.
func (e *Engine) recording(ctx context.Context, rec recorder.Recorder, cur timer.Timer, now time.Time) bool {
	if cur.Active(now) {
		return true
	}
	local := timer.Naive(now)
	if local.Before(cur.Start.Time().Add(-clockSkew)) || !local.Before(cur.End().Time().Add(clockSkew)) {
		return false
	}
	active, err := rec.IsActive(ctx, cur.ID)
	if err != nil {
		logger := xglog.WithContext(ctx, e.logger)
		logger.Debug().Err(err).
			Uint32(xglog.FieldTimerID, uint32(cur.ID)).
			Msg("recorder active check failed")
		return false
	}
	return active
}

// ListTimers returns the cached schedule of group ordered by start.
func (e *Engine) ListTimers(group timer.GroupID) ([]timer.Timer, error) {
	_, st, err := e.lookup("list_timers", group)
	if err != nil {
		return nil, err
	}
	return st.AllSortedByStart(), nil
}

// Timer returns one cached timer.
func (e *Engine) Timer(group timer.GroupID, id timer.ID) (timer.Timer, error) {
	const op = "get_timer"
	_, st, err := e.lookup(op, group)
	if err != nil {
		return timer.Timer{}, err
	}
	t, ok := st.Get(id)
	if !ok {
		return timer.Timer{}, &Error{Sentinel: ErrNotFound, Op: op, Group: group, TimerID: id}
	}
	return t, nil
}

// ActiveTimers returns the timers recording right now, by ascending id.
func (e *Engine) ActiveTimers(group timer.GroupID) ([]timer.Timer, error) {
	_, st, err := e.lookup("active_timers", group)
	if err != nil {
		return nil, err
	}
	ids := st.ActiveIDs(e.now())
	out := make([]timer.Timer, 0, len(ids))
	for _, id := range ids {
		if t, ok := st.Get(id); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// EventCoverage reports how much of ev the group's timers already record.
func (e *Engine) EventCoverage(group timer.GroupID, ev timer.EPGEvent) (conflict.Coverage, error) {
	_, st, err := e.lookup("event_coverage", group)
	if err != nil {
		return conflict.CoverageNone, err
	}
	return conflict.EventCoverage(st.AllSortedByStart(), ev), nil
}

// finish logs, counts and journals a request outcome.
func (e *Engine) finish(ctx context.Context, entry journal.Entry, group timer.GroupID, err error) {
	outcome := OutcomeLabel(err)
	entry.Outcome = outcome
	if err != nil {
		entry.Detail = joinDetail(entry.Detail, err.Error())
		if ee, ok := err.(*Error); ok {
			entry.ConflictingID = uint32(ee.ConflictingID)
		}
	}
	e.record(ctx, entry, group)

	logger := xglog.WithContext(ctx, e.logger)
	evt := logger.Info()
	if err != nil {
		evt = logger.Warn().Err(err)
	}
	evt.Str(xglog.FieldEvent, "timer."+entry.Op).
		Str(xglog.FieldOp, entry.Op).
		Uint32(xglog.FieldGroupID, uint32(group)).
		Uint32(xglog.FieldTimerID, entry.TimerID).
		Str("outcome", outcome).
		Msg("scheduling request handled")
}

func (e *Engine) refused(ctx context.Context, entry journal.Entry, group timer.GroupID, reason string) {
	entry.Outcome = "refused"
	entry.Detail = reason
	e.record(ctx, entry, group)
	logger := xglog.WithContext(ctx, e.logger)
	logger.Info().
		Str(xglog.FieldEvent, "timer."+entry.Op).
		Uint32(xglog.FieldGroupID, uint32(group)).
		Uint32(xglog.FieldTimerID, entry.TimerID).
		Str("outcome", "refused").
		Msg(reason)
}

func (e *Engine) record(ctx context.Context, entry journal.Entry, group timer.GroupID) {
	metrics.RecordSchedulingRequest(entry.Op, entry.Outcome)
	if e.journal == nil {
		return
	}
	entry.Group = uint32(group)
	entry.At = e.now()
	entry.RequestID = xglog.RequestIDFromContext(ctx)
	// Journal failures are logged, never returned.
	if err := e.journal.Append(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Error().Err(err).Str(xglog.FieldOp, entry.Op).Msg("journal append failed")
	}
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + ": " + b
}
