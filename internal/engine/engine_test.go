// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/dvbsched/internal/conflict"
	"github.com/ManuGH/dvbsched/internal/journal"
	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/recorder/memory"
	"github.com/ManuGH/dvbsched/internal/store"
	"github.com/ManuGH/dvbsched/internal/timer"
	"github.com/ManuGH/dvbsched/internal/timersync"
)

var noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func wt(h, m int) timer.WallTime {
	return timer.WallTime{Year: 2024, Month: 3, Day: 1, Hour: h, Minute: m}
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	err     error
}

func (j *memJournal) Append(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return j.err
}

func (j *memJournal) last(t *testing.T) journal.Entry {
	t.Helper()
	j.mu.Lock()
	defer j.mu.Unlock()
	require.NotEmpty(t, j.entries)
	return j.entries[len(j.entries)-1]
}

type fixture struct {
	daemon   *memory.Daemon
	registry *store.Registry
	engine   *Engine
	journal  *memJournal
	clock    *time.Time
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	now := noon
	f := &fixture{registry: store.NewRegistry(), journal: &memJournal{}, clock: &now}
	clock := func() time.Time { return *f.clock }
	f.daemon = memory.New(append([]memory.Option{memory.WithGroup(1, 5, 7), memory.WithClock(clock)}, opts...)...)
	rec, err := f.daemon.Recorder(1)
	require.NoError(t, err)
	f.engine = New(f.registry, map[timer.GroupID]recorder.Recorder{1: rec}, WithClock(clock), WithJournal(f.journal))
	return f
}

// sync runs the group's syncer for the duration of the test.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	rec, err := f.daemon.Recorder(1)
	require.NoError(t, err)
	s := timersync.New(rec, f.registry.Group(1), timersync.WithRetryInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return s.State() == timersync.Synced }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) waitCached(t *testing.T, id timer.ID) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.registry.Group(1).Get(id)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScenario_OverlapRejectedTouchingAccepted(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	ctx := context.Background()

	a, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 60)
	require.NoError(t, err)
	f.waitCached(t, a)

	_, err = f.engine.RequestAddTimer(ctx, 1, 7, wt(20, 30), 30)
	require.ErrorIs(t, err, ErrConflict)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, a, eerr.ConflictingID)

	c, err := f.engine.RequestAddTimer(ctx, 1, 7, wt(21, 0), 30)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	f.waitCached(t, c)

	timers, err := f.engine.ListTimers(1)
	require.NoError(t, err)
	require.Len(t, timers, 2)
	assert.Equal(t, a, timers[0].ID)
	assert.Equal(t, c, timers[1].ID)
}

func TestAddTimerForEvent_RoundsDurationUp(t *testing.T) {
	f := newFixture(t)
	f.sync(t)

	ev := timer.EPGEvent{EventID: 99, Channel: 5, Start: wt(18, 0), Duration: 1800 * time.Second, Name: "Doku"}
	id, err := f.engine.RequestAddTimerForEvent(context.Background(), 1, ev)
	require.NoError(t, err)
	f.waitCached(t, id)

	got, err := f.engine.Timer(1, id)
	require.NoError(t, err)
	assert.Equal(t, 30, got.DurationMinutes)
	assert.Equal(t, wt(18, 0), got.Start)

	cov, err := f.engine.EventCoverage(1, ev)
	require.NoError(t, err)
	assert.Equal(t, conflict.CoverageComplete, cov)

	entry := f.journal.last(t)
	assert.Equal(t, "add_timer_for_event", entry.Op)
	assert.Equal(t, uint32(99), entry.EventID)
	assert.Equal(t, "ok", entry.Outcome)
}

func TestAddTimer_RemoteConflictWhenCacheIsStale(t *testing.T) {
	f := newFixture(t)
	var hidden timer.ID
	f.daemon.EditSilently(func(e memory.Editor) {
		hidden = e.Put(timer.Timer{Channel: 5, Start: wt(20, 0), DurationMinutes: 60})
	})

	_, err := f.engine.RequestAddTimer(context.Background(), 1, 7, wt(20, 30), 30)
	require.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, recorder.ErrConflict)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, hidden, eerr.ConflictingID)
	assert.Equal(t, uint32(hidden), f.journal.last(t).ConflictingID)
}

func TestAddTimer_PastStartBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	*f.clock = time.Date(2024, 3, 1, 21, 1, 0, 0, time.UTC)
	_, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 120)
	require.ErrorIs(t, err, ErrStartsInPast)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, time.Hour, eerr.AllowedSkew)
	assert.Equal(t, "starts_in_past", f.journal.last(t).Outcome)

	*f.clock = time.Date(2024, 3, 1, 20, 59, 0, 0, time.UTC)
	_, err = f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 120)
	assert.NoError(t, err)
}

func TestAddTimer_InvalidInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.RequestAddTimer(ctx, 1, 5, timer.WallTime{Year: 2024, Month: 2, Day: 30, Hour: 1}, 30)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.RequestAddTimer(ctx, 4, 5, wt(20, 0), 30)
	assert.ErrorIs(t, err, ErrUnknownGroup)

	_, err = f.engine.RequestAddTimer(ctx, 1, 123, wt(20, 0), 30)
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = f.engine.RequestAddTimerForEvent(ctx, 1, timer.EPGEvent{Channel: 5, Start: wt(20, 0)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAddTimer_DurationUpperBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Would wrap to 30 minutes if narrowed to uint32.
	_, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 1<<32+30)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), timer.MaxDurationMinutes+1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.RequestAddTimerForEvent(ctx, 1, timer.EPGEvent{Channel: 5, Start: wt(20, 0), Duration: 8 * 24 * time.Hour})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), timer.MaxDurationMinutes)
	assert.NoError(t, err)
}

func TestAddTimer_Unreachable(t *testing.T) {
	f := newFixture(t)
	f.daemon.SetUnreachable(true)

	_, err := f.engine.RequestAddTimer(context.Background(), 1, 5, wt(20, 0), 30)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, recorder.ErrUnreachable)
	assert.Equal(t, "unreachable", f.journal.last(t).Outcome)
}

func TestAddTimer_DoesNotTouchStore(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.RequestAddTimer(context.Background(), 1, 5, wt(20, 0), 30)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Zero(t, f.registry.Group(1).Len())
	assert.Zero(t, f.registry.Group(1).Version())
}

func TestDeleteTimer(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	ctx := context.Background()

	id, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 30)
	require.NoError(t, err)
	f.waitCached(t, id)

	require.NoError(t, f.engine.RequestDeleteTimer(ctx, 1, id))
	require.Eventually(t, func() bool { return f.registry.Group(1).Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	err = f.engine.RequestDeleteTimer(ctx, 1, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.engine.RequestDeleteTimer(ctx, 1, 0), ErrInvalidRequest)
}

func TestReschedule_ExcludesOwnTimer(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	ctx := context.Background()

	a, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 60)
	require.NoError(t, err)
	b, err := f.engine.RequestAddTimer(ctx, 1, 7, wt(22, 0), 30)
	require.NoError(t, err)
	f.waitCached(t, a)
	f.waitCached(t, b)

	outcome, err := f.engine.RequestSetDuration(ctx, 1, a, 90)
	require.NoError(t, err)
	assert.Equal(t, recorder.Applied, outcome)

	_, err = f.engine.RequestSetStartTime(ctx, 1, b, wt(20, 30))
	require.ErrorIs(t, err, ErrConflict)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, a, eerr.ConflictingID)

	_, err = f.engine.RequestSetDuration(ctx, 1, 999, 30)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReschedule_RefusedWhileRecording(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	ctx := context.Background()

	id, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 60)
	require.NoError(t, err)
	f.waitCached(t, id)

	*f.clock = time.Date(2024, 3, 1, 20, 10, 0, 0, time.UTC)
	outcome, err := f.engine.RequestSetDuration(ctx, 1, id, 90)
	require.NoError(t, err)
	assert.Equal(t, recorder.Refused, outcome)
	assert.Equal(t, "refused", f.journal.last(t).Outcome)

	active, err := f.engine.ActiveTimers(1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
}

func TestReschedule_AsksRecorderNearStart(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	ctx := context.Background()

	id, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 60)
	require.NoError(t, err)
	f.waitCached(t, id)

	// The daemon has started recording while our clock still lags behind.
	*f.clock = time.Date(2024, 3, 1, 20, 2, 0, 0, time.UTC)
	rec, err := f.daemon.Recorder(1)
	require.NoError(t, err)
	lagging := New(f.registry, map[timer.GroupID]recorder.Recorder{1: rec},
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 19, 58, 0, 0, time.UTC) }),
		WithJournal(f.journal))

	outcome, err := lagging.RequestSetDuration(ctx, 1, id, 90)
	require.NoError(t, err)
	assert.Equal(t, recorder.Refused, outcome)
	assert.Equal(t, "timer is recording", f.journal.last(t).Detail)
}

func TestJournalFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.journal.err = errors.New("disk full")

	_, err := f.engine.RequestAddTimer(context.Background(), 1, 5, wt(20, 0), 30)
	assert.NoError(t, err)
}

func TestJournalCarriesRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := xglog.ContextWithRequestID(context.Background(), "req-1")

	_, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 30)
	require.NoError(t, err)
	entry := f.journal.last(t)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, uint32(1), entry.Group)
	assert.Equal(t, noon, entry.At)
}

func TestSetChecker_SameChannelPolicy(t *testing.T) {
	f := newFixture(t, memory.WithSameChannelPolicy())
	f.sync(t)
	f.engine.SetChecker(conflict.New(0, conflict.PolicySameChannel))
	ctx := context.Background()

	a, err := f.engine.RequestAddTimer(ctx, 1, 5, wt(20, 0), 60)
	require.NoError(t, err)
	f.waitCached(t, a)

	_, err = f.engine.RequestAddTimer(ctx, 1, 7, wt(20, 30), 30)
	assert.NoError(t, err)
	assert.Equal(t, []timer.GroupID{1}, f.engine.Groups())
	assert.Equal(t, conflict.PolicySameChannel, f.engine.Checker().Policy)
}
