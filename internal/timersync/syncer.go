// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timersync keeps a group's TimerStore in step with the daemon.
//
// A Syncer is the only writer of its store. It subscribes to change
// notifications before the first fetch, applies every notification by
// refetching the timer, and replaces the store wholesale whenever the
// notification stream restarts.
package timersync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/dvbsched/internal/bus"
	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/metrics"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/store"
	"github.com/ManuGH/dvbsched/internal/timer"
)

// State of a group's synchronisation.
type State int32

const (
	Uninitialized State = iota
	Synced
	Resyncing
)

func (s State) String() string {
	switch s {
	case Synced:
		return "synced"
	case Resyncing:
		return "resyncing"
	default:
		return "uninitialized"
	}
}

// Resync triggers.
const (
	TriggerStartup   = "startup"
	TriggerReconnect = "reconnect"
	TriggerManual    = "manual"
)

// ErrNotRunning is returned by Resync when Run is not active.
var ErrNotRunning = errors.New("timersync: syncer not running")

// Status is a point-in-time view for health reporting.
type Status struct {
	Group    timer.GroupID `json:"group_id"`
	State    string        `json:"state"`
	LastSync time.Time     `json:"last_sync,omitempty"`
	Timers   int           `json:"timers"`
	Version  uint64        `json:"version"`
}

// Syncer mirrors one device group.
type Syncer struct {
	rec    recorder.Recorder
	store  *store.TimerStore
	pub    bus.Publisher
	logger zerolog.Logger
	now    func() time.Time

	retry *rate.Limiter
	sf    singleflight.Group

	requests chan chan error
	running  atomic.Bool

	state    atomic.Int32
	mu       sync.Mutex
	lastSync time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithPublisher sets where applied changes are announced.
func WithPublisher(p bus.Publisher) Option {
	return func(s *Syncer) { s.pub = p }
}

// WithRetryInterval paces failed (re)connection attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Syncer) { s.retry = rate.NewLimiter(rate.Every(d), 1) }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// New creates a syncer writing into st.
func New(rec recorder.Recorder, st *store.TimerStore, opts ...Option) *Syncer {
	s := &Syncer{
		rec:      rec,
		store:    st,
		now:      time.Now,
		retry:    rate.NewLimiter(rate.Every(5*time.Second), 1),
		requests: make(chan chan error),
		logger: xglog.WithComponent("timersync").With().
			Uint32(xglog.FieldGroupID, uint32(rec.Group())).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setState(Uninitialized)
	return s
}

func (s *Syncer) groupLabel() string {
	return strconv.FormatUint(uint64(s.rec.Group()), 10)
}

// State returns the current state.
func (s *Syncer) State() State { return State(s.state.Load()) }

func (s *Syncer) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	metrics.SetSyncState(s.groupLabel(), next.String())
	if prev != next {
		s.logger.Debug().
			Str(xglog.FieldEvent, "sync.state").
			Str(xglog.FieldOldState, prev.String()).
			Str(xglog.FieldNewState, next.String()).
			Msg("sync state changed")
	}
}

// Status reports the current state.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	last := s.lastSync
	s.mu.Unlock()
	return Status{
		Group:    s.rec.Group(),
		State:    s.State().String(),
		LastSync: last,
		Timers:   s.store.Len(),
		Version:  s.store.Version(),
	}
}

// Run synchronises until ctx ends. It returns nil on cancellation.
func (s *Syncer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("timersync: already running")
	}
	defer s.running.Store(false)

	trigger := TriggerStartup
	for {
		sub, ok := s.connect(ctx, trigger)
		if !ok {
			return nil
		}
		s.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn().Str(xglog.FieldEvent, "sync.stream_lost").Msg("notification stream ended, reconnecting")
		if s.State() == Synced {
			s.setState(Resyncing)
		}
		trigger = TriggerReconnect
	}
}

// connect subscribes and performs a full fetch, retrying until it succeeds
// or ctx ends. Manual resync requests arriving meanwhile skip the wait and
// receive the result of the next attempt.
func (s *Syncer) connect(ctx context.Context, trigger string) (recorder.Subscription, bool) {
	var waiting []chan error
	reply := func(err error) {
		for _, w := range waiting {
			w <- err
		}
		waiting = nil
	}
	defer reply(ErrNotRunning)

	for {
		if len(waiting) == 0 {
			if !s.wait(ctx, &waiting) {
				return nil, false
			}
		}

		sub, err := s.rec.Subscribe(ctx)
		if err == nil {
			err = s.resync(ctx, trigger)
			if err != nil {
				_ = sub.Close()
			}
		}
		reply(err)
		if err == nil {
			return sub, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "sync.connect_failed").Str("trigger", trigger).Msg("initial timer fetch failed, retrying")
	}
}

// wait blocks for the retry limiter. A manual request cuts the wait short.
func (s *Syncer) wait(ctx context.Context, waiting *[]chan error) bool {
	r := s.retry.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return true
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case req := <-s.requests:
		r.Cancel()
		*waiting = append(*waiting, req)
		return true
	case <-ctx.Done():
		r.Cancel()
		return false
	}
}

func (s *Syncer) consume(ctx context.Context, sub recorder.Subscription) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Restarted {
				s.logger.Info().Str(xglog.FieldEvent, "sync.stream_restarted").Msg("daemon restarted, refetching timers")
				if err := s.resync(ctx, TriggerReconnect); err != nil {
					// Keep consuming: notifications still flow and the
					// next restart marker or manual request retries.
					s.logger.Error().Err(err).Str(xglog.FieldEvent, "sync.resync_failed").Msg("resync after restart failed")
				}
				continue
			}
			s.apply(ctx, ev.Notification)
		case req := <-s.requests:
			req <- s.resync(ctx, TriggerManual)
		case <-ctx.Done():
			return
		}
	}
}

// Resync asks the running syncer for a full refetch and waits for it.
// Concurrent callers share one refetch.
func (s *Syncer) Resync(ctx context.Context) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	_, err, _ := s.sf.Do("resync", func() (any, error) {
		req := make(chan error, 1)
		select {
		case s.requests <- req:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case err := <-req:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return err
}

// resync replaces the store with the daemon's current timers.
func (s *Syncer) resync(ctx context.Context, trigger string) error {
	if s.State() == Synced {
		s.setState(Resyncing)
	}
	timers, err := recorder.FetchAll(ctx, s.rec)
	if err != nil {
		metrics.RecordResync(trigger, "error")
		return err
	}
	s.store.Replace(timers)
	s.mu.Lock()
	s.lastSync = s.now()
	s.mu.Unlock()
	s.setState(Synced)

	metrics.RecordResync(trigger, "ok")
	metrics.SetStoreTimers(s.groupLabel(), s.store.Len())
	s.logger.Info().
		Str(xglog.FieldEvent, "sync.resync_done").
		Str("trigger", trigger).
		Int("timers", len(timers)).
		Msg("timer store refreshed")
	s.publish(ctx, bus.Event{Type: bus.ScheduleSynced})
	return nil
}

// apply handles one notification. Any fetch failure removes the timer:
// the daemon no longer vouches for it, and a later notification or resync
// restores it if it still exists.
func (s *Syncer) apply(ctx context.Context, n timer.Notification) {
	logger := s.logger.With().
		Uint32(xglog.FieldTimerID, uint32(n.ID)).
		Str(xglog.FieldKind, n.Kind.String()).
		Logger()

	before := s.store.Version()
	switch n.Kind {
	case timer.Added, timer.Updated:
		t, err := recorder.FetchTimer(ctx, s.rec, n.ID)
		if err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "sync.fetch_failed").Msg("timer fetch failed, dropping from cache")
			s.store.Remove(n.ID)
			metrics.RecordNotification(n.Kind.String(), "remove_after_fetch_error")
			s.publishIfChanged(ctx, before, bus.Event{Type: bus.TimerRemoved, TimerID: n.ID})
			break
		}
		s.store.Upsert(t)
		metrics.RecordNotification(n.Kind.String(), "upsert")
		typ := bus.TimerUpdated
		if n.Kind == timer.Added {
			typ = bus.TimerAdded
		}
		s.publishIfChanged(ctx, before, bus.Event{Type: typ, TimerID: n.ID, Timer: &t})
	case timer.Deleted:
		s.store.Remove(n.ID)
		metrics.RecordNotification(n.Kind.String(), "remove")
		s.publishIfChanged(ctx, before, bus.Event{Type: bus.TimerRemoved, TimerID: n.ID})
	default:
		metrics.RecordNotification(n.Kind.String(), "ignored")
		logger.Warn().Str(xglog.FieldEvent, "sync.unknown_kind").Msg("ignoring notification of unknown kind")
		return
	}
	metrics.SetStoreTimers(s.groupLabel(), s.store.Len())
	logger.Debug().Str(xglog.FieldEvent, "sync.applied").Msg("notification applied")
}

// publishIfChanged suppresses events for duplicate notifications.
func (s *Syncer) publishIfChanged(ctx context.Context, before uint64, ev bus.Event) {
	if s.store.Version() == before {
		return
	}
	s.publish(ctx, ev)
}

func (s *Syncer) publish(ctx context.Context, ev bus.Event) {
	if s.pub == nil {
		return
	}
	ev.Group = s.rec.Group()
	ev.Version = s.store.Version()
	ev.At = s.now()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Debug().Err(err).Str("type", string(ev.Type)).Msg("event publish failed")
	}
}
