package memory

import (
	"context"
	"errors"

	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/timer"
)

var errOffline = errors.New("daemon offline")

// Recorder is the per-group facade of a Daemon.
type Recorder struct {
	d     *Daemon
	group timer.GroupID
}

var _ recorder.Recorder = (*Recorder)(nil)

func (r *Recorder) Group() timer.GroupID { return r.group }

// lock acquires the daemon and resolves the group. On error the lock is
// already released.
func (r *Recorder) lock(ctx context.Context, op string) (*group, error) {
	if err := ctx.Err(); err != nil {
		return nil, recorder.Unreachable(op, r.group, err)
	}
	r.d.mu.Lock()
	if r.d.unreachable {
		r.d.mu.Unlock()
		return nil, recorder.Unreachable(op, r.group, errOffline)
	}
	return r.d.group(r.group), nil
}

func (r *Recorder) AddTimer(ctx context.Context, channel timer.ChannelID, start timer.WallTime, minutes int) (timer.ID, error) {
	const op = "add_timer"
	g, err := r.lock(ctx, op)
	if err != nil {
		return 0, err
	}
	defer r.d.mu.Unlock()

	if len(g.channels) > 0 {
		if _, ok := g.channels[channel]; !ok {
			return 0, &recorder.Error{Sentinel: recorder.ErrInvalidChannel, Operation: op, Group: r.group}
		}
	}
	candidate := timer.Timer{GroupID: r.group, Channel: channel, Start: start, DurationMinutes: minutes}
	// The daemon answers any rejected request with a bare failure flag.
	if !timer.ValidDuration(minutes) || !start.Valid() {
		return 0, &recorder.Error{Sentinel: recorder.ErrConflict, Operation: op, Group: r.group}
	}
	if other, clash := r.d.conflicts(g, candidate, 0); clash {
		return 0, &recorder.Error{Sentinel: recorder.ErrConflict, Operation: op, Group: r.group, TimerID: other}
	}

	candidate.ID = r.d.nextID
	r.d.nextID++
	g.timers[candidate.ID] = candidate
	r.d.notify(g, candidate.ID, timer.Added)
	return candidate.ID, nil
}

func (r *Recorder) DeleteTimer(ctx context.Context, id timer.ID) error {
	const op = "delete_timer"
	g, err := r.lock(ctx, op)
	if err != nil {
		return err
	}
	defer r.d.mu.Unlock()

	if _, ok := g.timers[id]; !ok {
		return recorder.NotFound(op, r.group, id)
	}
	delete(g.timers, id)
	r.d.notify(g, id, timer.Deleted)
	return nil
}

// update applies fn to an inactive timer if the result does not conflict.
func (r *Recorder) update(ctx context.Context, op string, id timer.ID, fn func(*timer.Timer)) (recorder.Outcome, error) {
	g, err := r.lock(ctx, op)
	if err != nil {
		return recorder.Refused, err
	}
	defer r.d.mu.Unlock()

	t, ok := g.timers[id]
	if !ok {
		return recorder.Refused, recorder.NotFound(op, r.group, id)
	}
	if t.Active(r.d.now()) {
		return recorder.Refused, nil
	}
	next := t
	fn(&next)
	if !timer.ValidDuration(next.DurationMinutes) || !next.Start.Valid() {
		return recorder.Refused, nil
	}
	if _, clash := r.d.conflicts(g, next, id); clash {
		return recorder.Refused, nil
	}
	if next == t {
		return recorder.Applied, nil
	}
	g.timers[id] = next
	r.d.notify(g, id, timer.Updated)
	return recorder.Applied, nil
}

func (r *Recorder) SetStartTime(ctx context.Context, id timer.ID, start timer.WallTime) (recorder.Outcome, error) {
	return r.update(ctx, "set_start_time", id, func(t *timer.Timer) { t.Start = start })
}

func (r *Recorder) SetDuration(ctx context.Context, id timer.ID, minutes int) (recorder.Outcome, error) {
	return r.update(ctx, "set_duration", id, func(t *timer.Timer) { t.DurationMinutes = minutes })
}

func (r *Recorder) GetTimers(ctx context.Context) ([]timer.ID, error) {
	g, err := r.lock(ctx, "get_timers")
	if err != nil {
		return nil, err
	}
	defer r.d.mu.Unlock()

	ids := make([]timer.ID, 0, len(g.timers))
	for id := range g.timers {
		ids = append(ids, id)
	}
	return ids, nil
}

// get runs a getter against one timer.
func get[T any](ctx context.Context, r *Recorder, op string, id timer.ID, fn func(timer.Timer) T) (T, error) {
	var zero T
	g, err := r.lock(ctx, op)
	if err != nil {
		return zero, err
	}
	defer r.d.mu.Unlock()

	t, ok := g.timers[id]
	if !ok {
		return zero, recorder.NotFound(op, r.group, id)
	}
	return fn(t), nil
}

func (r *Recorder) StartTime(ctx context.Context, id timer.ID) (timer.WallTime, error) {
	return get(ctx, r, "get_start_time", id, func(t timer.Timer) timer.WallTime { return t.Start })
}

func (r *Recorder) Duration(ctx context.Context, id timer.ID) (int, error) {
	return get(ctx, r, "get_duration", id, func(t timer.Timer) int { return t.DurationMinutes })
}

func (r *Recorder) Channel(ctx context.Context, id timer.ID) (timer.ChannelID, error) {
	return get(ctx, r, "get_channel", id, func(t timer.Timer) timer.ChannelID { return t.Channel })
}

func (r *Recorder) IsActive(ctx context.Context, id timer.ID) (bool, error) {
	return get(ctx, r, "is_timer_active", id, func(t timer.Timer) bool { return t.Active(r.d.now()) })
}

func (r *Recorder) Name(ctx context.Context, id timer.ID) (string, error) {
	return get(ctx, r, "get_name", id, func(t timer.Timer) string { return t.Name })
}

func (r *Recorder) Subscribe(ctx context.Context) (recorder.Subscription, error) {
	g, err := r.lock(ctx, "subscribe")
	if err != nil {
		return nil, err
	}
	defer r.d.mu.Unlock()

	s := newSubscription(func(s *subscription) {
		r.d.mu.Lock()
		delete(g.subs, s)
		r.d.mu.Unlock()
	})
	g.subs[s] = struct{}{}
	go s.pump(ctx)
	return s, nil
}
