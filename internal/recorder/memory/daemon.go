// Package memory simulates the recording daemon in process. It keeps its
// own authoritative timer table, rejects overlapping timers itself and emits
// change notifications the way the real daemon does.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/timer"
)

// Daemon is an in-memory recording daemon serving several device groups.
type Daemon struct {
	mu          sync.Mutex
	now         func() time.Time
	sameChannel bool
	duplicate   bool
	unreachable bool
	nextID      timer.ID
	groups      map[timer.GroupID]*group
}

type group struct {
	id       timer.GroupID
	channels map[timer.ChannelID]struct{}
	timers   map[timer.ID]timer.Timer
	subs     map[*subscription]struct{}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithClock sets the clock used to decide whether a timer is recording.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// WithDuplicateDelivery makes every notification arrive twice.
func WithDuplicateDelivery() Option {
	return func(d *Daemon) { d.duplicate = true }
}

// WithSameChannelPolicy only rejects overlaps on the same channel.
func WithSameChannelPolicy() Option {
	return func(d *Daemon) { d.sameChannel = true }
}

// SetSameChannelPolicy switches the conflict rule at runtime.
func (d *Daemon) SetSameChannelPolicy(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sameChannel = on
}

// WithGroup registers a device group. Without channels every channel is
// accepted.
func WithGroup(id timer.GroupID, channels ...timer.ChannelID) Option {
	return func(d *Daemon) {
		g := d.group(id)
		for _, ch := range channels {
			g.channels[ch] = struct{}{}
		}
	}
}

// New creates a daemon.
func New(opts ...Option) *Daemon {
	d := &Daemon{
		now:    time.Now,
		nextID: 1,
		groups: make(map[timer.GroupID]*group),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// group returns the group, creating it. Caller holds mu or is constructing.
func (d *Daemon) group(id timer.GroupID) *group {
	g, ok := d.groups[id]
	if !ok {
		g = &group{
			id:       id,
			channels: make(map[timer.ChannelID]struct{}),
			timers:   make(map[timer.ID]timer.Timer),
			subs:     make(map[*subscription]struct{}),
		}
		d.groups[id] = g
	}
	return g
}

// Groups implements recorder.Provider.
func (d *Daemon) Groups(ctx context.Context) ([]timer.GroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unreachable {
		return nil, recorder.Unreachable("get_device_groups", 0, errOffline)
	}
	out := make([]timer.GroupID, 0, len(d.groups))
	for id := range d.groups {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Recorder implements recorder.Provider.
func (d *Daemon) Recorder(id timer.GroupID) (recorder.Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[id]; !ok {
		return nil, fmt.Errorf("memory: unknown device group %d", id)
	}
	return &Recorder{d: d, group: id}, nil
}

// SetUnreachable simulates the daemon dropping off the bus. Open
// subscriptions stay open.
func (d *Daemon) SetUnreachable(v bool) {
	d.mu.Lock()
	d.unreachable = v
	d.mu.Unlock()
}

// Restart simulates a daemon restart: timers survive (they are persisted by
// the real daemon) and every subscriber sees a restart marker.
func (d *Daemon) Restart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.groups {
		for s := range g.subs {
			s.push(recorder.Event{Restarted: true})
		}
	}
}

// EditSilently changes timers of every group without emitting
// notifications, as if the daemon's state file was edited behind its back.
func (d *Daemon) EditSilently(fn func(edit Editor)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.groups {
		fn(Editor{d: d, g: g})
	}
}

// RestartSilently applies fn while no one is listening, then restarts.
// Subscribers only learn about fn's changes through a resync.
func (d *Daemon) RestartSilently(fn func(edit Editor)) {
	d.EditSilently(fn)
	d.Restart()
}

// Editor mutates a group's timers without emitting notifications.
type Editor struct {
	d *Daemon
	g *group
}

// Group is the group being edited.
func (e Editor) Group() timer.GroupID { return e.g.id }

// Put inserts or replaces a timer. A zero id gets a fresh one.
func (e Editor) Put(t timer.Timer) timer.ID {
	if t.ID == 0 {
		t.ID = e.d.nextID
		e.d.nextID++
	} else if t.ID >= e.d.nextID {
		e.d.nextID = t.ID + 1
	}
	t.GroupID = e.g.id
	e.g.timers[t.ID] = t
	return t.ID
}

// Delete removes a timer.
func (e Editor) Delete(id timer.ID) { delete(e.g.timers, id) }

// Timers returns the daemon's own view of a group, sorted by start.
func (d *Daemon) Timers(id timer.GroupID) []timer.Timer {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return nil
	}
	out := make([]timer.Timer, 0, len(g.timers))
	for _, t := range g.timers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// notify fans n out to the group's subscribers. Caller holds mu.
func (d *Daemon) notify(g *group, id timer.ID, kind timer.ChangeKind) {
	ev := recorder.Event{Notification: timer.Notification{ID: id, Kind: kind}}
	for s := range g.subs {
		s.push(ev)
		if d.duplicate {
			s.push(ev)
		}
	}
}

// conflicts returns the lowest id overlapping candidate, skipping skip.
// Caller holds mu.
func (d *Daemon) conflicts(g *group, candidate timer.Timer, skip timer.ID) (timer.ID, bool) {
	var (
		found bool
		low   timer.ID
	)
	for id, t := range g.timers {
		if id == skip {
			continue
		}
		if d.sameChannel && t.Channel != candidate.Channel {
			continue
		}
		if candidate.Overlaps(t) && (!found || id < low) {
			found, low = true, id
		}
	}
	return low, found
}
