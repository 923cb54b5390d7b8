// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gnomedvb

import (
	"context"
	"slices"

	"github.com/godbus/dbus/v5"

	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/timer"
)

// Recorder talks to /org/gnome/DVB/Recorder/<group>.
//
// The daemon reports most failures as a bare boolean. Where the facade needs
// a finer answer the adapter asks a follow-up question: an unknown channel
// is told apart from a conflict through the channel list, and a refused
// reschedule from a missing timer through GetTimers.
type Recorder struct {
	group    timer.GroupID
	path     dbus.ObjectPath
	obj      caller
	channels caller
	signals  signalConn
}

var _ recorder.Recorder = (*Recorder)(nil)

func (r *Recorder) Group() timer.GroupID { return r.group }

func (r *Recorder) call(ctx context.Context, op, method string, out []interface{}, args ...interface{}) error {
	c := r.obj.CallWithContext(ctx, recorderIface+"."+method, 0, args...)
	if err := c.Store(out...); err != nil {
		return recorder.Unreachable(op, r.group, err)
	}
	return nil
}

func (r *Recorder) AddTimer(ctx context.Context, channel timer.ChannelID, start timer.WallTime, minutes int) (timer.ID, error) {
	const op = "add_timer"
	var (
		id uint32
		ok bool
	)
	// The daemon takes minutes as uint32; anything out of range would be
	// truncated into a different timer.
	if !timer.ValidDuration(minutes) {
		return 0, &recorder.Error{Sentinel: recorder.ErrConflict, Operation: op, Group: r.group}
	}
	s := start.Slice()
	if err := r.call(ctx, op, "AddTimer", []interface{}{&id, &ok},
		uint32(channel), s[0], s[1], s[2], s[3], s[4], uint32(minutes)); err != nil {
		return 0, err
	}
	if ok {
		return timer.ID(id), nil
	}

	known, err := r.hasChannel(ctx, channel)
	if err != nil {
		return 0, err
	}
	if !known {
		return 0, &recorder.Error{Sentinel: recorder.ErrInvalidChannel, Operation: op, Group: r.group}
	}
	return 0, &recorder.Error{Sentinel: recorder.ErrConflict, Operation: op, Group: r.group}
}

func (r *Recorder) hasChannel(ctx context.Context, channel timer.ChannelID) (bool, error) {
	var ids []uint32
	c := r.channels.CallWithContext(ctx, channelListIface+".GetChannels", 0)
	if err := c.Store(&ids); err != nil {
		return false, recorder.Unreachable("get_channels", r.group, err)
	}
	return slices.Contains(ids, uint32(channel)), nil
}

func (r *Recorder) DeleteTimer(ctx context.Context, id timer.ID) error {
	const op = "delete_timer"
	var ok bool
	if err := r.call(ctx, op, "DeleteTimer", []interface{}{&ok}, uint32(id)); err != nil {
		return err
	}
	if !ok {
		return recorder.NotFound(op, r.group, id)
	}
	return nil
}

// refusedOrMissing classifies a false answer to a mutation.
func (r *Recorder) refusedOrMissing(ctx context.Context, op string, id timer.ID) (recorder.Outcome, error) {
	ids, err := r.GetTimers(ctx)
	if err != nil {
		return recorder.Refused, err
	}
	if !slices.Contains(ids, id) {
		return recorder.Refused, recorder.NotFound(op, r.group, id)
	}
	return recorder.Refused, nil
}

func (r *Recorder) SetStartTime(ctx context.Context, id timer.ID, start timer.WallTime) (recorder.Outcome, error) {
	const op = "set_start_time"
	var ok bool
	s := start.Slice()
	if err := r.call(ctx, op, "SetStartTime", []interface{}{&ok}, uint32(id), s[0], s[1], s[2], s[3], s[4]); err != nil {
		return recorder.Refused, err
	}
	if !ok {
		return r.refusedOrMissing(ctx, op, id)
	}
	return recorder.Applied, nil
}

func (r *Recorder) SetDuration(ctx context.Context, id timer.ID, minutes int) (recorder.Outcome, error) {
	const op = "set_duration"
	if !timer.ValidDuration(minutes) {
		return recorder.Refused, nil
	}
	var ok bool
	if err := r.call(ctx, op, "SetDuration", []interface{}{&ok}, uint32(id), uint32(minutes)); err != nil {
		return recorder.Refused, err
	}
	if !ok {
		return r.refusedOrMissing(ctx, op, id)
	}
	return recorder.Applied, nil
}

func (r *Recorder) GetTimers(ctx context.Context) ([]timer.ID, error) {
	var raw []uint32
	if err := r.call(ctx, "get_timers", "GetTimers", []interface{}{&raw}); err != nil {
		return nil, err
	}
	ids := make([]timer.ID, len(raw))
	for i, v := range raw {
		ids[i] = timer.ID(v)
	}
	return ids, nil
}

func (r *Recorder) StartTime(ctx context.Context, id timer.ID) (timer.WallTime, error) {
	const op = "get_start_time"
	var (
		raw []uint32
		ok  bool
	)
	if err := r.call(ctx, op, "GetStartTime", []interface{}{&raw, &ok}, uint32(id)); err != nil {
		return timer.WallTime{}, err
	}
	if !ok {
		return timer.WallTime{}, recorder.NotFound(op, r.group, id)
	}
	w, err := timer.WallTimeFromSlice(raw)
	if err != nil {
		return timer.WallTime{}, recorder.Unreachable(op, r.group, err)
	}
	return w, nil
}

func (r *Recorder) Duration(ctx context.Context, id timer.ID) (int, error) {
	const op = "get_duration"
	var (
		minutes uint32
		ok      bool
	)
	if err := r.call(ctx, op, "GetDuration", []interface{}{&minutes, &ok}, uint32(id)); err != nil {
		return 0, err
	}
	if !ok {
		return 0, recorder.NotFound(op, r.group, id)
	}
	return int(minutes), nil
}

func (r *Recorder) Channel(ctx context.Context, id timer.ID) (timer.ChannelID, error) {
	const op = "get_channel"
	var (
		channel uint32
		ok      bool
	)
	if err := r.call(ctx, op, "GetChannel", []interface{}{&channel, &ok}, uint32(id)); err != nil {
		return 0, err
	}
	if !ok {
		return 0, recorder.NotFound(op, r.group, id)
	}
	return timer.ChannelID(channel), nil
}

func (r *Recorder) IsActive(ctx context.Context, id timer.ID) (bool, error) {
	var active bool
	if err := r.call(ctx, "is_timer_active", "IsTimerActive", []interface{}{&active}, uint32(id)); err != nil {
		return false, err
	}
	return active, nil
}

func (r *Recorder) Name(ctx context.Context, id timer.ID) (string, error) {
	const op = "get_name"
	var (
		name string
		ok   bool
	)
	if err := r.call(ctx, op, "GetName", []interface{}{&name, &ok}, uint32(id)); err != nil {
		return "", err
	}
	if !ok {
		return "", recorder.NotFound(op, r.group, id)
	}
	return name, nil
}
