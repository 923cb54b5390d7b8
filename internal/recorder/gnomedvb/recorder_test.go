// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gnomedvb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/timer"
)

type recordedCall struct {
	method string
	args   []interface{}
}

// fakeObject answers calls from a table keyed by method name.
type fakeObject struct {
	mu      sync.Mutex
	replies map[string][]interface{}
	errs    map[string]error
	calls   []recordedCall
}

func newFakeObject() *fakeObject {
	return &fakeObject{replies: map[string][]interface{}{}, errs: map[string]error{}}
}

func (f *fakeObject) reply(method string, body ...interface{}) { f.replies[method] = body }

func (f *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{method: method, args: args})
	if err := f.errs[method]; err != nil {
		return &dbus.Call{Method: method, Err: err}
	}
	body, ok := f.replies[method]
	if !ok {
		return &dbus.Call{Method: method, Err: dbus.MakeFailedError(errors.New("unexpected call " + method))}
	}
	return &dbus.Call{Method: method, Body: body}
}

type fakeConn struct {
	mu       sync.Mutex
	chans    []chan<- *dbus.Signal
	matches  int
	matchErr error
}

func (c *fakeConn) AddMatchSignalContext(context.Context, ...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matchErr != nil {
		return c.matchErr
	}
	c.matches++
	return nil
}

func (c *fakeConn) RemoveMatchSignalContext(context.Context, ...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches--
	return nil
}

func (c *fakeConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chans = append(c.chans, ch)
}

func (c *fakeConn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.chans {
		if x == ch {
			c.chans = append(c.chans[:i], c.chans[i+1:]...)
			return
		}
	}
}

func (c *fakeConn) emit(sig *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.chans {
		ch <- sig
	}
}

type fixture struct {
	rec      *fakeObject
	channels *fakeObject
	manager  *fakeObject
	conn     *fakeConn
	provider *Provider
}

func newFixture() *fixture {
	f := &fixture{
		rec:      newFakeObject(),
		channels: newFakeObject(),
		manager:  newFakeObject(),
		conn:     &fakeConn{},
	}
	f.provider = &Provider{
		object: func(p dbus.ObjectPath) caller {
			switch p {
			case managerPath:
				return f.manager
			case "/org/gnome/DVB/ChannelList/1":
				return f.channels
			default:
				return f.rec
			}
		},
		signals: f.conn,
	}
	return f
}

func (f *fixture) recorder(t *testing.T) recorder.Recorder {
	t.Helper()
	r, err := f.provider.Recorder(1)
	require.NoError(t, err)
	return r
}

var start = timer.WallTime{Year: 2030, Month: 3, Day: 9, Hour: 20, Minute: 15}

func TestGroups_ParsesObjectPaths(t *testing.T) {
	f := newFixture()
	f.manager.reply(managerIface+".GetRegisteredDeviceGroups", []dbus.ObjectPath{"/org/gnome/DVB/DeviceGroup/2", "/org/gnome/DVB/DeviceGroup/1"})

	groups, err := f.provider.Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []timer.GroupID{1, 2}, groups)
}

func TestAddTimer_Success(t *testing.T) {
	f := newFixture()
	f.rec.reply(recorderIface+".AddTimer", uint32(17), true)

	id, err := f.recorder(t).AddTimer(context.Background(), 42, start, 30)
	require.NoError(t, err)
	assert.Equal(t, timer.ID(17), id)

	require.Len(t, f.rec.calls, 1)
	assert.Equal(t, []interface{}{uint32(42), int32(2030), int32(3), int32(9), int32(20), int32(15), uint32(30)}, f.rec.calls[0].args)
}

func TestAddTimer_FailureClassification(t *testing.T) {
	f := newFixture()
	f.rec.reply(recorderIface+".AddTimer", uint32(0), false)
	f.channels.reply(channelListIface+".GetChannels", []uint32{42, 43})
	r := f.recorder(t)

	_, err := r.AddTimer(context.Background(), 42, start, 30)
	assert.ErrorIs(t, err, recorder.ErrConflict)

	_, err = r.AddTimer(context.Background(), 99, start, 30)
	assert.ErrorIs(t, err, recorder.ErrInvalidChannel)
}

func TestDurationOutOfRange_NotSent(t *testing.T) {
	f := newFixture()
	r := f.recorder(t)

	_, err := r.AddTimer(context.Background(), 42, start, 1<<32+30)
	assert.ErrorIs(t, err, recorder.ErrConflict)

	outcome, err := r.SetDuration(context.Background(), 5, timer.MaxDurationMinutes+1)
	require.NoError(t, err)
	assert.Equal(t, recorder.Refused, outcome)

	assert.Empty(t, f.rec.calls)
}

func TestCallError_MapsToUnreachable(t *testing.T) {
	f := newFixture()
	f.rec.errs[recorderIface+".GetTimers"] = dbus.ErrClosed

	_, err := f.recorder(t).GetTimers(context.Background())
	assert.ErrorIs(t, err, recorder.ErrUnreachable)
	assert.ErrorIs(t, err, dbus.ErrClosed)
}

func TestDeleteTimer_NotFound(t *testing.T) {
	f := newFixture()
	f.rec.reply(recorderIface+".DeleteTimer", false)

	err := f.recorder(t).DeleteTimer(context.Background(), 5)
	assert.ErrorIs(t, err, recorder.ErrNotFound)
}

func TestSetDuration_RefusedVersusMissing(t *testing.T) {
	f := newFixture()
	f.rec.reply(recorderIface+".SetDuration", false)
	f.rec.reply(recorderIface+".GetTimers", []uint32{5})
	r := f.recorder(t)

	outcome, err := r.SetDuration(context.Background(), 5, 90)
	require.NoError(t, err)
	assert.Equal(t, recorder.Refused, outcome)

	_, err = r.SetDuration(context.Background(), 6, 90)
	assert.ErrorIs(t, err, recorder.ErrNotFound)

	f.rec.reply(recorderIface+".SetStartTime", true)
	outcome, err = r.SetStartTime(context.Background(), 5, start)
	require.NoError(t, err)
	assert.Equal(t, recorder.Applied, outcome)
}

func TestFetchTimer_OverDBus(t *testing.T) {
	f := newFixture()
	f.rec.reply(recorderIface+".GetStartTime", []uint32{2030, 3, 9, 20, 15}, true)
	f.rec.reply(recorderIface+".GetDuration", uint32(45), true)
	f.rec.reply(recorderIface+".GetChannel", uint32(42), true)
	f.rec.reply(recorderIface+".GetName", "Tatort", true)

	got, err := recorder.FetchTimer(context.Background(), f.recorder(t), 8)
	require.NoError(t, err)
	assert.Equal(t, timer.Timer{ID: 8, GroupID: 1, Channel: 42, Start: start, DurationMinutes: 45, Name: "Tatort"}, got)
}

func TestStartTime_MissingTimer(t *testing.T) {
	f := newFixture()
	f.rec.reply(recorderIface+".GetStartTime", []uint32{}, false)

	_, err := f.recorder(t).StartTime(context.Background(), 8)
	assert.ErrorIs(t, err, recorder.ErrNotFound)
}

func receive(t *testing.T, sub recorder.Subscription) recorder.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return recorder.Event{}
	}
}

func TestSubscribe_TranslatesSignals(t *testing.T) {
	f := newFixture()
	r := f.recorder(t)

	sub, err := r.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.conn.matches)

	// Foreign recorder and malformed bodies are dropped.
	f.conn.emit(&dbus.Signal{Path: "/org/gnome/DVB/Recorder/2", Name: changedSignal, Body: []interface{}{uint32(1), uint32(0)}})
	f.conn.emit(&dbus.Signal{Path: "/org/gnome/DVB/Recorder/1", Name: changedSignal, Body: []interface{}{uint32(1), uint32(9)}})
	f.conn.emit(&dbus.Signal{Path: "/org/gnome/DVB/Recorder/1", Name: changedSignal, Body: []interface{}{uint32(4), uint32(1)}})
	assert.Equal(t, timer.Notification{ID: 4, Kind: timer.Deleted}, receive(t, sub).Notification)

	f.conn.emit(&dbus.Signal{Name: nameOwnerChanged, Body: []interface{}{BusName, ":1.5", ""}})
	f.conn.emit(&dbus.Signal{Name: nameOwnerChanged, Body: []interface{}{BusName, "", ":1.9"}})
	assert.True(t, receive(t, sub).Restarted)

	require.NoError(t, sub.Close())
	_, open := <-sub.C()
	assert.False(t, open)

	assert.Eventually(t, func() bool {
		f.conn.mu.Lock()
		defer f.conn.mu.Unlock()
		return f.conn.matches == 0 && len(f.conn.chans) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSubscribe_MatchFailure(t *testing.T) {
	f := newFixture()
	f.conn.matchErr = errors.New("access denied")

	_, err := f.recorder(t).Subscribe(context.Background())
	assert.ErrorIs(t, err, recorder.ErrUnreachable)
}
