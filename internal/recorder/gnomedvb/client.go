// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gnomedvb binds the recorder facade to the GNOME DVB daemon on D-Bus.
package gnomedvb

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/timer"
)

const (
	BusName = "org.gnome.DVB"

	managerPath       = dbus.ObjectPath("/org/gnome/DVB/Manager")
	managerIface      = "org.gnome.DVB.Manager"
	recorderIface     = "org.gnome.DVB.Recorder"
	channelListIface  = "org.gnome.DVB.ChannelList"
	recorderPathFmt   = "/org/gnome/DVB/Recorder/%d"
	channelListFmt    = "/org/gnome/DVB/ChannelList/%d"
	changedSignal     = recorderIface + ".Changed"
	nameOwnerChanged  = "org.freedesktop.DBus.NameOwnerChanged"
	signalBufferDepth = 64
)

// caller is the part of dbus.BusObject the adapter uses.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// signalConn is the part of *dbus.Conn used for notifications.
type signalConn interface {
	AddMatchSignalContext(ctx context.Context, options ...dbus.MatchOption) error
	RemoveMatchSignalContext(ctx context.Context, options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// Provider implements recorder.Provider over a bus connection.
type Provider struct {
	object  func(dbus.ObjectPath) caller
	signals signalConn
}

var _ recorder.Provider = (*Provider)(nil)

// Connect opens the session or system bus.
func Connect(system bool) (*dbus.Conn, error) {
	if system {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

// NewProvider uses conn for calls and signals.
func NewProvider(conn *dbus.Conn) *Provider {
	return &Provider{
		object: func(p dbus.ObjectPath) caller {
			return conn.Object(BusName, p)
		},
		signals: conn,
	}
}

// Groups lists the registered device groups.
func (p *Provider) Groups(ctx context.Context) ([]timer.GroupID, error) {
	var paths []dbus.ObjectPath
	call := p.object(managerPath).CallWithContext(ctx, managerIface+".GetRegisteredDeviceGroups", 0)
	if err := call.Store(&paths); err != nil {
		return nil, recorder.Unreachable("get_device_groups", 0, err)
	}
	groups := make([]timer.GroupID, 0, len(paths))
	for _, op := range paths {
		id, err := groupFromPath(op)
		if err != nil {
			return nil, fmt.Errorf("dbus: %w", err)
		}
		groups = append(groups, id)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups, nil
}

func groupFromPath(op dbus.ObjectPath) (timer.GroupID, error) {
	n, err := strconv.ParseUint(path.Base(string(op)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unexpected device group path %q", op)
	}
	return timer.GroupID(n), nil
}

// Recorder returns the facade of one device group.
func (p *Provider) Recorder(group timer.GroupID) (recorder.Recorder, error) {
	recPath := dbus.ObjectPath(fmt.Sprintf(recorderPathFmt, group))
	if !recPath.IsValid() {
		return nil, fmt.Errorf("dbus: invalid recorder path %q", recPath)
	}
	return &Recorder{
		group:    group,
		path:     recPath,
		obj:      p.object(recPath),
		channels: p.object(dbus.ObjectPath(fmt.Sprintf(channelListFmt, group))),
		signals:  p.signals,
	}, nil
}
