// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gnomedvb

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/timer"
)

func (r *Recorder) matchChanged() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(r.path),
		dbus.WithMatchInterface(recorderIface),
		dbus.WithMatchMember("Changed"),
	}
}

func matchOwner() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, BusName),
	}
}

// Subscribe registers the signal matches before returning so that no change
// after this call is lost.
func (r *Recorder) Subscribe(ctx context.Context) (recorder.Subscription, error) {
	const op = "subscribe"
	if err := r.signals.AddMatchSignalContext(ctx, r.matchChanged()...); err != nil {
		return nil, recorder.Unreachable(op, r.group, err)
	}
	if err := r.signals.AddMatchSignalContext(ctx, matchOwner()...); err != nil {
		_ = r.signals.RemoveMatchSignalContext(context.Background(), r.matchChanged()...)
		return nil, recorder.Unreachable(op, r.group, err)
	}

	in := make(chan *dbus.Signal, signalBufferDepth)
	r.signals.Signal(in)

	s := &subscription{
		r:    r,
		in:   in,
		out:  make(chan recorder.Event),
		done: make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

type subscription struct {
	r    *Recorder
	in   chan *dbus.Signal
	out  chan recorder.Event
	done chan struct{}
	once sync.Once
}

func (s *subscription) C() <-chan recorder.Event { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.out)
	defer s.detach()
	logger := xglog.WithComponent("dbus")

	for {
		var sig *dbus.Signal
		select {
		case sig = <-s.in:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
		if sig == nil {
			// godbus closes the channel when the connection drops.
			return
		}
		ev, ok := s.r.translate(sig)
		if !ok {
			continue
		}
		if ev.Restarted {
			logger.Info().Str(xglog.FieldEvent, "dbus.daemon_restarted").Uint32(xglog.FieldGroupID, uint32(s.r.group)).Msg("recorder daemon acquired bus name")
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscription) detach() {
	s.r.signals.RemoveSignal(s.in)
	ctx := context.Background()
	_ = s.r.signals.RemoveMatchSignalContext(ctx, s.r.matchChanged()...)
	_ = s.r.signals.RemoveMatchSignalContext(ctx, matchOwner()...)
}

// translate turns a raw signal into an Event. The connection delivers every
// matched signal to every registered channel, so foreign ones are dropped.
func (r *Recorder) translate(sig *dbus.Signal) (recorder.Event, bool) {
	switch sig.Name {
	case changedSignal:
		if sig.Path != r.path || len(sig.Body) < 2 {
			return recorder.Event{}, false
		}
		id, ok1 := sig.Body[0].(uint32)
		kind, ok2 := sig.Body[1].(uint32)
		if !ok1 || !ok2 || !timer.ChangeKind(kind).Valid() {
			return recorder.Event{}, false
		}
		return recorder.Event{Notification: timer.Notification{ID: timer.ID(id), Kind: timer.ChangeKind(kind)}}, true
	case nameOwnerChanged:
		if len(sig.Body) < 3 {
			return recorder.Event{}, false
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		// Only a new owner means a (re)started daemon; a vanishing owner
		// surfaces as call failures.
		if name != BusName || newOwner == "" {
			return recorder.Event{}, false
		}
		return recorder.Event{Restarted: true}, true
	default:
		return recorder.Event{}, false
	}
}
