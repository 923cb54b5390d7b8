// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/dvbsched/internal/bus"
	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/timer"
)

// handleEvents streams applied schedule changes as server-sent events.
// ?group= restricts the stream to one device group.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeProblem(w, r, Problem{Type: "events_disabled", Title: "Event stream disabled", Status: http.StatusNotFound})
		return
	}

	var filter *timer.GroupID
	if raw := r.URL.Query().Get("group"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			badRequest(w, r, "invalid group")
			return
		}
		g := timer.GroupID(v)
		filter = &g
	}

	sub, err := s.deps.Events.Subscribe(r.Context())
	if err != nil {
		writeProblem(w, r, Problem{Type: "error", Title: "Subscribe failed", Status: http.StatusInternalServerError, Detail: err.Error()})
		return
	}
	defer func() { _ = sub.Close() }()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Debug().Str(xglog.FieldEvent, "events.subscribed").Msg("event stream opened")

	heartbeat := time.NewTicker(s.deps.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if filter != nil && ev.Group != *filter {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev bus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
