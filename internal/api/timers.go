// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/timer"
)

const maxBodyBytes = 64 << 10

type groupKey struct{}

// groupContext parses {group} once and tags the request context with it.
func (s *Server) groupContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "group")
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			badRequest(w, r, fmt.Sprintf("invalid group %q", raw))
			return
		}
		ctx := xglog.ContextWithGroupID(r.Context(), uint32(v))
		ctx = context.WithValue(ctx, groupKey{}, timer.GroupID(v))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func groupFrom(r *http.Request) timer.GroupID {
	g, _ := r.Context().Value(groupKey{}).(timer.GroupID)
	return g
}

func timerID(w http.ResponseWriter, r *http.Request) (timer.ID, bool) {
	raw := chi.URLParam(r, "id")
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		badRequest(w, r, fmt.Sprintf("invalid timer id %q", raw))
		return 0, false
	}
	return timer.ID(v), true
}

// decode reads a strict JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, r, "malformed body: "+err.Error())
		return false
	}
	return true
}

func parseStart(w http.ResponseWriter, r *http.Request, raw string) (timer.WallTime, bool) {
	start, err := timer.ParseWallTime(raw)
	if err != nil {
		badRequest(w, r, err.Error())
		return timer.WallTime{}, false
	}
	return start, true
}

func (s *Server) handleListTimers(w http.ResponseWriter, r *http.Request) {
	ts, err := s.deps.Scheduler.ListTimers(groupFrom(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTimerList(ts))
}

func (s *Server) handleActiveTimers(w http.ResponseWriter, r *http.Request) {
	ts, err := s.deps.Scheduler.ActiveTimers(groupFrom(r))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTimerList(ts))
}

func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Scheduler.Timer(groupFrom(r), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTimerResponse(t))
}

func (s *Server) handleAddTimer(w http.ResponseWriter, r *http.Request) {
	var req AddTimerRequest
	if !decode(w, r, &req) {
		return
	}
	start, ok := parseStart(w, r, req.Start)
	if !ok {
		return
	}
	id, err := s.deps.Scheduler.RequestAddTimer(r.Context(), groupFrom(r), timer.ChannelID(req.Channel), start, req.DurationMinutes)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: uint32(id)})
}

func (s *Server) handleAddTimerForEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := req.event()
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id, err := s.deps.Scheduler.RequestAddTimerForEvent(r.Context(), groupFrom(r), ev)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: uint32(id)})
}

func (s *Server) handleDeleteTimer(w http.ResponseWriter, r *http.Request) {
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Scheduler.RequestDeleteTimer(r.Context(), groupFrom(r), id); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetStart(w http.ResponseWriter, r *http.Request) {
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	var req SetStartRequest
	if !decode(w, r, &req) {
		return
	}
	start, ok := parseStart(w, r, req.Start)
	if !ok {
		return
	}
	outcome, err := s.deps.Scheduler.RequestSetStartTime(r.Context(), groupFrom(r), id, start)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome.String()})
}

func (s *Server) handleSetDuration(w http.ResponseWriter, r *http.Request) {
	id, ok := timerID(w, r)
	if !ok {
		return
	}
	var req SetDurationRequest
	if !decode(w, r, &req) {
		return
	}
	outcome, err := s.deps.Scheduler.RequestSetDuration(r.Context(), groupFrom(r), id, req.DurationMinutes)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome.String()})
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := req.event()
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	cov, err := s.deps.Scheduler.EventCoverage(groupFrom(r), ev)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CoverageResponse{Coverage: cov.String()})
}
