// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/dvbsched/internal/journal"
	"github.com/ManuGH/dvbsched/internal/timersync"
)

func (s *Server) groupStatuses() ([]GroupStatus, bool) {
	groups := s.deps.Scheduler.Groups()
	out := make([]GroupStatus, 0, len(groups))
	healthy := true
	for _, g := range groups {
		st := GroupStatus{Status: timersync.Status{Group: g, State: timersync.Uninitialized.String()}}
		if syncer, ok := s.deps.Syncers[g]; ok {
			st.Status = syncer.Status()
		}
		if b, ok := s.deps.Breakers[g]; ok {
			st.Breaker = b.State()
		}
		if st.State != timersync.Synced.String() {
			healthy = false
		}
		out = append(out, st)
	}
	return out, healthy
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, _ := s.groupStatuses()
	writeJSON(w, http.StatusOK, groups)
}

// handleHealth is ready once every group is synced.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	groups, healthy := s.groupStatuses()
	resp := HealthResponse{Status: "ok", Version: s.deps.Version, Groups: groups}
	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	group := groupFrom(r)
	syncer, ok := s.deps.Syncers[group]
	if !ok {
		writeProblem(w, r, Problem{Type: "unknown_group", Title: "Unknown device group", Status: http.StatusNotFound})
		return
	}
	if err := syncer.Resync(r.Context()); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, r.Context().Err()) {
			status = http.StatusRequestTimeout
		}
		writeProblem(w, r, Problem{Type: "unreachable", Title: "Resync failed", Status: status, Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncer.Status())
}

// handleJournal serves GET /journal?group=&op=&since=&limit=.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeProblem(w, r, Problem{Type: "journal_disabled", Title: "Journal disabled", Status: http.StatusNotFound})
		return
	}

	q := journal.Query{Op: r.URL.Query().Get("op")}
	if raw := r.URL.Query().Get("group"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			badRequest(w, r, "invalid group")
			return
		}
		g := uint32(v)
		q.Group = &g
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, r, "since must be RFC 3339")
			return
		}
		q.Since = since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(w, r, "invalid limit")
			return
		}
		q.Limit = limit
	}

	entries, err := s.deps.Journal.List(r.Context(), q)
	if err != nil {
		s.logger.Error().Err(err).Msg("journal query failed")
		writeProblem(w, r, Problem{Type: "error", Title: "Journal query failed", Status: http.StatusInternalServerError})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
