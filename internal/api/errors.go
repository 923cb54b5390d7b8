// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/dvbsched/internal/engine"
	xglog "github.com/ManuGH/dvbsched/internal/log"
)

// Problem is the error body of every failed request.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// ConflictingID names the lowest overlapping timer of a conflict.
	ConflictingID uint32 `json:"conflicting_id,omitempty"`
	// AllowedSkewSeconds is the grace window of a starts_in_past rejection.
	AllowedSkewSeconds int64 `json:"allowed_skew_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.RequestID = xglog.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, Problem{Type: "invalid", Title: "Invalid request", Status: http.StatusBadRequest, Detail: detail})
}

// writeEngineError maps the engine taxonomy onto status codes. The
// problem type equals the journal outcome label.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	p := Problem{Type: engine.OutcomeLabel(err), Detail: err.Error()}
	switch {
	case errors.Is(err, engine.ErrConflict):
		p.Status, p.Title = http.StatusConflict, "Timer conflict"
	case errors.Is(err, engine.ErrStartsInPast):
		p.Status, p.Title = http.StatusUnprocessableEntity, "Start lies too far in the past"
	case errors.Is(err, engine.ErrInvalidChannel):
		p.Status, p.Title = http.StatusUnprocessableEntity, "Unknown channel"
	case errors.Is(err, engine.ErrNotFound):
		p.Status, p.Title = http.StatusNotFound, "Timer not found"
	case errors.Is(err, engine.ErrUnknownGroup):
		p.Status, p.Title = http.StatusNotFound, "Unknown device group"
	case errors.Is(err, engine.ErrInvalidRequest):
		p.Status, p.Title = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, engine.ErrUnreachable):
		p.Status, p.Title = http.StatusServiceUnavailable, "Recorder unreachable"
	default:
		p.Status, p.Title = http.StatusInternalServerError, "Internal error"
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("unclassified engine error")
	}

	var eerr *engine.Error
	if errors.As(err, &eerr) {
		p.ConflictingID = uint32(eerr.ConflictingID)
		p.AllowedSkewSeconds = int64(eerr.AllowedSkew.Seconds())
	}
	writeProblem(w, r, p)
}
