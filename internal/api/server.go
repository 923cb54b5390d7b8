// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the scheduling engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/dvbsched/internal/api/middleware"
	"github.com/ManuGH/dvbsched/internal/bus"
	"github.com/ManuGH/dvbsched/internal/conflict"
	"github.com/ManuGH/dvbsched/internal/journal"
	xglog "github.com/ManuGH/dvbsched/internal/log"
	"github.com/ManuGH/dvbsched/internal/recorder"
	"github.com/ManuGH/dvbsched/internal/resilience"
	"github.com/ManuGH/dvbsched/internal/timer"
	"github.com/ManuGH/dvbsched/internal/timersync"
)

// Scheduler is the engine surface the API drives. *engine.Engine satisfies it.
type Scheduler interface {
	Groups() []timer.GroupID
	ListTimers(group timer.GroupID) ([]timer.Timer, error)
	Timer(group timer.GroupID, id timer.ID) (timer.Timer, error)
	ActiveTimers(group timer.GroupID) ([]timer.Timer, error)
	EventCoverage(group timer.GroupID, ev timer.EPGEvent) (conflict.Coverage, error)
	RequestAddTimer(ctx context.Context, group timer.GroupID, channel timer.ChannelID, start timer.WallTime, minutes int) (timer.ID, error)
	RequestAddTimerForEvent(ctx context.Context, group timer.GroupID, ev timer.EPGEvent) (timer.ID, error)
	RequestDeleteTimer(ctx context.Context, group timer.GroupID, id timer.ID) error
	RequestSetStartTime(ctx context.Context, group timer.GroupID, id timer.ID, start timer.WallTime) (recorder.Outcome, error)
	RequestSetDuration(ctx context.Context, group timer.GroupID, id timer.ID, minutes int) (recorder.Outcome, error)
}

// Syncer is one group's schedule mirror. *timersync.Syncer satisfies it.
type Syncer interface {
	Status() timersync.Status
	Resync(ctx context.Context) error
}

// BreakerState reports a recorder circuit breaker.
type BreakerState interface {
	State() resilience.State
}

// JournalReader lists recorded decisions. *journal.Journal satisfies it.
type JournalReader interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// EventSource feeds the event stream. *bus.MemoryBus satisfies it.
type EventSource interface {
	Subscribe(ctx context.Context) (bus.Subscriber, error)
}

// Deps wires the server. Journal, Events and Breakers are optional.
type Deps struct {
	Scheduler Scheduler
	Syncers   map[timer.GroupID]Syncer
	Breakers  map[timer.GroupID]BreakerState
	Journal   JournalReader
	Events    EventSource
	Version   string

	RateLimit      int
	TracingService string
	// Heartbeat is the idle interval of the event stream.
	Heartbeat time.Duration
}

// Server is the HTTP surface.
type Server struct {
	deps   Deps
	logger zerolog.Logger
	router chi.Router
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}
	s := &Server{deps: deps, logger: xglog.WithComponent("api")}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.deps.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIRateLimit(s.deps.RateLimit))

		r.Get("/groups", s.handleGroups)
		r.Get("/journal", s.handleJournal)
		r.Get("/events", s.handleEvents)

		r.Route("/groups/{group}", func(r chi.Router) {
			r.Use(s.groupContext)
			r.Post("/resync", s.handleResync)
			r.Post("/coverage", s.handleCoverage)

			r.Get("/timers", s.handleListTimers)
			r.Post("/timers", s.handleAddTimer)
			r.Get("/timers/active", s.handleActiveTimers)
			r.Post("/timers/from-event", s.handleAddTimerForEvent)
			r.Get("/timers/{id}", s.handleGetTimer)
			r.Delete("/timers/{id}", s.handleDeleteTimer)
			r.Put("/timers/{id}/start", s.handleSetStart)
			r.Put("/timers/{id}/duration", s.handleSetDuration)
		})
	})
	return r
}

// Serve runs an http.Server on addr until ctx ends, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str(xglog.FieldEvent, "api.listen").Str("addr", addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	s.logger.Info().Str(xglog.FieldEvent, "api.stopped").Msg("HTTP API stopped")
	return nil
}
