package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/dvbsched/internal/metrics"
	"github.com/ManuGH/dvbsched/internal/resilience"
	"github.com/ManuGH/dvbsched/internal/telemetry"
	"github.com/ManuGH/dvbsched/internal/timer"
)

const tracerName = "dvbsched/recorder"

// Instrumented decorates a Recorder with a circuit breaker, call metrics and
// spans. Only transport failures count against the breaker; while it is open
// every call fails fast with ErrUnreachable.
type Instrumented struct {
	next    Recorder
	breaker *resilience.Breaker
	tracer  trace.Tracer
}

// BreakerSettings configures the breaker of an Instrumented recorder.
type BreakerSettings struct {
	Threshold    int
	ResetTimeout time.Duration
}

// Instrument wraps next.
func Instrument(next Recorder, cfg BreakerSettings) *Instrumented {
	name := fmt.Sprintf("recorder_group_%d", next.Group())
	return &Instrumented{
		next:    next,
		breaker: resilience.NewBreaker(name, cfg.Threshold, cfg.ResetTimeout,
			resilience.WithFailureClassifier(IsTransport),
			resilience.WithIgnored(isAbandoned),
		),
		tracer:  telemetry.Tracer(tracerName),
	}
}

// Breaker exposes the breaker for health reporting.
func (r *Instrumented) Breaker() *resilience.Breaker { return r.breaker }

func (r *Instrumented) Group() timer.GroupID { return r.next.Group() }

// abandonedError marks a call that failed because its caller's context
// ended. It says nothing about the daemon's health.
type abandonedError struct{ err error }

func (e abandonedError) Error() string { return e.err.Error() }
func (e abandonedError) Unwrap() error { return e.err }

func isAbandoned(err error) bool {
	var ab abandonedError
	return errors.As(err, &ab) || errors.Is(err, context.Canceled)
}

func call[T any](ctx context.Context, r *Instrumented, op string, attrs []attribute.KeyValue, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := r.tracer.Start(ctx, "recorder."+op, trace.WithAttributes(attrs...))
	defer span.End()

	started := time.Now()
	var out T
	err := r.breaker.Execute(func() error {
		var callErr error
		out, callErr = fn(ctx)
		if callErr != nil && ctx.Err() != nil {
			return abandonedError{err: callErr}
		}
		return callErr
	})
	var ab abandonedError
	if errors.As(err, &ab) {
		err = ab.err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = Unreachable(op, r.next.Group(), err)
	}

	result := ResultLabel(err)
	metrics.ObserveRecorderCall(op, result, time.Since(started).Seconds())
	span.SetAttributes(telemetry.ResultAttribute(result))
	if err != nil && IsTransport(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	return out, err
}

func (r *Instrumented) attrs(id timer.ID, channel timer.ChannelID) []attribute.KeyValue {
	return telemetry.TimerAttributes(uint32(r.next.Group()), uint32(id), uint32(channel))
}

func (r *Instrumented) AddTimer(ctx context.Context, channel timer.ChannelID, start timer.WallTime, minutes int) (timer.ID, error) {
	attrs := append(r.attrs(0, channel), telemetry.ScheduleAttributes(start.String(), minutes)...)
	return call(ctx, r, "add_timer", attrs, func(ctx context.Context) (timer.ID, error) {
		return r.next.AddTimer(ctx, channel, start, minutes)
	})
}

func (r *Instrumented) DeleteTimer(ctx context.Context, id timer.ID) error {
	_, err := call(ctx, r, "delete_timer", r.attrs(id, 0), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.DeleteTimer(ctx, id)
	})
	return err
}

func (r *Instrumented) SetStartTime(ctx context.Context, id timer.ID, start timer.WallTime) (Outcome, error) {
	return call(ctx, r, "set_start_time", r.attrs(id, 0), func(ctx context.Context) (Outcome, error) {
		return r.next.SetStartTime(ctx, id, start)
	})
}

func (r *Instrumented) SetDuration(ctx context.Context, id timer.ID, minutes int) (Outcome, error) {
	return call(ctx, r, "set_duration", r.attrs(id, 0), func(ctx context.Context) (Outcome, error) {
		return r.next.SetDuration(ctx, id, minutes)
	})
}

func (r *Instrumented) GetTimers(ctx context.Context) ([]timer.ID, error) {
	return call(ctx, r, "get_timers", r.attrs(0, 0), r.next.GetTimers)
}

func (r *Instrumented) StartTime(ctx context.Context, id timer.ID) (timer.WallTime, error) {
	return call(ctx, r, "get_start_time", r.attrs(id, 0), func(ctx context.Context) (timer.WallTime, error) {
		return r.next.StartTime(ctx, id)
	})
}

func (r *Instrumented) Duration(ctx context.Context, id timer.ID) (int, error) {
	return call(ctx, r, "get_duration", r.attrs(id, 0), func(ctx context.Context) (int, error) {
		return r.next.Duration(ctx, id)
	})
}

func (r *Instrumented) Channel(ctx context.Context, id timer.ID) (timer.ChannelID, error) {
	return call(ctx, r, "get_channel", r.attrs(id, 0), func(ctx context.Context) (timer.ChannelID, error) {
		return r.next.Channel(ctx, id)
	})
}

func (r *Instrumented) IsActive(ctx context.Context, id timer.ID) (bool, error) {
	return call(ctx, r, "is_timer_active", r.attrs(id, 0), func(ctx context.Context) (bool, error) {
		return r.next.IsActive(ctx, id)
	})
}

func (r *Instrumented) Name(ctx context.Context, id timer.ID) (string, error) {
	return call(ctx, r, "get_name", r.attrs(id, 0), func(ctx context.Context) (string, error) {
		return r.next.Name(ctx, id)
	})
}

func (r *Instrumented) Subscribe(ctx context.Context) (Subscription, error) {
	return call(ctx, r, "subscribe", r.attrs(0, 0), r.next.Subscribe)
}

// InstrumentedProvider wraps every recorder handed out by next.
type InstrumentedProvider struct {
	next Provider
	cfg  BreakerSettings

	mu        sync.Mutex
	recorders map[timer.GroupID]*Instrumented
}

// InstrumentProvider wraps next. Recorders are created once per group so
// breaker state is shared by all callers.
func InstrumentProvider(next Provider, cfg BreakerSettings) *InstrumentedProvider {
	return &InstrumentedProvider{next: next, cfg: cfg, recorders: make(map[timer.GroupID]*Instrumented)}
}

func (p *InstrumentedProvider) Groups(ctx context.Context) ([]timer.GroupID, error) {
	return p.next.Groups(ctx)
}

func (p *InstrumentedProvider) Recorder(group timer.GroupID) (Recorder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.recorders[group]; ok {
		return r, nil
	}
	inner, err := p.next.Recorder(group)
	if err != nil {
		return nil, err
	}
	r := Instrument(inner, p.cfg)
	p.recorders[group] = r
	return r, nil
}
