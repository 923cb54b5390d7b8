// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards calls to the recorder daemon.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/dvbsched/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker opens after threshold consecutive transport failures and lets a
// single probe through once the reset timeout has passed. Business refusals
// (conflict, not found) are not failures; the classifier decides.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	isFailure    func(error) bool
	isIgnored    func(error) bool
	clock        Clock

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithFailureClassifier sets which errors count against the breaker.
// By default every non-nil error does.
func WithFailureClassifier(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// WithIgnored sets errors that say nothing about the guarded service, such
// as a caller giving up. They neither count as failures nor reset the count,
// and an ignored half-open probe leaves the breaker half-open.
func WithIgnored(fn func(error) bool) Option {
	return func(b *Breaker) { b.isIgnored = fn }
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	b := &Breaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		isFailure:    func(err error) bool { return err != nil },
		isIgnored:    func(error) bool { return false },
		clock:        realClock{},
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetCircuitBreakerState(b.name, string(b.state))
	return b
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.allow()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil && b.isIgnored(err) {
		b.release(probe)
		return err
	}
	b.record(probe, err != nil && b.isFailure(err))
	return err
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) allow() (probe bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.resetTimeout {
			return false, false
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true
		return true, true
	default:
		// Half-open: one probe at a time.
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
}

func (b *Breaker) record(probe, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if !failed {
		b.failures = 0
		if b.state != StateClosed && (probe || b.state == StateHalfOpen) {
			b.transitionTo(StateClosed)
		}
		return
	}

	b.failures++
	switch {
	case probe:
		metrics.RecordCircuitBreakerTrip(b.name, "half_open_failure")
		b.transitionTo(StateOpen)
	case b.state == StateClosed && b.failures >= b.threshold:
		metrics.RecordCircuitBreakerTrip(b.name, "threshold_exceeded")
		b.transitionTo(StateOpen)
	}
}

// transitionTo updates state and metrics. Caller holds the lock.
func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}
	b.state = next
	if next == StateOpen {
		b.openedAt = b.clock.Now()
	}
	metrics.SetCircuitBreakerState(b.name, string(next))
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
