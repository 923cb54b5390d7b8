// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"sync"

	"github.com/ManuGH/dvbsched/internal/metrics"
)

const memoryTransport = "memory"

// MemoryBus is an in-process pub/sub. Slow subscribers lose events rather
// than blocking the publisher; a UI that misses events refetches.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	buffer int
}

// NewMemoryBus creates a bus whose subscribers buffer up to buffer events.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{subs: make(map[*memorySub]struct{}), buffer: buffer}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
			metrics.IncBusPublished(memoryTransport)
		default:
			metrics.IncBusDrop(memoryTransport, "backpressure")
		}
	}
	return nil
}

// Subscribe registers a subscriber. It is closed when ctx ends or on Close.
func (b *MemoryBus) Subscribe(ctx context.Context) (Subscriber, error) {
	s := &memorySub{bus: b, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { _ = s.Close() })
		s.stop = stop
	}
	return s, nil
}

// Subscribers reports the number of live subscribers.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type memorySub struct {
	bus  *MemoryBus
	ch   chan Event
	stop func() bool
	once sync.Once
}

func (s *memorySub) C() <-chan Event { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
	return nil
}
