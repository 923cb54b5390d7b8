package memory

import (
	"context"
	"sync"

	"github.com/ManuGH/dvbsched/internal/recorder"
)

// subscription queues events without bound so the daemon never blocks on a
// slow consumer and per-id order is kept.
type subscription struct {
	out    chan recorder.Event
	wake   chan struct{}
	done   chan struct{}
	detach func(*subscription)

	mu    sync.Mutex
	queue []recorder.Event

	closeOnce sync.Once
}

func newSubscription(detach func(*subscription)) *subscription {
	return &subscription{
		out:    make(chan recorder.Event),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		detach: detach,
	}
}

func (s *subscription) C() <-chan recorder.Event { return s.out }

// push enqueues ev. It never blocks.
func (s *subscription) push(ev recorder.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (recorder.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return recorder.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.out)
	defer s.Close()
	for {
		ev, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
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

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.detach(s)
	})
	return nil
}
