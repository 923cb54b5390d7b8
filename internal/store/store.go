// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store caches the timers of each device group. The recorder daemon
// stays the source of truth; nothing here is persisted.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/dvbsched/internal/timer"
)

// TimerStore holds the timers of one device group keyed by id.
// All operations are safe for concurrent use; by convention only the group's
// sync loop writes.
type TimerStore struct {
	group timer.GroupID

	mu      sync.RWMutex
	timers  map[timer.ID]timer.Timer
	version uint64
}

// NewTimerStore creates an empty store for group.
func NewTimerStore(group timer.GroupID) *TimerStore {
	return &TimerStore{
		group:  group,
		timers: make(map[timer.ID]timer.Timer),
	}
}

// Group returns the device group this store belongs to.
func (s *TimerStore) Group() timer.GroupID {
	return s.group
}

// Upsert inserts or replaces t by id. Replaying the same timer is a no-op.
// The group id is forced to the store's group.
func (s *TimerStore) Upsert(t timer.Timer) {
	t.GroupID = s.group

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.timers[t.ID]; ok && cur == t {
		return
	}
	s.timers[t.ID] = t
	s.version++
}

// Remove drops id. Unknown ids are ignored so repeated deletes are harmless.
func (s *TimerStore) Remove(id timer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[id]; !ok {
		return
	}
	delete(s.timers, id)
	s.version++
}

// Replace swaps the whole content for timers (resync).
func (s *TimerStore) Replace(timers []timer.Timer) {
	next := make(map[timer.ID]timer.Timer, len(timers))
	for _, t := range timers {
		t.GroupID = s.group
		next[t.ID] = t
	}

	s.mu.Lock()
	s.timers = next
	s.version++
	s.mu.Unlock()
}

// Get returns the timer with id, if present.
func (s *TimerStore) Get(id timer.ID) (timer.Timer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[id]
	return t, ok
}

// Len returns the number of cached timers.
func (s *TimerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timers)
}

// Version increases on every observable mutation. UIs poll it to skip
// redundant redraws.
func (s *TimerStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// AllSortedByStart returns a snapshot ordered by start, ties broken by id.
func (s *TimerStore) AllSortedByStart() []timer.Timer {
	s.mu.RLock()
	out := make([]timer.Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t)
	}
	s.mu.RUnlock()

	SortByStart(out)
	return out
}

// ActiveIDs returns the ids of timers recording at now, in ascending order.
// Evaluated on every call; activity is never cached.
func (s *TimerStore) ActiveIDs(now time.Time) []timer.ID {
	s.mu.RLock()
	var ids []timer.ID
	for id, t := range s.timers {
		if t.Active(now) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SortByStart orders timers by start ascending, then id ascending.
func SortByStart(timers []timer.Timer) {
	sort.SliceStable(timers, func(i, j int) bool {
		a, b := timers[i].Start.Time(), timers[j].Start.Time()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return timers[i].ID < timers[j].ID
	})
}
