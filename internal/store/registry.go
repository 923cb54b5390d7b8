// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"sort"
	"sync"

	"github.com/ManuGH/dvbsched/internal/timer"
)

// Registry owns one TimerStore per device group.
type Registry struct {
	mu     sync.RWMutex
	groups map[timer.GroupID]*TimerStore
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[timer.GroupID]*TimerStore)}
}

// Group returns the store of group, creating it on first use.
func (r *Registry) Group(group timer.GroupID) *TimerStore {
	r.mu.RLock()
	s, ok := r.groups[group]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.groups[group]; ok {
		return s
	}
	s = NewTimerStore(group)
	r.groups[group] = s
	return s
}

// Lookup returns the store of group without creating it.
func (r *Registry) Lookup(group timer.GroupID) (*TimerStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.groups[group]
	return s, ok
}

// Groups lists the known groups in ascending order.
func (r *Registry) Groups() []timer.GroupID {
	r.mu.RLock()
	out := make([]timer.GroupID, 0, len(r.groups))
	for g := range r.groups {
		out = append(out, g)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
