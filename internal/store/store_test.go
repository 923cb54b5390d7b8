// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/dvbsched/internal/timer"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wt(d, h, m int) timer.WallTime {
	return timer.WallTime{Year: 2024, Month: 3, Day: d, Hour: h, Minute: m}
}

func TestUpsert_Idempotent(t *testing.T) {
	s := NewTimerStore(1)
	tm := timer.Timer{ID: 5, Channel: 7, Start: wt(1, 20, 0), DurationMinutes: 60}

	s.Upsert(tm)
	once := s.AllSortedByStart()
	v := s.Version()

	s.Upsert(tm)
	twice := s.AllSortedByStart()

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second upsert changed state (-once +twice):\n%s", diff)
	}
	assert.Equal(t, v, s.Version(), "replaying an identical timer must not bump the version")
}

func TestUpsert_ReplacesWholesale(t *testing.T) {
	s := NewTimerStore(1)
	s.Upsert(timer.Timer{ID: 5, Channel: 7, Start: wt(1, 20, 0), DurationMinutes: 60, Name: "Film"})
	s.Upsert(timer.Timer{ID: 5, Channel: 8, Start: wt(1, 21, 0), DurationMinutes: 30})

	got, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, timer.Timer{ID: 5, GroupID: 1, Channel: 8, Start: wt(1, 21, 0), DurationMinutes: 30}, got)
}

func TestUpsert_ForcesGroup(t *testing.T) {
	s := NewTimerStore(4)
	s.Upsert(timer.Timer{ID: 1, GroupID: 9, Start: wt(1, 1, 0), DurationMinutes: 5})

	got, _ := s.Get(1)
	assert.Equal(t, timer.GroupID(4), got.GroupID)
}

func TestRemove_Tolerant(t *testing.T) {
	s := NewTimerStore(1)
	s.Upsert(timer.Timer{ID: 5, Start: wt(1, 20, 0), DurationMinutes: 60})

	s.Remove(5)
	v := s.Version()
	s.Remove(5)
	s.Remove(99)

	_, ok := s.Get(5)
	assert.False(t, ok)
	assert.Equal(t, v, s.Version())
	assert.Equal(t, 0, s.Len())
}

func TestAllSortedByStart_TieBreakByID(t *testing.T) {
	s := NewTimerStore(1)
	s.Upsert(timer.Timer{ID: 9, Start: wt(1, 20, 0), DurationMinutes: 10})
	s.Upsert(timer.Timer{ID: 3, Start: wt(1, 20, 0), DurationMinutes: 10})
	s.Upsert(timer.Timer{ID: 7, Start: wt(1, 18, 0), DurationMinutes: 10})
	s.Upsert(timer.Timer{ID: 1, Start: wt(2, 0, 0), DurationMinutes: 10})

	var ids []timer.ID
	for _, tm := range s.AllSortedByStart() {
		ids = append(ids, tm.ID)
	}
	assert.Equal(t, []timer.ID{7, 3, 9, 1}, ids)
}

func TestActiveIDs_ComputedPerCall(t *testing.T) {
	s := NewTimerStore(1)
	s.Upsert(timer.Timer{ID: 1, Start: wt(1, 20, 0), DurationMinutes: 60})
	s.Upsert(timer.Timer{ID: 2, Start: wt(1, 20, 30), DurationMinutes: 60})
	s.Upsert(timer.Timer{ID: 3, Start: wt(1, 23, 0), DurationMinutes: 60})

	assert.Equal(t, []timer.ID{1, 2}, s.ActiveIDs(time.Date(2024, 3, 1, 20, 45, 0, 0, time.UTC)))
	assert.Equal(t, []timer.ID{2}, s.ActiveIDs(time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)))
	assert.Empty(t, s.ActiveIDs(time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)))
}

func TestReplace(t *testing.T) {
	s := NewTimerStore(2)
	s.Upsert(timer.Timer{ID: 1, Start: wt(1, 20, 0), DurationMinutes: 60})

	s.Replace([]timer.Timer{
		{ID: 4, Start: wt(1, 10, 0), DurationMinutes: 5},
		{ID: 5, Start: wt(1, 11, 0), DurationMinutes: 5},
	})

	_, ok := s.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
	got, _ := s.Get(4)
	assert.Equal(t, timer.GroupID(2), got.GroupID)
}

func TestTimerStore_ConcurrentAccess(t *testing.T) {
	s := NewTimerStore(1)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			s.Upsert(timer.Timer{ID: timer.ID(id), Start: wt(1, id%24, 0), DurationMinutes: 1})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.AllSortedByStart()
			_ = s.ActiveIDs(time.Now())
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Group(3)
	b := r.Group(3)
	assert.Same(t, a, b)

	r.Group(1)
	assert.Equal(t, []timer.GroupID{1, 3}, r.Groups())

	_, ok := r.Lookup(8)
	assert.False(t, ok)
}
