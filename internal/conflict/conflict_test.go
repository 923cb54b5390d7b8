package conflict

import (
	"testing"
	"time"

	"github.com/ManuGH/dvbsched/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wt(h, m int) timer.WallTime {
	return timer.WallTime{Year: 2024, Month: 3, Day: 1, Hour: h, Minute: m}
}

// morning is well before every fixture start.
var morning = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestCheck_Scenario(t *testing.T) {
	a := timer.Timer{ID: 11, Channel: 5, Start: wt(20, 0), DurationMinutes: 60}
	existing := []timer.Timer{a}

	b := timer.Timer{Channel: 7, Start: wt(20, 30), DurationMinutes: 30}
	res := Checker{}.Check(existing, b, morning)
	assert.Equal(t, Result{Kind: KindOverlaps, ConflictingID: 11}, res)

	c := timer.Timer{Channel: 7, Start: wt(21, 0), DurationMinutes: 30}
	assert.True(t, Checker{}.Check(existing, c, morning).OK())
}

func TestCheck_OverlapSymmetry(t *testing.T) {
	cases := []struct {
		name string
		a, b timer.Timer
	}{
		{"contained", timer.Timer{ID: 1, Start: wt(20, 0), DurationMinutes: 120}, timer.Timer{ID: 2, Start: wt(20, 30), DurationMinutes: 10}},
		{"tail", timer.Timer{ID: 1, Start: wt(20, 0), DurationMinutes: 60}, timer.Timer{ID: 2, Start: wt(20, 59), DurationMinutes: 10}},
		{"touching", timer.Timer{ID: 1, Start: wt(20, 0), DurationMinutes: 60}, timer.Timer{ID: 2, Start: wt(21, 0), DurationMinutes: 10}},
		{"disjoint", timer.Timer{ID: 1, Start: wt(10, 0), DurationMinutes: 60}, timer.Timer{ID: 2, Start: wt(21, 0), DurationMinutes: 10}},
		{"identical", timer.Timer{ID: 1, Start: wt(10, 0), DurationMinutes: 60}, timer.Timer{ID: 2, Start: wt(10, 0), DurationMinutes: 60}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ab := Checker{}.Check([]timer.Timer{tc.a}, tc.b, morning)
			ba := Checker{}.Check([]timer.Timer{tc.b}, tc.a, morning)
			assert.Equal(t, ab.Kind, ba.Kind)
			assert.Equal(t, ab.Kind == KindOverlaps, tc.a.Overlaps(tc.b))
		})
	}
}

func TestCheck_TouchingDoesNotConflict(t *testing.T) {
	existing := []timer.Timer{{ID: 1, Start: wt(19, 0), DurationMinutes: 60}}
	res := Checker{}.Check(existing, timer.Timer{Start: wt(20, 0), DurationMinutes: 30}, morning)
	assert.True(t, res.OK(), res.String())

	res = Checker{}.Check(existing, timer.Timer{Start: wt(18, 30), DurationMinutes: 30}, morning)
	assert.True(t, res.OK(), res.String())
}

func TestCheck_PastStartBoundary(t *testing.T) {
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	accepted := Checker{}.Check(nil, timer.Timer{Start: timer.FromTime(now.Add(-59 * time.Minute)), DurationMinutes: 90}, now)
	assert.True(t, accepted.OK())

	exact := Checker{}.Check(nil, timer.Timer{Start: timer.FromTime(now.Add(-60 * time.Minute)), DurationMinutes: 90}, now)
	assert.True(t, exact.OK(), "the grace window is inclusive")

	rejected := Checker{}.Check(nil, timer.Timer{Start: timer.FromTime(now.Add(-61 * time.Minute)), DurationMinutes: 90}, now)
	assert.Equal(t, Result{Kind: KindStartsInPast, AllowedSkew: time.Hour}, rejected)
}

func TestCheck_PastStartRunsBeforeOverlap(t *testing.T) {
	now := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	existing := []timer.Timer{{ID: 1, Start: wt(20, 0), DurationMinutes: 60}}

	res := Checker{}.Check(existing, timer.Timer{Start: wt(20, 0), DurationMinutes: 30}, now)
	assert.Equal(t, KindStartsInPast, res.Kind)
}

func TestCheck_CustomGrace(t *testing.T) {
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	c := New(10*time.Minute, PolicySingleTuner)

	res := c.Check(nil, timer.Timer{Start: wt(19, 45), DurationMinutes: 30}, now)
	assert.Equal(t, Result{Kind: KindStartsInPast, AllowedSkew: 10 * time.Minute}, res)
}

func TestCheck_LowestConflictingID(t *testing.T) {
	existing := []timer.Timer{
		{ID: 40, Start: wt(20, 0), DurationMinutes: 60},
		{ID: 12, Start: wt(20, 30), DurationMinutes: 60},
		{ID: 3, Start: wt(23, 0), DurationMinutes: 60},
		{ID: 25, Start: wt(19, 0), DurationMinutes: 90},
	}
	res := Checker{}.Check(existing, timer.Timer{Start: wt(20, 15), DurationMinutes: 20}, morning)
	assert.Equal(t, timer.ID(12), res.ConflictingID)
}

func TestCheck_SkipsOwnID(t *testing.T) {
	existing := []timer.Timer{
		{ID: 1, Start: wt(20, 0), DurationMinutes: 60},
		{ID: 2, Start: wt(22, 0), DurationMinutes: 60},
	}
	moved := timer.Timer{ID: 1, Start: wt(20, 30), DurationMinutes: 60}
	assert.True(t, Checker{}.Check(existing, moved, morning).OK())

	moved.DurationMinutes = 120
	assert.Equal(t, timer.ID(2), Checker{}.Check(existing, moved, morning).ConflictingID)
}

func TestCheck_SameChannelPolicy(t *testing.T) {
	existing := []timer.Timer{{ID: 1, Channel: 5, Start: wt(20, 0), DurationMinutes: 60}}
	c := New(0, PolicySameChannel)

	assert.True(t, c.Check(existing, timer.Timer{Channel: 7, Start: wt(20, 30), DurationMinutes: 30}, morning).OK())
	assert.Equal(t, KindOverlaps, c.Check(existing, timer.Timer{Channel: 5, Start: wt(20, 30), DurationMinutes: 30}, morning).Kind)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySingleTuner, p)

	p, err = ParsePolicy("same-channel")
	require.NoError(t, err)
	assert.Equal(t, PolicySameChannel, p)

	_, err = ParsePolicy("multi")
	assert.Error(t, err)
}

func TestEventCoverage(t *testing.T) {
	ev := timer.EPGEvent{Channel: 5, Start: wt(18, 0), Duration: 30 * time.Minute}

	assert.Equal(t, CoverageNone, EventCoverage(nil, ev))
	assert.Equal(t, CoverageNone, EventCoverage([]timer.Timer{{ID: 1, Channel: 6, Start: wt(18, 0), DurationMinutes: 30}}, ev))
	assert.Equal(t, CoveragePartial, EventCoverage([]timer.Timer{{ID: 1, Channel: 5, Start: wt(18, 10), DurationMinutes: 60}}, ev))
	assert.Equal(t, CoverageComplete, EventCoverage([]timer.Timer{{ID: 1, Channel: 5, Start: wt(17, 55), DurationMinutes: 40}}, ev))
	assert.Equal(t, CoverageComplete, EventCoverage([]timer.Timer{
		{ID: 1, Channel: 5, Start: wt(18, 0), DurationMinutes: 15},
		{ID: 2, Channel: 5, Start: wt(18, 15), DurationMinutes: 15},
	}, ev))
	assert.Equal(t, CoveragePartial, EventCoverage([]timer.Timer{
		{ID: 1, Channel: 5, Start: wt(18, 0), DurationMinutes: 10},
		{ID: 2, Channel: 5, Start: wt(18, 15), DurationMinutes: 15},
	}, ev))
}
