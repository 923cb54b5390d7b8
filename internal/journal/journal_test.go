package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndList(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	at := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, Entry{At: at, Op: "add_timer", Group: 1, Channel: 5, Start: "2030-01-01 20:00", DurationMinutes: 30, Outcome: "ok", TimerID: 7}))
	require.NoError(t, j.Append(ctx, Entry{At: at.Add(time.Minute), Op: "add_timer", Group: 1, Outcome: "conflict", ConflictingID: 7}))
	require.NoError(t, j.Append(ctx, Entry{At: at.Add(2 * time.Minute), Op: "delete_timer", Group: 2, TimerID: 3, Outcome: "not_found"}))

	all, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "delete_timer", all[0].Op, "newest first")
	assert.Equal(t, at, all[2].At)
	assert.Equal(t, uint32(7), all[2].TimerID)

	group := uint32(1)
	g1, err := j.List(ctx, Query{Group: &group, Op: "add_timer", Limit: 1})
	require.NoError(t, err)
	require.Len(t, g1, 1)
	assert.Equal(t, "conflict", g1[0].Outcome)
	assert.Equal(t, uint32(7), g1[0].ConflictingID)

	recent, err := j.List(ctx, Query{Since: at.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestAppend_RequiresOpAndOutcome(t *testing.T) {
	j := openTemp(t)
	assert.Error(t, j.Append(context.Background(), Entry{Op: "add_timer"}))
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, j.Append(context.Background(), Entry{Op: "add_timer", Outcome: "ok"}))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	j, err = Open(path, DefaultConfig())
	require.NoError(t, err)
	defer j.Close()
	got, err := j.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
