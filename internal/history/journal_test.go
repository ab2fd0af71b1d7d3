package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/embedded-vault/internal/infrastructure/database"
	"github.com/nerrad567/embedded-vault/internal/lifecycle"
	"github.com/nerrad567/embedded-vault/migrations"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "index.db"), WALMode: true, BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background(), migrations.Source()))
	return NewJournal(db.DB)
}

// warnCounter counts Warn calls.
type warnCounter struct {
	noopLogger
	warns int
}

func (w *warnCounter) Warn(string, ...any) { w.warns++ }

func TestRecordAndList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)

	events := []lifecycle.Event{
		{Kind: lifecycle.KindStarting, ServerID: "a", Version: "0.10.1", Time: base},
		{Kind: lifecycle.KindReady, ServerID: "a", Version: "0.10.1", PID: 42, Address: "127.0.0.1:8200",
			Time: base.Add(time.Second), Duration: 1500 * time.Millisecond},
		{Kind: lifecycle.KindStartupFailed, ServerID: "b", Time: base.Add(2 * time.Second), Error: "Error parsing config"},
	}
	for _, e := range events {
		_, err := j.Record(ctx, e)
		require.NoError(t, err)
	}

	all, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, defaultLimit, all.Limit)
	require.Len(t, all.Entries, 3)
	assert.Equal(t, lifecycle.KindStartupFailed, all.Entries[0].Kind, "newest first")
	assert.Equal(t, "Error parsing config", all.Entries[0].Error)

	ready := all.Entries[1]
	assert.Equal(t, 42, ready.PID)
	assert.Equal(t, "127.0.0.1:8200", ready.Address)
	assert.Equal(t, 1500*time.Millisecond, ready.Duration)
	assert.True(t, ready.Time.Equal(base.Add(time.Second)))
	assert.Regexp(t, `^evt-`, ready.ID)

	byServer, err := j.List(ctx, Filter{ServerID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, byServer.Total)

	byKind, err := j.List(ctx, Filter{ServerID: "a", Kind: lifecycle.KindReady})
	require.NoError(t, err)
	require.Len(t, byKind.Entries, 1)
	assert.Equal(t, 42, byKind.Entries[0].PID)
}

func TestList_Pagination(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		_, err := j.Record(ctx, lifecycle.Event{
			Kind:     lifecycle.KindStarting,
			ServerID: fmt.Sprintf("srv-%d", i),
			Time:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	tests := []struct {
		name       string
		filter     Filter
		wantLen    int
		wantFirst  string
		wantLimit  int
		wantOffset int
	}{
		{"first page", Filter{Limit: 3}, 3, "srv-6", 3, 0},
		{"second page", Filter{Limit: 3, Offset: 3}, 3, "srv-3", 3, 3},
		{"last page", Filter{Limit: 3, Offset: 6}, 1, "srv-0", 3, 6},
		{"negative offset clamped", Filter{Limit: 2, Offset: -4}, 2, "srv-6", 2, 0},
		{"limit clamped", Filter{Limit: 10_000}, 7, "srv-6", maxLimit, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := j.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, 7, res.Total)
			assert.Equal(t, tt.wantLimit, res.Limit)
			assert.Equal(t, tt.wantOffset, res.Offset)
			require.Len(t, res.Entries, tt.wantLen)
			assert.Equal(t, tt.wantFirst, res.Entries[0].ServerID)
		})
	}
}

func TestList_Empty(t *testing.T) {
	res, err := newTestJournal(t).List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, res.Entries)
	assert.Empty(t, res.Entries)
}

func TestRecord_Validation(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Record(context.Background(), lifecycle.Event{ServerID: "a"})
	assert.Error(t, err)
	_, err = j.Record(context.Background(), lifecycle.Event{Kind: lifecycle.KindReady})
	assert.Error(t, err)
}

func TestRecord_DefaultsTime(t *testing.T) {
	j := newTestJournal(t)
	before := time.Now()
	entry, err := j.Record(context.Background(), lifecycle.Event{Kind: lifecycle.KindStopped, ServerID: "a"})
	require.NoError(t, err)
	assert.False(t, entry.Time.Before(before))
}

func TestEmit_AsSink(t *testing.T) {
	j := newTestJournal(t)
	logger := &warnCounter{}
	j.SetLogger(logger)

	var sink lifecycle.Sink = lifecycle.MultiSink{j}
	sink.Emit(lifecycle.Event{Kind: lifecycle.KindReady, ServerID: "a"})
	sink.Emit(lifecycle.Event{Kind: lifecycle.KindReady})

	res, err := j.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, logger.warns, "invalid event should be logged, not recorded")
}

func TestPrune(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := j.Record(ctx, lifecycle.Event{
			Kind:     lifecycle.KindStarting,
			ServerID: fmt.Sprintf("srv-%d", i),
			Time:     base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	removed, err := j.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = j.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	res, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "srv-4", res.Entries[0].ServerID)
	assert.Equal(t, "srv-3", res.Entries[1].ServerID)
}
