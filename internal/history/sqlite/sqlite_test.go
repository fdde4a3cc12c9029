package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthis-k/uniq-proc/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	now := time.Now().UTC()

	events := []history.Event{
		{Type: history.EventExecute, OccurredAt: now, Name: "editor", PID: 42, Command: "sleep 1"},
		{Type: history.EventExit, OccurredAt: now.Add(time.Second), Name: "editor", PID: 42, Duration: time.Second},
		{Type: history.EventKill, OccurredAt: now, Name: "other", PID: 7},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	n, err := sink.Count(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := sink.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, all)
}

func TestSQLiteSink_StoresExitError(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventExit, OccurredAt: time.Now(), Name: "broken", PID: 3,
		ExitErr: errors.New("exit status 1").Error(),
	}))

	var msg string
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT error FROM command_history WHERE name='broken'`).Scan(&msg))
	assert.Equal(t, "exit status 1", msg)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("   ")
	assert.Error(t, err)
}
