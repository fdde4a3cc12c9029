package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthis-k/uniq-proc/internal/registry"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "config", "uniq-proc"), filepath.Join(dir, "uniq-proc.state"))
}

func TestLoadEmpty(t *testing.T) {
	s := newTestStore(t)
	for _, keep := range []bool{false, true} {
		st, err := s.Load(keep)
		require.NoError(t, err)
		assert.Empty(t, st.Commands)
		assert.Empty(t, st.Running)
		assert.NotNil(t, st.Commands)
		assert.NotNil(t, st.Running)
	}
}

func TestRoundTripWithKeepAndNoCommandStore(t *testing.T) {
	s := newTestStore(t)
	want := registry.State{
		Commands: map[string]string{"sleep": "sleep 1", "web": "python -m http.server"},
		Running:  map[string]int{"sleep": 4242},
	}
	require.NoError(t, s.SaveSnapshot(want))

	got, err := s.Load(true)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCommandStoreWinsForCommands(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSnapshot(registry.State{
		Commands: map[string]string{"old": "true"},
		Running:  map[string]int{"old": 7},
	}))
	require.NoError(t, s.SaveCommands(map[string]string{"new": "echo hi"}))

	got, err := s.Load(true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"new": "echo hi"}, got.Commands)
	assert.Equal(t, map[string]int{"old": 7}, got.Running, "running is always recovered with keep")

	got, err = s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"new": "echo hi"}, got.Commands)
	assert.Empty(t, got.Running, "without keep the snapshot is ignored")
}

func TestSaveCommandsCreatesConfigDir(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveCommands(nil))
	b, err := os.ReadFile(s.CommandsPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestLoadCorruptSnapshot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.SnapshotPath, []byte("{not json"), 0o600))
	_, err := s.Load(true)
	assert.Error(t, err)

	// without keep the snapshot is never read
	_, err = s.Load(false)
	assert.NoError(t, err)
}

func TestSnapshotLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveSnapshot(registry.NewState()))
	}
	entries, err := os.ReadDir(filepath.Dir(s.SnapshotPath))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"uniq-proc.state"}, names)
}
