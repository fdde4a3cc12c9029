package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestSpawnReturnsBeforeCommandFinishes(t *testing.T) {
	requireUnix(t)
	start := time.Now()
	h, err := Spawn("sleep 0.5", Output{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond, "Spawn must not wait for the child")
	assert.Greater(t, h.PID(), 0)
	assert.True(t, Alive(h.PID()))

	require.NoError(t, h.Wait())
	assert.GreaterOrEqual(t, time.Since(h.StartedAt()), 400*time.Millisecond)
	assert.False(t, Alive(h.PID()))
}

func TestWaitReportsExitStatus(t *testing.T) {
	requireUnix(t)
	h, err := Spawn("exit 3", Output{})
	require.NoError(t, err)
	err = h.Wait()
	var ee *exec.ExitError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, 3, ee.ExitCode())
	// idempotent
	assert.Equal(t, err, h.Wait())
}

func TestSpawnWritesToOutput(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "job.stdout.log")
	errPath := filepath.Join(dir, "job.stderr.log")
	h, err := Spawn("echo out; echo err 1>&2", Output{
		Stdout: &lj.Logger{Filename: outPath},
		Stderr: &lj.Logger{Filename: errPath},
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	b, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "out", strings.TrimSpace(string(b)))
	b, err = os.ReadFile(errPath)
	require.NoError(t, err)
	assert.Equal(t, "err", strings.TrimSpace(string(b)))
}

func TestKillRunningProcessGroup(t *testing.T) {
	requireUnix(t)
	// the shell forks sleep as a grandchild; killing the group must take both down
	h, err := Spawn("sleep 30; true", Output{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	require.NoError(t, Kill(h.PID()))
	select {
	case err := <-done:
		assert.Error(t, err, "killed child reports a signal exit")
	case <-time.After(3 * time.Second):
		t.Fatal("child was not killed")
	}
}

func TestKillMissingProcess(t *testing.T) {
	requireUnix(t)
	h, err := Spawn("true", Output{})
	require.NoError(t, err)
	_ = h.Wait()

	assert.ErrorIs(t, Kill(h.PID()), ErrNotFound)
	assert.ErrorIs(t, Kill(0), ErrNotFound)
	assert.ErrorIs(t, Kill(-5), ErrNotFound)
}

func TestKillZombieIsNotFound(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie state is read from /proc")
	}
	h, err := Spawn("true", Output{})
	require.NoError(t, err)
	// not reaped yet: the child lingers as a zombie
	deadline := time.Now().Add(2 * time.Second)
	for Alive(h.PID()) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.ErrorIs(t, Kill(h.PID()), ErrNotFound)
	_ = h.Wait()
}
