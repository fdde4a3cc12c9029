package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthis-k/uniq-proc/internal/store"
)

func TestDefaults(t *testing.T) {
	v := New()
	v.Set("config_dir", t.TempDir()) // no uniq-proc.toml there
	c, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSocketPath, c.SocketPath)
	assert.Equal(t, DefaultStatePath, c.StatePath)
	assert.Equal(t, 160*time.Millisecond, c.ReadTimeout)
	assert.Equal(t, 160*time.Millisecond, c.PollInterval)
	assert.Equal(t, DefaultLaunchTimeout, c.LaunchTimeout)
	assert.False(t, c.Keep)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 10, c.Log.MaxSizeMB)
	assert.Empty(t, c.File())
	assert.Equal(t, c.SocketPath+".lock", c.LockPath())
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.toml")
	data := `
socket_path = "/run/user/1000/uniq.sock"
state_path = "/run/user/1000/uniq.state"
config_dir = "` + dir + `"
read_timeout = "50ms"

[log]
level = "debug"
file = "/var/log/uniq.log"
max_backups = 9
compress = true

[output]
dir = "/tmp/uniq-out"

[metrics]
enabled = true
listen = "127.0.0.1:9464"

[history]
dsn = "sqlite:///tmp/history.db"
`
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))

	c, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/uniq.sock", c.SocketPath)
	assert.Equal(t, "/run/user/1000/uniq.state", c.StatePath)
	assert.Equal(t, filepath.Join(dir, store.CommandsFile), c.CommandsPath())
	assert.Equal(t, filepath.Join(dir, "config.json"), c.CommandsPath())
	assert.Equal(t, 50*time.Millisecond, c.ReadTimeout)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "/var/log/uniq.log", c.Log.File)
	assert.Equal(t, 9, c.Log.MaxBackups)
	assert.True(t, c.Log.Compress)
	assert.Equal(t, "/tmp/uniq-out", c.Output.Dir)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9464", c.Metrics.Listen)
	assert.Equal(t, "sqlite:///tmp/history.db", c.History.DSN)
	assert.Equal(t, file, c.File())
}

func TestLoadPicksUpFileInConfigDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uniq-proc.toml"), []byte(`socket_path = "/tmp/from-dir.sock"`), 0o644))
	v := New()
	v.Set("config_dir", dir)
	c, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dir.sock", c.SocketPath)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("UNIQ_PROC_SOCKET_PATH", "/tmp/env.sock")
	t.Setenv("UNIQ_PROC_LOG_LEVEL", "warn")
	v := New()
	v.Set("config_dir", t.TempDir())
	c, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.sock", c.SocketPath)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestValidationErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.toml")
	data := `
socket_path = ""
poll_interval = "0s"
[log]
level = "chatty"
[metrics]
enabled = true
`
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))
	_, err := LoadConfig(file)
	require.Error(t, err)
	for _, want := range []string{"socket_path", "poll_interval", "chatty", "metrics.listen"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
