package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matthis-k/uniq-proc/internal/logger"
	"github.com/matthis-k/uniq-proc/internal/store"
	"github.com/spf13/viper"
)

// AppName names the per-application config directory and the env prefix.
const AppName = "uniq-proc"

// Defaults
const (
	DefaultSocketPath    = "/tmp/uniq-proc.sock"
	DefaultStatePath     = "/tmp/uniq-proc.state"
	DefaultReadTimeout   = 160 * time.Millisecond
	DefaultPollInterval  = 160 * time.Millisecond
	DefaultLaunchTimeout = 5 * time.Second
	configFileName       = "uniq-proc.toml"
)

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type HistoryConfig struct {
	// DSN selects the sink: sqlite://, postgres://, clickhouse:// or a bare
	// SQLite file path. Empty disables history.
	DSN string `mapstructure:"dsn"`
}

// Config is the resolved agent and client configuration.
type Config struct {
	SocketPath    string              `mapstructure:"socket_path"`
	StatePath     string              `mapstructure:"state_path"`
	ConfigDir     string              `mapstructure:"config_dir"`
	Keep          bool                `mapstructure:"keep"`
	ReadTimeout   time.Duration       `mapstructure:"read_timeout"`
	PollInterval  time.Duration       `mapstructure:"poll_interval"`
	LaunchTimeout time.Duration       `mapstructure:"launch_timeout"`
	Log           logger.Config       `mapstructure:"log"`
	Output        logger.OutputConfig `mapstructure:"output"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	History       HistoryConfig       `mapstructure:"history"`

	// path of the config file that was read, empty when none
	file string
}

// File returns the config file the values were read from, if any.
func (c *Config) File() string { return c.file }

// DefaultConfigDir returns $XDG_CONFIG_HOME/uniq-proc (or the platform
// equivalent).
func DefaultConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName)
}

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("socket_path", DefaultSocketPath)
	v.SetDefault("state_path", DefaultStatePath)
	v.SetDefault("config_dir", DefaultConfigDir())
	v.SetDefault("keep", false)
	v.SetDefault("read_timeout", DefaultReadTimeout)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("launch_timeout", DefaultLaunchTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("output.dir", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.dsn", "")

	v.SetEnvPrefix(strings.ReplaceAll(AppName, "-", "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional TOML file at path into v and returns the
// validated configuration. With an empty path, uniq-proc.toml in the
// default config directory is used when it exists.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		candidate := filepath.Join(v.GetString("config_dir"), configFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.file = path
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfig is Load with a fresh viper instance.
func LoadConfig(path string) (*Config, error) { return Load(New(), path) }

// CommandsPath is the command-definition store inside ConfigDir.
func (c *Config) CommandsPath() string { return filepath.Join(c.ConfigDir, store.CommandsFile) }

// LockPath is the exclusive start lock next to the socket.
func (c *Config) LockPath() string { return c.SocketPath + ".lock" }

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SocketPath) == "" {
		errs = append(errs, errors.New("socket_path must not be empty"))
	}
	if strings.TrimSpace(c.StatePath) == "" {
		errs = append(errs, errors.New("state_path must not be empty"))
	}
	if strings.TrimSpace(c.ConfigDir) == "" {
		errs = append(errs, errors.New("config_dir must not be empty"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.LaunchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("launch_timeout must be positive, got %s", c.LaunchTimeout))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}
