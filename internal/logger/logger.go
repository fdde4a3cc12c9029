package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Rotation follows lumberjack semantics.
type Rotation struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func (r Rotation) writer(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(r.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(r.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(r.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   r.Compress,
	}
}

// Config describes the agent's own log. An empty File logs to stderr with
// colored level names.
type Config struct {
	Level    string `mapstructure:"level"`
	File     string `mapstructure:"file"`
	Rotation `mapstructure:",squash"`
}

// New builds a slog.Logger for cfg. The returned closer releases the log
// file, if any.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.File == "" {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true)), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	w := cfg.writer(cfg.File)
	return slog.New(slog.NewTextHandler(w, opts)), w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel maps a level name to slog.Level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// OutputConfig describes where spawned commands write their output.
// With Dir set, files are Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	Rotation `mapstructure:",squash"`
}

// Writers returns rotating writers for the named command, or nils when no
// directory is configured.
func (c OutputConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}
	safe := sanitize(name)
	outW := c.writer(filepath.Join(c.Dir, safe+".stdout.log"))
	errW := c.writer(filepath.Join(c.Dir, safe+".stderr.log"))
	return outW, errW, nil
}

// sanitize keeps a command name usable as a file name.
func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_")
	s := r.Replace(name)
	if s == "" || s == "." || s == ".." {
		return "_" + s
	}
	return s
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
