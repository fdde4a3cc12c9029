package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthis-k/uniq-proc/internal/config"
	"github.com/matthis-k/uniq-proc/internal/history"
	"github.com/matthis-k/uniq-proc/internal/history/factory"
	"github.com/matthis-k/uniq-proc/internal/ipc"
	"github.com/matthis-k/uniq-proc/internal/manager"
	"github.com/matthis-k/uniq-proc/internal/metrics"
	"github.com/matthis-k/uniq-proc/internal/registry"
	"github.com/matthis-k/uniq-proc/internal/server"
	"github.com/matthis-k/uniq-proc/internal/store"
	"github.com/matthis-k/uniq-proc/pkg/client"
)

// ErrAlreadyRunning is returned by Run when another agent owns the socket.
var ErrAlreadyRunning = errors.New("uniq-proc agent is already running")

// Daemon hosts the IPC server and the registry for one socket path.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	ready  chan struct{}
	status *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{cfg: cfg, logger: logger, ready: make(chan struct{})}
}

// Ready is closed once the socket is bound and requests are accepted.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// StatusAddr returns the address of the status server, empty when disabled.
func (d *Daemon) StatusAddr() string {
	if d.status == nil {
		return ""
	}
	return d.status.Addr
}

// Run starts the agent and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives. On the way out the registry is saved once more and the socket
// file removed; failing to remove it is returned as an error.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	probe := client.New(client.Config{SocketPath: cfg.SocketPath, AliveTimeout: time.Second, Logger: d.logger})
	if probe.Alive(ctx) {
		return ErrAlreadyRunning
	}

	// Two agents launched at once can both pass the probe; the lock decides.
	if err := os.MkdirAll(filepath.Dir(cfg.LockPath()), 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}
	fileLock := flock.New(cfg.LockPath())
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s held by another process)", ErrAlreadyRunning, cfg.LockPath())
	}
	defer func() { _ = fileLock.Unlock() }()

	fs := store.New(cfg.ConfigDir, cfg.StatePath)
	initial, err := fs.Load(cfg.Keep)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	reg := registry.New(initial, fs)

	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		d.logger.Warn("history disabled", "dsn", cfg.History.DSN, "error", err)
		sink = history.Nop{}
	}
	defer func() { _ = sink.Close() }()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		metrics.SetRunning(len(initial.Running))
	}
	if cfg.Metrics.Listen != "" {
		srv, err := server.NewServer(cfg.Metrics.Listen, "", reg, cfg.Metrics.Enabled)
		if err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
		d.status = srv
		d.logger.Info("status server listening", "addr", srv.Addr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := os.Remove(cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := ipc.Listen(cfg.SocketPath)
	if err != nil {
		return err
	}

	mgr := manager.New(reg, manager.Options{
		Output:  cfg.Output,
		History: sink,
		Logger:  d.logger,
	})
	srv := ipc.NewServer(ln, mgr, cfg.ReadTimeout, cfg.PollInterval, d.logger)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d.logger.Info("agent started", "pid", os.Getpid(), "socket", cfg.SocketPath,
		"commands", len(initial.Commands), "running", len(initial.Running), "keep", cfg.Keep)
	close(d.ready)

	serveErr := srv.Serve(sigCtx)
	_ = srv.Close()
	d.logger.Info("agent shutting down")

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := reg.Save(); err != nil {
		d.logger.Error("final save failed", "error", err)
		errs = append(errs, fmt.Errorf("final save: %w", err))
	}
	if err := os.Remove(cfg.SocketPath); err != nil {
		errs = append(errs, fmt.Errorf("remove socket %s: %w", cfg.SocketPath, err))
	}
	return errors.Join(errs...)
}
