package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matthis-k/uniq-proc/internal/history"
	"github.com/matthis-k/uniq-proc/internal/logger"
	"github.com/matthis-k/uniq-proc/internal/metrics"
	"github.com/matthis-k/uniq-proc/internal/process"
	"github.com/matthis-k/uniq-proc/internal/protocol"
	"github.com/matthis-k/uniq-proc/internal/registry"
)

const defaultHistoryTimeout = 2 * time.Second

// Child is a spawned command as seen by the manager.
type Child interface {
	PID() int
	Wait() error
}

// Options configures a Manager. Zero values are usable.
type Options struct {
	Output         logger.OutputConfig
	History        history.Sink
	HistoryTimeout time.Duration
	Logger         *slog.Logger
}

// Manager answers client requests against a registry. It never holds the
// registry lock while waiting for a child to exit.
type Manager struct {
	reg     *registry.Registry
	output  logger.OutputConfig
	sink    history.Sink
	histTTL time.Duration
	log     *slog.Logger

	spawn func(command string, out process.Output) (Child, error)
	kill  func(pid int) error
}

func New(reg *registry.Registry, opts Options) *Manager {
	m := &Manager{
		reg:     reg,
		output:  opts.Output,
		sink:    opts.History,
		histTTL: opts.HistoryTimeout,
		log:     opts.Logger,
		spawn: func(command string, out process.Output) (Child, error) {
			return process.Spawn(command, out)
		},
		kill: process.Kill,
	}
	if m.sink == nil {
		m.sink = history.Nop{}
	}
	if m.histTTL <= 0 {
		m.histTTL = defaultHistoryTimeout
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Handle dispatches one request and returns the response text.
func (m *Manager) Handle(ctx context.Context, req protocol.Request) string {
	metrics.IncRequest(string(req.Verb))
	switch req.Verb {
	case protocol.VerbAdd:
		return m.Add(req.Name, req.Command)
	case protocol.VerbRemove:
		return m.Remove(req.Name)
	case protocol.VerbList:
		return m.List()
	case protocol.VerbAlive:
		return protocol.AliveToken
	case protocol.VerbExecute:
		return m.Execute(ctx, req.Name)
	case protocol.VerbKill:
		return m.Kill(ctx, req.Name)
	case protocol.VerbRestart:
		return m.Restart(ctx, req.Name)
	case protocol.VerbToggle:
		return m.Toggle(ctx, req.Name)
	}
	return protocol.ParseFailure
}

func (m *Manager) Add(name, command string) string {
	var stored string
	err := m.reg.Do(func(tx *registry.Tx) error {
		tx.SetCommand(name, command)
		stored, _ = tx.Command(name)
		return nil
	})
	if err != nil {
		return m.persistFailure("add", name, err)
	}
	m.log.Info("command added", "name", name, "command", command)
	return "Added: " + stored
}

func (m *Manager) Remove(name string) string {
	err := m.reg.Do(func(tx *registry.Tx) error {
		tx.RemoveCommand(name)
		return nil
	})
	if err != nil {
		return m.persistFailure("remove", name, err)
	}
	m.log.Info("command removed", "name", name)
	return "Removed " + name
}

// List returns the command definitions as a JSON object.
func (m *Manager) List() string {
	var cmds map[string]string
	_ = m.reg.Do(func(tx *registry.Tx) error {
		cmds = tx.Commands()
		return nil
	})
	b, err := json.Marshal(cmds)
	if err != nil {
		return fmt.Sprintf("Failed to list commands: %v", err)
	}
	return string(b)
}

var (
	errAlreadyRunning = errors.New("already running")
	errNotRegistered  = errors.New("not registered")
	errNotRunning     = errors.New("not running")
)

// Execute starts the named command and blocks until it exits.
func (m *Manager) Execute(ctx context.Context, name string) string {
	var command string
	err := m.reg.Do(func(tx *registry.Tx) error {
		c, ok := tx.Command(name)
		if !ok {
			return errNotRegistered
		}
		if _, running := tx.PID(name); running {
			return errAlreadyRunning
		}
		command = c
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyRunning):
		return name + " is already running"
	case errors.Is(err, errNotRegistered):
		return name + " is not registered"
	}

	stdout, stderr, err := m.output.Writers(name)
	if err != nil {
		m.log.Error("open output", "name", name, "error", err)
		return fmt.Sprintf("Failed to execute %s: %v", name, err)
	}
	child, err := m.spawn(command, process.Output{Stdout: stdout, Stderr: stderr})
	if err != nil {
		m.log.Error("spawn failed", "name", name, "error", err)
		return fmt.Sprintf("Failed to execute %s: %v", name, err)
	}
	pid := child.PID()
	started := time.Now()

	err = m.reg.Do(func(tx *registry.Tx) error {
		tx.Track(name, pid)
		metrics.SetRunning(tx.RunningCount())
		return nil
	})
	if err != nil {
		m.log.Error("persist after spawn", "name", name, "pid", pid, "error", err)
	}
	metrics.IncExecution(name)
	m.log.Info("command started", "name", name, "pid", pid)
	m.record(ctx, history.Event{Type: history.EventExecute, OccurredAt: started, Name: name, PID: pid, Command: command})

	waitErr := child.Wait()
	elapsed := time.Since(started)

	var removed, replaced bool
	err = m.reg.Do(func(tx *registry.Tx) error {
		removed = tx.Untrack(name, pid)
		if !removed {
			_, replaced = tx.PID(name)
		}
		metrics.SetRunning(tx.RunningCount())
		return nil
	})
	if err != nil {
		m.log.Error("persist after exit", "name", name, "pid", pid, "error", err)
	}

	metrics.ObserveExit(name, waitErr == nil, elapsed.Seconds())
	ev := history.Event{Type: history.EventExit, OccurredAt: time.Now(), Name: name, PID: pid, Duration: elapsed}
	if waitErr != nil {
		ev.ExitErr = waitErr.Error()
		m.log.Warn("command exited with error", "name", name, "pid", pid, "error", waitErr)
	} else {
		m.log.Info("command exited", "name", name, "pid", pid, "duration", elapsed)
	}
	m.record(ctx, ev)

	switch {
	case replaced:
		return name + " executed successfully, but another instance replaced it while it was finishing"
	case !removed:
		return name + " executed successfully, but it was killed before it finished"
	}
	return name + " executed successfully"
}

// Kill terminates the tracked instance of name. The entry is dropped only
// when the process was found and signalled.
func (m *Manager) Kill(ctx context.Context, name string) string {
	var (
		pid     int
		killErr error
	)
	err := m.reg.Do(func(tx *registry.Tx) error {
		p, ok := tx.PID(name)
		if !ok {
			return errNotRunning
		}
		pid = p
		if killErr = m.kill(pid); killErr != nil {
			return nil
		}
		tx.Untrack(name, pid)
		metrics.SetRunning(tx.RunningCount())
		return nil
	})
	if errors.Is(err, errNotRunning) {
		return name + " was not running via uniq-proc"
	}
	if killErr != nil {
		if errors.Is(killErr, process.ErrNotFound) {
			m.log.Warn("tracked process is gone; restart the agent without -k to forget it", "name", name, "pid", pid)
			return fmt.Sprintf("Failed to find the process of %s (pid %d)", name, pid)
		}
		m.log.Error("kill failed", "name", name, "pid", pid, "error", killErr)
		return fmt.Sprintf("Failed to kill %s (pid %d): %v", name, pid, killErr)
	}
	if err != nil {
		return m.persistFailure("kill", name, err)
	}

	metrics.IncKill(name)
	m.log.Info("command killed", "name", name, "pid", pid)
	m.record(ctx, history.Event{Type: history.EventKill, OccurredAt: time.Now(), Name: name, PID: pid})
	return "Successfully killed " + name
}

// Toggle kills name when it is running and executes it otherwise. The check
// and the action are separate critical sections.
func (m *Manager) Toggle(ctx context.Context, name string) string {
	var running bool
	_ = m.reg.Do(func(tx *registry.Tx) error {
		_, running = tx.PID(name)
		return nil
	})
	if running {
		return m.Kill(ctx, name)
	}
	return m.Execute(ctx, name)
}

// Restart kills and then executes name, whatever the kill outcome.
func (m *Manager) Restart(ctx context.Context, name string) string {
	killed := m.Kill(ctx, name)
	return killed + "\n" + m.Execute(ctx, name)
}

func (m *Manager) record(ctx context.Context, ev history.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.histTTL)
	defer cancel()
	if err := m.sink.Send(ctx, ev); err != nil {
		m.log.Warn("history write failed", "type", ev.Type, "name", ev.Name, "error", err)
	}
}

func (m *Manager) persistFailure(op, name string, err error) string {
	m.log.Error("persist failed", "op", op, "name", name, "error", err)
	return fmt.Sprintf("Failed to %s %s: %v", op, name, err)
}
