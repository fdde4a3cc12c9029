package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrNotFound is returned by Kill when the pid no longer maps to a live process.
var ErrNotFound = errors.New("process not found")

// Output holds optional writers for a child's stdout and stderr. A nil writer
// makes the child inherit the corresponding stream of the agent. Writers are
// closed once the child has been waited for.
type Output struct {
	Stdout io.WriteCloser
	Stderr io.WriteCloser
}

// Handle is a spawned shell child.
type Handle struct {
	cmd       *exec.Cmd
	out       Output
	startedAt time.Time
	waitOnce  sync.Once
	waitErr   error
}

// Spawn starts command through the platform shell and returns as soon as the
// child exists. The child is placed in its own process group so Kill can take
// down everything the shell started.
func Spawn(command string, out Output) (*Handle, error) {
	cmd := shellCommand(command)
	configureSysProcAttr(cmd)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if out.Stdout != nil {
		cmd.Stdout = out.Stdout
	}
	if out.Stderr != nil {
		cmd.Stderr = out.Stderr
	}
	if err := cmd.Start(); err != nil {
		closeOutput(out)
		return nil, fmt.Errorf("spawn %q: %w", command, err)
	}
	return &Handle{cmd: cmd, out: out, startedAt: time.Now()}, nil
}

func (h *Handle) PID() int { return h.cmd.Process.Pid }

func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Wait blocks until the child exits and reaps it. A non-zero exit or a
// signal death is reported as the error. Safe to call more than once.
func (h *Handle) Wait() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
		closeOutput(h.out)
	})
	return h.waitErr
}

func closeOutput(out Output) {
	if out.Stdout != nil {
		_ = out.Stdout.Close()
	}
	if out.Stderr != nil && out.Stderr != out.Stdout {
		_ = out.Stderr.Close()
	}
}
