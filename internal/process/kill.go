package process

import (
	"errors"
	"slices"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// lookup resolves pid to a live OS process. Zombies count as gone: they
// have exited and only wait for their parent to reap them.
func lookup(pid int) (*gopsproc.Process, error) {
	if pid <= 0 {
		return nil, ErrNotFound
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if st, err := p.Status(); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return nil, ErrNotFound
	}
	return p, nil
}

// Alive reports whether pid refers to a live, non-zombie process.
func Alive(pid int) bool {
	_, err := lookup(pid)
	return err == nil
}

// Kill terminates the process tracked under pid. ErrNotFound means the
// process had already exited, which callers treat as a normal outcome.
func Kill(pid int) error {
	p, err := lookup(pid)
	if err != nil {
		return err
	}
	return killProcess(p)
}
