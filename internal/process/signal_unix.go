//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killProcess sends SIGKILL to the process group when p leads one (children
// spawned by this package always do), otherwise to p alone.
func killProcess(p *gopsproc.Process) error {
	pid := int(p.Pid)
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		err := syscall.Kill(-pid, syscall.SIGKILL)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.ESRCH) {
			return ErrNotFound
		}
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
