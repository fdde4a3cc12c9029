//go:build windows

package process

import gopsproc "github.com/shirou/gopsutil/v4/process"

func killProcess(p *gopsproc.Process) error {
	if err := p.Kill(); err != nil {
		if ok, _ := p.IsRunning(); !ok {
			return ErrNotFound
		}
		return err
	}
	return nil
}
