//go:build !windows

package process

import "os/exec"

// shellCommand returns a command running script under /bin/sh
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}
