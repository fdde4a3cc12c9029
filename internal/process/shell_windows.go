//go:build windows

package process

import "os/exec"

// shellCommand returns a command running script under cmd.exe
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/C", script)
}
