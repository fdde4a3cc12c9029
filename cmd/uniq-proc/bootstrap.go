package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/matthis-k/uniq-proc/pkg/client"
)

// ensureAgent starts a detached agent when the probe gets no answer and
// waits until it responds.
func ensureAgent(ctx context.Context, a *app, c *client.Client) error {
	if c.Alive(ctx) {
		return nil
	}
	if err := launchAgent(a); err != nil {
		return err
	}

	timeout := a.cfg.LaunchTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.WaitForSocket(ctx, timeout); err != nil {
		return err
	}
	// the file may be a stale socket the new agent has not replaced yet
	for !c.Alive(ctx) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("agent did not answer on %s within %s", c.SocketPath(), timeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// agentArgs rebuilds the command line for the detached agent.
func agentArgs(f *GlobalFlags) []string {
	var args []string
	if f.ConfigPath != "" {
		args = append(args, "--config", f.ConfigPath)
	}
	if f.Keep {
		args = append(args, "-k")
	}
	return append(args, "daemon")
}

func launchAgent(a *app) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204
	cmd := exec.Command(executable, agentArgs(a.flags)...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent process: %w", err)
	}
	return cmd.Process.Release()
}
