package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matthis-k/uniq-proc/internal/config"
	"github.com/matthis-k/uniq-proc/internal/daemon"
	"github.com/matthis-k/uniq-proc/internal/logger"
	"github.com/matthis-k/uniq-proc/internal/protocol"
	"github.com/matthis-k/uniq-proc/pkg/client"
)

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Keep       bool
}

// app carries what PersistentPreRunE resolved.
type app struct {
	flags *GlobalFlags
	cfg   *config.Config
}

func buildRoot() *cobra.Command {
	a := &app{flags: &GlobalFlags{}}
	root := createRootCommand(a)
	root.AddCommand(
		createAddCommand(a),
		createRemoveCommand(a),
		createListCommand(a),
		createExecuteCommand(a),
		createKillCommand(a),
		createRestartCommand(a),
		createToggleCommand(a),
		createDaemonCommand(a),
	)
	return root
}

func createRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "uniq-proc",
		Short: "Manages unique processes",
		Long: `uniq-proc runs named shell commands with at most one instance per name.
A background agent owns the bookkeeping; it is started on first use.

Examples:
  uniq-proc add bar "waybar"
  uniq-proc toggle bar
  uniq-proc list`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := config.New()
			if err := v.BindPFlag("keep", cmd.Flags().Lookup("keep")); err != nil {
				return err
			}
			cfg, err := config.Load(v, a.flags.ConfigPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().BoolVarP(&a.flags.Keep, "keep", "k", false, "continue from the last agent state")
	return root
}

func createAddCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <command>",
		Short: "Register or replace a named command",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.request(cmd, protocol.Add(args[0], args[1]))
		},
	}
}

func createRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Forget a named command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.request(cmd, protocol.Remove(args[0]))
		},
	}
}

func createListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the registered commands as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.request(cmd, protocol.List())
		},
	}
}

func createExecuteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <name>",
		Short: "Run a named command unless it is already running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.request(cmd, protocol.Execute(args[0]))
		},
	}
}

func createKillCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <name>",
		Short: "Stop the running instance of a named command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.request(cmd, protocol.Kill(args[0]))
		},
	}
}

func createRestartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Kill and execute a named command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.request(cmd, protocol.Restart(args[0]))
		},
	}
}

func createToggleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <name>",
		Short: "Kill a named command if running, execute it otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.request(cmd, protocol.Toggle(args[0]))
		},
	}
}

func createDaemonCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background agent in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, closer, err := logger.New(a.cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()
			slog.SetDefault(log)

			d := daemon.New(a.cfg, log)
			err = d.Run(cmd.Context())
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				log.Warn("agent already running", "socket", a.cfg.SocketPath)
			}
			return err
		},
	}
}

// request forwards req to the agent, starting one first when none answers,
// and prints the response verbatim.
func (a *app) request(cmd *cobra.Command, req protocol.Request) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c := client.New(client.Config{SocketPath: a.cfg.SocketPath})
	if err := ensureAgent(ctx, a, c); err != nil {
		return err
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), resp)
	return err
}
