// ABOUTME: Root cobra command: global flags and per-invocation wiring
// ABOUTME: Subcommands share one app built from --config before they run

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-sessions/internal/config"
	"github.com/2389/coven-sessions/internal/routing"
)

type rootOptions struct {
	configPath string
	agentID    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "coven-sessions",
		Short:         "Inspect and manage coven session stores",
		Long:          "coven-sessions reads and updates the session stores shared by the gateway, channel bridges and cron jobs. Every write goes through the same store lock they use.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			wired, err := wireApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			*a = *wired
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.logger != nil {
				a.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.Path(), "config file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&opts.agentID, "agent", routing.DefaultAgentID, "agent whose store to use")

	rootCmd.AddCommand(
		newVersionCmd(),
		newListCmd(a, opts),
		newShowCmd(a, opts),
		newResetCmd(a, opts),
		newSetCmd(a, opts),
		newResolveCmd(a, opts),
		newHistoryCmd(a),
		newWatchCmd(a, opts),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// storePathForKey picks the store that owns key, falling back to the --agent store.
func storePathForKey(a *app, opts *rootOptions, key string) string {
	if parsed, ok := routing.ParseAgentSessionKey(key); ok {
		return a.storePath(parsed.AgentID)
	}
	return a.storePath(opts.agentID)
}

// formatAge renders how long ago a unix-millisecond timestamp was.
func formatAge(now time.Time, updatedAt int64) string {
	if updatedAt <= 0 {
		return "never"
	}
	d := now.Sub(time.UnixMilli(updatedAt))
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

var (
	keyColor   = color.New(color.FgCyan)
	idColor    = color.New(color.FgGreen)
	dimColor   = color.New(color.FgHiBlack)
	alertColor = color.New(color.FgYellow)
)
