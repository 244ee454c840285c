// ABOUTME: history and watch commands: lifecycle ledger queries and a live change feed
// ABOUTME: watch follows writes from every process sharing the store

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-sessions/internal/store"
)

var errLedgerDisabled = errors.New("lifecycle ledger is disabled; set ledger.enabled in the config")

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <session-key>",
		Short: "Show created, reset and forked events for a session key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.ledger == nil {
				return errLedgerDisabled
			}

			key := normalizeKey(args[0])
			events, err := a.ledger.ListLifecycle(cmd.Context(), key, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "no history for %s\n", key)
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tSESSION\tPREVIOUS\tREASON")
			for _, ev := range events {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					ev.Timestamp.Local().Format(time.DateTime),
					ev.Kind,
					idColor.Sprint(ev.SessionID),
					ev.PrevSessionID,
					ev.Reason,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	return cmd
}

func newWatchCmd(a *app, opts *rootOptions) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session changes as they are written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.storePath(opts.agentID)
			out := cmd.OutOrStdout()

			_, _ = fmt.Fprintf(out, "%s %s\n", color.New(color.FgCyan, color.Bold).Sprint("watching"), path)

			return a.store.Watch(cmd.Context(), path, debounce, func(changes []store.Change) {
				stamp := dimColor.Sprint(a.now().Format("15:04:05"))
				for _, c := range changes {
					switch c.Kind {
					case store.ChangeNewSession:
						_, _ = fmt.Fprintf(out, "%s %s %s %s -> %s\n", stamp, alertColor.Sprint(c.Kind),
							keyColor.Sprint(c.Key), c.OldSessionID, idColor.Sprint(c.Entry.SessionID))
					case store.ChangeRemoved:
						_, _ = fmt.Fprintf(out, "%s %s %s\n", stamp, alertColor.Sprint(c.Kind), keyColor.Sprint(c.Key))
					default:
						_, _ = fmt.Fprintf(out, "%s %s %s %s\n", stamp, c.Kind,
							keyColor.Sprint(c.Key), idColor.Sprint(c.Entry.SessionID))
					}
				}
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "coalesce writes within this window")
	return cmd
}
