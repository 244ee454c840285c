// ABOUTME: list and show commands: read-only views of a session store
// ABOUTME: Output is a colorized table by default or JSON with --json

package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-sessions/internal/store"
)

func newListCmd(a *app, opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions in the agent's store, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.storePath(opts.agentID)
			s := a.store.Load(path)

			if asJSON {
				return writeJSON(cmd, s)
			}

			keys := make([]string, 0, len(s))
			for key := range s {
				keys = append(keys, key)
			}
			sort.Slice(keys, func(i, j int) bool {
				if s[keys[i]].UpdatedAt != s[keys[j]].UpdatedAt {
					return s[keys[i]].UpdatedAt > s[keys[j]].UpdatedAt
				}
				return keys[i] < keys[j]
			})

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s %s (%d sessions)\n", dimColor.Sprint("store:"), path, len(keys))
			if len(keys) == 0 {
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "KEY\tSESSION\tUPDATED\tCHANNEL\tNAME")
			now := a.now()
			for _, key := range keys {
				e := s[key]
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					keyColor.Sprint(key),
					idColor.Sprint(e.SessionID),
					formatAge(now, e.UpdatedAt),
					e.Channel,
					e.DisplayName,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the store as JSON")
	return cmd
}

func newShowCmd(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-key>",
		Short: "Print one session entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := normalizeKey(args[0])
			entry := a.store.Entry(storePathForKey(a, opts, key), key)
			if entry == nil {
				return fmt.Errorf("session %s: %w", key, store.ErrNotFound)
			}
			return writeJSON(cmd, entry)
		},
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
