// ABOUTME: reset and set commands: locked writes to a single session entry
// ABOUTME: reset issues a new session id; set changes per-session overrides

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-sessions/internal/store"
)

func newResetCmd(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-key>",
		Short: "Start a new session for a key, keeping its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resolver.ResetSession(cmd.Context(), args[0], opts.agentID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n",
				keyColor.Sprint(res.SessionKey),
				dimColor.Sprint(res.PreviousSessionID),
				idColor.Sprint(res.SessionID))
			return err
		},
	}
}

type setFlags struct {
	thinking  string
	verbose   string
	reasoning string
	tts       string
	model     string
	provider  string
	label     string
	queueMode string
	cli       []string
}

func newSetCmd(a *app, opts *rootOptions) *cobra.Command {
	f := &setFlags{}

	cmd := &cobra.Command{
		Use:   "set <session-key>",
		Short: "Change per-session overrides on an existing session",
		Long:  "Change per-session overrides on an existing session. Pass an empty value to clear one, e.g. --model \"\".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := f.patch(cmd)
			if err != nil {
				return err
			}

			key := normalizeKey(args[0])
			entry, err := a.store.UpdateEntry(cmd.Context(), storePathForKey(a, opts, key), key,
				func(*store.Entry) (*store.Patch, error) { return patch, nil })
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("session %s: %w", key, store.ErrNotFound)
			}
			return writeJSON(cmd, entry)
		},
	}

	cmd.Flags().StringVar(&f.thinking, "thinking", "", "thinking level")
	cmd.Flags().StringVar(&f.verbose, "verbose", "", "verbose level")
	cmd.Flags().StringVar(&f.reasoning, "reasoning", "", "reasoning level")
	cmd.Flags().StringVar(&f.tts, "tts", "", "auto text-to-speech mode")
	cmd.Flags().StringVar(&f.model, "model", "", "model override")
	cmd.Flags().StringVar(&f.provider, "provider", "", "provider override")
	cmd.Flags().StringVar(&f.label, "label", "", "session label")
	cmd.Flags().StringVar(&f.queueMode, "queue-mode", "", "queue mode")
	cmd.Flags().StringArrayVar(&f.cli, "cli-session", nil, "external CLI session id as provider=id (repeatable, empty id removes)")
	return cmd
}

// patch builds a Patch from the flags the user actually passed.
func (f *setFlags) patch(cmd *cobra.Command) (*store.Patch, error) {
	p := &store.Patch{}
	changed := false

	strFlags := []struct {
		name string
		val  string
		dst  **string
	}{
		{"thinking", f.thinking, &p.ThinkingLevel},
		{"verbose", f.verbose, &p.VerboseLevel},
		{"reasoning", f.reasoning, &p.ReasoningLevel},
		{"tts", f.tts, &p.TTSAuto},
		{"model", f.model, &p.ModelOverride},
		{"provider", f.provider, &p.ProviderOverride},
		{"label", f.label, &p.Label},
		{"queue-mode", f.queueMode, &p.QueueMode},
	}
	for _, sf := range strFlags {
		if cmd.Flags().Changed(sf.name) {
			*sf.dst = store.Ptr(strings.TrimSpace(sf.val))
			changed = true
		}
	}

	for _, pair := range f.cli {
		provider, id, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(provider) == "" {
			return nil, fmt.Errorf("--cli-session %q: want provider=id", pair)
		}
		if p.CLISessionIDs == nil {
			p.CLISessionIDs = make(map[string]string)
		}
		p.CLISessionIDs[provider] = strings.TrimSpace(id)
		changed = true
	}

	if !changed {
		return nil, fmt.Errorf("nothing to set; pass at least one flag")
	}
	return p, nil
}
