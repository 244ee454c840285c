// ABOUTME: resolve command: runs one simulated inbound message through the session resolver
// ABOUTME: Writes to the store exactly as a channel bridge would

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/2389/coven-sessions/internal/session"
	"github.com/2389/coven-sessions/internal/store"
)

func newResolveCmd(a *app, opts *rootOptions) *cobra.Command {
	in := &session.InboundContext{}
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an inbound message to a session and record it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.AgentID = opts.agentID

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			events, _ := a.events.Subscribe(ctx, session.AllKeys)

			res, err := a.resolver.Resolve(ctx, in)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, res)
			}

			out := cmd.OutOrStdout()
			state := "continued"
			if res.IsNewSession {
				state = alertColor.Sprint("new")
				if res.ResetReason != "" {
					state += " (" + res.ResetReason + ")"
				}
			}
			_, _ = fmt.Fprintf(out, "key:     %s\n", keyColor.Sprint(res.SessionKey))
			_, _ = fmt.Fprintf(out, "session: %s %s\n", idColor.Sprint(res.SessionID), state)
			if res.PreviousSessionID != "" {
				_, _ = fmt.Fprintf(out, "previous: %s\n", dimColor.Sprint(res.PreviousSessionID))
			}
			if res.Forked {
				_, _ = fmt.Fprintf(out, "forked:  %s\n", res.SessionFile)
			}
			_, err = fmt.Fprintf(out, "body:    %q\n", res.Body)
			if err != nil {
				return err
			}
			printLifecycle(out, events)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&in.Channel, "channel", "", "channel id (telegram, slack, matrix, ...)")
	flags.StringVar(&in.AccountID, "account", "", "channel account id")
	flags.StringVar(&in.ChatType, "chat-type", "direct", "direct, group or channel")
	flags.StringVar(&in.PeerID, "peer", "", "sender id for direct chats, group or channel id otherwise")
	flags.StringVar(&in.ThreadID, "thread", "", "thread or topic id")
	flags.StringVar(&in.MessageID, "message-id", "", "message id for duplicate suppression")
	flags.StringVar(&in.Body, "body", "", "message text")
	flags.BoolVar(&in.CommandAuthorized, "authorized", true, "sender may issue reset triggers")
	flags.StringVar(&in.SenderName, "sender", "", "sender display name")
	flags.StringVar(&in.GroupSubject, "subject", "", "group subject")
	flags.StringVar(&in.ThreadStarterBody, "thread-starter", "", "text of the message that opened the thread")
	flags.StringVar(&in.SessionKey, "session-key", "", "use this key instead of resolving one")
	flags.StringVar(&in.ParentSessionKey, "parent", "", "fork new sessions from this session key")
	flags.BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// printLifecycle writes the lifecycle events already published for this
// invocation. Publishing is synchronous, so they are buffered by now.
func printLifecycle(out io.Writer, events <-chan *store.LifecycleEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			line := fmt.Sprintf("event:   %s", alertColor.Sprint(ev.Kind))
			if ev.PrevSessionID != "" {
				line += " " + dimColor.Sprint(ev.PrevSessionID) + " ->"
			}
			line += " " + idColor.Sprint(ev.SessionID)
			if ev.ParentKey != "" {
				line += " from " + keyColor.Sprint(ev.ParentKey)
			}
			_, _ = fmt.Fprintln(out, line)
		default:
			return
		}
	}
}
