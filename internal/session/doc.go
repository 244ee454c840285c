// Package session decides, for every inbound message, which session it belongs to.
//
// # Resolution
//
// Resolver.Resolve runs the whole pipeline for one message:
//
//  1. Drop redelivered messages (optional dedupe cache)
//  2. Compute the session key and the agent's store path (package routing)
//  3. Match reset triggers such as "/new" for authorized senders
//  4. Evaluate the existing entry against the reset policy for its chat type and channel
//  5. Branch from a parent session's transcript when asked to (Forker)
//  6. Merge reset fields and message metadata into the entry under the store lock
//  7. Record created/reset/forked transitions in the lifecycle ledger and
//     publish them to Broadcaster subscribers
//
// The returned Result carries the session id, whether the session is new, and
// the body to hand to the agent with any trigger removed.
//
// # Reset Policies
//
// Idle policies expire an entry after idle_minutes without activity. Daily
// policies expire it at the first at_hour boundary after its last update. A
// daily policy with idle_minutes set expires on whichever comes first. Policies
// are layered: top-level defaults, then session.reset, then reset_by_type
// (direct, group, thread), then reset_by_channel.
//
// A reset issues a new session id and clears run-continuity flags and context
// counters. Per-session overrides survive unless reset_clears_overrides is set.
package session
