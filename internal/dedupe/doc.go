// Package dedupe suppresses redelivered inbound messages.
//
// Channel webhooks and pollers retry on timeouts, so the same message can reach
// the session resolver more than once. InboundKey builds a message identity from
// channel, account, peer, thread and message id; Cache remembers identities for
// a TTL window and a bounded number of keys.
package dedupe
