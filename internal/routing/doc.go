// Package routing maps inbound messages to canonical session keys and store paths.
//
// # Session Keys
//
// Keys are lowercase and colon separated so they stay readable in the store file:
//
//	agent:<agentId>:<mainKey>                               direct, dm_scope=main
//	agent:<agentId>:direct:<peer>                           direct, dm_scope=per-peer
//	agent:<agentId>:<channel>:direct:<peer>                 direct, dm_scope=per-channel-peer
//	agent:<agentId>:<channel>:<account>:direct:<peer>       direct, dm_scope=per-account-channel-peer
//	agent:<agentId>:<channel>:group:<id>                    group chats
//	agent:<agentId>:<channel>:channel:<id>                  channels
//	<any of the above>:thread:<threadId>                    threads and topics
//	global                                                  scope=global
//
// Identity links collapse a person's peer ids on several channels into one
// canonical name, so per-peer DM sessions follow them across channels.
//
// # Store Paths
//
// Each agent has its own store file, by default
// <stateDir>/agents/<agentId>/sessions/sessions.json.
package routing
