// Package config handles configuration loading for coven-sessions.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a missing file is not an error when
// using LoadOrDefault.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_SESSIONS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/sessions.yaml
//  3. ~/.config/coven/sessions.yaml
//
// A path ending in .toml is parsed as TOML.
//
// # Environment Variable Expansion
//
//	state:
//	  dir: "${COVEN_STATE_DIR}"
//
// # Sections
//
// State:
//
//	state:
//	  dir: "/var/lib/coven"
//	  store_path: "/var/lib/coven/agents/{agentId}/sessions/sessions.json"
//	  cache_ttl: "45s"        # "0s" disables the store cache
//	  lock:
//	    timeout: "10s"
//	    poll_interval: "25ms"
//	    stale_after: "30s"
//
// COVEN_SESSION_CACHE_TTL_MS overrides state.cache_ttl at runtime.
//
// Session:
//
//	session:
//	  scope: "per-sender"       # per-sender, global
//	  dm_scope: "main"          # main, per-peer, per-channel-peer, per-account-channel-peer
//	  main_key: "main"
//	  reset_triggers: ["/new", "/reset"]
//	  idle_minutes: 60
//	  reset:
//	    mode: "daily"           # idle, daily
//	    at_hour: 4
//	  reset_by_type:
//	    group: { mode: "idle", idle_minutes: 120 }
//	  reset_by_channel:
//	    discord: { mode: "idle", idle_minutes: 10080 }
//	  identity_links:
//	    alice: ["telegram:111", "discord:222"]
//
// Ledger:
//
//	ledger:
//	  enabled: true
//	  path: "/var/lib/coven/sessions-ledger.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
