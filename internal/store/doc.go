// Package store provides the persistent session store shared by every channel,
// the gateway, cron runs and CLI tooling on one host.
//
// # Data Model
//
// A store file maps session keys to Entry records:
//
//	{
//	  "agent:main:telegram:direct:42": {
//	    "sessionId": "0b6f...",
//	    "sessionFile": "/var/lib/coven/agents/main/sessions/0b6f....jsonl",
//	    "updatedAt": 1739980800000,
//	    "thinkingLevel": "high"
//	  }
//	}
//
// Each agent has its own store file. Fields this version does not know are kept
// in Entry.Extra and written back unchanged.
//
// # Reading
//
// Manager.Load serves a cached snapshot while it is younger than the cache TTL
// and the file's modification time and size are unchanged. Every Load returns a
// deep copy, so callers may mutate the result freely. A missing file, an
// unreadable file or invalid JSON all load as an empty store. Files may contain
// comments and trailing commas.
//
// # Writing
//
// Manager.Update is the only safe read-modify-write: it takes the store's lock
// file (see package filelock), re-reads the file bypassing the cache, runs the
// mutator and saves. Calling Load and Save yourself skips the lock and can lose
// concurrent writes.
//
// Save invalidates the cache, runs the normalization pass and writes the file
// atomically (temp file plus rename on POSIX; direct write on Windows, where a
// vanished directory is ignored).
//
// # Merging
//
// MergeEntry applies a Patch to an existing entry. sessionId only changes when
// the patch sets one; updatedAt never decreases.
//
// # Normalization
//
// Legacy "provider" and "room" fields become "channel" and "groupChannel", and
// deliveryContext is kept in sync with the flattened lastChannel, lastTo,
// lastAccountId and lastThreadId fields.
//
// # Ledger
//
// Ledger is an optional SQLite log of session lifecycle transitions for operators.
package store
