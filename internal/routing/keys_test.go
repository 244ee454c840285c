// ABOUTME: Tests for session key derivation across DM scopes, groups, threads and links
// ABOUTME: Also covers key parsing and store path templates

package routing

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionKey_DMScopes(t *testing.T) {
	params := KeyParams{
		AgentID:   "Main",
		Channel:   "Telegram",
		AccountID: "Bot1",
		Peer:      Peer{Kind: PeerDirect, ID: "12345"},
	}

	tests := []struct {
		dmScope string
		want    string
	}{
		{DMScopeMain, "agent:main:main"},
		{DMScopePerPeer, "agent:main:direct:12345"},
		{DMScopePerChannelPeer, "agent:main:telegram:direct:12345"},
		{DMScopePerAccountChannelPeer, "agent:main:telegram:bot1:direct:12345"},
	}

	for _, tt := range tests {
		t.Run(tt.dmScope, func(t *testing.T) {
			r := NewKeyResolver(KeyConfig{DMScope: tt.dmScope})
			assert.Equal(t, tt.want, r.SessionKey(params))
		})
	}
}

func TestSessionKey_CustomMainKey(t *testing.T) {
	r := NewKeyResolver(KeyConfig{MainKey: " Home "})
	key := r.SessionKey(KeyParams{AgentID: "ops", Channel: "slack", Peer: Peer{Kind: PeerDirect, ID: "U1"}})
	assert.Equal(t, "agent:ops:home", key)
}

func TestSessionKey_MissingAccountUsesDefault(t *testing.T) {
	r := NewKeyResolver(KeyConfig{DMScope: DMScopePerAccountChannelPeer})
	key := r.SessionKey(KeyParams{Channel: "discord", Peer: Peer{Kind: PeerDirect, ID: "42"}})
	assert.Equal(t, "agent:main:discord:default:direct:42", key)
}

func TestSessionKey_GroupsAndChannels(t *testing.T) {
	r := NewKeyResolver(KeyConfig{DMScope: DMScopePerPeer})

	group := r.SessionKey(KeyParams{Channel: "whatsapp", Peer: Peer{Kind: PeerGroup, ID: "1203@g.us"}})
	assert.Equal(t, "agent:main:whatsapp:group:1203@g.us", group)

	channel := r.SessionKey(KeyParams{Channel: "slack", Peer: Peer{Kind: PeerChannel, ID: "C0ABC"}})
	assert.Equal(t, "agent:main:slack:channel:c0abc", channel)
}

func TestSessionKey_Thread(t *testing.T) {
	r := NewKeyResolver(KeyConfig{})
	key := r.SessionKey(KeyParams{
		Channel:  "slack",
		Peer:     Peer{Kind: PeerChannel, ID: "C1"},
		ThreadID: "1712.0001",
	})
	assert.Equal(t, "agent:main:slack:channel:c1:thread:1712.0001", key)
	assert.True(t, IsThreadKey(key))
	assert.False(t, IsThreadKey("agent:main:slack:channel:c1"))
}

func TestSessionKey_GlobalScope(t *testing.T) {
	r := NewKeyResolver(KeyConfig{Scope: ScopeGlobal, DMScope: DMScopePerPeer})
	assert.Equal(t, GlobalKey, r.SessionKey(KeyParams{Channel: "telegram", Peer: Peer{Kind: PeerGroup, ID: "9"}}))
	assert.Equal(t, GlobalKey, r.MainSessionKey("ops"))
}

func TestSessionKey_IdentityLinks(t *testing.T) {
	r := NewKeyResolver(KeyConfig{
		DMScope: DMScopePerPeer,
		IdentityLinks: map[string][]string{
			"Alice": {"telegram:111", "discord:222"},
		},
	})

	fromTelegram := r.SessionKey(KeyParams{Channel: "telegram", Peer: Peer{Kind: PeerDirect, ID: "111"}})
	fromDiscord := r.SessionKey(KeyParams{Channel: "discord", Peer: Peer{Kind: PeerDirect, ID: "222"}})
	unlinked := r.SessionKey(KeyParams{Channel: "signal", Peer: Peer{Kind: PeerDirect, ID: "111"}})

	assert.Equal(t, "agent:main:direct:alice", fromTelegram)
	assert.Equal(t, fromTelegram, fromDiscord)
	assert.Equal(t, "agent:main:direct:111", unlinked)
}

func TestSessionKey_MatrixUserIDsAreCanonical(t *testing.T) {
	r := NewKeyResolver(KeyConfig{DMScope: DMScopePerChannelPeer})
	key := func(peer string) string {
		return r.SessionKey(KeyParams{Channel: "matrix", Peer: Peer{Kind: PeerDirect, ID: peer}})
	}

	// server names are case-insensitive
	assert.Equal(t, "agent:main:matrix:direct:@alice:example.org", key(" @alice:Example.ORG"))

	// historical localparts with uppercase are a different user than the lowercase id
	historical := key("@Alice:Example.org")
	assert.Equal(t, "agent:main:matrix:direct:@_alice:example.org", historical)
	assert.NotEqual(t, key("@alice:example.org"), historical)

	// not a user id: plain lowercasing
	assert.Equal(t, "agent:main:matrix:direct:@bad", key("@BAD"))

	// other channels are never parsed as matrix ids
	assert.Equal(t, "agent:main:slack:direct:@alice:example.org",
		r.SessionKey(KeyParams{Channel: "slack", Peer: Peer{Kind: PeerDirect, ID: "@Alice:Example.org"}}))
}

func TestSessionKey_EmptyPeerFallsBackToMain(t *testing.T) {
	r := NewKeyResolver(KeyConfig{DMScope: DMScopePerPeer})
	assert.Equal(t, "agent:main:main", r.SessionKey(KeyParams{Channel: "webchat"}))
}

func TestParseAgentSessionKey(t *testing.T) {
	parsed, ok := ParseAgentSessionKey("agent:Ops:telegram:direct:1")
	assert.True(t, ok)
	assert.Equal(t, "ops", parsed.AgentID)
	assert.Equal(t, "telegram:direct:1", parsed.Rest)

	for _, bad := range []string{"global", "agent:", "agent:main", "session:main:x", ""} {
		_, ok := ParseAgentSessionKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestStorePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("/state", "agents", "main", "sessions", "sessions.json"),
		StorePath("", "/state", ""))

	assert.Equal(t,
		filepath.Join("/srv", "ops", "sessions.json"),
		StorePath("/srv/{agentId}/sessions.json", "/state", "OPS"))

	assert.Equal(t, filepath.Join("/state", "agents", "ops", "sessions"),
		TranscriptDir(StorePath("", "/state", "ops")))
}
