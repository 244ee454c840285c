// ABOUTME: Session key derivation from channel, account, peer and scope configuration
// ABOUTME: Keys are hierarchical and lowercase, e.g. agent:main:telegram:direct:12345

package routing

import (
	"strings"

	"maunium.net/go/mautrix/id"
)

// Default identifiers used when inbound context leaves them out.
const (
	DefaultAgentID = "main"
	DefaultMainKey = "main"
	GlobalKey      = "global"
)

// Scope values.
const (
	ScopePerSender = "per-sender"
	ScopeGlobal    = "global"
)

// DM scope values, from coarsest to finest.
const (
	DMScopeMain                  = "main"
	DMScopePerPeer               = "per-peer"
	DMScopePerChannelPeer        = "per-channel-peer"
	DMScopePerAccountChannelPeer = "per-account-channel-peer"
)

// PeerKind is the kind of conversation a message arrived in.
type PeerKind string

const (
	PeerDirect  PeerKind = "direct"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// Peer identifies the other side of a conversation: a user for direct chats, a
// group or channel id otherwise.
type Peer struct {
	Kind PeerKind
	ID   string
}

// KeyParams is the inbound routing context a session key is derived from.
type KeyParams struct {
	AgentID   string
	Channel   string
	AccountID string
	Peer      Peer
	ThreadID  string
}

// KeyConfig controls how coarse session keys are.
type KeyConfig struct {
	Scope   string
	DMScope string
	MainKey string

	// IdentityLinks maps a canonical identity to the peer ids that belong to it,
	// written either as "<channel>:<peerId>" or as a bare peer id.
	IdentityLinks map[string][]string
}

// KeyResolver computes canonical session keys.
type KeyResolver struct {
	cfg   KeyConfig
	links map[string]string // normalized peer ref -> canonical identity
}

// NewKeyResolver creates a resolver for cfg, filling in defaults.
func NewKeyResolver(cfg KeyConfig) *KeyResolver {
	if cfg.Scope == "" {
		cfg.Scope = ScopePerSender
	}
	if cfg.DMScope == "" {
		cfg.DMScope = DMScopeMain
	}
	cfg.MainKey = normalizeToken(cfg.MainKey)
	if cfg.MainKey == "" {
		cfg.MainKey = DefaultMainKey
	}

	links := make(map[string]string)
	for canonical, refs := range cfg.IdentityLinks {
		name := normalizeToken(canonical)
		if name == "" {
			continue
		}
		for _, ref := range refs {
			if ref = normalizeToken(ref); ref != "" {
				links[ref] = name
			}
		}
	}

	return &KeyResolver{cfg: cfg, links: links}
}

// Config returns the resolver's effective configuration.
func (r *KeyResolver) Config() KeyConfig {
	return r.cfg
}

// MainSessionKey is the shared key direct messages collapse into under the main
// DM scope.
func (r *KeyResolver) MainSessionKey(agentID string) string {
	if r.cfg.Scope == ScopeGlobal {
		return GlobalKey
	}
	return "agent:" + NormalizeAgentID(agentID) + ":" + r.cfg.MainKey
}

// SessionKey returns the canonical key for p.
func (r *KeyResolver) SessionKey(p KeyParams) string {
	if r.cfg.Scope == ScopeGlobal {
		return GlobalKey
	}

	agentID := NormalizeAgentID(p.AgentID)
	channel := normalizeToken(p.Channel)
	if channel == "" {
		channel = "unknown"
	}
	peerID := canonicalPeerID(channel, p.Peer)

	var key string
	switch p.Peer.Kind {
	case PeerGroup, PeerChannel:
		if peerID == "" {
			peerID = "unknown"
		}
		key = "agent:" + agentID + ":" + channel + ":" + string(p.Peer.Kind) + ":" + peerID
	default:
		key = r.directKey(agentID, channel, normalizeToken(p.AccountID), peerID)
	}

	return ThreadKey(key, p.ThreadID)
}

func (r *KeyResolver) directKey(agentID, channel, accountID, peerID string) string {
	if peerID == "" || r.cfg.DMScope == DMScopeMain {
		return r.MainSessionKey(agentID)
	}

	if linked := r.linkedIdentity(channel, peerID); linked != "" {
		peerID = linked
	}

	switch r.cfg.DMScope {
	case DMScopePerChannelPeer:
		return "agent:" + agentID + ":" + channel + ":direct:" + peerID
	case DMScopePerAccountChannelPeer:
		if accountID == "" {
			accountID = "default"
		}
		return "agent:" + agentID + ":" + channel + ":" + accountID + ":direct:" + peerID
	default:
		return "agent:" + agentID + ":direct:" + peerID
	}
}

func (r *KeyResolver) linkedIdentity(channel, peerID string) string {
	if len(r.links) == 0 {
		return ""
	}
	if name, ok := r.links[channel+":"+peerID]; ok {
		return name
	}
	return r.links[peerID]
}

// ThreadKey scopes base to one thread. An empty threadID returns base unchanged.
func ThreadKey(base, threadID string) string {
	threadID = normalizeToken(threadID)
	if threadID == "" {
		return base
	}
	return base + ":thread:" + threadID
}

// ParsedKey is the structure of an agent-scoped session key.
type ParsedKey struct {
	AgentID string
	Rest    string
}

// ParseAgentSessionKey splits "agent:<id>:<rest>". ok is false for keys of any
// other shape, including the global key.
func ParseAgentSessionKey(key string) (ParsedKey, bool) {
	parts := strings.SplitN(strings.TrimSpace(key), ":", 3)
	if len(parts) != 3 || strings.ToLower(parts[0]) != "agent" || parts[1] == "" || parts[2] == "" {
		return ParsedKey{}, false
	}
	return ParsedKey{AgentID: strings.ToLower(parts[1]), Rest: strings.ToLower(parts[2])}, true
}

// IsThreadKey reports whether key is scoped to a thread.
func IsThreadKey(key string) bool {
	return strings.Contains(strings.ToLower(key), ":thread:")
}

// NormalizeAgentID lowercases and trims an agent id, defaulting to "main".
func NormalizeAgentID(agentID string) string {
	if id := normalizeToken(agentID); id != "" {
		return id
	}
	return DefaultAgentID
}

// canonicalPeerID lowercases a peer id. Matrix user ids keep their identity
// under lowercasing: the server name is folded, a compliant localpart is kept,
// and a historical localpart with uppercase or other disallowed characters is
// escaped, so "@Alice:example.org" and "@alice:example.org" stay distinct users.
func canonicalPeerID(channel string, peer Peer) string {
	raw := strings.TrimSpace(peer.ID)
	if channel == "matrix" && strings.HasPrefix(raw, "@") {
		if localpart, server, err := id.UserID(raw).Parse(); err == nil && localpart != "" {
			if id.ValidateUserLocalpart(localpart) != nil {
				localpart = id.EncodeUserLocalpart(localpart)
			}
			return "@" + localpart + ":" + strings.ToLower(server)
		}
	}
	return strings.ToLower(raw)
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
