// ABOUTME: Resolver turns an inbound message into a session key, a committed entry and a body for the agent
// ABOUTME: Combines key resolution, reset triggers, freshness, forking and the locked store update

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-sessions/internal/config"
	"github.com/2389/coven-sessions/internal/dedupe"
	"github.com/2389/coven-sessions/internal/routing"
	"github.com/2389/coven-sessions/internal/store"
)

// ErrDuplicateInbound is returned for a message that was already resolved.
var ErrDuplicateInbound = errors.New("duplicate inbound message")

// Reset reasons reported on Result.
const (
	ReasonTrigger = "trigger"
	ReasonManual  = "manual"
	ReasonIdle    = ModeIdle
	ReasonDaily   = ModeDaily
)

// InboundContext is what a channel adapter knows about one inbound message.
type InboundContext struct {
	AgentID   string
	Channel   string
	AccountID string
	// ChatType is "direct", "group" or "channel".
	ChatType string
	PeerID   string
	ThreadID string
	// MessageID enables duplicate suppression when set.
	MessageID string

	Body string
	// CommandBody is Body with channel formatting removed; triggers match on it when set.
	CommandBody       string
	CommandAuthorized bool

	SenderName   string
	GroupSubject string
	GroupChannel string
	GroupSpace   string
	ThreadLabel  string
	// ThreadStarterBody seeds a new thread session with the message that opened it.
	ThreadStarterBody string

	// To is the delivery target for replies; defaults to PeerID.
	To string

	// SessionKey bypasses key resolution when set.
	SessionKey string
	// ParentSessionKey asks for a new session to branch from this one.
	ParentSessionKey string
}

// Result is the continuation handed to the agent runtime.
type Result struct {
	SessionKey string
	StorePath  string
	Entry      *store.Entry

	SessionID   string
	SessionFile string

	IsNewSession      bool
	ResetTriggered    bool
	ResetReason       string
	PreviousSessionID string
	Forked            bool

	// Body is the text for the agent: trigger removed, thread starter prepended.
	Body string
}

// LifecycleRecorder receives session lifecycle events.
type LifecycleRecorder interface {
	RecordLifecycle(ctx context.Context, ev *store.LifecycleEvent) error
}

// Options configures a Resolver.
type Options struct {
	Store   *store.Manager
	Session config.SessionConfig

	StateDir          string
	StorePathTemplate string

	// Transcripts enables forking and assigns transcript paths to new sessions.
	Transcripts TranscriptStore
	Dedupe      *dedupe.Cache
	Ledger      LifecycleRecorder

	// Events receives every lifecycle event after it is committed.
	Events *Broadcaster
	Logger *slog.Logger
}

// Resolver resolves inbound messages to sessions.
type Resolver struct {
	store       *store.Manager
	cfg         config.SessionConfig
	keys        *routing.KeyResolver
	stateDir    string
	template    string
	transcripts TranscriptStore
	forker      *Forker
	dedupe      *dedupe.Cache
	ledger      LifecycleRecorder
	events      *Broadcaster
	logger      *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session resolver requires a store manager")
	}
	if opts.StateDir == "" && opts.StorePathTemplate == "" {
		return nil, fmt.Errorf("session resolver requires a state dir or store path template")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Resolver{
		store: opts.Store,
		cfg:   opts.Session,
		keys: routing.NewKeyResolver(routing.KeyConfig{
			Scope:         opts.Session.Scope,
			DMScope:       opts.Session.DMScope,
			MainKey:       opts.Session.MainKey,
			IdentityLinks: opts.Session.IdentityLinks,
		}),
		stateDir:    opts.StateDir,
		template:    opts.StorePathTemplate,
		transcripts: opts.Transcripts,
		dedupe:      opts.Dedupe,
		ledger:      opts.Ledger,
		events:      opts.Events,
		logger:      opts.Logger.With("component", "session"),
	}
	if opts.Transcripts != nil {
		r.forker = NewForker(opts.Transcripts, opts.Logger)
	}
	return r, nil
}

// Keys returns the key resolver in use.
func (r *Resolver) Keys() *routing.KeyResolver {
	return r.keys
}

// StorePathFor returns the store file for agentID.
func (r *Resolver) StorePathFor(agentID string) string {
	return routing.StorePath(r.template, r.stateDir, agentID)
}

// SessionKeyFor computes the key for in without touching the store.
func (r *Resolver) SessionKeyFor(in *InboundContext) string {
	if key := strings.ToLower(strings.TrimSpace(in.SessionKey)); key != "" {
		return key
	}

	kind := routing.PeerDirect
	switch strings.ToLower(strings.TrimSpace(in.ChatType)) {
	case "group":
		kind = routing.PeerGroup
	case "channel":
		kind = routing.PeerChannel
	}

	return r.keys.SessionKey(routing.KeyParams{
		AgentID:   in.AgentID,
		Channel:   in.Channel,
		AccountID: in.AccountID,
		Peer:      routing.Peer{Kind: kind, ID: in.PeerID},
		ThreadID:  in.ThreadID,
	})
}

// decision is what the resolver decided outside the lock.
type decision struct {
	isNew     bool
	reason    string
	prevID    string
	fork      ForkResult
	forked    bool
	triggered bool
}

// Resolve computes the session for in, commits the updated entry under the
// store lock and returns the continuation for the agent runtime.
func (r *Resolver) Resolve(ctx context.Context, in *InboundContext) (*Result, error) {
	if in == nil {
		return nil, fmt.Errorf("inbound context is nil")
	}

	dedupeKey := ""
	if r.dedupe != nil {
		dedupeKey = dedupe.InboundKey(in.Channel, in.AccountID, in.PeerID, in.ThreadID, in.MessageID)
		if dedupeKey != "" && r.dedupe.CheckAndMark(dedupeKey) {
			r.logger.Debug("dropping duplicate inbound message", "key", dedupeKey)
			return nil, ErrDuplicateInbound
		}
	}

	result, err := r.resolve(ctx, in)
	if err != nil && dedupeKey != "" {
		// let the channel's retry through
		r.dedupe.Forget(dedupeKey)
	}
	return result, err
}

func (r *Resolver) resolve(ctx context.Context, in *InboundContext) (*Result, error) {
	key := r.SessionKeyFor(in)
	agentID := in.AgentID
	if parsed, ok := routing.ParseAgentSessionKey(key); ok {
		agentID = parsed.AgentID
	}
	storePath := r.StorePathFor(agentID)

	triggerText := in.CommandBody
	if strings.TrimSpace(triggerText) == "" {
		triggerText = in.Body
	}
	match := MatchResetTrigger(triggerText, r.cfg.ResetTriggers, in.CommandAuthorized)

	isThread := strings.TrimSpace(in.ThreadID) != ""
	policy := ResolveResetPolicy(r.cfg, ResetTypeFor(in.ChatType, isThread), in.Channel)

	snapshot := r.store.Load(storePath)
	d := r.decide(snapshot[key], match.Matched, policy)

	// Forking touches transcript files only, so it runs before taking the lock.
	if d.isNew && r.forker != nil {
		parentKey := strings.ToLower(strings.TrimSpace(in.ParentSessionKey))
		if parentKey != "" && parentKey != key {
			if parent := snapshot[parentKey]; parent != nil {
				d.fork, d.forked = r.forker.Fork(parent)
			}
		}
	}

	var committed decision
	entry, err := store.UpdateStore(ctx, r.store, storePath, func(s store.Store) (*store.Entry, error) {
		current := s[key]
		committed = d
		if d.isNew && !d.triggered && current != nil && current.SessionID != d.prevID {
			// another writer already started a session for this key
			if EvaluateFreshness(current.UpdatedAt, r.store.Now(), policy).Fresh {
				committed = decision{}
			}
		}

		next := store.MergeEntry(current, r.buildPatch(in, current, committed), r.store.Now(), r.store.NewID)
		s[key] = next
		return next.Clone(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("committing session %s: %w", key, err)
	}

	if d.forked && !committed.forked {
		r.logger.Debug("discarding fork, session was started concurrently", "key", key, "file", d.fork.SessionFile)
	}

	res := &Result{
		SessionKey:        key,
		StorePath:         storePath,
		Entry:             entry,
		SessionID:         entry.SessionID,
		SessionFile:       entry.SessionFile,
		IsNewSession:      committed.isNew,
		ResetTriggered:    committed.triggered,
		ResetReason:       committed.reason,
		PreviousSessionID: committed.prevID,
		Forked:            committed.forked,
		Body:              r.agentBody(in, match, committed, isThread),
	}

	if committed.isNew {
		r.logger.Info("session started",
			"key", key, "session_id", res.SessionID, "reason", nonEmpty(res.ResetReason, "new"),
			"previous_session_id", res.PreviousSessionID, "forked", res.Forked)
		r.recordLifecycle(ctx, in, res)
	}

	return res, nil
}

// ResetSession starts a new session for an existing key without an inbound
// message. Keys without an agent prefix, such as the global key, are looked up
// in agentID's store. Returns store.ErrNotFound when the key has no entry.
func (r *Resolver) ResetSession(ctx context.Context, key, agentID string) (*Result, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if parsed, ok := routing.ParseAgentSessionKey(key); ok {
		agentID = parsed.AgentID
	}
	storePath := r.StorePathFor(agentID)

	var prevID string
	entry, err := r.store.UpdateEntry(ctx, storePath, key, func(current *store.Entry) (*store.Patch, error) {
		prevID = current.SessionID
		return r.buildPatch(nil, current, decision{isNew: true, prevID: prevID}), nil
	})
	if err != nil {
		return nil, fmt.Errorf("resetting session %s: %w", key, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("session %s: %w", key, store.ErrNotFound)
	}

	res := &Result{
		SessionKey:        key,
		StorePath:         storePath,
		Entry:             entry,
		SessionID:         entry.SessionID,
		SessionFile:       entry.SessionFile,
		IsNewSession:      true,
		ResetReason:       ReasonManual,
		PreviousSessionID: prevID,
	}
	r.logger.Info("session reset", "key", key, "session_id", res.SessionID, "previous_session_id", prevID)
	r.recordLifecycle(ctx, &InboundContext{}, res)
	return res, nil
}

// decide classifies the entry as it was before the lock.
func (r *Resolver) decide(existing *store.Entry, triggered bool, policy ResetPolicy) decision {
	if existing == nil {
		d := decision{isNew: true, triggered: triggered}
		if triggered {
			d.reason = ReasonTrigger
		}
		return d
	}
	d := decision{prevID: existing.SessionID}
	if triggered {
		d.isNew, d.triggered, d.reason = true, true, ReasonTrigger
		return d
	}
	if f := EvaluateFreshness(existing.UpdatedAt, r.store.Now(), policy); !f.Fresh {
		d.isNew, d.reason = true, f.Reason
	}
	return d
}

// buildPatch produces the session reset fields, when d starts a new session,
// and the metadata carried by every inbound message.
func (r *Resolver) buildPatch(in *InboundContext, current *store.Entry, d decision) *store.Patch {
	p := &store.Patch{}

	if d.isNew {
		id := r.store.NewID()
		file := ""
		if d.forked {
			id, file = d.fork.SessionID, d.fork.SessionFile
		} else if r.transcripts != nil {
			file = r.transcripts.PathFor(id)
		}

		p.SessionID = store.Ptr(id)
		p.SessionFile = store.Ptr(file)
		p.SystemSent = store.Ptr(false)
		p.AbortedLastRun = store.Ptr(false)
		p.ForkedFromParent = store.Ptr(d.forked)
		p.CompactionCount = store.Ptr(0)
		p.MemoryFlushCompactionCount = store.Ptr(0)
		p.MemoryFlushAt = store.Ptr(int64(0))

		if current != nil {
			if len(current.CLISessionIDs) > 0 {
				p.CLISessionIDs = make(map[string]string, len(current.CLISessionIDs))
				for provider := range current.CLISessionIDs {
					p.CLISessionIDs[provider] = ""
				}
			}
			if r.cfg.ResetClearsOverrides != nil && *r.cfg.ResetClearsOverrides {
				clearOverrides(p)
			}
		}
	}

	if in != nil {
		applyMetadata(p, in)
	}
	return p
}

func clearOverrides(p *store.Patch) {
	empty := ""
	p.ThinkingLevel = &empty
	p.VerboseLevel = &empty
	p.ReasoningLevel = &empty
	p.TTSAuto = &empty
	p.ModelOverride = &empty
	p.ProviderOverride = &empty
}

// applyMetadata splices display and routing metadata from in into p.
func applyMetadata(p *store.Patch, in *InboundContext) {
	channel := strings.ToLower(strings.TrimSpace(in.Channel))
	chatType := strings.ToLower(strings.TrimSpace(in.ChatType))
	if chatType == "" {
		chatType = store.ChatTypeDirect
	}

	setIfNotEmpty(&p.Channel, channel)
	setIfNotEmpty(&p.ChatType, chatType)

	switch chatType {
	case store.ChatTypeGroup, store.ChatTypeChannel:
		setIfNotEmpty(&p.GroupID, in.PeerID)
		setIfNotEmpty(&p.Subject, in.GroupSubject)
		setIfNotEmpty(&p.GroupChannel, in.GroupChannel)
		setIfNotEmpty(&p.Space, in.GroupSpace)
		setIfNotEmpty(&p.DisplayName, groupDisplayName(channel, in))
	default:
		setIfNotEmpty(&p.DisplayName, in.SenderName)
	}
	setIfNotEmpty(&p.Label, in.ThreadLabel)

	if channel != "" {
		to := strings.TrimSpace(in.To)
		if to == "" {
			to = strings.TrimSpace(in.PeerID)
		}
		p.DeliveryContext = &store.DeliveryContext{
			Channel:   channel,
			To:        to,
			AccountID: strings.TrimSpace(in.AccountID),
			ThreadID:  strings.TrimSpace(in.ThreadID),
		}
	}
}

func groupDisplayName(channel string, in *InboundContext) string {
	name := strings.TrimSpace(in.GroupSubject)
	if name == "" {
		name = strings.TrimSpace(in.GroupChannel)
	}
	if name == "" {
		return ""
	}
	if channel == "" {
		return name
	}
	return channel + ":" + name
}

// agentBody is the text forwarded to the agent runtime.
func (r *Resolver) agentBody(in *InboundContext, match TriggerMatch, d decision, isThread bool) string {
	body := in.Body
	if match.Matched {
		body = match.Body
	}

	starter := strings.TrimSpace(in.ThreadStarterBody)
	if d.isNew && isThread && starter != "" {
		if strings.TrimSpace(body) == "" {
			return "[Thread starter]\n" + starter
		}
		return "[Thread starter]\n" + starter + "\n\n" + body
	}
	return body
}

func (r *Resolver) recordLifecycle(ctx context.Context, in *InboundContext, res *Result) {
	if r.ledger == nil && r.events == nil {
		return
	}

	kind := store.LifecycleCreated
	switch {
	case res.Forked:
		kind = store.LifecycleForked
	case res.PreviousSessionID != "":
		kind = store.LifecycleReset
	}

	ev := &store.LifecycleEvent{
		StorePath:     res.StorePath,
		SessionKey:    res.SessionKey,
		Kind:          kind,
		SessionID:     res.SessionID,
		PrevSessionID: res.PreviousSessionID,
		Reason:        res.ResetReason,
		Channel:       strings.ToLower(strings.TrimSpace(in.Channel)),
		Timestamp:     r.store.Now(),
	}
	if res.Forked {
		ev.ParentKey = strings.ToLower(strings.TrimSpace(in.ParentSessionKey))
	}

	// best effort: the session is already committed
	if r.ledger != nil {
		if err := r.ledger.RecordLifecycle(ctx, ev); err != nil {
			r.logger.Warn("recording session lifecycle failed", "key", res.SessionKey, "error", err)
		}
	}
	if r.events != nil {
		r.events.Publish(ev)
	}
}

func setIfNotEmpty(dst **string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = &v
	}
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
