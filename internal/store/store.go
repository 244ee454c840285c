// ABOUTME: Session store data types: Entry, DeliveryContext, Store and their deep copies
// ABOUTME: Entries round-trip unknown JSON fields so newer writers' data is never dropped

package store

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Chat types recorded on entries.
const (
	ChatTypeDirect  = "direct"
	ChatTypeGroup   = "group"
	ChatTypeChannel = "channel"
)

// DeliveryContext is the last route used to reach a session, consumed by proactive
// deliveries such as scheduled jobs.
type DeliveryContext struct {
	Channel   string `json:"channel,omitempty"`
	To        string `json:"to,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// IsZero reports whether no route field is set.
func (d *DeliveryContext) IsZero() bool {
	return d == nil || (d.Channel == "" && d.To == "" && d.AccountID == "" && d.ThreadID == "")
}

// Entry is the persisted state for one session key.
type Entry struct {
	SessionID   string `json:"sessionId"`
	SessionFile string `json:"sessionFile,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"` // unix milliseconds

	SystemSent       bool `json:"systemSent,omitempty"`
	AbortedLastRun   bool `json:"abortedLastRun,omitempty"`
	ForkedFromParent bool `json:"forkedFromParent,omitempty"`

	// Per-session overrides
	ThinkingLevel    string `json:"thinkingLevel,omitempty"`
	VerboseLevel     string `json:"verboseLevel,omitempty"`
	ReasoningLevel   string `json:"reasoningLevel,omitempty"`
	TTSAuto          string `json:"ttsAuto,omitempty"`
	ModelOverride    string `json:"modelOverride,omitempty"`
	ProviderOverride string `json:"providerOverride,omitempty"`
	QueueMode        string `json:"queueMode,omitempty"`
	QueueDebounceMs  *int64 `json:"queueDebounceMs,omitempty"`
	QueueCap         *int   `json:"queueCap,omitempty"`
	QueueDrop        string `json:"queueDrop,omitempty"`

	// Display metadata
	Label        string `json:"label,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	ChatType     string `json:"chatType,omitempty"`
	Channel      string `json:"channel,omitempty"`
	GroupID      string `json:"groupId,omitempty"`
	Subject      string `json:"subject,omitempty"`
	GroupChannel string `json:"groupChannel,omitempty"`
	Space        string `json:"space,omitempty"`

	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	LastChannel     string           `json:"lastChannel,omitempty"`
	LastTo          string           `json:"lastTo,omitempty"`
	LastAccountID   string           `json:"lastAccountId,omitempty"`
	LastThreadID    string           `json:"lastThreadId,omitempty"`

	CompactionCount            int   `json:"compactionCount,omitempty"`
	MemoryFlushCompactionCount int   `json:"memoryFlushCompactionCount,omitempty"`
	MemoryFlushAt              int64 `json:"memoryFlushAt,omitempty"`

	// CLISessionIDs maps an external CLI provider to its own session id.
	CLISessionIDs map[string]string `json:"cliSessionIds,omitempty"`

	// Extra holds fields this version does not know about, written back verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// Store maps session keys to entries.
type Store map[string]*Entry

// entryAlias has Entry's fields without its JSON methods.
type entryAlias Entry

// knownFields is the set of JSON names declared on Entry.
var knownFields = func() map[string]struct{} {
	fields := make(map[string]struct{})
	t := reflect.TypeOf(Entry{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			fields[name] = struct{}{}
		}
	}
	return fields
}()

// UnmarshalJSON decodes known fields and keeps everything else in Extra.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// Telegram topics and similar write numeric thread ids.
	if coerced, ok := numberToString(raw["lastThreadId"]); ok {
		raw["lastThreadId"] = coerced
		data, _ = json.Marshal(raw)
	}
	if dcRaw, ok := raw["deliveryContext"]; ok {
		var dc map[string]json.RawMessage
		if json.Unmarshal(dcRaw, &dc) == nil {
			if coerced, ok := numberToString(dc["threadId"]); ok {
				dc["threadId"] = coerced
				raw["deliveryContext"], _ = json.Marshal(dc)
				data, _ = json.Marshal(raw)
			}
		}
	}

	var alias entryAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	for name := range knownFields {
		delete(raw, name)
	}
	if len(raw) > 0 {
		alias.Extra = raw
	} else {
		alias.Extra = nil
	}

	*e = Entry(alias)
	return nil
}

// MarshalJSON encodes known fields and merges Extra back in. Known fields win.
func (e Entry) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(entryAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for name, value := range e.Extra {
		if _, known := knownFields[name]; known {
			continue
		}
		merged[name] = value
	}
	return json.Marshal(merged)
}

// numberToString returns raw re-encoded as a JSON string when it holds a number.
func numberToString(raw json.RawMessage) (json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, false
	}
	quoted, err := json.Marshal(n.String())
	if err != nil {
		return nil, false
	}
	return quoted, true
}

// Clone returns a deep copy of the entry. Nil clones to nil.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.DeliveryContext != nil {
		dc := *e.DeliveryContext
		c.DeliveryContext = &dc
	}
	if e.QueueDebounceMs != nil {
		v := *e.QueueDebounceMs
		c.QueueDebounceMs = &v
	}
	if e.QueueCap != nil {
		v := *e.QueueCap
		c.QueueCap = &v
	}
	if e.CLISessionIDs != nil {
		c.CLISessionIDs = make(map[string]string, len(e.CLISessionIDs))
		for k, v := range e.CLISessionIDs {
			c.CLISessionIDs[k] = v
		}
	}
	if e.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// Clone returns a deep copy of the store.
func (s Store) Clone() Store {
	c := make(Store, len(s))
	for key, entry := range s {
		c[key] = entry.Clone()
	}
	return c
}

// SetCLISessionID records the session id an external CLI provider assigned.
// An empty id removes the mapping.
func (e *Entry) SetCLISessionID(provider, id string) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return
	}
	if id == "" {
		delete(e.CLISessionIDs, provider)
		if len(e.CLISessionIDs) == 0 {
			e.CLISessionIDs = nil
		}
		return
	}
	if e.CLISessionIDs == nil {
		e.CLISessionIDs = make(map[string]string)
	}
	e.CLISessionIDs[provider] = id
}

// CLISessionID returns the id recorded for provider, if any.
func (e *Entry) CLISessionID(provider string) string {
	if e == nil {
		return ""
	}
	return e.CLISessionIDs[strings.ToLower(strings.TrimSpace(provider))]
}
