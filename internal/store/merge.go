// ABOUTME: Typed partial-entry patch and the merge that reconciles it with an existing entry
// ABOUTME: Patch fields win per field; sessionId is stable and updatedAt never moves backwards

package store

import (
	"time"

	"github.com/google/uuid"
)

// Patch is a partial Entry. Nil fields are left untouched by MergeEntry; a
// pointer to the zero value clears the field.
type Patch struct {
	SessionID   *string
	SessionFile *string
	UpdatedAt   *int64

	SystemSent       *bool
	AbortedLastRun   *bool
	ForkedFromParent *bool

	ThinkingLevel    *string
	VerboseLevel     *string
	ReasoningLevel   *string
	TTSAuto          *string
	ModelOverride    *string
	ProviderOverride *string
	QueueMode        *string
	QueueDebounceMs  **int64
	QueueCap         **int
	QueueDrop        *string

	Label        *string
	DisplayName  *string
	ChatType     *string
	Channel      *string
	GroupID      *string
	Subject      *string
	GroupChannel *string
	Space        *string

	// DeliveryContext replaces the route and the mirrored last* fields together.
	DeliveryContext *DeliveryContext

	CompactionCount            *int
	MemoryFlushCompactionCount *int
	MemoryFlushAt              *int64

	// CLISessionIDs entries are set individually; an empty value removes one.
	CLISessionIDs map[string]string
}

// Ptr returns a pointer to v. It keeps Patch literals short.
func Ptr[T any](v T) *T {
	return &v
}

// NewSessionID generates a session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// MergeEntry reconciles existing with patch and returns a new entry; neither
// input is modified.
//
// sessionId resolves to patch, then existing, then newID(). updatedAt resolves to
// max(existing, patch, now) so concurrent writers can never regress the clock.
func MergeEntry(existing *Entry, patch *Patch, now time.Time, newID func() string) *Entry {
	if newID == nil {
		newID = NewSessionID
	}
	if patch == nil {
		patch = &Patch{}
	}

	var sessionID string
	switch {
	case patch.SessionID != nil && *patch.SessionID != "":
		sessionID = *patch.SessionID
	case existing != nil && existing.SessionID != "":
		sessionID = existing.SessionID
	default:
		sessionID = newID()
	}

	updatedAt := now.UnixMilli()
	if existing != nil && existing.UpdatedAt > updatedAt {
		updatedAt = existing.UpdatedAt
	}
	if patch.UpdatedAt != nil && *patch.UpdatedAt > updatedAt {
		updatedAt = *patch.UpdatedAt
	}

	next := existing.Clone()
	if next == nil {
		next = &Entry{}
	}
	applyPatch(next, patch)

	next.SessionID = sessionID
	next.UpdatedAt = updatedAt
	return next
}

// applyPatch copies every set patch field onto e.
func applyPatch(e *Entry, p *Patch) {
	setString(&e.SessionFile, p.SessionFile)

	setBool(&e.SystemSent, p.SystemSent)
	setBool(&e.AbortedLastRun, p.AbortedLastRun)
	setBool(&e.ForkedFromParent, p.ForkedFromParent)

	setString(&e.ThinkingLevel, p.ThinkingLevel)
	setString(&e.VerboseLevel, p.VerboseLevel)
	setString(&e.ReasoningLevel, p.ReasoningLevel)
	setString(&e.TTSAuto, p.TTSAuto)
	setString(&e.ModelOverride, p.ModelOverride)
	setString(&e.ProviderOverride, p.ProviderOverride)
	setString(&e.QueueMode, p.QueueMode)
	if p.QueueDebounceMs != nil {
		e.QueueDebounceMs = copyPtr(*p.QueueDebounceMs)
	}
	if p.QueueCap != nil {
		e.QueueCap = copyPtr(*p.QueueCap)
	}
	setString(&e.QueueDrop, p.QueueDrop)

	setString(&e.Label, p.Label)
	setString(&e.DisplayName, p.DisplayName)
	setString(&e.ChatType, p.ChatType)
	setString(&e.Channel, p.Channel)
	setString(&e.GroupID, p.GroupID)
	setString(&e.Subject, p.Subject)
	setString(&e.GroupChannel, p.GroupChannel)
	setString(&e.Space, p.Space)

	if p.DeliveryContext != nil {
		setDeliveryContext(e, p.DeliveryContext)
	}

	if p.CompactionCount != nil {
		e.CompactionCount = *p.CompactionCount
	}
	if p.MemoryFlushCompactionCount != nil {
		e.MemoryFlushCompactionCount = *p.MemoryFlushCompactionCount
	}
	if p.MemoryFlushAt != nil {
		e.MemoryFlushAt = *p.MemoryFlushAt
	}

	for provider, id := range p.CLISessionIDs {
		e.SetCLISessionID(provider, id)
	}
}

// setDeliveryContext stores dc on e and mirrors it into the flattened fields.
func setDeliveryContext(e *Entry, dc *DeliveryContext) {
	if dc.IsZero() {
		e.DeliveryContext = nil
	} else {
		c := *dc
		e.DeliveryContext = &c
	}
	e.LastChannel = dc.Channel
	e.LastTo = dc.To
	e.LastAccountID = dc.AccountID
	e.LastThreadID = dc.ThreadID
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
