// ABOUTME: Forker branches a new session off a parent session's transcript
// ABOUTME: Falls back to a lineage-only header, and skips forking when the parent cannot be opened

package session

import (
	"log/slog"

	"github.com/2389/coven-sessions/internal/store"
	"github.com/2389/coven-sessions/internal/transcript"
)

// TranscriptStore is the transcript manager the session layer hands files to.
type TranscriptStore interface {
	Open(path string) (*transcript.Transcript, error)
	Branch(src *transcript.Transcript, leafID string) (transcript.Ref, error)
	Create(parentSession string) (transcript.Ref, error)
	PathFor(sessionID string) string
}

// ForkResult says how a fork was produced.
type ForkResult struct {
	transcript.Ref
	// Branched is false when only a header pointing at the parent was written.
	Branched bool
}

// Forker creates child sessions from parent transcripts.
type Forker struct {
	transcripts TranscriptStore
	logger      *slog.Logger
}

// NewForker creates a Forker.
func NewForker(transcripts TranscriptStore, logger *slog.Logger) *Forker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forker{transcripts: transcripts, logger: logger.With("component", "forker")}
}

// Fork branches from parent's current leaf. ok is false when forking was skipped
// and the caller should start an independent session.
func (f *Forker) Fork(parent *store.Entry) (ForkResult, bool) {
	if parent == nil || parent.SessionFile == "" {
		return ForkResult{}, false
	}

	src, err := f.transcripts.Open(parent.SessionFile)
	if err != nil {
		f.logger.Warn("parent transcript unavailable, not forking",
			"parent_session", parent.SessionID, "file", parent.SessionFile, "error", err)
		return ForkResult{}, false
	}

	ref, err := f.transcripts.Branch(src, "")
	if err == nil {
		return ForkResult{Ref: ref, Branched: true}, true
	}
	f.logger.Info("branching parent transcript failed, writing lineage header",
		"parent_session", parent.SessionID, "error", err)

	ref, err = f.transcripts.Create(parent.SessionFile)
	if err != nil {
		f.logger.Warn("creating forked transcript failed, not forking",
			"parent_session", parent.SessionID, "error", err)
		return ForkResult{}, false
	}
	return ForkResult{Ref: ref}, true
}
