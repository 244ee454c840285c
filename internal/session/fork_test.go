// ABOUTME: Tests for forking sessions from parent transcripts
// ABOUTME: Branch success, lineage-header fallback, and skipping unreadable parents

package session

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sessions/internal/store"
	"github.com/2389/coven-sessions/internal/transcript"
)

// failingCreate wraps a FileManager and fails every Create.
type failingCreate struct {
	*transcript.FileManager
}

func (f failingCreate) Create(string) (transcript.Ref, error) {
	return transcript.Ref{}, errors.New("disk full")
}

func TestForker_BranchesFromLeaf(t *testing.T) {
	tm := transcript.NewFileManager(t.TempDir(), transcript.Options{})
	parent, err := tm.Create("")
	require.NoError(t, err)
	_, err = tm.Append(parent.SessionFile, "message", map[string]any{"text": "hello"})
	require.NoError(t, err)

	f := NewForker(tm, nil)
	res, ok := f.Fork(&store.Entry{SessionID: parent.SessionID, SessionFile: parent.SessionFile})
	require.True(t, ok)
	assert.True(t, res.Branched)
	assert.NotEqual(t, parent.SessionID, res.SessionID)

	child, err := tm.Open(res.SessionFile)
	require.NoError(t, err)
	assert.Equal(t, parent.SessionFile, child.Header.ParentSession)
	assert.Len(t, child.Entries, 1)
}

func TestForker_FallsBackToLineageHeader(t *testing.T) {
	tm := transcript.NewFileManager(t.TempDir(), transcript.Options{})
	parent, err := tm.Create("")
	require.NoError(t, err)

	f := NewForker(tm, nil)
	res, ok := f.Fork(&store.Entry{SessionID: parent.SessionID, SessionFile: parent.SessionFile})
	require.True(t, ok)
	assert.False(t, res.Branched)

	child, err := tm.Open(res.SessionFile)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, child.SessionID())
	assert.Equal(t, parent.SessionFile, child.Header.ParentSession)
	assert.Empty(t, child.Entries)
}

func TestForker_SkipsWhenParentMissing(t *testing.T) {
	dir := t.TempDir()
	f := NewForker(transcript.NewFileManager(dir, transcript.Options{}), nil)

	_, ok := f.Fork(&store.Entry{SessionID: "p", SessionFile: filepath.Join(dir, "gone.jsonl")})
	assert.False(t, ok)

	_, ok = f.Fork(&store.Entry{SessionID: "p"})
	assert.False(t, ok, "no transcript file recorded")

	_, ok = f.Fork(nil)
	assert.False(t, ok)
}

func TestForker_SkipsWhenFallbackFails(t *testing.T) {
	tm := transcript.NewFileManager(t.TempDir(), transcript.Options{})
	parent, err := tm.Create("")
	require.NoError(t, err)

	f := NewForker(failingCreate{tm}, nil)
	_, ok := f.Fork(&store.Entry{SessionID: parent.SessionID, SessionFile: parent.SessionFile})
	assert.False(t, ok)
}
