//go:build windows

// ABOUTME: Tests for the Windows store writer
// ABOUTME: A vanished store directory is a silent no-op and is not recreated

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStoreFile_VanishedDirectoryIsNoop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	path := filepath.Join(dir, "sessions.json")

	require.NoError(t, writeStoreFile(path, []byte(`{}`)))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_SaveDoesNotRecreateVanishedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	path := filepath.Join(dir, "sessions.json")
	m := NewManager(Options{})

	require.NoError(t, m.Save(path, Store{"global": {SessionID: "s1"}}))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
