// ABOUTME: Watches a session store file for changes made by any process
// ABOUTME: Reports per-key changes (added, updated, new session id) between snapshots

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies a change to one session key.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	// ChangeNewSession means the key now points at a different session id.
	ChangeNewSession ChangeKind = "new-session"
	ChangeRemoved    ChangeKind = "removed"
)

// Change describes what happened to one key between two snapshots.
type Change struct {
	Key          string
	Kind         ChangeKind
	OldSessionID string
	Entry        *Entry // nil for removals
}

// DiffStores lists the keys that differ between prev and next, sorted by key.
func DiffStores(prev, next Store) []Change {
	var changes []Change
	for key, e := range next {
		old, ok := prev[key]
		switch {
		case !ok:
			changes = append(changes, Change{Key: key, Kind: ChangeAdded, Entry: e})
		case old.SessionID != e.SessionID:
			changes = append(changes, Change{Key: key, Kind: ChangeNewSession, OldSessionID: old.SessionID, Entry: e})
		case old.UpdatedAt != e.UpdatedAt:
			changes = append(changes, Change{Key: key, Kind: ChangeUpdated, OldSessionID: old.SessionID, Entry: e})
		}
	}
	for key, old := range prev {
		if _, ok := next[key]; !ok {
			changes = append(changes, Change{Key: key, Kind: ChangeRemoved, OldSessionID: old.SessionID})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

// Watch calls onChange with the differences each time the store at path is
// rewritten, until ctx is cancelled. Events are debounced so one save reports once.
func (m *Manager) Watch(ctx context.Context, path string, debounce time.Duration, onChange func([]Change)) error {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Saves replace the file by rename, so watch the directory.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session store directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	name := filepath.Base(path)
	prev := m.LoadFresh(path)
	m.logger.Debug("watching session store", "path", path, "entries", len(prev))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			next := m.LoadFresh(path)
			if changes := DiffStores(prev, next); len(changes) > 0 {
				onChange(changes)
			}
			prev = next

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("session store watcher error", "path", path, "error", err)
		}
	}
}
