// ABOUTME: Tests for the SQLite lifecycle ledger
// ABOUTME: Verifies insert, newest-first listing, limits and optional columns

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ledger.Close()
	})
	return ledger
}

func TestLedger_RecordAndList(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, ledger.RecordLifecycle(ctx, &LifecycleEvent{
		SessionKey: "agent:main:main", Kind: LifecycleCreated, SessionID: "id-1",
		Reason: "first-message", Channel: "telegram", Timestamp: base,
	}))
	require.NoError(t, ledger.RecordLifecycle(ctx, &LifecycleEvent{
		SessionKey: "agent:main:main", Kind: LifecycleReset, SessionID: "id-2", PrevSessionID: "id-1",
		Reason: "trigger", Timestamp: base.Add(time.Millisecond),
	}))
	require.NoError(t, ledger.RecordLifecycle(ctx, &LifecycleEvent{
		SessionKey: "agent:main:other", Kind: LifecycleCreated, SessionID: "id-9", Timestamp: base,
	}))

	events, err := ledger.ListLifecycle(ctx, "agent:main:main", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, LifecycleReset, events[0].Kind)
	assert.Equal(t, "id-1", events[0].PrevSessionID)
	assert.Equal(t, "trigger", events[0].Reason)
	assert.True(t, events[0].Timestamp.Equal(base.Add(time.Millisecond)))

	assert.Equal(t, LifecycleCreated, events[1].Kind)
	assert.Empty(t, events[1].PrevSessionID)
	assert.Equal(t, "telegram", events[1].Channel)
	assert.NotEmpty(t, events[1].ID)
}

func TestLedger_ListRespectsLimit(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.RecordLifecycle(ctx, &LifecycleEvent{
			SessionKey: "k", Kind: LifecycleReset, SessionID: "id",
		}))
	}

	events, err := ledger.ListLifecycle(ctx, "k", 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestLedger_RejectsUnknownKind(t *testing.T) {
	ledger := setupTestLedger(t)

	err := ledger.RecordLifecycle(context.Background(), &LifecycleEvent{
		SessionKey: "k", Kind: LifecycleKind("deleted"), SessionID: "id",
	})
	assert.Error(t, err)
}
