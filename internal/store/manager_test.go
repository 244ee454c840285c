// ABOUTME: Tests for Manager load/save caching, locked updates and corrupt-file handling
// ABOUTME: Uses a counting filesystem and a fake clock to observe cache behaviour

package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFS counts ReadFile calls on top of the real filesystem.
type countingFS struct {
	reads atomic.Int32
}

func (c *countingFS) ReadFile(name string) ([]byte, error) {
	c.reads.Add(1)
	return os.ReadFile(name)
}

func (c *countingFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestManager(t *testing.T, ttl time.Duration) (*Manager, *countingFS, *fakeClock, string) {
	t.Helper()
	fsys := &countingFS{}
	clock := newFakeClock()
	m := NewManager(Options{
		CacheTTL: ttl,
		FS:       fsys,
		Now:      clock.Now,
	})
	path := filepath.Join(t.TempDir(), "agents", "main", "sessions", "sessions.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	return m, fsys, clock, path
}

// bumpModTime moves the file's mtime forward so the cache notices an external write.
func bumpModTime(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	later := info.ModTime().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
}

func TestManager_LoadMissingFileIsEmpty(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)

	s := m.Load(path)
	assert.NotNil(t, s)
	assert.Empty(t, s)
}

func TestManager_LoadInvalidJSONIsEmpty(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	assert.Empty(t, m.Load(path))
}

func TestManager_LoadToleratesCommentsAndTrailingCommas(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := `{
		// hand-edited by an operator
		"agent:main:main": {
			"sessionId": "id-1",
			"updatedAt": 10,
		},
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s := m.Load(path)
	require.Contains(t, s, "agent:main:main")
	assert.Equal(t, "id-1", s["agent:main:main"].SessionID)
}

func TestManager_LoadSkipsMalformedEntries(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := `{"good": {"sessionId": "id-1", "updatedAt": 1}, "bad": {"updatedAt": "yesterday"}, "gone": null}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s := m.Load(path)
	assert.Len(t, s, 1)
	assert.Contains(t, s, "good")
}

func TestManager_SaveThenLoadRoundTrips(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)

	saved := Store{
		"agent:main:main": {
			SessionID:     "id-1",
			UpdatedAt:     1000,
			DisplayName:   "Alice",
			ThinkingLevel: "high",
			CLISessionIDs: map[string]string{"claude-cli": "abc"},
		},
	}
	require.NoError(t, m.Save(path, saved.Clone()))

	loaded := m.Load(path)
	assert.Equal(t, saved, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestManager_LoadReturnsIsolatedCopies(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, m.Save(path, Store{
		"k": {SessionID: "id-1", UpdatedAt: 1, DisplayName: "A", CLISessionIDs: map[string]string{"p": "x"}},
	}))

	first := m.Load(path)
	first["k"].DisplayName = "mutated"
	first["k"].CLISessionIDs["p"] = "mutated"
	first["new"] = &Entry{SessionID: "id-2"}

	second := m.Load(path)
	assert.Equal(t, "A", second["k"].DisplayName)
	assert.Equal(t, "x", second["k"].CLISessionIDs["p"])
	assert.NotContains(t, second, "new")
}

func TestManager_CacheHitReadsFileOnce(t *testing.T) {
	m, fsys, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: 1}}))

	m.Load(path)
	m.Load(path)
	m.Load(path)

	assert.Equal(t, int32(1), fsys.reads.Load())
}

func TestManager_ExternalWriteIsObserved(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: 1}}))
	require.Equal(t, "id-1", m.Load(path)["k"].SessionID)

	// Another process rewrites the file
	require.NoError(t, os.WriteFile(path, []byte(`{"k": {"sessionId": "id-2", "updatedAt": 2}}`), 0o600))
	bumpModTime(t, path)

	s := m.Load(path)
	assert.Equal(t, "id-2", s["k"].SessionID)
	assert.Equal(t, int64(2), s["k"].UpdatedAt)
}

func TestManager_SaveInvalidatesCache(t *testing.T) {
	m, fsys, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: 1}}))
	m.Load(path)
	reads := fsys.reads.Load()

	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-9", UpdatedAt: 9}}))
	s := m.Load(path)

	assert.Equal(t, "id-9", s["k"].SessionID)
	assert.Equal(t, reads+1, fsys.reads.Load())
}

func TestManager_TTLExpiryForcesReread(t *testing.T) {
	m, fsys, clock, path := setupTestManager(t, time.Second)
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: 1}}))

	m.Load(path)
	m.Load(path)
	require.Equal(t, int32(1), fsys.reads.Load())

	clock.Advance(2 * time.Second)
	m.Load(path)
	assert.Equal(t, int32(2), fsys.reads.Load())
}

func TestManager_ZeroTTLDisablesCache(t *testing.T) {
	m, fsys, _, path := setupTestManager(t, 0)
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: 1}}))

	m.Load(path)
	m.Load(path)
	m.Load(path)

	assert.Equal(t, int32(3), fsys.reads.Load())
}

func TestManager_LoadFreshBypassesCache(t *testing.T) {
	m, fsys, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: 1}}))

	m.Load(path)
	m.LoadFresh(path)
	m.Load(path)

	// The fresh read neither used nor refreshed the cache
	assert.Equal(t, int32(2), fsys.reads.Load())
}

func TestResolveCacheTTL(t *testing.T) {
	t.Setenv(CacheTTLEnv, "")
	assert.Equal(t, DefaultCacheTTL, ResolveCacheTTL(DefaultCacheTTL))

	t.Setenv(CacheTTLEnv, "0")
	assert.Equal(t, time.Duration(0), ResolveCacheTTL(DefaultCacheTTL))

	t.Setenv(CacheTTLEnv, "1500")
	assert.Equal(t, 1500*time.Millisecond, ResolveCacheTTL(DefaultCacheTTL))

	t.Setenv(CacheTTLEnv, "soon")
	assert.Equal(t, DefaultCacheTTL, ResolveCacheTTL(DefaultCacheTTL))
}

func TestManager_LegacyFieldsMigratedOnLoad(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"k": {"sessionId": "id-1", "updatedAt": 1, "provider": "x", "room": "#general"}}`), 0o600))

	s := m.Load(path)
	assert.Equal(t, "x", s["k"].Channel)
	assert.Equal(t, "#general", s["k"].GroupChannel)
	assert.NotContains(t, s["k"].Extra, "provider")
	assert.NotContains(t, s["k"].Extra, "room")

	require.NoError(t, m.Save(path, s))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"provider"`)
	assert.NotContains(t, string(raw), `"room"`)
	assert.Contains(t, string(raw), `"channel": "x"`)
}

func TestManager_UpdateIsSerializedAcrossWriters(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, m.Save(path, Store{"counter": {SessionID: "id-1", UpdatedAt: 1}}))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Update(context.Background(), path, func(s Store) error {
				s["counter"].CompactionCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, m.Load(path)["counter"].CompactionCount)
}

func TestManager_UpdateSeparateManagersShareLock(t *testing.T) {
	// Two managers stand in for two processes sharing a state directory.
	_, _, _, path := setupTestManager(t, DefaultCacheTTL)
	a := NewManager(Options{CacheTTL: DefaultCacheTTL})
	b := NewManager(Options{CacheTTL: DefaultCacheTTL})
	require.NoError(t, a.Save(path, Store{"counter": {SessionID: "id-1", UpdatedAt: 1}}))

	const perManager = 10
	var wg sync.WaitGroup
	for _, m := range []*Manager{a, b} {
		for i := 0; i < perManager; i++ {
			wg.Add(1)
			go func(m *Manager) {
				defer wg.Done()
				assert.NoError(t, m.Update(context.Background(), path, func(s Store) error {
					s["counter"].CompactionCount++
					return nil
				}))
			}(m)
		}
	}
	wg.Wait()

	assert.Equal(t, 2*perManager, a.LoadFresh(path)["counter"].CompactionCount)
}

func TestManager_UpdateErrorSkipsWrite(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: 1}}))

	err := m.Update(context.Background(), path, func(s Store) error {
		s["k"].DisplayName = "should not persist"
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, m.Load(path)["k"].DisplayName)

	_, statErr := os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(statErr), "lock must be released after a failed mutator")
}

func TestManager_UpdateEntryMissingKeyReturnsNil(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)

	called := false
	entry, err := m.UpdateEntry(context.Background(), path, "nope", func(*Entry) (*Patch, error) {
		called = true
		return &Patch{}, nil
	})
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.False(t, called)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no implicit creation")
}

func TestManager_UpdateEntryMergesPatch(t *testing.T) {
	m, _, clock, path := setupTestManager(t, DefaultCacheTTL)
	before := clock.Now().UnixMilli()
	require.NoError(t, m.Save(path, Store{"k": {SessionID: "id-1", UpdatedAt: before, DisplayName: "A", Subject: "s"}}))

	clock.Advance(time.Minute)
	entry, err := m.UpdateEntry(context.Background(), path, "k", func(e *Entry) (*Patch, error) {
		assert.Equal(t, "A", e.DisplayName)
		return &Patch{DisplayName: Ptr("B")}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, "id-1", entry.SessionID)
	assert.Equal(t, "B", entry.DisplayName)
	assert.Equal(t, "s", entry.Subject)
	assert.GreaterOrEqual(t, entry.UpdatedAt, before)

	assert.Equal(t, entry, m.Load(path)["k"])
}

func TestManager_UpsertAndLastRoute(t *testing.T) {
	m, _, _, path := setupTestManager(t, DefaultCacheTTL)
	ctx := context.Background()

	entry, err := m.UpdateLastRoute(ctx, path, "agent:main:main", DeliveryContext{
		Channel: "telegram", To: "42", AccountID: "default",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.SessionID)
	assert.Equal(t, "telegram", entry.LastChannel)
	assert.Equal(t, "42", entry.LastTo)

	again, err := m.Upsert(ctx, path, "agent:main:main", &Patch{Label: Ptr("ops")})
	require.NoError(t, err)
	assert.Equal(t, entry.SessionID, again.SessionID)
	assert.Equal(t, "ops", again.Label)
	assert.Equal(t, "telegram", again.DeliveryContext.Channel)
}
