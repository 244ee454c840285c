// ABOUTME: Manager owns the session store cache and exposes load, save and locked updates
// ABOUTME: Update is the only sanctioned read-modify-write path; it holds the store lock throughout

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/2389/coven-sessions/internal/filelock"
)

// DefaultCacheTTL is how long a parsed store may be served from memory.
const DefaultCacheTTL = 45 * time.Second

// CacheTTLEnv overrides the cache TTL in milliseconds; "0" disables caching.
const CacheTTLEnv = "COVEN_SESSION_CACHE_TTL_MS"

// errNoChange lets a mutator end an Update without writing the file.
var errNoChange = errors.New("no change")

// FileSystem is the read side of the filesystem the manager uses.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
}

type osFS struct{}

func (osFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) } // #nosec G304 -- store paths come from configuration
func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// Options configures a Manager.
type Options struct {
	// CacheTTL bounds how long a loaded store is reused. Zero disables the cache;
	// use ResolveCacheTTL to apply the default and the environment override.
	CacheTTL time.Duration

	// Lock tunes the per-store lock used by Update and friends.
	Lock filelock.Options

	FS     FileSystem
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Manager loads and persists session stores. Create one per process and share it.
type Manager struct {
	cache  *cache
	ttl    time.Duration
	lock   filelock.Options
	fs     FileSystem
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.FS == nil {
		opts.FS = osFS{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewSessionID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "store")
	if opts.Lock.Logger == nil {
		opts.Lock.Logger = opts.Logger
	}
	return &Manager{
		cache:  newCache(),
		ttl:    opts.CacheTTL,
		lock:   opts.Lock,
		fs:     opts.FS,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: logger,
	}
}

// ResolveCacheTTL returns the TTL to use: the environment override when it is a
// valid non-negative millisecond count, otherwise configured.
func ResolveCacheTTL(configured time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(CacheTTLEnv))
	if raw == "" {
		return configured
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return configured
	}
	return time.Duration(ms) * time.Millisecond
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}

// NewID generates a session id with the manager's generator.
func (m *Manager) NewID() string {
	return m.newID()
}

// Mutex returns the cross-process mutex guarding path.
func (m *Manager) Mutex(path string) *filelock.Mutex {
	return filelock.New(path, m.lock)
}

// Load returns the store at path. A missing or unparsable file yields an empty
// store. The result is a private copy; mutating it never affects the cache.
func (m *Manager) Load(path string) Store {
	return m.load(path, false)
}

// LoadFresh reads path from disk without consulting or refreshing the cache.
func (m *Manager) LoadFresh(path string) Store {
	return m.load(path, true)
}

// Entry returns a copy of one entry, or nil when the key is absent.
func (m *Manager) Entry(path, key string) *Entry {
	return m.Load(path)[key]
}

// InvalidateCache drops any cached snapshot for path.
func (m *Manager) InvalidateCache(path string) {
	m.cache.invalidate(path)
}

// ClearCache drops every cached snapshot.
func (m *Manager) ClearCache() {
	m.cache.clear()
}

func (m *Manager) load(path string, skipCache bool) Store {
	now := m.now()
	useCache := !skipCache && m.ttl > 0

	info, statErr := m.fs.Stat(path)
	if useCache && statErr == nil {
		if s, ok := m.cache.get(path, now, m.ttl, info.ModTime(), info.Size()); ok {
			m.logger.Debug("store cache hit", "path", path)
			return s
		}
	}

	s := m.readStore(path)
	if useCache && statErr == nil {
		m.cache.put(path, s, now, info.ModTime(), info.Size())
	}
	return s
}

// readStore parses the store file, tolerating comments and trailing commas.
func (m *Manager) readStore(path string) Store {
	data, err := m.fs.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("reading session store failed, treating as empty", "path", path, "error", err)
		}
		return Store{}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Store{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		m.logger.Warn("session store is not valid JSON, treating as empty", "path", path, "error", err)
		return Store{}
	}

	s := make(Store, len(raw))
	for key, value := range raw {
		if string(value) == "null" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			m.logger.Warn("skipping malformed session entry", "path", path, "key", key, "error", err)
			continue
		}
		s[key] = &entry
	}
	NormalizeStore(s)
	return s
}

// Save writes s to path atomically after normalizing it. The cache entry for
// path is dropped first so the next Load re-reads the file.
func (m *Manager) Save(path string, s Store) error {
	m.cache.invalidate(path)
	if s == nil {
		s = Store{}
	}
	NormalizeStore(s)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session store: %w", err)
	}
	if err := writeStoreFile(path, data); err != nil {
		return fmt.Errorf("writing session store: %w", err)
	}
	m.logger.Debug("saved session store", "path", path, "entries", len(s))
	return nil
}

// Update runs fn on a fresh copy of the store while holding the store lock and
// saves the result. If fn returns an error nothing is written.
func (m *Manager) Update(ctx context.Context, path string, fn func(Store) error) error {
	return m.Mutex(path).Do(ctx, func() error {
		s := m.LoadFresh(path)
		if err := fn(s); err != nil {
			if errors.Is(err, errNoChange) {
				return nil
			}
			return err
		}
		return m.Save(path, s)
	})
}

// UpdateStore is Update for mutators that produce a result.
func UpdateStore[T any](ctx context.Context, m *Manager, path string, fn func(Store) (T, error)) (T, error) {
	var result T
	err := m.Update(ctx, path, func(s Store) error {
		var fnErr error
		result, fnErr = fn(s)
		return fnErr
	})
	return result, err
}

// UpdateEntry patches an existing entry under the store lock. fn receives a copy
// of the current entry and returns the patch to merge; a nil patch leaves the
// store untouched. Returns (nil, nil) when key has no entry.
func (m *Manager) UpdateEntry(ctx context.Context, path, key string, fn func(*Entry) (*Patch, error)) (*Entry, error) {
	return UpdateStore(ctx, m, path, func(s Store) (*Entry, error) {
		existing := s[key]
		if existing == nil {
			return nil, errNoChange
		}
		patch, err := fn(existing.Clone())
		if err != nil {
			return nil, err
		}
		if patch == nil {
			return existing.Clone(), errNoChange
		}
		next := MergeEntry(existing, patch, m.now(), m.newID)
		s[key] = next
		return next.Clone(), nil
	})
}

// Upsert merges patch into the entry at key, creating it when absent.
func (m *Manager) Upsert(ctx context.Context, path, key string, patch *Patch) (*Entry, error) {
	return UpdateStore(ctx, m, path, func(s Store) (*Entry, error) {
		next := MergeEntry(s[key], patch, m.now(), m.newID)
		s[key] = next
		return next.Clone(), nil
	})
}

// UpdateLastRoute records where the session was last reached so proactive
// deliveries can find it again. The entry is created if it does not exist.
func (m *Manager) UpdateLastRoute(ctx context.Context, path, key string, route DeliveryContext) (*Entry, error) {
	return m.Upsert(ctx, path, key, &Patch{DeliveryContext: &route})
}
