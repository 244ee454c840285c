// ABOUTME: Advisory cross-process mutex implemented with an exclusive sibling lock file
// ABOUTME: Handles stale lock recovery, missing parent directories, and acquisition timeouts

package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Default timings used when Options fields are zero.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 25 * time.Millisecond
	DefaultStaleAfter   = 30 * time.Second
)

// ErrTimeout is returned when the lock could not be acquired before the timeout.
var ErrTimeout = errors.New("timed out acquiring lock")

// Options tunes lock acquisition. Zero values fall back to the defaults above.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger

	// Now overrides the clock used for staleness checks (tests).
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// lockMetadata is written into the lock file for operators inspecting a stuck lock.
type lockMetadata struct {
	PID       int    `json:"pid"`
	StartedAt string `json:"startedAt"`
}

// Mutex is a cross-process mutex keyed by a resource path.
type Mutex struct {
	path     string
	lockPath string
	opts     Options
	logger   *slog.Logger
}

// New returns a Mutex guarding resourcePath. The lock file is resourcePath + ".lock".
func New(resourcePath string, opts Options) *Mutex {
	opts = opts.withDefaults()
	return &Mutex{
		path:     resourcePath,
		lockPath: LockPath(resourcePath),
		opts:     opts,
		logger:   opts.Logger.With("component", "filelock"),
	}
}

// LockPath returns the sentinel file path used for resourcePath.
func LockPath(resourcePath string) string {
	return resourcePath + ".lock"
}

// Path returns the guarded resource path.
func (m *Mutex) Path() string {
	return m.path
}

// Lock acquires the mutex and returns a release function. The release function
// is safe to call more than once.
func (m *Mutex) Lock(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(m.opts.Timeout)
	createdDir := false

	for {
		// #nosec G304 -- lock path is derived from the caller's store path.
		f, err := os.OpenFile(m.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			m.writeMetadata(f)
			_ = f.Close()
			released := false
			return func() {
				if released {
					return
				}
				released = true
				m.release()
			}, nil
		}

		switch {
		case errors.Is(err, os.ErrNotExist) && !createdDir:
			createdDir = true
			if mkErr := os.MkdirAll(filepath.Dir(m.lockPath), 0o755); mkErr != nil {
				return nil, fmt.Errorf("creating lock directory: %w", mkErr)
			}
			continue
		case !isContention(err, m.lockPath):
			return nil, fmt.Errorf("acquiring lock %s: %w", m.lockPath, err)
		}

		if m.isStale() {
			m.logger.Warn("removing stale lock", "lock", m.lockPath)
			if rmErr := os.Remove(m.lockPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				return nil, fmt.Errorf("removing stale lock: %w", rmErr)
			}
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, m.lockPath, m.opts.Timeout)
		}

		timer := time.NewTimer(m.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquiring lock %s: %w", m.lockPath, ctx.Err())
		case <-timer.C:
		}
	}
}

// Do runs fn while holding the mutex. The lock is released whether fn fails or not.
func (m *Mutex) Do(ctx context.Context, fn func() error) error {
	release, err := m.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// WithLock runs fn under m and returns its result.
func WithLock[T any](ctx context.Context, m *Mutex, fn func() (T, error)) (T, error) {
	var result T
	err := m.Do(ctx, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

func (m *Mutex) release() {
	if err := os.Remove(m.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to remove lock file", "lock", m.lockPath, "error", err)
	}
}

func (m *Mutex) writeMetadata(f *os.File) {
	meta := lockMetadata{
		PID:       os.Getpid(),
		StartedAt: m.opts.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if _, err := f.Write(data); err != nil {
		m.logger.Debug("failed to write lock metadata", "lock", m.lockPath, "error", err)
	}
}

// isStale reports whether the existing lock file is older than StaleAfter.
// A lock file that vanished between attempts is treated as not stale; the next
// create attempt will simply succeed.
func (m *Mutex) isStale() bool {
	info, err := os.Stat(m.lockPath)
	if err != nil {
		return false
	}
	return m.opts.Now().Sub(info.ModTime()) > m.opts.StaleAfter
}

// isContention distinguishes "someone else holds it" from real I/O failures.
// Windows reports a pending-delete lock file as a permission error.
func isContention(err error, lockPath string) bool {
	if errors.Is(err, os.ErrExist) {
		return true
	}
	if !errors.Is(err, os.ErrPermission) {
		return false
	}
	_, statErr := os.Stat(lockPath)
	return statErr == nil
}
