// ABOUTME: Builds the CLI's dependencies from configuration
// ABOUTME: Store manager, lifecycle ledger, transcripts, dedupe cache and the session resolver

package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/2389/coven-sessions/internal/config"
	"github.com/2389/coven-sessions/internal/dedupe"
	"github.com/2389/coven-sessions/internal/filelock"
	"github.com/2389/coven-sessions/internal/routing"
	"github.com/2389/coven-sessions/internal/session"
	"github.com/2389/coven-sessions/internal/store"
	"github.com/2389/coven-sessions/internal/transcript"
)

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Manager
	resolver *session.Resolver
	ledger   *store.Ledger // nil when ledger.enabled is false
	dedupe   *dedupe.Cache
	events   *session.Broadcaster
	now      func() time.Time
}

func wireApp(configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, logOut)

	mgr := store.NewManager(store.Options{
		CacheTTL: store.ResolveCacheTTL(cfg.State.CacheTTL),
		Lock: filelock.Options{
			Timeout:      cfg.State.Lock.Timeout,
			PollInterval: cfg.State.Lock.PollInterval,
			StaleAfter:   cfg.State.Lock.StaleAfter,
		},
		Logger: logger,
	})

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  mgr,
		events: session.NewBroadcaster(logger),
		now:    time.Now,
	}

	var recorder session.LifecycleRecorder
	if cfg.Ledger.Enabled {
		ledger, err := store.NewLedger(cfg.LedgerPath(), logger)
		if err != nil {
			return nil, fmt.Errorf("opening lifecycle ledger: %w", err)
		}
		a.ledger = ledger
		recorder = ledger
	}

	if cfg.Session.DedupeTTL > 0 && cfg.Session.DedupeSize > 0 {
		a.dedupe = dedupe.New(cfg.Session.DedupeTTL, cfg.Session.DedupeSize)
	}

	transcripts := transcript.NewFileManager(transcriptDir(cfg), transcript.Options{Logger: logger})

	resolver, err := session.NewResolver(session.Options{
		Store:             mgr,
		Session:           cfg.Session,
		StateDir:          cfg.State.Dir,
		StorePathTemplate: cfg.State.StorePath,
		Transcripts:       transcripts,
		Dedupe:            a.dedupe,
		Ledger:            recorder,
		Events:            a.events,
		Logger:            logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("wiring session resolver: %w", err)
	}
	a.resolver = resolver

	return a, nil
}

// transcriptDir keeps transcripts under the state dir, or next to the store
// when only a store path template is configured.
func transcriptDir(cfg *config.Config) string {
	if cfg.State.Dir != "" {
		return filepath.Join(cfg.State.Dir, "transcripts")
	}
	return filepath.Join(routing.TranscriptDir(routing.StorePath(cfg.State.StorePath, "", routing.DefaultAgentID)), "transcripts")
}

func (a *app) storePath(agentID string) string {
	return a.resolver.StorePathFor(agentID)
}

func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("closing lifecycle ledger", "error", err)
		}
	}
	if a.dedupe != nil {
		a.dedupe.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
}
