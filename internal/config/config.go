// ABOUTME: Configuration loading and parsing for coven-sessions
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-sessions configuration
type Config struct {
	State   StateConfig   `yaml:"state" toml:"state"`
	Session SessionConfig `yaml:"session" toml:"session"`
	Ledger  LedgerConfig  `yaml:"ledger" toml:"ledger"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// StateConfig locates session stores and tunes their cache and lock
type StateConfig struct {
	// Dir is the shared state directory
	Dir string `yaml:"dir" toml:"dir"`

	// StorePath is a template; "{agentId}" is replaced per agent.
	// Defaults to <dir>/agents/{agentId}/sessions/sessions.json
	StorePath string `yaml:"store_path" toml:"store_path"`

	CacheTTL    time.Duration `yaml:"-" toml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl" toml:"cache_ttl"`

	Lock LockConfig `yaml:"lock" toml:"lock"`
}

// LockConfig holds store lock timing
type LockConfig struct {
	Timeout      time.Duration `yaml:"-" toml:"-"`
	PollInterval time.Duration `yaml:"-" toml:"-"`
	StaleAfter   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw      string `yaml:"timeout" toml:"timeout"`
	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	StaleAfterRaw   string `yaml:"stale_after" toml:"stale_after"`
}

// SessionConfig holds session scoping and reset policy
type SessionConfig struct {
	Scope         string              `yaml:"scope" toml:"scope"`       // per-sender, global
	DMScope       string              `yaml:"dm_scope" toml:"dm_scope"` // main, per-peer, per-channel-peer, per-account-channel-peer
	MainKey       string              `yaml:"main_key" toml:"main_key"`
	IdentityLinks map[string][]string `yaml:"identity_links" toml:"identity_links"`

	ResetTriggers []string `yaml:"reset_triggers" toml:"reset_triggers"`
	IdleMinutes   int      `yaml:"idle_minutes" toml:"idle_minutes"`

	Reset          *ResetConfig           `yaml:"reset" toml:"reset"`
	ResetByType    map[string]ResetConfig `yaml:"reset_by_type" toml:"reset_by_type"`
	ResetByChannel map[string]ResetConfig `yaml:"reset_by_channel" toml:"reset_by_channel"`

	// ResetClearsOverrides drops thinking/verbose/model overrides on reset; off by default
	ResetClearsOverrides *bool `yaml:"reset_clears_overrides" toml:"reset_clears_overrides"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	DedupeSize   int           `yaml:"dedupe_size" toml:"dedupe_size"`
}

// ResetConfig is one reset policy block
type ResetConfig struct {
	Mode        string `yaml:"mode" toml:"mode"` // idle, daily
	AtHour      *int   `yaml:"at_hour" toml:"at_hour"`
	IdleMinutes *int   `yaml:"idle_minutes" toml:"idle_minutes"`
}

// LedgerConfig holds the lifecycle ledger settings
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Valid enumerations
var (
	validScopes     = []string{"per-sender", "global"}
	validDMScopes   = []string{"main", "per-peer", "per-channel-peer", "per-account-channel-peer"}
	validResetModes = []string{"idle", "daily"}
	validResetTypes = []string{"direct", "dm", "group", "thread"}
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	clears := false
	return &Config{
		State: StateConfig{
			Dir:      defaultStateDir(),
			CacheTTL: 45 * time.Second,
			Lock: LockConfig{
				Timeout:      10 * time.Second,
				PollInterval: 25 * time.Millisecond,
				StaleAfter:   30 * time.Second,
			},
		},
		Session: SessionConfig{
			Scope:                "per-sender",
			DMScope:              "main",
			MainKey:              "main",
			ResetTriggers:        []string{"/new", "/reset"},
			IdleMinutes:          60,
			ResetClearsOverrides: &clears,
			DedupeTTL:            20 * time.Minute,
			DedupeSize:           5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields the file leaves out keep their Default() values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Path returns the config file location.
// Priority: COVEN_SESSIONS_CONFIG env var > XDG_CONFIG_HOME/coven/sessions.yaml > ~/.config/coven/sessions.yaml
func Path() string {
	if envPath := os.Getenv("COVEN_SESSIONS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "sessions.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "sessions.yaml")
}

// defaultStateDir returns XDG_DATA_HOME/coven or ~/.local/share/coven
func defaultStateDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

// LedgerPath returns the ledger database path, defaulting into the state dir.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.State.Dir, "sessions-ledger.db")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.State.Dir == "" && c.State.StorePath == "" {
		return fmt.Errorf("state.dir or state.store_path is required")
	}
	if c.State.CacheTTL < 0 {
		return fmt.Errorf("state.cache_ttl must not be negative")
	}
	if c.State.Lock.Timeout <= 0 || c.State.Lock.PollInterval <= 0 || c.State.Lock.StaleAfter <= 0 {
		return fmt.Errorf("state.lock timings must be positive")
	}

	s := c.Session
	if !contains(validScopes, s.Scope) {
		return fmt.Errorf("session.scope %q must be one of %v", s.Scope, validScopes)
	}
	if !contains(validDMScopes, s.DMScope) {
		return fmt.Errorf("session.dm_scope %q must be one of %v", s.DMScope, validDMScopes)
	}
	if s.IdleMinutes < 0 {
		return fmt.Errorf("session.idle_minutes must not be negative")
	}
	if s.Reset != nil {
		if err := s.Reset.validate("session.reset"); err != nil {
			return err
		}
	}
	for name, rc := range s.ResetByType {
		if !contains(validResetTypes, name) {
			return fmt.Errorf("session.reset_by_type.%s: type must be one of %v", name, validResetTypes)
		}
		if err := rc.validate("session.reset_by_type." + name); err != nil {
			return err
		}
	}
	for name, rc := range s.ResetByChannel {
		if err := rc.validate("session.reset_by_channel." + name); err != nil {
			return err
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

func (r ResetConfig) validate(field string) error {
	if r.Mode != "" && !contains(validResetModes, r.Mode) {
		return fmt.Errorf("%s.mode %q must be one of %v", field, r.Mode, validResetModes)
	}
	if r.AtHour != nil && (*r.AtHour < 0 || *r.AtHour > 23) {
		return fmt.Errorf("%s.at_hour must be between 0 and 23", field)
	}
	if r.IdleMinutes != nil && *r.IdleMinutes < 0 {
		return fmt.Errorf("%s.idle_minutes must not be negative", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"state.cache_ttl", cfg.State.CacheTTLRaw, &cfg.State.CacheTTL},
		{"state.lock.timeout", cfg.State.Lock.TimeoutRaw, &cfg.State.Lock.Timeout},
		{"state.lock.poll_interval", cfg.State.Lock.PollIntervalRaw, &cfg.State.Lock.PollInterval},
		{"state.lock.stale_after", cfg.State.Lock.StaleAfterRaw, &cfg.State.Lock.StaleAfter},
		{"session.dedupe_ttl", cfg.Session.DedupeTTLRaw, &cfg.Session.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
