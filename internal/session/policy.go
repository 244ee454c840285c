// ABOUTME: Reset policy resolution per chat type and channel, and freshness evaluation
// ABOUTME: Idle policies expire after inactivity; daily policies expire at a fixed local hour

package session

import (
	"strings"
	"time"

	"github.com/2389/coven-sessions/internal/config"
)

// ResetType selects which per-type policy applies to a conversation.
type ResetType string

const (
	ResetDirect ResetType = "direct"
	ResetGroup  ResetType = "group"
	ResetThread ResetType = "thread"
)

// Reset modes.
const (
	ModeIdle  = "idle"
	ModeDaily = "daily"
)

// DefaultAtHour is the local hour daily policies reset at when none is configured.
const DefaultAtHour = 4

// ResetPolicy is the effective policy for one conversation.
type ResetPolicy struct {
	Mode   string
	AtHour int
	// IdleMinutes of zero disables idle expiry.
	IdleMinutes int
}

// Freshness is the outcome of evaluating an entry against a policy.
type Freshness struct {
	Fresh bool
	// Reason is "idle" or "daily" when the entry is stale.
	Reason string
}

// ResetTypeFor maps a chat type to a reset type; any thread wins.
func ResetTypeFor(chatType string, isThread bool) ResetType {
	if isThread {
		return ResetThread
	}
	switch strings.ToLower(strings.TrimSpace(chatType)) {
	case "group", "channel":
		return ResetGroup
	default:
		return ResetDirect
	}
}

// ResolveResetPolicy layers, in order: the top-level idle_minutes, the session
// reset block, the block for resetType and the block for channel.
func ResolveResetPolicy(cfg config.SessionConfig, resetType ResetType, channel string) ResetPolicy {
	p := ResetPolicy{Mode: ModeIdle, AtHour: DefaultAtHour, IdleMinutes: cfg.IdleMinutes}

	if cfg.Reset != nil {
		p = overlay(p, *cfg.Reset)
	}

	if rc, ok := cfg.ResetByType[string(resetType)]; ok {
		p = overlay(p, rc)
	} else if resetType == ResetDirect {
		if rc, ok := cfg.ResetByType["dm"]; ok {
			p = overlay(p, rc)
		}
	}

	channel = strings.ToLower(strings.TrimSpace(channel))
	for name, rc := range cfg.ResetByChannel {
		if strings.ToLower(name) == channel {
			p = overlay(p, rc)
			break
		}
	}

	return p
}

// overlay applies the set fields of rc. Switching to daily without an explicit
// idle_minutes drops the inherited idle expiry.
func overlay(p ResetPolicy, rc config.ResetConfig) ResetPolicy {
	if rc.Mode != "" {
		p.Mode = rc.Mode
		if rc.Mode == ModeDaily && rc.IdleMinutes == nil {
			p.IdleMinutes = 0
		}
	}
	if rc.AtHour != nil {
		p.AtHour = *rc.AtHour
	}
	if rc.IdleMinutes != nil {
		p.IdleMinutes = *rc.IdleMinutes
	}
	return p
}

// EvaluateFreshness decides whether an entry last updated at updatedAt (unix
// milliseconds) is still current at now. Daily boundaries use now's location.
func EvaluateFreshness(updatedAt int64, now time.Time, p ResetPolicy) Freshness {
	last := time.UnixMilli(updatedAt)

	if p.Mode == ModeDaily {
		if last.Before(DailyBoundary(now, p.AtHour)) {
			return Freshness{Reason: ModeDaily}
		}
	}

	if p.IdleMinutes > 0 {
		if now.Sub(last) > time.Duration(p.IdleMinutes)*time.Minute {
			return Freshness{Reason: ModeIdle}
		}
	}

	return Freshness{Fresh: true}
}

// DailyBoundary returns the most recent atHour:00 at or before now.
func DailyBoundary(now time.Time, atHour int) time.Time {
	y, m, d := now.Date()
	boundary := time.Date(y, m, d, atHour, 0, 0, 0, now.Location())
	if now.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}
