// ABOUTME: Tests for reset policy layering and freshness evaluation
// ABOUTME: Covers idle expiry, daily boundaries, type and channel overrides

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-sessions/internal/config"
)

func intPtr(v int) *int { return &v }

func TestResetTypeFor(t *testing.T) {
	assert.Equal(t, ResetDirect, ResetTypeFor("direct", false))
	assert.Equal(t, ResetDirect, ResetTypeFor("", false))
	assert.Equal(t, ResetGroup, ResetTypeFor("group", false))
	assert.Equal(t, ResetGroup, ResetTypeFor("Channel", false))
	assert.Equal(t, ResetThread, ResetTypeFor("group", true))
}

func TestResolveResetPolicy_Layering(t *testing.T) {
	cfg := config.SessionConfig{
		IdleMinutes: 60,
		ResetByType: map[string]config.ResetConfig{
			"group":  {IdleMinutes: intPtr(120)},
			"thread": {Mode: ModeDaily, AtHour: intPtr(6)},
			"dm":     {IdleMinutes: intPtr(30)},
		},
		ResetByChannel: map[string]config.ResetConfig{
			"Discord": {IdleMinutes: intPtr(10080)},
		},
	}

	assert.Equal(t, ResetPolicy{Mode: ModeIdle, AtHour: DefaultAtHour, IdleMinutes: 30},
		ResolveResetPolicy(cfg, ResetDirect, "telegram"), "dm is an alias for direct")

	assert.Equal(t, ResetPolicy{Mode: ModeIdle, AtHour: DefaultAtHour, IdleMinutes: 120},
		ResolveResetPolicy(cfg, ResetGroup, "telegram"))

	assert.Equal(t, ResetPolicy{Mode: ModeDaily, AtHour: 6, IdleMinutes: 0},
		ResolveResetPolicy(cfg, ResetThread, "slack"), "daily drops inherited idle expiry")

	assert.Equal(t, ResetPolicy{Mode: ModeIdle, AtHour: DefaultAtHour, IdleMinutes: 10080},
		ResolveResetPolicy(cfg, ResetGroup, "discord"), "channel override wins")
}

func TestResolveResetPolicy_DailyWithIdle(t *testing.T) {
	cfg := config.SessionConfig{
		IdleMinutes: 60,
		Reset:       &config.ResetConfig{Mode: ModeDaily, IdleMinutes: intPtr(15)},
	}

	p := ResolveResetPolicy(cfg, ResetDirect, "")
	assert.Equal(t, ResetPolicy{Mode: ModeDaily, AtHour: DefaultAtHour, IdleMinutes: 15}, p)
}

func TestEvaluateFreshness_Idle(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := ResetPolicy{Mode: ModeIdle, IdleMinutes: 60}

	assert.True(t, EvaluateFreshness(now.Add(-59*time.Minute).UnixMilli(), now, p).Fresh)
	assert.True(t, EvaluateFreshness(now.Add(-60*time.Minute).UnixMilli(), now, p).Fresh)

	stale := EvaluateFreshness(now.Add(-61*time.Minute).UnixMilli(), now, p)
	assert.False(t, stale.Fresh)
	assert.Equal(t, ModeIdle, stale.Reason)

	// Zero idle minutes never expires
	assert.True(t, EvaluateFreshness(0, now, ResetPolicy{Mode: ModeIdle}).Fresh)
}

func TestEvaluateFreshness_Daily(t *testing.T) {
	loc := time.FixedZone("test", 2*60*60)
	p := ResetPolicy{Mode: ModeDaily, AtHour: 4}

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, loc)
	assert.True(t, EvaluateFreshness(time.Date(2026, 5, 1, 4, 0, 0, 0, loc).UnixMilli(), now, p).Fresh)

	stale := EvaluateFreshness(time.Date(2026, 5, 1, 3, 59, 0, 0, loc).UnixMilli(), now, p)
	assert.False(t, stale.Fresh)
	assert.Equal(t, ModeDaily, stale.Reason)

	// Before today's boundary, yesterday's boundary applies
	early := time.Date(2026, 5, 1, 2, 0, 0, 0, loc)
	assert.True(t, EvaluateFreshness(time.Date(2026, 4, 30, 23, 0, 0, 0, loc).UnixMilli(), early, p).Fresh)
	assert.False(t, EvaluateFreshness(time.Date(2026, 4, 30, 3, 0, 0, 0, loc).UnixMilli(), early, p).Fresh)
}

func TestEvaluateFreshness_DailyAndIdleWhicheverFirst(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := ResetPolicy{Mode: ModeDaily, AtHour: 4, IdleMinutes: 30}

	got := EvaluateFreshness(now.Add(-45*time.Minute).UnixMilli(), now, p)
	assert.False(t, got.Fresh)
	assert.Equal(t, ModeIdle, got.Reason)
}

func TestDailyBoundary(t *testing.T) {
	now := time.Date(2026, 5, 1, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, now, DailyBoundary(now, 4))
	assert.Equal(t, time.Date(2026, 4, 30, 5, 0, 0, 0, time.UTC), DailyBoundary(now, 5))
}
