package safety

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/store"
)

func testCfg() config.SafetyConfig {
	return config.SafetyConfig{
		MaxHourlyTrades:   5,
		BurstRateLimitMS:  30000,
		LossCooldownMS:    60000,
		KillWindowSize:    10,
		KillMinTrades:     5,
		KillWinRateFloor:  0.30,
		KillExpectancyMin: -5,
		KillDisableMS:     3600000,
	}
}

func newGuard(t *testing.T) *Guard {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return NewGuard(testCfg(), st)
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestKillSwitchSuppressesLosingFeature(t *testing.T) {
	g := newGuard(t)
	now := time.Now()
	key := "bullish_zone@ranging"

	// five straight losses breach the 30% win-rate floor
	for i := 0; i < 5; i++ {
		g.RecordOutcome(key, d(-10), now)
		now = now.Add(2 * time.Minute) // outside the loss cooldown
	}

	assert.Equal(t, DenyKillSwitch, g.Allow(key, now))
	// other features keep trading
	assert.Empty(t, g.Allow("bearish_cross@trending_short", now))
	assert.Contains(t, g.Disabled(now), key)
}

func TestKillSwitchExpires(t *testing.T) {
	g := newGuard(t)
	now := time.Now()
	key := "bullish_zone@ranging"
	for i := 0; i < 5; i++ {
		g.RecordOutcome(key, d(-10), now)
	}

	later := now.Add(2 * time.Hour) // past the 1h disable window
	assert.Empty(t, g.Allow(key, later))
}

func TestKillSwitchSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)
	g := NewGuard(testCfg(), st)
	now := time.Now()
	key := "bullish_zone@ranging"
	for i := 0; i < 5; i++ {
		g.RecordOutcome(key, d(-10), now)
	}

	st2, err := store.New(dir)
	require.NoError(t, err)
	g2 := NewGuard(testCfg(), st2)
	assert.Equal(t, DenyKillSwitch, g2.Allow(key, now.Add(time.Minute+65*time.Second)))
}

func TestBurstLimit(t *testing.T) {
	g := newGuard(t)
	now := time.Now()

	assert.Empty(t, g.Allow("x", now))
	g.RecordEntry(now)

	assert.Equal(t, DenyBurst, g.Allow("x", now.Add(10*time.Second)))
	assert.Empty(t, g.Allow("x", now.Add(31*time.Second)))
}

func TestHourlyCap(t *testing.T) {
	g := newGuard(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		g.RecordEntry(now.Add(time.Duration(i) * time.Minute))
	}
	at := now.Add(10 * time.Minute)
	assert.Equal(t, DenyHourlyCap, g.Allow("x", at))

	// entries age out of the rolling hour
	assert.Empty(t, g.Allow("x", now.Add(65*time.Minute)))
}

func TestLossCooldown(t *testing.T) {
	g := newGuard(t)
	now := time.Now()

	g.RecordOutcome("", d(-25), now)
	assert.Equal(t, DenyLossCooldown, g.Allow("x", now.Add(30*time.Second)))
	assert.Empty(t, g.Allow("x", now.Add(2*time.Minute)))

	// wins start no cooldown
	g.RecordOutcome("", d(25), now.Add(3*time.Minute))
	assert.Empty(t, g.Allow("x", now.Add(3*time.Minute)))
}

func TestEmergencyStopIsManualReset(t *testing.T) {
	g := newGuard(t)
	now := time.Now()

	g.TripEmergency(now)
	assert.True(t, g.Emergency())
	assert.Equal(t, DenyEmergency, g.Allow("x", now.Add(24*time.Hour)), "no automatic recovery")

	g.ClearEmergency()
	assert.Empty(t, g.Allow("x", now.Add(24*time.Hour)))
}

func TestExpectancyFloor(t *testing.T) {
	g := newGuard(t)
	now := time.Now()
	key := "bullish_cross@volatile"

	// 40% win rate clears the 30% floor, but the big losses sink expectancy
	pnls := []float64{5, -30, 5, -30, -30}
	for _, p := range pnls {
		g.RecordOutcome(key, d(p), now)
	}
	// mean = -16 < -5 floor
	assert.Equal(t, DenyKillSwitch, g.Allow(key, now.Add(2*time.Minute)))
}
