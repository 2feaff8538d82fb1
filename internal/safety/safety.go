package safety

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/metrics"
	"github.com/quantflow/quantflow/internal/store"
)

// Deny reasons returned by Allow
const (
	DenyKillSwitch   = "killswitch"
	DenyBurst        = "burst_limit"
	DenyHourlyCap    = "hourly_cap"
	DenyLossCooldown = "loss_cooldown"
	DenyEmergency    = "emergency_stop"
)

// outcome is one closed trade in a feature's rolling window
type outcome struct {
	pnl decimal.Decimal
	at  time.Time
}

// Guard is the transverse safety layer. Every entry attempt passes
// through Allow; every closed trade reports through RecordOutcome. The
// guard owns the per-feature kill switches, the burst and hourly entry
// limits, the loss cooldown and the drawdown emergency stop.
type Guard struct {
	cfg    config.SafetyConfig
	store  *store.Store
	logger zerolog.Logger

	mu           sync.Mutex
	windows      map[string][]outcome // feature key -> rolling outcomes
	disabled     map[string]store.KillRow
	lastEntry    time.Time
	hourEntries  []time.Time
	cooldownTill time.Time
	emergency    bool
	emergencyAt  time.Time
}

// NewGuard creates the guard and restores persisted kill switches
func NewGuard(cfg config.SafetyConfig, st *store.Store) *Guard {
	g := &Guard{
		cfg:      cfg,
		store:    st,
		logger:   config.NewLogger("safety"),
		windows:  make(map[string][]outcome),
		disabled: make(map[string]store.KillRow),
	}
	if st != nil {
		for _, row := range st.KillSwitches() {
			g.disabled[row.FeatureKey] = row
			metrics.KillSwitchActive.WithLabelValues(row.FeatureKey).Set(1)
		}
	}
	return g
}

// Allow decides whether a new entry may proceed. The empty string means
// yes; otherwise the reason names the policy that said no.
func (g *Guard) Allow(featureKey string, now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.emergency {
		return DenyEmergency
	}

	if row, ok := g.disabled[featureKey]; ok {
		if now.Before(row.DisabledUntil) {
			return DenyKillSwitch
		}
		delete(g.disabled, featureKey)
		metrics.KillSwitchActive.WithLabelValues(featureKey).Set(0)
		if g.store != nil {
			if err := g.store.ClearKillSwitch(featureKey); err != nil {
				g.logger.Warn().Err(err).Str("feature", featureKey).Msg("Failed to clear expired kill switch")
			}
		}
	}

	if now.Before(g.cooldownTill) {
		return DenyLossCooldown
	}

	if gap := g.burstGap(); gap > 0 && !g.lastEntry.IsZero() && now.Sub(g.lastEntry) < gap {
		return DenyBurst
	}

	if g.cfg.MaxHourlyTrades > 0 {
		g.pruneHourLocked(now)
		if len(g.hourEntries) >= g.cfg.MaxHourlyTrades {
			return DenyHourlyCap
		}
	}

	return ""
}

// RecordEntry marks an accepted entry for the burst and hourly counters
func (g *Guard) RecordEntry(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastEntry = now
	g.hourEntries = append(g.hourEntries, now)
	g.pruneHourLocked(now)
}

// RecordOutcome feeds a closed trade into the feature's rolling window
// and re-evaluates its kill switch. A loss also starts the global
// cooldown.
func (g *Guard) RecordOutcome(featureKey string, pnl decimal.Decimal, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pnl.IsNegative() {
		if cd := g.lossCooldown(); cd > 0 {
			g.cooldownTill = now.Add(cd)
		}
	}

	if featureKey == "" {
		return
	}
	win := append(g.windows[featureKey], outcome{pnl: pnl, at: now})
	if size := g.cfg.KillWindowSize; size > 0 && len(win) > size {
		win = win[len(win)-size:]
	}
	g.windows[featureKey] = win

	g.evaluateKillLocked(featureKey, now)
}

// evaluateKillLocked disables a feature whose recent record breaches the
// win-rate or expectancy floor
func (g *Guard) evaluateKillLocked(featureKey string, now time.Time) {
	win := g.windows[featureKey]
	if g.cfg.KillMinTrades <= 0 || len(win) < g.cfg.KillMinTrades {
		return
	}

	wins := 0
	total := decimal.Zero
	for _, o := range win {
		if o.pnl.IsPositive() {
			wins++
		}
		total = total.Add(o.pnl)
	}
	winRate := float64(wins) / float64(len(win))
	expectancy := total.Div(decimal.NewFromInt(int64(len(win)))).InexactFloat64()

	if winRate >= g.cfg.KillWinRateFloor && expectancy >= g.cfg.KillExpectancyMin {
		return
	}

	row := store.KillRow{
		FeatureKey:    featureKey,
		DisabledUntil: now.Add(g.killDisable()),
		Reason:        "performance floor breached",
		WinRate:       winRate,
		Expectancy:    expectancy,
	}
	g.disabled[featureKey] = row
	metrics.KillSwitchActive.WithLabelValues(featureKey).Set(1)
	if g.store != nil {
		if err := g.store.SaveKillSwitch(row); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to persist kill switch")
		}
	}
	g.logger.Warn().
		Str("feature", featureKey).
		Float64("win_rate", winRate).
		Float64("expectancy", expectancy).
		Time("until", row.DisabledUntil).
		Msg("Feature kill switch triggered")
}

// TripEmergency engages the drawdown circuit breaker. It stays engaged
// until ClearEmergency; there is no automatic recovery by design of the
// operator workflow.
func (g *Guard) TripEmergency(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emergency {
		return
	}
	g.emergency = true
	g.emergencyAt = now
	metrics.EmergencyMode.Set(1)
	g.logger.Error().Time("at", now).Msg("EMERGENCY STOP engaged")
}

// ClearEmergency releases the emergency stop (manual operator action)
func (g *Guard) ClearEmergency() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emergency = false
	metrics.EmergencyMode.Set(0)
	g.logger.Warn().Msg("Emergency stop cleared by operator")
}

// Emergency reports whether the stop is engaged
func (g *Guard) Emergency() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergency
}

// Disabled returns the feature keys currently killed
func (g *Guard) Disabled(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for key, row := range g.disabled {
		if now.Before(row.DisabledUntil) {
			out = append(out, key)
		}
	}
	return out
}

func (g *Guard) pruneHourLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := g.hourEntries[:0]
	for _, t := range g.hourEntries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.hourEntries = kept
}

func (g *Guard) burstGap() time.Duration {
	if g.cfg.BurstRateLimitMS <= 0 {
		return 0
	}
	return time.Duration(g.cfg.BurstRateLimitMS) * time.Millisecond
}

func (g *Guard) lossCooldown() time.Duration {
	if g.cfg.LossCooldownMS <= 0 {
		return 0
	}
	return time.Duration(g.cfg.LossCooldownMS) * time.Millisecond
}

func (g *Guard) killDisable() time.Duration {
	if g.cfg.KillDisableMS <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(g.cfg.KillDisableMS) * time.Millisecond
}
