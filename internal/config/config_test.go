package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModePaper, cfg.Trading.Mode)
	assert.Equal(t, 10000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 5, cfg.Trading.LeverageDefault)
	assert.Equal(t, 2, cfg.Trading.LeverageMin)
	assert.Equal(t, 20, cfg.Trading.LeverageMax)
	assert.Equal(t, 10.0, cfg.Trading.StopLossROI)
	assert.Equal(t, 30.0, cfg.Trading.TakeProfitROI)
	assert.Equal(t, 0.05, cfg.Risk.MaxDailyDrawdown)
	assert.Equal(t, 85.0, cfg.Risk.ReversalScore)
	assert.Equal(t, 40.0, cfg.Signal.MinScore)
	assert.Equal(t, 15.0, cfg.Signal.DeadZone)
	assert.False(t, cfg.IsLive())
	assert.False(t, cfg.LiveDemoted())
}

func TestLoadEnvAliasesOverrideDefaults(t *testing.T) {
	t.Setenv("LEVERAGE_DEFAULT", "8")
	t.Setenv("STOP_LOSS_ROI", "12.5")
	t.Setenv("MAX_OPEN_POSITIONS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Trading.LeverageDefault)
	assert.Equal(t, 12.5, cfg.Trading.StopLossROI)
	assert.Equal(t, 5, cfg.Risk.MaxOpenPositions)
}

func TestLiveWithoutEnableFlagDemotes(t *testing.T) {
	t.Setenv("MODE", "live")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.IsLive())
	assert.True(t, cfg.LiveDemoted())
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("MODE", "live")
	t.Setenv("ENABLE_LIVE_TRADING", "true")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KUCOIN_API_KEY")
}

func TestScreenerInstrumentsSplitCSV(t *testing.T) {
	t.Setenv("SCREENER_INSTRUMENTS", "XBTUSDTM, ETHUSDTM,SOLUSDTM")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"XBTUSDTM", "ETHUSDTM", "SOLUSDTM"}, cfg.Screener.Instruments)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("trading:\n  initial_balance: 2500\n  leverage_default: 3\nsignal:\n  min_score: 45\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2500.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 3, cfg.Trading.LeverageDefault)
	assert.Equal(t, 45.0, cfg.Signal.MinScore)
	// untouched keys keep their defaults
	assert.Equal(t, 30.0, cfg.Trading.TakeProfitROI)
}

func TestValidateRejectsBadBands(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Trading.LeverageMax = 1 // below min
	cfg.Signal.DeadZone = 50    // above min_score
	cfg.Risk.MaxDailyDrawdown = 1.5

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leverage_max")
	assert.Contains(t, err.Error(), "dead_zone")
	assert.Contains(t, err.Error(), "max_daily_drawdown")
}

func TestValidateAggregatesAllFailures(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Trading.InitialBalance = -1
	cfg.Executor.MaxSlippage = 0

	verr := cfg.Validate()
	require.Error(t, verr)

	errs, ok := verr.(ValidationErrors)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(errs), 2)
}
