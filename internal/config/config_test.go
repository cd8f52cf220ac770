package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/optionbt/internal/config"
)

func writeRun(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const validRun = `{
  "backtest": {
    "underlying": "SPY",
    "start": "2023-01-02T00:00:00Z",
    "end": "2023-06-30T00:00:00Z",
    "initial_cash": 100000
  },
  "strategy": {
    "adapter": "directional",
    "option_type": "call",
    "strike_rule": "ATM:+2%",
    "params": {
      "underlying": "SPY",
      "dte": 30,
      "exit": {"profit_target": 500, "max_loss": 300, "max_hold_minutes": 14400}
    }
  }
}`

func TestLoadRun(t *testing.T) {
	run, err := config.LoadRun(writeRun(t, validRun))
	require.NoError(t, err)

	assert.Equal(t, "SPY", run.Backtest.Underlying)
	assert.Equal(t, 100000.0, run.Backtest.InitialCash)
	assert.Equal(t, "directional", run.Strategy.Adapter)
	assert.Equal(t, "ATM:+2%", run.Strategy.StrikeRule)
	assert.Equal(t, 30, run.Strategy.Params.DaysToExpiry)
	assert.Equal(t, 500.0, run.Strategy.Params.Exit.ProfitTarget)
}

func TestLoadRunDefaultsUnderlying(t *testing.T) {
	body := `{
  "backtest": {"underlying": "QQQ", "start": "2023-01-02T00:00:00Z", "end": "2023-06-30T00:00:00Z", "initial_cash": 50000},
  "strategy": {"adapter": "butterfly", "width": 10, "params": {"dte": 14, "exit": {"profit_target": 200, "max_loss": 150, "max_hold_minutes": 7200}}}
}`
	run, err := config.LoadRun(writeRun(t, body))
	require.NoError(t, err)
	assert.Equal(t, "QQQ", run.Strategy.Params.Underlying)
}

func TestLoadRunRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing adapter":   `{"backtest": {"underlying": "SPY", "start": "2023-01-02T00:00:00Z", "end": "2023-06-30T00:00:00Z", "initial_cash": 1}, "strategy": {}}`,
		"unknown adapter":   `{"backtest": {"underlying": "SPY", "start": "2023-01-02T00:00:00Z", "end": "2023-06-30T00:00:00Z", "initial_cash": 1}, "strategy": {"adapter": "straddle"}}`,
		"zero width":        `{"backtest": {"underlying": "SPY", "start": "2023-01-02T00:00:00Z", "end": "2023-06-30T00:00:00Z", "initial_cash": 1}, "strategy": {"adapter": "butterfly"}}`,
		"bad option type":   `{"backtest": {"underlying": "SPY", "start": "2023-01-02T00:00:00Z", "end": "2023-06-30T00:00:00Z", "initial_cash": 1}, "strategy": {"adapter": "directional", "option_type": "straddle"}}`,
		"no cash":           `{"backtest": {"underlying": "SPY", "start": "2023-01-02T00:00:00Z", "end": "2023-06-30T00:00:00Z"}, "strategy": {"adapter": "directional"}}`,
		"inverted window":   `{"backtest": {"underlying": "SPY", "start": "2023-06-30T00:00:00Z", "end": "2023-01-02T00:00:00Z", "initial_cash": 1}, "strategy": {"adapter": "directional"}}`,
		"mismatched symbol": `{"backtest": {"underlying": "SPY", "start": "2023-01-02T00:00:00Z", "end": "2023-06-30T00:00:00Z", "initial_cash": 1}, "strategy": {"adapter": "directional", "params": {"underlying": "QQQ"}}}`,
	}
	for name, body := range cases {
		_, err := config.LoadRun(writeRun(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadRunMissingFile(t *testing.T) {
	_, err := config.LoadRun(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

// unsetEnv removes the variables for the test's duration; defaults only
// apply to unset variables, not set-but-empty ones.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		key := key
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
			require.NoError(t, os.Unsetenv(key))
		}
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	unsetEnv(t, "REPORT_DIR", "VERBOSITY", "SYNTHETIC_SEED")

	env, err := config.LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "reports", env.ReportDir)
	assert.Equal(t, 1, env.Verbosity)
	assert.Equal(t, int64(42), env.SyntheticSeed)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VERBOSITY", "3")
	t.Setenv("SYNTHETIC_SEED", "99")

	env, err := config.LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, env.Verbosity)
	assert.Equal(t, int64(99), env.SyntheticSeed)
}

func TestLoadEnvRejectsEmptyNumeric(t *testing.T) {
	t.Setenv("VERBOSITY", "")

	_, err := config.LoadEnv()
	assert.Error(t, err, "set-but-empty numeric variable cannot parse")
}
