package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/outside_bar_bot/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")
	t.Setenv("BOT_LOG_LEVEL", "")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
strategy:
  symbol: "EURUSD"
  stop_loss_distance: 200
paper:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "OUTSIDE_BAR", cfg.Strategy.PositionLabel)
	assert.Equal(t, "D", cfg.Strategy.Interval)
	assert.Equal(t, 3, cfg.Strategy.HistoryBars)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "America/New_York", cfg.Location().String())

	ec := cfg.EngineConfig()
	assert.Equal(t, "EURUSD", ec.Symbol)
	assert.Equal(t, domain.EntryRuleStrict, ec.EntryRule)
	assert.True(t, ec.RiskPercent.Equal(decimal.NewFromInt(1)))
	assert.True(t, ec.TakeProfitMultiplier.Equal(decimal.NewFromInt(20)))
	assert.True(t, ec.StopLossDistance.Equal(decimal.NewFromInt(200)))

	rc := cfg.RunnerConfig()
	assert.Equal(t, "EURUSD", rc.Symbol)
	assert.Equal(t, "D", rc.Interval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("BYBIT_API_SECRET", "env-secret")
	t.Setenv("BOT_LOG_LEVEL", "debug")

	path := writeConfig(t, `
exchange:
  api_key: "file-key"
strategy:
  symbol: "BTCUSDT"
  stop_loss_distance: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err, "live mode is valid once the keys come from the environment")
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.APISecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Strategy.Symbol = "EURUSD"
		cfg.Strategy.StopLossDistance = 200
		cfg.Paper.Enabled = true
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbol", func(c *Config) { c.Strategy.Symbol = "" }},
		{"no label", func(c *Config) { c.Strategy.PositionLabel = "" }},
		{"zero risk", func(c *Config) { c.Strategy.RiskPercentPerTrade = 0 }},
		{"risk over 100", func(c *Config) { c.Strategy.RiskPercentPerTrade = 101 }},
		{"zero stop", func(c *Config) { c.Strategy.StopLossDistance = 0 }},
		{"negative reward", func(c *Config) { c.Strategy.TakeProfitMultiplier = -1 }},
		{"bad stop unit", func(c *Config) { c.Strategy.StopLossUnit = "atr" }},
		{"bad entry rule", func(c *Config) { c.Strategy.EntryRule = "loose" }},
		{"bad sunday policy", func(c *Config) { c.Strategy.SundayPolicy = "never" }},
		{"bad timezone", func(c *Config) { c.Strategy.SessionTimezone = "Mars/Olympus" }},
		{"paper without balance", func(c *Config) { c.Paper.Balance = 0 }},
		{"live without keys", func(c *Config) { c.Paper.Enabled = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
