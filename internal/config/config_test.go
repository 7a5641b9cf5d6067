package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/futures-risk-bot/internal/errors"
	"github.com/ducminhle1904/futures-risk-bot/internal/exchange/bybit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskbot.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Exchange.Name)
	assert.Equal(t, 1000.0, cfg.Exchange.PaperBalance)
	assert.Equal(t, 1000.0, cfg.Portfolio.InitialBalance)
	assert.Equal(t, 0.005, cfg.Portfolio.RiskPerTrade)
	assert.Equal(t, 5, cfg.Portfolio.MaxPositions)
	assert.Equal(t, "portfolio_state.json", cfg.SnapshotFile)
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, 8080, cfg.MonitorPort)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"exchange": {"name": "paper", "paper_balance": 5000},
		"portfolio": {
			"initial_balance": 5000,
			"risk_per_trade": 0.01,
			"default_leverage": 20,
			"max_positions": 3
		},
		"monitor_port": 9090
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Exchange.PaperBalance)
	assert.Equal(t, 0.01, cfg.Portfolio.RiskPerTrade)
	assert.Equal(t, 20, cfg.Portfolio.DefaultLeverage)
	assert.Equal(t, 3, cfg.Portfolio.MaxPositions)
	assert.Equal(t, 9090, cfg.MonitorPort)
	// untouched fields still get defaults
	assert.Equal(t, 0.02, cfg.Portfolio.StopLossPercent)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadBybitRequiresCredentials(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")

	path := writeConfig(t, `{"exchange": {"name": "bybit"}}`)

	_, err := Load(path)
	require.Error(t, err)

	var tradeErr *boterrors.TradeError
	require.ErrorAs(t, err, &tradeErr)
	assert.Equal(t, boterrors.ErrorCategoryConfiguration, tradeErr.Category)
}

func TestLoadBybitCredentialsFromEnv(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "test-key")
	t.Setenv("BYBIT_API_SECRET", "test-secret")

	path := writeConfig(t, `{"exchange": {"name": "bybit", "bybit": {"testnet": true}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-key", cfg.Exchange.Bybit.APIKey)
	assert.Equal(t, "test-secret", cfg.Exchange.Bybit.APISecret)
	assert.True(t, cfg.Exchange.Bybit.Testnet)
}

func TestValidateRejectsBadPortfolioLimits(t *testing.T) {
	base := func() *BotConfig {
		cfg := &BotConfig{
			Exchange: ExchangeConfig{Name: "paper", PaperBalance: 1000},
		}
		cfg.setDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*BotConfig)
	}{
		{"negative balance", func(c *BotConfig) { c.Portfolio.InitialBalance = -1 }},
		{"risk per trade too high", func(c *BotConfig) { c.Portfolio.RiskPerTrade = 1.5 }},
		{"zero leverage", func(c *BotConfig) { c.Portfolio.DefaultLeverage = 0 }},
		{"stop loss out of range", func(c *BotConfig) { c.Portfolio.StopLossPercent = 1.0 }},
		{"zero max positions", func(c *BotConfig) { c.Portfolio.MaxPositions = -1 }},
		{"unsupported exchange", func(c *BotConfig) { c.Exchange.Name = "binance" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsBybitWithCredentials(t *testing.T) {
	cfg := &BotConfig{
		Exchange: ExchangeConfig{
			Name: "bybit",
			Bybit: &bybit.Config{
				APIKey:    "key",
				APISecret: "secret",
				Testnet:   true,
			},
		},
	}
	cfg.setDefaults()

	assert.NoError(t, cfg.Validate())
}
