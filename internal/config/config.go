package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	boterrors "github.com/ducminhle1904/futures-risk-bot/internal/errors"
	"github.com/ducminhle1904/futures-risk-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/futures-risk-bot/internal/order"
	"github.com/ducminhle1904/futures-risk-bot/internal/portfolio"
)

// BotConfig is the complete configuration for the risk bot.
type BotConfig struct {
	// Exchange configuration
	Exchange ExchangeConfig `json:"exchange"`

	// Portfolio risk limits and bookkeeping
	Portfolio portfolio.Config `json:"portfolio"`

	// Order lifecycle tuning
	Order order.Config `json:"order"`

	// Persistence and logging
	SnapshotFile     string        `json:"snapshot_file"`
	SnapshotInterval time.Duration `json:"snapshot_interval"`
	LogDir           string        `json:"log_dir"`

	// Monitoring HTTP endpoint (metrics + health)
	MonitorPort int `json:"monitor_port"`
}

// ExchangeConfig selects and configures the exchange backend.
type ExchangeConfig struct {
	Name  string        `json:"name"` // "bybit" or "paper"
	Bybit *bybit.Config `json:"bybit,omitempty"`

	// Paper-trading starting balance, used when Name is "paper".
	PaperBalance float64 `json:"paper_balance,omitempty"`
}

// Load reads a JSON configuration file, applies environment overrides
// for credentials, fills defaults and validates. Validation failures
// are fatal configuration errors by contract.
func Load(configFile string) (*BotConfig, error) {
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config BotConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults fills missing values with the package defaults.
func (c *BotConfig) setDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "paper"
	}
	if c.Exchange.PaperBalance == 0 {
		c.Exchange.PaperBalance = 1000
	}

	defaults := portfolio.DefaultConfig()
	if c.Portfolio.InitialBalance == 0 {
		c.Portfolio.InitialBalance = defaults.InitialBalance
	}
	if c.Portfolio.MaxBudget == 0 {
		c.Portfolio.MaxBudget = c.Portfolio.InitialBalance
	}
	if c.Portfolio.RiskPerTrade == 0 {
		c.Portfolio.RiskPerTrade = defaults.RiskPerTrade
	}
	if c.Portfolio.DefaultLeverage == 0 {
		c.Portfolio.DefaultLeverage = defaults.DefaultLeverage
	}
	if c.Portfolio.StopLossPercent == 0 {
		c.Portfolio.StopLossPercent = defaults.StopLossPercent
	}
	if c.Portfolio.TakerFeeRate == 0 {
		c.Portfolio.TakerFeeRate = defaults.TakerFeeRate
	}
	if c.Portfolio.MaxPositions == 0 {
		c.Portfolio.MaxPositions = defaults.MaxPositions
	}
	if c.Portfolio.MaxPortfolioRisk == 0 {
		c.Portfolio.MaxPortfolioRisk = defaults.MaxPortfolioRisk
	}
	if c.Portfolio.MaxCorrelationExposure == 0 {
		c.Portfolio.MaxCorrelationExposure = defaults.MaxCorrelationExposure
	}

	orderDefaults := order.DefaultConfig()
	if c.Order.PollInterval == 0 {
		c.Order.PollInterval = orderDefaults.PollInterval
	}
	if c.Order.SubmitTimeout == 0 {
		c.Order.SubmitTimeout = orderDefaults.SubmitTimeout
	}
	if c.Order.EventBuffer == 0 {
		c.Order.EventBuffer = orderDefaults.EventBuffer
	}
	if c.Order.Retry.MaxRetries == 0 {
		c.Order.Retry = orderDefaults.Retry
	}

	if c.SnapshotFile == "" {
		c.SnapshotFile = "portfolio_state.json"
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 30 * time.Second
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.MonitorPort == 0 {
		c.MonitorPort = 8080
	}
}

// applyEnvOverrides pulls credentials from the environment when the
// config file does not carry them. Keeping secrets out of config files
// is the expected deployment shape.
func (c *BotConfig) applyEnvOverrides() {
	if strings.ToLower(c.Exchange.Name) != "bybit" {
		return
	}
	if c.Exchange.Bybit == nil {
		c.Exchange.Bybit = &bybit.Config{}
	}
	if c.Exchange.Bybit.APIKey == "" {
		c.Exchange.Bybit.APIKey = os.Getenv("BYBIT_API_KEY")
	}
	if c.Exchange.Bybit.APISecret == "" {
		c.Exchange.Bybit.APISecret = os.Getenv("BYBIT_API_SECRET")
	}
}

// Validate checks the configuration for fatal errors. A bot must never
// start with limits it cannot enforce.
func (c *BotConfig) Validate() error {
	switch strings.ToLower(c.Exchange.Name) {
	case "bybit":
		if c.Exchange.Bybit == nil {
			return boterrors.NewConfigurationError("config", "validate", "bybit configuration is missing")
		}
		if c.Exchange.Bybit.APIKey == "" {
			return boterrors.NewConfigurationError("config", "validate", "BYBIT_API_KEY is required (set in environment or config)")
		}
		if c.Exchange.Bybit.APISecret == "" {
			return boterrors.NewConfigurationError("config", "validate", "BYBIT_API_SECRET is required (set in environment or config)")
		}
	case "paper":
		if c.Exchange.PaperBalance <= 0 {
			return boterrors.NewConfigurationError("config", "validate", "paper balance must be positive")
		}
	default:
		return boterrors.NewConfigurationError("config", "validate",
			fmt.Sprintf("unsupported exchange %q", c.Exchange.Name))
	}

	if c.Portfolio.InitialBalance <= 0 {
		return boterrors.NewConfigurationError("config", "validate", "initial balance must be positive")
	}
	if c.Portfolio.RiskPerTrade <= 0 || c.Portfolio.RiskPerTrade >= 1 {
		return boterrors.NewConfigurationError("config", "validate",
			fmt.Sprintf("risk per trade must be in (0, 1), got %f", c.Portfolio.RiskPerTrade))
	}
	if c.Portfolio.DefaultLeverage < 1 {
		return boterrors.NewConfigurationError("config", "validate",
			fmt.Sprintf("leverage must be at least 1, got %d", c.Portfolio.DefaultLeverage))
	}
	if c.Portfolio.StopLossPercent <= 0 || c.Portfolio.StopLossPercent >= 1 {
		return boterrors.NewConfigurationError("config", "validate",
			fmt.Sprintf("stop loss percent must be in (0, 1), got %f", c.Portfolio.StopLossPercent))
	}
	if c.Portfolio.MaxPositions < 1 {
		return boterrors.NewConfigurationError("config", "validate",
			fmt.Sprintf("max positions must be at least 1, got %d", c.Portfolio.MaxPositions))
	}
	if c.Portfolio.MaxPortfolioRisk <= 0 {
		return boterrors.NewConfigurationError("config", "validate", "max portfolio risk must be positive")
	}

	return nil
}
