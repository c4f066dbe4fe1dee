// Package config loads engine configuration from a YAML file with
// TRADESIM_* environment overrides. Every field has a default so the engine
// runs with no file at all.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/altfolio/tradesim/internal/orders"
	"github.com/altfolio/tradesim/pkg/types"
)

// Mode selects how the process runs
const (
	ModeBacktest = "backtest"
	ModeLive     = "live"
)

// EngineSection configures the event loop
type EngineSection struct {
	MarketExecution string        `mapstructure:"market_execution"`
	QueueSize       int           `mapstructure:"queue_size"`
	PopTimeout      time.Duration `mapstructure:"pop_timeout"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
}

// ExchangeSection names a preset and optional symbol whitelist
type ExchangeSection struct {
	Preset  string   `mapstructure:"preset"`
	Symbols []string `mapstructure:"symbols"`
}

// PortfolioSpec declares one portfolio created at startup
type PortfolioSpec struct {
	ID          string  `mapstructure:"id"`
	UserID      string  `mapstructure:"user_id"`
	Name        string  `mapstructure:"name"`
	Exchange    string  `mapstructure:"exchange"`
	InitialCash float64 `mapstructure:"initial_cash"`
}

// ValidationSection bounds per-order risk in the signal pipeline
type ValidationSection struct {
	SupportedExchanges []string `mapstructure:"supported_exchanges"`
	MinOrderValue      float64  `mapstructure:"min_order_value"`
	MaxOrderValue      float64  `mapstructure:"max_order_value"`
	MinQuantity        float64  `mapstructure:"min_quantity"`
	MaxQuantity        float64  `mapstructure:"max_quantity"`
	MinPrice           float64  `mapstructure:"min_price"`
	MaxPrice           float64  `mapstructure:"max_price"`
}

// StrategySection tunes the bundled moving-average strategy
type StrategySection struct {
	Enabled     bool    `mapstructure:"enabled"`
	PortfolioID string  `mapstructure:"portfolio_id"`
	FastPeriod  int     `mapstructure:"fast_period"`
	SlowPeriod  int     `mapstructure:"slow_period"`
	Quantity    float64 `mapstructure:"quantity"`
	StopLossPct float64 `mapstructure:"stop_loss_pct"`
	TakeProfPct float64 `mapstructure:"take_profit_pct"`
}

// SizingSection tunes the fixed-fractional position sizer
type SizingSection struct {
	Enabled      bool    `mapstructure:"enabled"`
	RiskPerTrade float64 `mapstructure:"risk_per_trade"`
	MaxEquityPct float64 `mapstructure:"max_equity_pct"`
}

// Config is the top-level configuration, mapping the YAML file structure
type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	DataFile string `mapstructure:"data_file"`

	Server     types.ServerConfig `mapstructure:"server"`
	Engine     EngineSection      `mapstructure:"engine"`
	Exchange   ExchangeSection    `mapstructure:"exchange"`
	Portfolios []PortfolioSpec    `mapstructure:"portfolios"`
	Validation ValidationSection  `mapstructure:"validation"`
	Strategy   StrategySection    `mapstructure:"strategy"`
	Sizing     SizingSection      `mapstructure:"sizing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeBacktest)
	v.SetDefault("log_level", "info")

	srv := types.DefaultServerConfig()
	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.readtimeout", srv.ReadTimeout)
	v.SetDefault("server.writetimeout", srv.WriteTimeout)
	v.SetDefault("server.allowedorigins", srv.AllowedOrigins)

	eng := types.DefaultEngineConfig()
	v.SetDefault("engine.market_execution", string(eng.MarketExecution))
	v.SetDefault("engine.queue_size", eng.QueueSize)
	v.SetDefault("engine.pop_timeout", eng.PopTimeout)
	v.SetDefault("engine.stop_timeout", eng.StopTimeout)

	v.SetDefault("exchange.preset", "default")

	v.SetDefault("strategy.enabled", false)
	v.SetDefault("strategy.fast_period", 10)
	v.SetDefault("strategy.slow_period", 30)
	v.SetDefault("strategy.quantity", 1)
	v.SetDefault("strategy.stop_loss_pct", 0.05)
	v.SetDefault("strategy.take_profit_pct", 0.10)

	v.SetDefault("sizing.enabled", false)
	v.SetDefault("sizing.risk_per_trade", 0.01)
	v.SetDefault("sizing.max_equity_pct", 0.25)
}

// Load reads the configuration. An empty path skips the file and uses
// defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TRADESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field consistency
func (c *Config) Validate() error {
	if c.Mode != ModeBacktest && c.Mode != ModeLive {
		return fmt.Errorf("mode must be %q or %q", ModeBacktest, ModeLive)
	}
	mode := types.MarketExecutionMode(c.Engine.MarketExecution)
	if mode != types.MarketExecutionImmediate && mode != types.MarketExecutionNextBar {
		return fmt.Errorf("engine.market_execution must be IMMEDIATE or NEXT_BAR")
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be > 0")
	}
	if c.Mode == ModeBacktest && c.DataFile == "" && c.Strategy.Enabled {
		return fmt.Errorf("data_file is required for a backtest with a strategy enabled")
	}
	for i, p := range c.Portfolios {
		if p.ID == "" {
			return fmt.Errorf("portfolios[%d].id is required", i)
		}
		if p.InitialCash < 0 {
			return fmt.Errorf("portfolios[%d].initial_cash cannot be negative", i)
		}
	}
	if c.Strategy.Enabled {
		if c.Strategy.FastPeriod <= 0 || c.Strategy.SlowPeriod <= c.Strategy.FastPeriod {
			return fmt.Errorf("strategy periods must satisfy 0 < fast < slow")
		}
		if c.Strategy.PortfolioID == "" {
			return fmt.Errorf("strategy.portfolio_id is required when the strategy is enabled")
		}
	}
	return nil
}

// EngineConfig converts the engine section to the type the core observes
func (c *Config) EngineConfig() types.EngineConfig {
	return types.EngineConfig{
		MarketExecution: types.MarketExecutionMode(c.Engine.MarketExecution),
		QueueSize:       c.Engine.QueueSize,
		PopTimeout:      c.Engine.PopTimeout,
		StopTimeout:     c.Engine.StopTimeout,
	}
}

// ValidatorConfig converts the validation section for the order pipeline
func (c *Config) ValidatorConfig() orders.ValidatorConfig {
	return orders.ValidatorConfig{
		SupportedExchanges: c.Validation.SupportedExchanges,
		MinOrderValue:      decimal.NewFromFloat(c.Validation.MinOrderValue),
		MaxOrderValue:      decimal.NewFromFloat(c.Validation.MaxOrderValue),
		MinQuantity:        decimal.NewFromFloat(c.Validation.MinQuantity),
		MaxQuantity:        decimal.NewFromFloat(c.Validation.MaxQuantity),
		MinPrice:           decimal.NewFromFloat(c.Validation.MinPrice),
		MaxPrice:           decimal.NewFromFloat(c.Validation.MaxPrice),
	}
}
