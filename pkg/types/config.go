// Package types provides configuration types observed by the engine core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioLimits bounds position count and per-position value
type PortfolioLimits struct {
	MaxPositions     int             `json:"maxPositions" mapstructure:"maxPositions"`
	MaxPositionValue decimal.Decimal `json:"maxPositionValue" mapstructure:"maxPositionValue"`
}

// RiskManagementConfig carries soft risk thresholds tracked in health metrics
type RiskManagementConfig struct {
	MaxConcentrationPct decimal.Decimal `json:"maxConcentrationPct" mapstructure:"maxConcentrationPct"`
	MaxDailyLossPct     decimal.Decimal `json:"maxDailyLossPct" mapstructure:"maxDailyLossPct"`
	MaxDrawdownPct      decimal.Decimal `json:"maxDrawdownPct" mapstructure:"maxDrawdownPct"`
}

// TradingRulesConfig bounds trading activity per day
type TradingRulesConfig struct {
	MaxTransactionsPerDay int             `json:"maxTransactionsPerDay" mapstructure:"maxTransactionsPerDay"`
	MaxCashWithdrawalPct  decimal.Decimal `json:"maxCashWithdrawalPct" mapstructure:"maxCashWithdrawalPct"`
}

// PortfolioValidationConfig toggles transaction validation
type PortfolioValidationConfig struct {
	ValidateTransactions   bool `json:"validateTransactions" mapstructure:"validateTransactions"`
	RequireSufficientFunds bool `json:"requireSufficientFunds" mapstructure:"requireSufficientFunds"`
}

// PortfolioEventsConfig toggles event publication
type PortfolioEventsConfig struct {
	PublishUpdateEvents bool `json:"publishUpdateEvents" mapstructure:"publishUpdateEvents"`
	PublishErrorEvents  bool `json:"publishErrorEvents" mapstructure:"publishErrorEvents"`
}

// PortfolioConfig is the per-portfolio configuration the core observes
type PortfolioConfig struct {
	Limits         PortfolioLimits           `json:"limits" mapstructure:"limits"`
	RiskManagement RiskManagementConfig      `json:"riskManagement" mapstructure:"riskManagement"`
	TradingRules   TradingRulesConfig        `json:"tradingRules" mapstructure:"tradingRules"`
	Validation     PortfolioValidationConfig `json:"validation" mapstructure:"validation"`
	Events         PortfolioEventsConfig     `json:"events" mapstructure:"events"`
	MaxBalance     decimal.Decimal           `json:"maxBalance" mapstructure:"maxBalance"`
}

// DefaultPortfolioConfig returns permissive defaults suitable for backtests
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		Limits: PortfolioLimits{
			MaxPositions:     50,
			MaxPositionValue: decimal.NewFromInt(1_000_000),
		},
		RiskManagement: RiskManagementConfig{
			MaxConcentrationPct: decimal.NewFromFloat(1.0),
			MaxDailyLossPct:     decimal.NewFromFloat(0.1),
			MaxDrawdownPct:      decimal.NewFromFloat(0.25),
		},
		TradingRules: TradingRulesConfig{
			MaxTransactionsPerDay: 1000,
			MaxCashWithdrawalPct:  decimal.NewFromFloat(1.0),
		},
		Validation: PortfolioValidationConfig{
			ValidateTransactions:   true,
			RequireSufficientFunds: true,
		},
		Events: PortfolioEventsConfig{
			PublishUpdateEvents: true,
			PublishErrorEvents:  true,
		},
		MaxBalance: decimal.NewFromInt(1_000_000_000),
	}
}

// FeeTier is one (volumeThreshold, makerRate, takerRate) row of a tiered
// fee schedule, sorted ascending by threshold starting at 0.
type FeeTier struct {
	VolumeThreshold decimal.Decimal `json:"volumeThreshold" mapstructure:"volumeThreshold"`
	MakerRate       decimal.Decimal `json:"makerRate" mapstructure:"makerRate"`
	TakerRate       decimal.Decimal `json:"takerRate" mapstructure:"takerRate"`
}

// FeeModelConfig selects and parameterises a fee model
type FeeModelConfig struct {
	ModelType string          `json:"modelType" mapstructure:"modelType"` // "zero", "percent", "maker_taker", "tiered"
	FeeRate   decimal.Decimal `json:"feeRate" mapstructure:"feeRate"`
	BuyRate   decimal.Decimal `json:"buyRate" mapstructure:"buyRate"`
	SellRate  decimal.Decimal `json:"sellRate" mapstructure:"sellRate"`
	MakerRate decimal.Decimal `json:"makerRate" mapstructure:"makerRate"`
	TakerRate decimal.Decimal `json:"takerRate" mapstructure:"takerRate"`
	Tiers     []FeeTier       `json:"tiers" mapstructure:"tiers"`
}

// SlippageModelConfig selects and parameterises a slippage model
type SlippageModelConfig struct {
	ModelType       string  `json:"modelType" mapstructure:"modelType"` // "zero", "linear", "fixed"
	SlippagePct     float64 `json:"slippagePct" mapstructure:"slippagePct"`
	BasePct         float64 `json:"basePct" mapstructure:"basePct"`
	SizeFactor      float64 `json:"sizeFactor" mapstructure:"sizeFactor"`
	MaxPct          float64 `json:"maxPct" mapstructure:"maxPct"`
	RandomVariation bool    `json:"randomVariation" mapstructure:"randomVariation"`
}

// ExchangeLimits bounds accepted orders
type ExchangeLimits struct {
	MinOrderSize     decimal.Decimal `json:"minOrderSize" mapstructure:"minOrderSize"`
	MaxOrderSize     decimal.Decimal `json:"maxOrderSize" mapstructure:"maxOrderSize"`
	SupportedSymbols []string        `json:"supportedSymbols" mapstructure:"supportedSymbols"`
	MaxPrice         decimal.Decimal `json:"maxPrice" mapstructure:"maxPrice"`
}

// FailureSimulationConfig injects synthetic exchange failures
type FailureSimulationConfig struct {
	SimulateFailures bool        `json:"simulateFailures" mapstructure:"simulateFailures"`
	FailureRate      float64     `json:"failureRate" mapstructure:"failureRate"`
	EnabledScenarios []ErrorCode `json:"enabledScenarios" mapstructure:"enabledScenarios"`
}

// ConnectionConfig controls the simulated connection lifecycle
type ConnectionConfig struct {
	AutoConnect       bool          `json:"autoConnect" mapstructure:"autoConnect"`
	ConnectionTimeout time.Duration `json:"connectionTimeout" mapstructure:"connectionTimeout"`
	RetryAttempts     int           `json:"retryAttempts" mapstructure:"retryAttempts"`
	RetryDelay        time.Duration `json:"retryDelay" mapstructure:"retryDelay"`
}

// ExchangeConfig is the full simulated-exchange configuration
type ExchangeConfig struct {
	Name              string                  `json:"name" mapstructure:"name"`
	FeeModel          FeeModelConfig          `json:"feeModel" mapstructure:"feeModel"`
	SlippageModel     SlippageModelConfig     `json:"slippageModel" mapstructure:"slippageModel"`
	Limits            ExchangeLimits          `json:"limits" mapstructure:"limits"`
	FailureSimulation FailureSimulationConfig `json:"failureSimulation" mapstructure:"failureSimulation"`
	Connection        ConnectionConfig        `json:"connection" mapstructure:"connection"`
}

// EngineConfig configures the event loop and order handling
type EngineConfig struct {
	MarketExecution MarketExecutionMode `json:"marketExecution" mapstructure:"marketExecution"`
	QueueSize       int                 `json:"queueSize" mapstructure:"queueSize"`
	PopTimeout      time.Duration       `json:"popTimeout" mapstructure:"popTimeout"`
	StopTimeout     time.Duration       `json:"stopTimeout" mapstructure:"stopTimeout"`
}

// DefaultEngineConfig returns backtest-friendly defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MarketExecution: MarketExecutionImmediate,
		QueueSize:       10000,
		PopTimeout:      100 * time.Millisecond,
		StopTimeout:     5 * time.Second,
	}
}

// ServerConfig configures the HTTP/WebSocket API server
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"writeTimeout"`
	AllowedOrigins []string      `json:"allowedOrigins" mapstructure:"allowedOrigins"`
}

// DefaultServerConfig returns development-friendly server defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// PortfolioUpdate captures a per-portfolio snapshot published after fills
type PortfolioUpdate struct {
	PortfolioID        string          `json:"portfolioId"`
	Time               time.Time       `json:"time"`
	AvailableCash      decimal.Decimal `json:"availableCash"`
	TotalEquity        decimal.Decimal `json:"totalEquity"`
	TotalMarketValue   decimal.Decimal `json:"totalMarketValue"`
	TotalUnrealisedPnL decimal.Decimal `json:"totalUnrealisedPnl"`
	TotalRealisedPnL   decimal.Decimal `json:"totalRealisedPnl"`
	OpenPositions      int             `json:"openPositions"`
}

// EquityCurvePoint records portfolio equity after a bar
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}
