package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

// DefaultPreset: zero fees, zero slippage, no failures. Suitable for
// deterministic backtests.
func DefaultPreset() types.ExchangeConfig {
	return types.ExchangeConfig{
		Name:          "default",
		FeeModel:      types.FeeModelConfig{ModelType: "zero"},
		SlippageModel: types.SlippageModelConfig{ModelType: "zero"},
		Limits: types.ExchangeLimits{
			MaxPrice: decimal.NewFromInt(1_000_000),
		},
		Connection: types.ConnectionConfig{
			AutoConnect:       true,
			ConnectionTimeout: 5 * time.Second,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
		},
	}
}

// RealisticPreset: 0.1% percent fee, linear slippage (base 1%, size factor
// 1e-5, max 10%), 1% failure rate.
func RealisticPreset() types.ExchangeConfig {
	cfg := DefaultPreset()
	cfg.Name = "realistic"
	cfg.FeeModel = types.FeeModelConfig{
		ModelType: "percent",
		FeeRate:   decimal.NewFromFloat(0.001),
	}
	cfg.SlippageModel = types.SlippageModelConfig{
		ModelType:  "linear",
		BasePct:    1.0,
		SizeFactor: 1e-5,
		MaxPct:     10.0,
	}
	cfg.FailureSimulation = types.FailureSimulationConfig{
		SimulateFailures: true,
		FailureRate:      0.01,
	}
	return cfg
}

// HighFeePreset: maker/taker 0.8%/1.0%, fixed 2% slippage with random
// variation.
func HighFeePreset() types.ExchangeConfig {
	cfg := DefaultPreset()
	cfg.Name = "high_fee"
	cfg.FeeModel = types.FeeModelConfig{
		ModelType: "maker_taker",
		MakerRate: decimal.NewFromFloat(0.008),
		TakerRate: decimal.NewFromFloat(0.01),
	}
	cfg.SlippageModel = types.SlippageModelConfig{
		ModelType:       "fixed",
		SlippagePct:     2.0,
		RandomVariation: true,
	}
	return cfg
}

// LowLatencyPreset: 0.05% percent fee, no slippage, fast reconnect.
func LowLatencyPreset() types.ExchangeConfig {
	cfg := DefaultPreset()
	cfg.Name = "low_latency"
	cfg.FeeModel = types.FeeModelConfig{
		ModelType: "percent",
		FeeRate:   decimal.NewFromFloat(0.0005),
	}
	cfg.Connection = types.ConnectionConfig{
		AutoConnect:       true,
		ConnectionTimeout: 500 * time.Millisecond,
		RetryAttempts:     5,
		RetryDelay:        100 * time.Millisecond,
	}
	return cfg
}

// PresetConfig resolves a preset name to its configuration
func PresetConfig(name string) (types.ExchangeConfig, error) {
	switch name {
	case "", "default":
		return DefaultPreset(), nil
	case "realistic":
		return RealisticPreset(), nil
	case "high_fee":
		return HighFeePreset(), nil
	case "low_latency":
		return LowLatencyPreset(), nil
	default:
		return types.ExchangeConfig{}, fmt.Errorf("unknown exchange preset %q", name)
	}
}
