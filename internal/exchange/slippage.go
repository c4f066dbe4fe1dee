package exchange

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

// SlippageModel computes the execution-price multiplier for an order.
// The executed price is price * factor.
type SlippageModel interface {
	CalculateSlippageFactor(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType) float64
}

// ZeroSlippage executes at the requested price
type ZeroSlippage struct{}

// NewZeroSlippage creates a zero slippage model
func NewZeroSlippage() *ZeroSlippage { return &ZeroSlippage{} }

// CalculateSlippageFactor always returns 1.0
func (z *ZeroSlippage) CalculateSlippageFactor(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType) float64 {
	return 1.0
}

// LinearSlippage combines uniform base noise with a size-proportional impact,
// clamped to +/- MaxPct.
type LinearSlippage struct {
	BasePct    float64
	SizeFactor float64
	MaxPct     float64
	rng        *rand.Rand
}

// NewLinearSlippage creates a linear slippage model
func NewLinearSlippage(basePct, sizeFactor, maxPct float64) *LinearSlippage {
	return &LinearSlippage{
		BasePct:    basePct,
		SizeFactor: sizeFactor,
		MaxPct:     maxPct,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CalculateSlippageFactor returns 1 + clamp(noise +/- impact, +/- maxPct/100).
// Buys slip upward with order size, sells downward.
func (l *LinearSlippage) CalculateSlippageFactor(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType) float64 {
	maxFrac := l.MaxPct / 100

	baseNoise := (l.rng.Float64()*2 - 1) * l.BasePct / 100

	tradeValue, _ := qty.Mul(price).Float64()
	sizeImpact := tradeValue * l.SizeFactor / 100
	if sizeImpact > maxFrac {
		sizeImpact = maxFrac
	}

	var drift float64
	if side == types.OrderSideBuy {
		drift = baseNoise + sizeImpact
	} else {
		drift = baseNoise - sizeImpact
	}

	return 1 + clamp(drift, -maxFrac, maxFrac)
}

// FixedSlippage applies a constant percentage, optionally randomised within
// +/- Pct.
type FixedSlippage struct {
	Pct             float64
	RandomVariation bool
	rng             *rand.Rand
}

// NewFixedSlippage creates a fixed slippage model
func NewFixedSlippage(pct float64, randomVariation bool) *FixedSlippage {
	return &FixedSlippage{
		Pct:             pct,
		RandomVariation: randomVariation,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CalculateSlippageFactor returns the fixed factor: buys pay up, sells
// receive less, unless random variation draws from the full range.
func (f *FixedSlippage) CalculateSlippageFactor(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType) float64 {
	if f.RandomVariation {
		return 1 + (f.rng.Float64()*2-1)*f.Pct/100
	}
	if side == types.OrderSideBuy {
		return 1 + f.Pct/100
	}
	return 1 - f.Pct/100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewSlippageModel builds a slippage model from configuration
func NewSlippageModel(cfg types.SlippageModelConfig) (SlippageModel, error) {
	switch cfg.ModelType {
	case "", "zero":
		return NewZeroSlippage(), nil
	case "linear":
		return NewLinearSlippage(cfg.BasePct, cfg.SizeFactor, cfg.MaxPct), nil
	case "fixed":
		return NewFixedSlippage(cfg.SlippagePct, cfg.RandomVariation), nil
	default:
		return nil, fmt.Errorf("unknown slippage model type %q", cfg.ModelType)
	}
}
