// Package exchange provides the simulated exchange with pluggable fee and
// slippage models, failure injection and a connection state machine.
package exchange

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

// FeeModel computes commission for a prospective execution
type FeeModel interface {
	CalculateFee(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType, extras map[string]any) (decimal.Decimal, error)
}

// ValidationError reports an invalid fee or slippage input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func validateTradeInputs(qty, price decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "quantity", Message: fmt.Sprintf("must be positive, got %s", qty)}
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "price", Message: fmt.Sprintf("must be positive, got %s", price)}
	}
	return nil
}

// isMakerOrder derives maker/taker from the order type unless the extras
// carry an explicit override.
func isMakerOrder(orderType types.OrderType, extras map[string]any) bool {
	if extras != nil {
		if v, ok := extras["isMaker"].(bool); ok {
			return v
		}
	}
	return orderType == types.OrderTypeLimit
}

// ZeroFee charges nothing
type ZeroFee struct{}

// NewZeroFee creates a zero-fee model
func NewZeroFee() *ZeroFee { return &ZeroFee{} }

// CalculateFee always returns zero after input validation
func (z *ZeroFee) CalculateFee(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType, extras map[string]any) (decimal.Decimal, error) {
	if err := validateTradeInputs(qty, price); err != nil {
		return decimal.Zero, err
	}
	return decimal.Zero, nil
}

// PercentFee charges a flat percentage of trade value, optionally with
// distinct buy and sell rates.
type PercentFee struct {
	BuyRate  decimal.Decimal
	SellRate decimal.Decimal
}

// NewPercentFee creates a percent fee model with one rate for both sides
func NewPercentFee(rate decimal.Decimal) *PercentFee {
	return &PercentFee{BuyRate: rate, SellRate: rate}
}

// NewPercentFeeWithRates creates a percent fee model with per-side rates
func NewPercentFeeWithRates(buyRate, sellRate decimal.Decimal) *PercentFee {
	return &PercentFee{BuyRate: buyRate, SellRate: sellRate}
}

// CalculateFee returns tradeValue * rate rounded to 2 dp
func (p *PercentFee) CalculateFee(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType, extras map[string]any) (decimal.Decimal, error) {
	if err := validateTradeInputs(qty, price); err != nil {
		return decimal.Zero, err
	}
	rate := p.BuyRate
	if side == types.OrderSideSell {
		rate = p.SellRate
	}
	return qty.Mul(price).Mul(rate).Round(2), nil
}

// MakerTakerFee charges different rates for liquidity-adding and
// liquidity-removing orders. LIMIT orders are makers, MARKET orders takers,
// unless extras["isMaker"] overrides.
type MakerTakerFee struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

// NewMakerTakerFee creates a maker/taker fee model
func NewMakerTakerFee(makerRate, takerRate decimal.Decimal) *MakerTakerFee {
	return &MakerTakerFee{MakerRate: makerRate, TakerRate: takerRate}
}

// CalculateFee applies the maker or taker rate to the trade value
func (m *MakerTakerFee) CalculateFee(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType, extras map[string]any) (decimal.Decimal, error) {
	if err := validateTradeInputs(qty, price); err != nil {
		return decimal.Zero, err
	}
	rate := m.TakerRate
	if isMakerOrder(orderType, extras) {
		rate = m.MakerRate
	}
	return qty.Mul(price).Mul(rate).Round(2), nil
}

// TieredFee selects maker/taker rates from a volume-tiered schedule.
// The active tier is the highest tier whose threshold the cumulative
// 30-day volume has reached.
type TieredFee struct {
	mu       sync.Mutex
	tiers    []types.FeeTier
	volume30 decimal.Decimal
}

// NewTieredFee creates a tiered fee model. The tier list must be non-empty
// and its first threshold must be zero; tiers are sorted by threshold.
func NewTieredFee(tiers []types.FeeTier) (*TieredFee, error) {
	if len(tiers) == 0 {
		return nil, &ValidationError{Field: "tiers", Message: "tier list must not be empty"}
	}
	sorted := make([]types.FeeTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].VolumeThreshold.LessThan(sorted[j].VolumeThreshold)
	})
	if !sorted[0].VolumeThreshold.IsZero() {
		return nil, &ValidationError{Field: "tiers", Message: "first tier threshold must be 0"}
	}
	return &TieredFee{tiers: sorted}, nil
}

// CalculateFee applies the active tier's maker or taker rate
func (t *TieredFee) CalculateFee(qty, price decimal.Decimal, side types.OrderSide, orderType types.OrderType, extras map[string]any) (decimal.Decimal, error) {
	if err := validateTradeInputs(qty, price); err != nil {
		return decimal.Zero, err
	}
	tier := t.activeTier()
	rate := tier.TakerRate
	if isMakerOrder(orderType, extras) {
		rate = tier.MakerRate
	}
	return qty.Mul(price).Mul(rate).Round(2), nil
}

func (t *TieredFee) activeTier() types.FeeTier {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := t.tiers[0]
	for _, tier := range t.tiers {
		if t.volume30.GreaterThanOrEqual(tier.VolumeThreshold) {
			active = tier
		}
	}
	return active
}

// UpdateVolume replaces the cumulative 30-day volume
func (t *TieredFee) UpdateVolume(volume decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume30 = volume
}

// AddToVolume adds executed trade value to the cumulative volume
func (t *TieredFee) AddToVolume(value decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume30 = t.volume30.Add(value)
}

// ResetVolume zeroes the cumulative volume
func (t *TieredFee) ResetVolume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume30 = decimal.Zero
}

// Volume returns the current cumulative 30-day volume
func (t *TieredFee) Volume() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume30
}

// NewFeeModel builds a fee model from configuration. The configuration
// schema is exhaustive, so unknown model types are an error.
func NewFeeModel(cfg types.FeeModelConfig) (FeeModel, error) {
	switch cfg.ModelType {
	case "", "zero":
		return NewZeroFee(), nil
	case "percent":
		if !cfg.BuyRate.IsZero() || !cfg.SellRate.IsZero() {
			return NewPercentFeeWithRates(cfg.BuyRate, cfg.SellRate), nil
		}
		return NewPercentFee(cfg.FeeRate), nil
	case "maker_taker":
		return NewMakerTakerFee(cfg.MakerRate, cfg.TakerRate), nil
	case "tiered":
		return NewTieredFee(cfg.Tiers)
	default:
		return nil, fmt.Errorf("unknown fee model type %q", cfg.ModelType)
	}
}
