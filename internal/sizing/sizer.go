// Package sizing adjusts signal quantities to portfolio risk budgets.
package sizing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/portfolio"
	"github.com/altfolio/tradesim/pkg/types"
)

// FixedFractionalConfig tunes the risk-per-trade sizer
type FixedFractionalConfig struct {
	// Fraction of equity risked between entry and stop per trade
	RiskPerTrade decimal.Decimal
	// Cap on notional size as a fraction of equity
	MaxEquityPct decimal.Decimal
}

// DefaultFixedFractionalConfig risks 1% per trade, capped at 25% notional
func DefaultFixedFractionalConfig() FixedFractionalConfig {
	return FixedFractionalConfig{
		RiskPerTrade: decimal.NewFromFloat(0.01),
		MaxEquityPct: decimal.NewFromFloat(0.25),
	}
}

// FixedFractional resizes buy entries so the distance to the stop loss
// risks a fixed fraction of portfolio equity. Signals without a stop loss,
// sells, and signals whose portfolio cannot be resolved pass through
// unchanged.
type FixedFractional struct {
	logger     *zap.Logger
	portfolios *portfolio.Handler
	cfg        FixedFractionalConfig
}

// NewFixedFractional creates the sizer
func NewFixedFractional(logger *zap.Logger, portfolios *portfolio.Handler, cfg FixedFractionalConfig) *FixedFractional {
	return &FixedFractional{
		logger:     logger.Named("sizer"),
		portfolios: portfolios,
		cfg:        cfg,
	}
}

// Apply implements the strategy host sizing hook
func (s *FixedFractional) Apply(signal *types.Signal) {
	if signal.Action != types.OrderSideBuy || signal.StopLoss.Sign() <= 0 || signal.Price.Sign() <= 0 {
		return
	}
	riskPerUnit := signal.Price.Sub(signal.StopLoss)
	if riskPerUnit.Sign() <= 0 {
		return
	}
	p, err := s.portfolios.GetPortfolio(signal.PortfolioID)
	if err != nil {
		return
	}
	equity := p.TotalEquity()
	if equity.Sign() <= 0 {
		return
	}

	quantity := equity.Mul(s.cfg.RiskPerTrade).Div(riskPerUnit)

	maxNotional := equity.Mul(s.cfg.MaxEquityPct)
	if quantity.Mul(signal.Price).GreaterThan(maxNotional) {
		quantity = maxNotional.Div(signal.Price)
	}
	quantity = quantity.Round(8)
	if quantity.Sign() <= 0 {
		return
	}

	s.logger.Debug("Signal resized",
		zap.String("ticker", signal.Ticker),
		zap.String("from", signal.Quantity.String()),
		zap.String("to", quantity.String()),
	)
	signal.Quantity = quantity
}
