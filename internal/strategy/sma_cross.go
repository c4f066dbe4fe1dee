// Package strategy provides trading strategy implementations driven by bar
// events.
package strategy

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

// SMACrossConfig tunes the moving-average crossover strategy
type SMACrossConfig struct {
	PortfolioID   string
	FastPeriod    int
	SlowPeriod    int
	Quantity      decimal.Decimal
	StopLossPct   decimal.Decimal // fraction of entry price, e.g. 0.05
	TakeProfitPct decimal.Decimal
}

// DefaultSMACrossConfig returns a 10/30 crossover trading one unit
func DefaultSMACrossConfig(portfolioID string) SMACrossConfig {
	return SMACrossConfig{
		PortfolioID:   portfolioID,
		FastPeriod:    10,
		SlowPeriod:    30,
		Quantity:      decimal.NewFromInt(1),
		StopLossPct:   decimal.NewFromFloat(0.05),
		TakeProfitPct: decimal.NewFromFloat(0.10),
	}
}

type tickerState struct {
	closes []decimal.Decimal
	long   bool
}

// PositionLookup reports the net quantity currently held for a ticker.
// The crossover exit uses it to avoid selling when a protective order
// already closed the position, which would open an unintended short.
type PositionLookup func(portfolioID, ticker string) decimal.Decimal

// SMACross emits a BUY when the fast moving average crosses above the slow
// one and a SELL when it crosses back below. Entries carry stop-loss and
// take-profit levels derived from the entry price; exits are plain market
// sells.
type SMACross struct {
	logger *zap.Logger
	cfg    SMACrossConfig
	lookup PositionLookup
	state  map[string]*tickerState
}

// NewSMACross creates the strategy
func NewSMACross(logger *zap.Logger, cfg SMACrossConfig) *SMACross {
	return &SMACross{
		logger: logger.Named("sma_cross"),
		cfg:    cfg,
		state:  make(map[string]*tickerState),
	}
}

// BindPositions installs the position lookup used to gate exits
func (s *SMACross) BindPositions(fn PositionLookup) {
	s.lookup = fn
}

// Name implements engine.Strategy
func (s *SMACross) Name() string { return "sma_cross" }

// OnBar implements engine.Strategy
func (s *SMACross) OnBar(ev *events.BarEvent) []*types.Signal {
	var signals []*types.Signal
	for ticker, bar := range ev.Bars {
		if signal := s.onTickerBar(ticker, bar); signal != nil {
			signals = append(signals, signal)
		}
	}
	return signals
}

func (s *SMACross) onTickerBar(ticker string, bar types.Bar) *types.Signal {
	st, ok := s.state[ticker]
	if !ok {
		st = &tickerState{}
		s.state[ticker] = st
	}

	st.closes = append(st.closes, bar.Close)
	if len(st.closes) > s.cfg.SlowPeriod {
		st.closes = st.closes[len(st.closes)-s.cfg.SlowPeriod:]
	}
	if len(st.closes) < s.cfg.SlowPeriod {
		return nil
	}

	fast := average(st.closes[len(st.closes)-s.cfg.FastPeriod:])
	slow := average(st.closes)

	switch {
	case fast.GreaterThan(slow) && !st.long:
		st.long = true
		s.logger.Info("Golden cross",
			zap.String("ticker", ticker),
			zap.String("fast", fast.String()),
			zap.String("slow", slow.String()),
		)
		one := decimal.NewFromInt(1)
		return &types.Signal{
			Time:        bar.Timestamp,
			OrderType:   types.OrderTypeMarket,
			Ticker:      ticker,
			Action:      types.OrderSideBuy,
			Price:       bar.Close,
			Quantity:    s.cfg.Quantity,
			StopLoss:    bar.Close.Mul(one.Sub(s.cfg.StopLossPct)),
			TakeProfit:  bar.Close.Mul(one.Add(s.cfg.TakeProfitPct)),
			PortfolioID: s.cfg.PortfolioID,
		}

	case fast.LessThan(slow) && st.long:
		st.long = false
		if s.lookup != nil && s.lookup(s.cfg.PortfolioID, ticker).Sign() <= 0 {
			s.logger.Debug("Crossover exit skipped, position already flat",
				zap.String("ticker", ticker))
			return nil
		}
		s.logger.Info("Death cross", zap.String("ticker", ticker))
		return &types.Signal{
			Time:        bar.Timestamp,
			OrderType:   types.OrderTypeMarket,
			Ticker:      ticker,
			Action:      types.OrderSideSell,
			Price:       bar.Close,
			Quantity:    s.cfg.Quantity,
			PortfolioID: s.cfg.PortfolioID,
		}
	}
	return nil
}

func average(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
