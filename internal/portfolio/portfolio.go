package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

// StateTransition records one portfolio state change
type StateTransition struct {
	From   types.PortfolioState `json:"from"`
	To     types.PortfolioState `json:"to"`
	Time   time.Time            `json:"time"`
	Reason string               `json:"reason,omitempty"`
}

// HealthMetrics exposes soft risk indicators. Breaches are reported, never
// enforced; the caller decides whether to halt trading.
type HealthMetrics struct {
	TransactionFailures int64           `json:"transactionFailures"`
	DailyLossPct        decimal.Decimal `json:"dailyLossPct"`
	DrawdownPct         decimal.Decimal `json:"drawdownPct"`
	DailyLossBreached   bool            `json:"dailyLossBreached"`
	DrawdownBreached    bool            `json:"drawdownBreached"`
}

// Portfolio aggregates the cash, position and transaction managers behind a
// single thread-safe facade. Trading requires the ACTIVE state.
type Portfolio struct {
	mu     sync.RWMutex
	logger *zap.Logger

	ID       string
	UserID   string
	Name     string
	Exchange string

	state       types.PortfolioState
	transitions []StateTransition
	createdAt   time.Time
	currentTime time.Time

	cfg       types.PortfolioConfig
	cash      *CashManager
	positions *PositionManager
	txns      *TransactionManager

	peakEquity     decimal.Decimal
	dayStartEquity decimal.Decimal
	currentDay     string
	equityCurve    []types.EquityCurvePoint
}

// NewPortfolio creates an ACTIVE portfolio with the given starting cash
func NewPortfolio(logger *zap.Logger, ids *idgen.Generator, id, userID, name, exchange string, initialCash decimal.Decimal, cfg types.PortfolioConfig) *Portfolio {
	log := logger.Named("portfolio").With(zap.String("portfolioId", id))
	cash := NewCashManager(log, ids, initialCash, cfg.MaxBalance)
	p := &Portfolio{
		logger:         log,
		ID:             id,
		UserID:         userID,
		Name:           name,
		Exchange:       exchange,
		state:          types.PortfolioStateActive,
		createdAt:      time.Now(),
		cfg:            cfg,
		cash:           cash,
		positions:      NewPositionManager(log, ids),
		txns:           NewTransactionManager(log, ids, cash, cfg),
		peakEquity:     initialCash.Round(2),
		dayStartEquity: initialCash.Round(2),
	}
	return p
}

// State returns the current lifecycle state
func (p *Portfolio) State() types.PortfolioState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState transitions the portfolio, enforcing the state machine.
// ARCHIVED is terminal.
func (p *Portfolio) SetState(next types.PortfolioState, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == next {
		return nil
	}
	if !p.state.CanTransitionTo(next) {
		return &StateError{Operation: "transition to " + string(next), State: p.state}
	}
	p.transitions = append(p.transitions, StateTransition{
		From:   p.state,
		To:     next,
		Time:   time.Now(),
		Reason: reason,
	})
	p.logger.Info("Portfolio state changed",
		zap.String("from", string(p.state)),
		zap.String("to", string(next)),
		zap.String("reason", reason),
	)
	p.state = next
	return nil
}

// StateTransitions returns a copy of the transition history
func (p *Portfolio) StateTransitions() []StateTransition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]StateTransition, len(p.transitions))
	copy(out, p.transitions)
	return out
}

// Cash exposes the cash manager
func (p *Portfolio) Cash() *CashManager { return p.cash }

// Positions exposes the position manager
func (p *Portfolio) Positions() *PositionManager { return p.positions }

// Transactions exposes the transaction manager
func (p *Portfolio) Transactions() *TransactionManager { return p.txns }

// ProcessTransaction applies a fill to the portfolio. Limits, transaction
// validity and the cash leg are all checked before the position book is
// touched, so a rejected fill leaves no partial state behind.
// All-or-nothing per fill.
func (p *Portfolio) ProcessTransaction(fill types.Fill) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.PortfolioStateActive {
		return &StateError{Operation: "processTransaction", State: p.state}
	}

	txn := &types.Transaction{
		PortfolioID: p.ID,
		Time:        fill.Time,
		Ticker:      fill.Ticker,
		Action:      fill.Action,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Commission:  fill.Commission,
	}

	if err := p.checkLimits(txn); err != nil {
		return err
	}

	if p.cfg.Validation.ValidateTransactions {
		if err := p.txns.Validate(txn); err != nil {
			return err
		}
	}

	if p.cfg.Validation.RequireSufficientFunds && txn.Action == types.OrderSideBuy {
		required := txn.Value().Add(txn.Commission).Round(2)
		available := p.cash.AvailableBalance()
		if available.LessThan(required) {
			return &InsufficientFundsError{Required: required, Available: available}
		}
	}

	amount, isDebit := cashFlowAmount(txn)
	if err := p.cash.CanProcessCashFlow(amount, isDebit); err != nil {
		return err
	}

	if _, _, err := p.positions.ProcessPositionUpdate(txn); err != nil {
		return err
	}
	if err := p.txns.Process(txn); err != nil {
		return err
	}

	if !fill.Time.IsZero() {
		p.currentTime = fill.Time
	}
	return nil
}

// checkLimits enforces the hard portfolio limits. Caller holds the lock.
func (p *Portfolio) checkLimits(txn *types.Transaction) error {
	pos, exists := p.positions.GetPosition(txn.Ticker)

	opening := !exists
	adding := exists && txn.Action == pos.Side.OpeningAction()

	if opening {
		if max := p.cfg.Limits.MaxPositions; max > 0 && p.positions.OpenPositionCount() >= max {
			return &InvalidTransactionError{Reason: "maximum open position count reached"}
		}
	}

	if opening || adding {
		projected := txn.Value()
		if exists {
			projected = projected.Add(pos.MarketValue().Abs())
		}
		if max := p.cfg.Limits.MaxPositionValue; max.Sign() > 0 && projected.GreaterThan(max) {
			return &InvalidTransactionError{Reason: "position value limit exceeded"}
		}
		if maxPct := p.cfg.RiskManagement.MaxConcentrationPct; maxPct.Sign() > 0 {
			equity := p.totalEquityLocked()
			if equity.Sign() > 0 && projected.Div(equity).GreaterThan(maxPct) {
				return &InvalidTransactionError{Reason: "concentration limit exceeded"}
			}
		}
	}
	return nil
}

// UpdateMarketValues marks open positions to the latest prices, advances the
// clock, appends an equity-curve point and refreshes health metrics.
func (p *Portfolio) UpdateMarketValues(prices map[string]decimal.Decimal, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions.UpdateMarketValues(prices, at)
	p.currentTime = at

	equity := p.totalEquityLocked()

	day := dayKey(at)
	if day != p.currentDay {
		p.currentDay = day
		p.dayStartEquity = equity
	}
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}

	drawdown := decimal.Zero
	if p.peakEquity.Sign() > 0 {
		drawdown = p.peakEquity.Sub(equity).Div(p.peakEquity)
	}
	p.equityCurve = append(p.equityCurve, types.EquityCurvePoint{
		Timestamp: at,
		Equity:    equity,
		Cash:      p.cash.Balance(),
		Drawdown:  drawdown,
	})

	health := p.healthLocked(equity, drawdown)
	if health.DailyLossBreached {
		p.logger.Warn("Daily loss threshold breached",
			zap.String("dailyLossPct", health.DailyLossPct.String()))
	}
	if health.DrawdownBreached {
		p.logger.Warn("Drawdown threshold breached",
			zap.String("drawdownPct", health.DrawdownPct.String()))
	}
}

// Health returns the current soft risk indicators
func (p *Portfolio) Health() HealthMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	equity := p.totalEquityLocked()
	drawdown := decimal.Zero
	if p.peakEquity.Sign() > 0 {
		drawdown = p.peakEquity.Sub(equity).Div(p.peakEquity)
	}
	return p.healthLocked(equity, drawdown)
}

func (p *Portfolio) healthLocked(equity, drawdown decimal.Decimal) HealthMetrics {
	dailyLoss := decimal.Zero
	if p.dayStartEquity.Sign() > 0 {
		dailyLoss = p.dayStartEquity.Sub(equity).Div(p.dayStartEquity)
	}
	h := HealthMetrics{
		TransactionFailures: p.txns.FailureCount(),
		DailyLossPct:        dailyLoss,
		DrawdownPct:         drawdown,
	}
	if maxLoss := p.cfg.RiskManagement.MaxDailyLossPct; maxLoss.Sign() > 0 {
		h.DailyLossBreached = dailyLoss.GreaterThan(maxLoss)
	}
	if maxDD := p.cfg.RiskManagement.MaxDrawdownPct; maxDD.Sign() > 0 {
		h.DrawdownBreached = drawdown.GreaterThan(maxDD)
	}
	return h
}

// totalEquityLocked is cash balance plus open position market value
func (p *Portfolio) totalEquityLocked() decimal.Decimal {
	return p.cash.Balance().Add(p.positions.TotalMarketValue())
}

// TotalEquity is cash balance plus open position market value
func (p *Portfolio) TotalEquity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalEquityLocked()
}

// AvailableCash returns spendable cash (balance minus reservations)
func (p *Portfolio) AvailableCash() decimal.Decimal {
	return p.cash.AvailableBalance()
}

// EquityCurve returns a copy of the recorded equity points
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.EquityCurvePoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// Snapshot builds the update published after each processed fill
func (p *Portfolio) Snapshot() types.PortfolioUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return types.PortfolioUpdate{
		PortfolioID:        p.ID,
		Time:               p.currentTime,
		AvailableCash:      p.cash.AvailableBalance(),
		TotalEquity:        p.totalEquityLocked(),
		TotalMarketValue:   p.positions.TotalMarketValue(),
		TotalUnrealisedPnL: p.positions.TotalUnrealisedPnL(),
		TotalRealisedPnL:   p.positions.TotalRealisedPnL(),
		OpenPositions:      p.positions.OpenPositionCount(),
	}
}
