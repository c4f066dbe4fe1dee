package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

// PositionManager holds at most one open position per ticker and the history
// of closed positions.
type PositionManager struct {
	mu     sync.Mutex
	logger *zap.Logger
	ids    *idgen.Generator
	open   map[string]*Position
	closed []*Position
}

// NewPositionManager creates an empty position manager
func NewPositionManager(logger *zap.Logger, ids *idgen.Generator) *PositionManager {
	return &PositionManager{
		logger: logger.Named("positions"),
		ids:    ids,
		open:   make(map[string]*Position),
	}
}

// ProcessPositionUpdate applies a transaction to the position book: opens a
// new position, averages into an existing one, or reduces it. The second
// return value reports whether the transaction closed the position.
func (m *PositionManager) ProcessPositionUpdate(txn *types.Transaction) (*Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[txn.Ticker]
	if !ok {
		pos = NewPosition(m.ids.Next(idgen.KindPosition), txn)
		m.open[txn.Ticker] = pos
		txn.PositionID = pos.ID
		m.logger.Debug("Position opened",
			zap.Int64("positionId", pos.ID),
			zap.String("ticker", pos.Ticker),
			zap.String("side", string(pos.Side)),
			zap.String("quantity", txn.Quantity.String()),
		)
		return pos, false, nil
	}

	if err := pos.ApplyTransaction(txn); err != nil {
		return nil, false, err
	}
	txn.PositionID = pos.ID

	if pos.IsClosed() {
		delete(m.open, txn.Ticker)
		m.closed = append(m.closed, pos)
		m.logger.Debug("Position closed",
			zap.Int64("positionId", pos.ID),
			zap.String("ticker", pos.Ticker),
			zap.String("realisedPnl", pos.RealisedPnL().String()),
		)
		return pos, true, nil
	}
	return pos, false, nil
}

// UpdateMarketValues refreshes the mark price of open positions only.
// Tickers without a price in the map keep their last known price.
func (m *PositionManager) UpdateMarketValues(prices map[string]decimal.Decimal, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ticker, pos := range m.open {
		if price, ok := prices[ticker]; ok {
			pos.UpdatePrice(price)
		}
	}
}

// GetPosition returns the open position for a ticker, if any
func (m *PositionManager) GetPosition(ticker string) (*Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.open[ticker]
	return pos, ok
}

// OpenPositions returns open positions sorted by ticker
func (m *PositionManager) OpenPositions() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Position, 0, len(m.open))
	for _, pos := range m.open {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// ClosedPositions returns the closed-position history in closing order
func (m *PositionManager) ClosedPositions() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Position, len(m.closed))
	copy(out, m.closed)
	return out
}

// OpenPositionCount returns the number of open positions
func (m *PositionManager) OpenPositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// TotalMarketValue sums market value across open positions
func (m *PositionManager) TotalMarketValue() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, pos := range m.open {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// TotalUnrealisedPnL sums unrealised P&L across open positions
func (m *PositionManager) TotalUnrealisedPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, pos := range m.open {
		total = total.Add(pos.UnrealisedPnL())
	}
	return total
}

// TotalRealisedPnL sums realised P&L across open and closed positions
func (m *PositionManager) TotalRealisedPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, pos := range m.open {
		total = total.Add(pos.RealisedPnL())
	}
	for _, pos := range m.closed {
		total = total.Add(pos.RealisedPnL())
	}
	return total
}
