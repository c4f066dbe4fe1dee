package orders

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

const (
	reasonStopTriggered  = "stop loss triggered"
	reasonLimitTriggered = "limit order triggered"
	reasonMarketFill     = "market order executed"
	reasonOCOCancelled   = "cancelled by OCO linked order"
)

type orderKey struct {
	portfolioID string
	orderID     int64
}

// Manager evaluates stop/limit triggers on market data, times market-order
// execution, and performs OCO cleanup after fills. A processed fill is
// recorded on the order and announced downstream as an OrderEvent; the
// exchange produces the authoritative FillEvent from it.
type Manager struct {
	mu      sync.Mutex
	logger  *zap.Logger
	storage Storage
	queue   *events.Queue
	mode    types.MarketExecutionMode
	nextBar map[orderKey]struct{}
}

// NewManager creates an order manager in the given market execution mode
func NewManager(logger *zap.Logger, storage Storage, queue *events.Queue, mode types.MarketExecutionMode) *Manager {
	return &Manager{
		logger:  logger.Named("order_manager"),
		storage: storage,
		queue:   queue,
		mode:    mode,
		nextBar: make(map[orderKey]struct{}),
	}
}

// Mode returns the configured market execution mode
func (m *Manager) Mode() types.MarketExecutionMode {
	return m.mode
}

// ProcessOrdersOnMarketData runs the per-bar order pipeline: queued
// next-bar market orders execute at the bar's open, then stop/limit
// triggers are evaluated against the bar's close. Each order is handled in
// isolation; a failure is logged and the remaining orders still run.
func (m *Manager) ProcessOrdersOnMarketData(ev *events.BarEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == types.MarketExecutionNextBar {
		m.executeQueuedMarketOrders(ev)
	}
	m.evaluateTriggers(ev)
}

// executeQueuedMarketOrders fills orders queued for next-bar execution at
// the bar's open price, falling back to the order's stored price when the
// bar carries no data for the ticker. Caller holds the lock.
func (m *Manager) executeQueuedMarketOrders(ev *events.BarEvent) {
	keys := make([]orderKey, 0, len(m.nextBar))
	for key := range m.nextBar {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].orderID < keys[j].orderID })
	m.nextBar = make(map[orderKey]struct{})

	for _, key := range keys {
		order, ok := m.storage.GetOrder(key.portfolioID, key.orderID)
		if !ok || !order.IsActive() {
			continue
		}
		price := order.Price
		if bar, ok := ev.Bar(order.Ticker); ok {
			price = bar.Open
		}
		if err := m.fillOrder(order, price, ev.Timestamp, reasonMarketFill); err != nil {
			m.logger.Error("Failed to execute queued market order",
				zap.Int64("orderId", order.ID), zap.Error(err))
		}
	}
}

// evaluateTriggers checks every active stop/limit order whose ticker is in
// the bar against the bar's close. Iteration is ascending by order id, so
// when a stop and a limit on the same position both trigger in one bar the
// lower id fires and OCO cleanup cancels the other before it is evaluated.
// Caller holds the lock.
func (m *Manager) evaluateTriggers(ev *events.BarEvent) {
	for _, portfolioID := range m.storage.PortfolioIDs() {
		for _, order := range m.storage.ActiveOrders(portfolioID) {
			if !order.IsActive() {
				continue
			}
			if order.Type != types.OrderTypeStop && order.Type != types.OrderTypeLimit {
				continue
			}
			bar, ok := ev.Bar(order.Ticker)
			if !ok {
				continue
			}
			triggered, reason := triggerFires(order, bar.Close)
			if !triggered {
				continue
			}
			if err := m.fillOrder(order, bar.Close, ev.Timestamp, reason); err != nil {
				m.logger.Error("Failed to fill triggered order",
					zap.Int64("orderId", order.ID), zap.Error(err))
			}
		}
	}
}

// triggerFires applies the strict-inequality trigger rules against the
// bar close
func triggerFires(order *types.Order, closePrice decimal.Decimal) (bool, string) {
	switch order.Type {
	case types.OrderTypeStop:
		if order.Action == types.OrderSideSell && closePrice.LessThan(order.Price) {
			return true, reasonStopTriggered
		}
		if order.Action == types.OrderSideBuy && closePrice.GreaterThan(order.Price) {
			return true, reasonStopTriggered
		}
	case types.OrderTypeLimit:
		if order.Action == types.OrderSideSell && closePrice.GreaterThan(order.Price) {
			return true, reasonLimitTriggered
		}
		if order.Action == types.OrderSideBuy && closePrice.LessThan(order.Price) {
			return true, reasonLimitTriggered
		}
	}
	return false, ""
}

// ProcessMarketOrdersImmediately fills every active market order at its
// stored price. Called from the signal path in IMMEDIATE mode.
func (m *Manager) ProcessMarketOrdersImmediately(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, portfolioID := range m.storage.PortfolioIDs() {
		for _, order := range m.storage.ActiveOrders(portfolioID) {
			if order.Type != types.OrderTypeMarket || !order.IsActive() {
				continue
			}
			if err := m.fillOrder(order, order.Price, now, reasonMarketFill); err != nil {
				m.logger.Error("Failed to execute market order",
					zap.Int64("orderId", order.ID), zap.Error(err))
			}
		}
	}
}

// QueueMarketOrdersForNextBar records all active market orders for
// execution at the next bar's open. Called from the signal path in
// NEXT_BAR mode.
func (m *Manager) QueueMarketOrdersForNextBar() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, portfolioID := range m.storage.PortfolioIDs() {
		for _, order := range m.storage.ActiveOrders(portfolioID) {
			if order.Type != types.OrderTypeMarket || !order.IsActive() {
				continue
			}
			m.nextBar[orderKey{portfolioID, order.ID}] = struct{}{}
		}
	}
}

// fillOrder records a full fill on the order, re-indexes it, applies OCO
// cleanup for stop/limit fills and emits the OrderEvent. Caller holds the
// lock.
func (m *Manager) fillOrder(order *types.Order, price decimal.Decimal, at time.Time, reason string) error {
	fill := types.Fill{
		OrderID:     order.ID,
		Time:        at,
		Status:      types.FillStatusExecuted,
		Ticker:      order.Ticker,
		Action:      order.Action,
		Price:       price,
		Quantity:    order.RemainingQuantity(),
		PortfolioID: order.PortfolioID,
	}
	if err := order.AddFill(fill, reason); err != nil {
		return err
	}

	m.storage.UpdateOrder(order)
	if order.Type == types.OrderTypeMarket {
		m.storage.DeactivateOrder(order.PortfolioID, order.ID)
	} else {
		m.cancelLinkedOrders(order)
	}

	m.logger.Debug("Order filled",
		zap.Int64("orderId", order.ID),
		zap.String("ticker", order.Ticker),
		zap.String("type", string(order.Type)),
		zap.String("price", price.String()),
		zap.String("reason", reason),
	)
	m.queue.Push(events.NewOrderEvent(at, order))
	return nil
}

// cancelLinkedOrders cancels every other active stop/limit order on the
// same (ticker, portfolio). Market orders are never OCO-linked. Caller
// holds the lock.
func (m *Manager) cancelLinkedOrders(filled *types.Order) {
	for _, order := range m.storage.ActiveOrders(filled.PortfolioID) {
		if order.ID == filled.ID || order.Ticker != filled.Ticker {
			continue
		}
		if order.Type != types.OrderTypeStop && order.Type != types.OrderTypeLimit {
			continue
		}
		if !order.IsActive() {
			continue
		}
		reason := fmt.Sprintf("%s: order %d filled", reasonOCOCancelled, filled.ID)
		if err := order.SetStatus(types.OrderStatusCancelled, reason, time.Now()); err != nil {
			m.logger.Error("Failed to cancel OCO linked order",
				zap.Int64("orderId", order.ID), zap.Error(err))
			continue
		}
		m.storage.UpdateOrder(order)
		m.storage.DeactivateOrder(order.PortfolioID, order.ID)
		m.logger.Info("OCO linked order cancelled",
			zap.Int64("filledOrderId", filled.ID),
			zap.Int64("cancelledOrderId", order.ID),
			zap.String("ticker", filled.Ticker),
		)
	}
}

// ExpireOrders transitions active orders whose expiration time has elapsed
// to EXPIRED. No automatic sweep runs; callers invoke this explicitly.
func (m *Manager) ExpireOrders(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for _, portfolioID := range m.storage.PortfolioIDs() {
		for _, order := range m.storage.ActiveOrders(portfolioID) {
			if !order.IsExpired(now) {
				continue
			}
			if err := order.SetStatus(types.OrderStatusExpired, "expiration time elapsed", now); err != nil {
				m.logger.Error("Failed to expire order",
					zap.Int64("orderId", order.ID), zap.Error(err))
				continue
			}
			m.storage.UpdateOrder(order)
			expired++
		}
	}
	return expired
}
