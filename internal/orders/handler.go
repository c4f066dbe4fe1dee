package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

// Handler turns verified signals into orders. A signal with protective
// levels produces up to three orders: a STOP at the stop-loss, a LIMIT at
// the take-profit, and the main order.
type Handler struct {
	logger    *zap.Logger
	ids       *idgen.Generator
	storage   Storage
	manager   *Manager
	validator *Validator
}

// NewHandler creates an order handler
func NewHandler(logger *zap.Logger, ids *idgen.Generator, storage Storage, manager *Manager, validator *Validator) *Handler {
	return &Handler{
		logger:    logger.Named("order_handler"),
		ids:       ids,
		storage:   storage,
		manager:   manager,
		validator: validator,
	}
}

// Manager exposes the order manager for the bar path
func (h *Handler) Manager() *Manager { return h.manager }

// Storage exposes the order store
func (h *Handler) Storage() Storage { return h.storage }

// OnSignal validates the signal and creates its orders. Market orders
// execute immediately or queue for the next bar depending on the manager's
// mode.
func (h *Handler) OnSignal(ev *events.SignalEvent) error {
	signal := ev.Signal

	result := h.validator.ValidateSignalPipeline(signal)
	if !result.Success {
		h.logger.Warn("Signal rejected",
			zap.String("ticker", signal.Ticker),
			zap.String("summary", result.Summary),
		)
		return fmt.Errorf("signal validation failed: %s", result.Summary)
	}

	if signal.StopLoss.Sign() > 0 {
		stop := h.createOrder(signal, types.OrderTypeStop, signal.Action.Opposite(), signal.StopLoss)
		h.storage.AddOrder(stop)
		h.logger.Debug("Stop order created",
			zap.Int64("orderId", stop.ID), zap.String("price", stop.Price.String()))
	}
	if signal.TakeProfit.Sign() > 0 {
		limit := h.createOrder(signal, types.OrderTypeLimit, signal.Action.Opposite(), signal.TakeProfit)
		h.storage.AddOrder(limit)
		h.logger.Debug("Limit order created",
			zap.Int64("orderId", limit.ID), zap.String("price", limit.Price.String()))
	}

	main := h.createOrder(signal, signal.OrderType, signal.Action, signal.Price)
	h.storage.AddOrder(main)
	h.logger.Info("Order created",
		zap.Int64("orderId", main.ID),
		zap.String("ticker", main.Ticker),
		zap.String("type", string(main.Type)),
		zap.String("action", string(main.Action)),
	)

	if main.Type == types.OrderTypeMarket {
		switch h.manager.Mode() {
		case types.MarketExecutionImmediate:
			h.manager.ProcessMarketOrdersImmediately(signal.Time)
		case types.MarketExecutionNextBar:
			h.manager.QueueMarketOrdersForNextBar()
		}
	}
	return nil
}

func (h *Handler) createOrder(signal *types.Signal, orderType types.OrderType, action types.OrderSide, price decimal.Decimal) *types.Order {
	return &types.Order{
		ID:          h.ids.Next(idgen.KindOrder),
		Type:        orderType,
		Status:      types.OrderStatusPending,
		Ticker:      signal.Ticker,
		Action:      action,
		Price:       price,
		Quantity:    signal.Quantity,
		StrategyID:  signal.StrategyID,
		PortfolioID: signal.PortfolioID,
		CreatedAt:   signal.Time,
	}
}

// ModifyOrder changes an active order's price and/or quantity. Zero values
// leave the field unchanged.
func (h *Handler) ModifyOrder(portfolioID string, orderID int64, newPrice, newQuantity decimal.Decimal) error {
	order, ok := h.storage.GetOrder(portfolioID, orderID)
	if !ok {
		return fmt.Errorf("order %d not found in portfolio %s", orderID, portfolioID)
	}
	if err := h.validator.ValidateOrderModification(order, newPrice, newQuantity); err != nil {
		return err
	}

	if newPrice.Sign() > 0 {
		order.Price = newPrice
	}
	if newQuantity.Sign() > 0 {
		order.Quantity = newQuantity
	}
	now := time.Now()
	order.ModificationCount++
	order.LastModificationTime = &now

	h.storage.UpdateOrder(order)
	h.logger.Info("Order modified",
		zap.Int64("orderId", orderID),
		zap.Int("modificationCount", order.ModificationCount),
	)
	return nil
}

// CancelOrder transitions an active order to CANCELLED and deactivates it
func (h *Handler) CancelOrder(portfolioID string, orderID int64, reason string) error {
	order, ok := h.storage.GetOrder(portfolioID, orderID)
	if !ok {
		return fmt.Errorf("order %d not found in portfolio %s", orderID, portfolioID)
	}
	if err := order.SetStatus(types.OrderStatusCancelled, reason, time.Now()); err != nil {
		return err
	}
	h.storage.UpdateOrder(order)
	h.logger.Info("Order cancelled", zap.Int64("orderId", orderID), zap.String("reason", reason))
	return nil
}

// RemoveOrder deletes an order from storage entirely
func (h *Handler) RemoveOrder(portfolioID string, orderID int64) error {
	if !h.storage.RemoveOrder(portfolioID, orderID) {
		return fmt.Errorf("order %d not found in portfolio %s", orderID, portfolioID)
	}
	return nil
}

// GetActiveOrders returns active orders sorted by ascending id
func (h *Handler) GetActiveOrders(portfolioID string) []*types.Order {
	return h.storage.ActiveOrders(portfolioID)
}

// GetOrderHistory returns the full order history including terminal orders
func (h *Handler) GetOrderHistory(portfolioID string) []*types.Order {
	return h.storage.AllOrders(portfolioID)
}

// GetOrdersByStatus filters the order history by status
func (h *Handler) GetOrdersByStatus(portfolioID string, status types.OrderStatus) []*types.Order {
	var out []*types.Order
	for _, order := range h.storage.AllOrders(portfolioID) {
		if order.Status == status {
			out = append(out, order)
		}
	}
	return out
}

// SearchOrders filters the order history by ticker substring, action and
// type. Empty criteria match everything.
func (h *Handler) SearchOrders(portfolioID, ticker string, action types.OrderSide, orderType types.OrderType) []*types.Order {
	var out []*types.Order
	for _, order := range h.storage.AllOrders(portfolioID) {
		if ticker != "" && !strings.Contains(order.Ticker, strings.ToUpper(ticker)) {
			continue
		}
		if action != "" && order.Action != action {
			continue
		}
		if orderType != "" && order.Type != orderType {
			continue
		}
		out = append(out, order)
	}
	return out
}

// OrdersSummary aggregates order counts per status and type
type OrdersSummary struct {
	Total    int                       `json:"total"`
	Active   int                       `json:"active"`
	ByStatus map[types.OrderStatus]int `json:"byStatus"`
	ByType   map[types.OrderType]int   `json:"byType"`
}

// GetOrdersSummary aggregates counts across a portfolio's order history
func (h *Handler) GetOrdersSummary(portfolioID string) OrdersSummary {
	summary := OrdersSummary{
		ByStatus: make(map[types.OrderStatus]int),
		ByType:   make(map[types.OrderType]int),
	}
	for _, order := range h.storage.AllOrders(portfolioID) {
		summary.Total++
		if order.IsActive() {
			summary.Active++
		}
		summary.ByStatus[order.Status]++
		summary.ByType[order.Type]++
	}
	return summary
}
