// Package types provides shared type definitions for the trading engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the inverted side (used for protective orders)
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Valid reports whether the side is a known value
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeStop   OrderType = "STOP"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Valid reports whether the order type is a known value
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeStop || t == OrderTypeLimit
}

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are allowed
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsActive reports whether the order belongs in the active index
func (s OrderStatus) IsActive() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// CanTransitionTo reports whether the status machine allows s -> next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		switch next {
		case OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled,
			OrderStatusRejected, OrderStatusExpired:
			return true
		}
	case OrderStatusPartiallyFilled:
		switch next {
		case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
			return true
		}
	}
	return false
}

// PositionSide represents long or short position
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// OpeningAction returns the order side that opens / adds to this position side
func (s PositionSide) OpeningAction() OrderSide {
	if s == PositionSideLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// PortfolioState controls whether trading is permitted
type PortfolioState string

const (
	PortfolioStateActive   PortfolioState = "ACTIVE"
	PortfolioStateInactive PortfolioState = "INACTIVE"
	PortfolioStateArchived PortfolioState = "ARCHIVED"
)

// CanTransitionTo reports whether the portfolio state machine allows s -> next
func (s PortfolioState) CanTransitionTo(next PortfolioState) bool {
	switch s {
	case PortfolioStateActive:
		return next == PortfolioStateInactive || next == PortfolioStateArchived
	case PortfolioStateInactive:
		return next == PortfolioStateActive || next == PortfolioStateArchived
	}
	return false
}

// ConnectionState represents the exchange connection lifecycle
type ConnectionState string

const (
	ConnectionStateDisconnected  ConnectionState = "DISCONNECTED"
	ConnectionStateConnecting    ConnectionState = "CONNECTING"
	ConnectionStateConnected     ConnectionState = "CONNECTED"
	ConnectionStateDisconnecting ConnectionState = "DISCONNECTING"
	ConnectionStateError         ConnectionState = "ERROR"
)

// MarketExecutionMode controls when market orders execute
type MarketExecutionMode string

const (
	MarketExecutionImmediate MarketExecutionMode = "IMMEDIATE"
	MarketExecutionNextBar   MarketExecutionMode = "NEXT_BAR"
)

// ErrorCode tags execution and validation failures
type ErrorCode string

const (
	ErrCodeNetworkError        ErrorCode = "NETWORK_ERROR"
	ErrCodeExchangeError       ErrorCode = "EXCHANGE_ERROR"
	ErrCodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeExchangeMaintenance ErrorCode = "EXCHANGE_MAINTENANCE"
	ErrCodeSymbolNotFound      ErrorCode = "SYMBOL_NOT_FOUND"
	ErrCodeOrderSizeTooSmall   ErrorCode = "ORDER_SIZE_TOO_SMALL"
	ErrCodeOrderSizeTooLarge   ErrorCode = "ORDER_SIZE_TOO_LARGE"
	ErrCodeInvalidPrice        ErrorCode = "INVALID_PRICE"
	ErrCodeTimeout             ErrorCode = "TIMEOUT"
	ErrCodeMarketClosed        ErrorCode = "MARKET_CLOSED"
	ErrCodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeAuthentication      ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	ErrCodeInvalidOrder        ErrorCode = "INVALID_ORDER"
)

// Bar represents a single OHLCV candlestick for one ticker
type Bar struct {
	Ticker    string          `json:"ticker"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Signal represents a strategy's intent to trade, not yet an order
type Signal struct {
	Time             time.Time       `json:"time"`
	OrderType        OrderType       `json:"orderType"`
	Ticker           string          `json:"ticker"`
	Action           OrderSide       `json:"action"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	StopLoss         decimal.Decimal `json:"stopLoss"`
	TakeProfit       decimal.Decimal `json:"takeProfit"`
	StrategyID       string          `json:"strategyId"`
	PortfolioID      string          `json:"portfolioId"`
	Verified         bool            `json:"verified"`
	StrategySettings map[string]any  `json:"strategySettings,omitempty"`
}

// StateChange records one order status transition
type StateChange struct {
	From   OrderStatus `json:"from"`
	To     OrderStatus `json:"to"`
	Time   time.Time   `json:"time"`
	Reason string      `json:"reason,omitempty"`
}

// FillStatus marks whether an execution attempt produced a fill
type FillStatus string

const (
	FillStatusExecuted FillStatus = "EXECUTED"
	FillStatusRejected FillStatus = "REJECTED"
)

// Fill represents the confirmed result of executing (part of) an order
type Fill struct {
	OrderID     int64           `json:"orderId"`
	Time        time.Time       `json:"time"`
	Status      FillStatus      `json:"status"`
	Ticker      string          `json:"ticker"`
	Action      OrderSide       `json:"action"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Commission  decimal.Decimal `json:"commission"`
	PortfolioID string          `json:"portfolioId"`
}

// Order represents a validated, persistent commitment to trade
type Order struct {
	ID                   int64           `json:"id"`
	Type                 OrderType       `json:"type"`
	Status               OrderStatus     `json:"status"`
	Ticker               string          `json:"ticker"`
	Action               OrderSide       `json:"action"`
	Price                decimal.Decimal `json:"price"`
	Quantity             decimal.Decimal `json:"quantity"`
	FilledQuantity       decimal.Decimal `json:"filledQuantity"`
	Exchange             string          `json:"exchange"`
	StrategyID           string          `json:"strategyId"`
	PortfolioID          string          `json:"portfolioId"`
	CreatedAt            time.Time       `json:"createdAt"`
	ExpirationTime       *time.Time      `json:"expirationTime,omitempty"`
	ModificationCount    int             `json:"modificationCount"`
	LastModificationTime *time.Time      `json:"lastModificationTime,omitempty"`
	RejectionReason      string          `json:"rejectionReason,omitempty"`
	StateChanges         []StateChange   `json:"stateChanges"`
	Fills                []Fill          `json:"fills"`
}

// IsActive reports whether the order is PENDING or PARTIALLY_FILLED
func (o *Order) IsActive() bool {
	return o.Status.IsActive()
}

// RemainingQuantity returns quantity not yet filled
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// SetStatus transitions the order, recording the change.
// Returns an error when the status machine forbids the transition.
func (o *Order) SetStatus(next OrderStatus, reason string, at time.Time) error {
	if o.Status == next {
		return nil
	}
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid order status transition %s -> %s for order %d", o.Status, next, o.ID)
	}
	o.StateChanges = append(o.StateChanges, StateChange{
		From:   o.Status,
		To:     o.Status,
		Time:   at,
		Reason: reason,
	})
	o.StateChanges[len(o.StateChanges)-1].To = next
	o.Status = next
	if next == OrderStatusRejected && reason != "" {
		o.RejectionReason = reason
	}
	return nil
}

// AddFill applies a fill to the order and advances its status.
// The fill quantity is capped so filledQuantity never exceeds quantity.
func (o *Order) AddFill(fill Fill, reason string) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("cannot fill order %d in terminal status %s", o.ID, o.Status)
	}
	if fill.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("fill quantity must be positive, got %s", fill.Quantity)
	}
	remaining := o.RemainingQuantity()
	if fill.Quantity.GreaterThan(remaining) {
		fill.Quantity = remaining
	}
	o.Fills = append(o.Fills, fill)
	o.FilledQuantity = o.FilledQuantity.Add(fill.Quantity)

	next := OrderStatusPartiallyFilled
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		next = OrderStatusFilled
	}
	return o.SetStatus(next, reason, fill.Time)
}

// IsExpired reports whether the order carries an elapsed expiration time
func (o *Order) IsExpired(now time.Time) bool {
	return o.ExpirationTime != nil && now.After(*o.ExpirationTime)
}

// CashOperationType categorises entries in the cash audit log
type CashOperationType string

const (
	CashOpDeposit            CashOperationType = "DEPOSIT"
	CashOpWithdrawal         CashOperationType = "WITHDRAWAL"
	CashOpTransactionDebit   CashOperationType = "TRANSACTION_DEBIT"
	CashOpTransactionCredit  CashOperationType = "TRANSACTION_CREDIT"
	CashOpReservation        CashOperationType = "RESERVATION"
	CashOpReleaseReservation CashOperationType = "RELEASE_RESERVATION"
)

// CashOperation is an append-only audit record of one cash mutation
type CashOperation struct {
	ID            int64             `json:"id"`
	Type          CashOperationType `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Timestamp     time.Time         `json:"timestamp"`
	Description   string            `json:"description,omitempty"`
	ReferenceID   string            `json:"referenceId,omitempty"`
	BalanceBefore decimal.Decimal   `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal   `json:"balanceAfter"`
}

// Transaction records the cash-affecting side of a fill
type Transaction struct {
	ID          int64           `json:"id"`
	PortfolioID string          `json:"portfolioId"`
	PositionID  int64           `json:"positionId"`
	Time        time.Time       `json:"time"`
	Ticker      string          `json:"ticker"`
	Action      OrderSide       `json:"action"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
}

// Value returns quantity * price before commission
func (t *Transaction) Value() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}
