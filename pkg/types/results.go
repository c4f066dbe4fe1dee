// Package types provides result objects returned by the simulated exchange.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus is the outcome class of an execution attempt
type ExecutionStatus string

const (
	ExecutionStatusExecuted ExecutionStatus = "EXECUTED"
	ExecutionStatusRejected ExecutionStatus = "REJECTED"
	ExecutionStatusFailed   ExecutionStatus = "FAILED"
)

// ExecutionResult is returned by SimulatedExchange.ExecuteOrder
type ExecutionResult struct {
	Success           bool            `json:"success"`
	Status            ExecutionStatus `json:"status"`
	OrderID           int64           `json:"orderId,omitempty"`
	ExchangeOrderID   string          `json:"exchangeOrderId,omitempty"`
	ExecutedPrice     decimal.Decimal `json:"executedPrice,omitempty"`
	ExecutedQuantity  decimal.Decimal `json:"executedQuantity,omitempty"`
	RemainingQuantity decimal.Decimal `json:"remainingQuantity,omitempty"`
	Commission        decimal.Decimal `json:"commission,omitempty"`
	ExecutionTime     time.Time       `json:"executionTime"`
	ErrorCode         ErrorCode       `json:"errorCode,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

// IsFullyFilled reports whether nothing remains to execute
func (r *ExecutionResult) IsFullyFilled() bool {
	return r.Success && r.RemainingQuantity.IsZero() && r.ExecutedQuantity.GreaterThan(decimal.Zero)
}

// IsPartiallyFilled reports whether some but not all quantity executed
func (r *ExecutionResult) IsPartiallyFilled() bool {
	return r.Success && r.ExecutedQuantity.GreaterThan(decimal.Zero) && r.RemainingQuantity.GreaterThan(decimal.Zero)
}

// TotalValue returns executedPrice * executedQuantity
func (r *ExecutionResult) TotalValue() decimal.Decimal {
	return r.ExecutedPrice.Mul(r.ExecutedQuantity)
}

// NetValue returns total value adjusted for commission: buys cost more,
// sells yield less.
func (r *ExecutionResult) NetValue(side OrderSide) decimal.Decimal {
	if side == OrderSideBuy {
		return r.TotalValue().Add(r.Commission)
	}
	return r.TotalValue().Sub(r.Commission)
}

// ConnectionResult is returned by Connect / Disconnect
type ConnectionResult struct {
	Success        bool            `json:"success"`
	Status         ConnectionState `json:"status"`
	ExchangeName   string          `json:"exchangeName,omitempty"`
	ConnectionTime *time.Time      `json:"connectionTime,omitempty"`
	ErrorCode      ErrorCode       `json:"errorCode,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
}

// HealthStatus is a snapshot of exchange health counters
type HealthStatus struct {
	ExchangeName        string          `json:"exchangeName"`
	Connected           bool            `json:"connected"`
	Status              ConnectionState `json:"status"`
	LastPingTime        *time.Time      `json:"lastPingTime,omitempty"`
	LatencyMs           float64         `json:"latencyMs,omitempty"`
	UptimeSeconds       float64         `json:"uptimeSeconds"`
	ErrorRate           float64         `json:"errorRate,omitempty"`
	OrdersExecutedToday int64           `json:"ordersExecutedToday"`
	OrdersFailedToday   int64           `json:"ordersFailedToday"`
	TotalVolumeToday    decimal.Decimal `json:"totalVolumeToday"`
}

// ValidationResult is returned by SimulatedExchange.ValidateOrder
type ValidationResult struct {
	IsValid        bool      `json:"isValid"`
	ErrorCode      ErrorCode `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	FailedChecks   []string  `json:"failedChecks,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
	ValidationTime time.Time `json:"validationTime"`
}
