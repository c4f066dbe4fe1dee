// Package portfolio provides cash, position and transaction management for
// simulated portfolios.
package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

// InsufficientFundsError rejects an operation when available balance is
// below the required amount.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required, e.Available)
}

// InvalidTransactionError rejects a malformed or limit-breaching operation
type InvalidTransactionError struct {
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: %s", e.Reason)
}

// StateError rejects an operation attempted from an incompatible state
type StateError struct {
	Operation string
	State     types.PortfolioState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("operation %s not permitted in portfolio state %s", e.Operation, e.State)
}

// NotFoundError reports a missing portfolio, position or order
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
