package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

// CashManager maintains a decimal cash balance with reservations and an
// append-only audit log. Amounts are quantized to 2 dp half-up at the
// boundary. Invariants: balance >= 0, 0 <= reserved <= balance.
type CashManager struct {
	mu         sync.Mutex
	logger     *zap.Logger
	ids        *idgen.Generator
	balance    decimal.Decimal
	reserved   decimal.Decimal
	maxBalance decimal.Decimal
	operations []types.CashOperation
}

// NewCashManager creates a cash manager with an initial balance
func NewCashManager(logger *zap.Logger, ids *idgen.Generator, initialBalance, maxBalance decimal.Decimal) *CashManager {
	return &CashManager{
		logger:     logger.Named("cash"),
		ids:        ids,
		balance:    initialBalance.Round(2),
		maxBalance: maxBalance,
	}
}

func round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Balance returns the total balance including reserved cash
func (c *CashManager) Balance() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// Reserved returns the reserved amount
func (c *CashManager) Reserved() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserved
}

// AvailableBalance returns balance minus reserved
func (c *CashManager) AvailableBalance() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance.Sub(c.reserved)
}

// Operations returns a copy of the audit log
func (c *CashManager) Operations() []types.CashOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]types.CashOperation, len(c.operations))
	copy(ops, c.operations)
	return ops
}

// Deposit adds funds to the balance
func (c *CashManager) Deposit(amount decimal.Decimal, description string) error {
	amount = round2(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return &InvalidTransactionError{Reason: "deposit amount must be positive"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.maxBalance.IsZero() && c.balance.Add(amount).GreaterThan(c.maxBalance) {
		return &InvalidTransactionError{Reason: "deposit would exceed maximum balance"}
	}
	c.apply(types.CashOpDeposit, amount, amount, description, "")
	return nil
}

// Withdraw removes funds; fails when available balance is insufficient
func (c *CashManager) Withdraw(amount decimal.Decimal, description string) error {
	amount = round2(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return &InvalidTransactionError{Reason: "withdrawal amount must be positive"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	available := c.balance.Sub(c.reserved)
	if available.LessThan(amount) {
		return &InsufficientFundsError{Required: amount, Available: available}
	}
	c.apply(types.CashOpWithdrawal, amount, amount.Neg(), description, "")
	return nil
}

// CanProcessCashFlow reports whether a transaction cash flow would be
// accepted, without applying it. Mirrors the guards in
// ProcessTransactionCashFlow.
func (c *CashManager) CanProcessCashFlow(amount decimal.Decimal, isDebit bool) error {
	amount = round2(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return &InvalidTransactionError{Reason: "transaction amount must be positive"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if isDebit {
		available := c.balance.Sub(c.reserved)
		if available.LessThan(amount) {
			return &InsufficientFundsError{Required: amount, Available: available}
		}
		return nil
	}
	if !c.maxBalance.IsZero() && c.balance.Add(amount).GreaterThan(c.maxBalance) {
		return &InvalidTransactionError{Reason: "credit would exceed maximum balance"}
	}
	return nil
}

// ProcessTransactionCashFlow applies the financial side of a fill. Debits
// reduce the balance, credits increase it.
func (c *CashManager) ProcessTransactionCashFlow(amount decimal.Decimal, isDebit bool, description, referenceID string) error {
	amount = round2(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return &InvalidTransactionError{Reason: "transaction amount must be positive"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if isDebit {
		available := c.balance.Sub(c.reserved)
		if available.LessThan(amount) {
			return &InsufficientFundsError{Required: amount, Available: available}
		}
		c.apply(types.CashOpTransactionDebit, amount, amount.Neg(), description, referenceID)
		return nil
	}

	if !c.maxBalance.IsZero() && c.balance.Add(amount).GreaterThan(c.maxBalance) {
		return &InvalidTransactionError{Reason: "credit would exceed maximum balance"}
	}
	c.apply(types.CashOpTransactionCredit, amount, amount, description, referenceID)
	return nil
}

// ReserveCash sets cash aside for a pending order. The total balance is
// unchanged until the paired debit.
func (c *CashManager) ReserveCash(amount decimal.Decimal, description, referenceID string) error {
	amount = round2(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return &InvalidTransactionError{Reason: "reservation amount must be positive"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	available := c.balance.Sub(c.reserved)
	if available.LessThan(amount) {
		return &InsufficientFundsError{Required: amount, Available: available}
	}

	c.reserved = c.reserved.Add(amount)
	c.record(types.CashOpReservation, amount, description, referenceID)
	return nil
}

// ReleaseCashReservation returns previously reserved cash to the available
// pool. Releasing more than is reserved is invalid.
func (c *CashManager) ReleaseCashReservation(amount decimal.Decimal, description, referenceID string) error {
	amount = round2(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return &InvalidTransactionError{Reason: "release amount must be positive"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if amount.GreaterThan(c.reserved) {
		return &InvalidTransactionError{Reason: "release exceeds reserved amount"}
	}

	c.reserved = c.reserved.Sub(amount)
	c.record(types.CashOpReleaseReservation, amount, description, referenceID)
	return nil
}

// apply mutates the balance by delta and appends an audit record.
// Caller holds the lock.
func (c *CashManager) apply(opType types.CashOperationType, amount, delta decimal.Decimal, description, referenceID string) {
	before := c.balance
	c.balance = round2(c.balance.Add(delta))
	c.operations = append(c.operations, types.CashOperation{
		ID:            c.ids.Next(idgen.KindCashOp),
		Type:          opType,
		Amount:        amount,
		Timestamp:     time.Now(),
		Description:   description,
		ReferenceID:   referenceID,
		BalanceBefore: before,
		BalanceAfter:  c.balance,
	})
	c.verify(opType)
}

// record appends an audit entry for reservation ops that leave the balance
// untouched. Caller holds the lock.
func (c *CashManager) record(opType types.CashOperationType, amount decimal.Decimal, description, referenceID string) {
	c.operations = append(c.operations, types.CashOperation{
		ID:            c.ids.Next(idgen.KindCashOp),
		Type:          opType,
		Amount:        amount,
		Timestamp:     time.Now(),
		Description:   description,
		ReferenceID:   referenceID,
		BalanceBefore: c.balance,
		BalanceAfter:  c.balance,
	})
	c.verify(opType)
}

// verify logs a critical message when an invariant does not hold.
// Guards on every mutation path should make this unreachable.
func (c *CashManager) verify(opType types.CashOperationType) {
	if c.balance.IsNegative() || c.reserved.IsNegative() || c.reserved.GreaterThan(c.balance) {
		c.logger.Error("Cash invariant violated",
			zap.String("operation", string(opType)),
			zap.String("balance", c.balance.String()),
			zap.String("reserved", c.reserved.String()),
		)
	}
}
