package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

// TransactionManager validates fills, applies their cash flow, and keeps the
// transaction history. Buys debit quantity*price + commission; sells credit
// quantity*price - commission.
type TransactionManager struct {
	mu           sync.Mutex
	logger       *zap.Logger
	ids          *idgen.Generator
	cash         *CashManager
	cfg          types.PortfolioConfig
	transactions []types.Transaction
	countByDay   map[string]int
	failures     int64
}

// NewTransactionManager creates a transaction manager backed by the given
// cash manager
func NewTransactionManager(logger *zap.Logger, ids *idgen.Generator, cash *CashManager, cfg types.PortfolioConfig) *TransactionManager {
	return &TransactionManager{
		logger:     logger.Named("transactions"),
		ids:        ids,
		cash:       cash,
		cfg:        cfg,
		countByDay: make(map[string]int),
	}
}

// Validate checks a transaction without applying it
func (m *TransactionManager) Validate(txn *types.Transaction) error {
	if txn.Ticker == "" {
		return &InvalidTransactionError{Reason: "ticker is required"}
	}
	if !txn.Action.Valid() {
		return &InvalidTransactionError{Reason: fmt.Sprintf("unknown action %q", txn.Action)}
	}
	if txn.Quantity.Sign() <= 0 {
		return &InvalidTransactionError{Reason: "quantity must be positive"}
	}
	if txn.Price.Sign() <= 0 {
		return &InvalidTransactionError{Reason: "price must be positive"}
	}
	if txn.Commission.Sign() < 0 {
		return &InvalidTransactionError{Reason: "commission cannot be negative"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limit := m.cfg.TradingRules.MaxTransactionsPerDay; limit > 0 {
		if m.countByDay[dayKey(txn.Time)] >= limit {
			return &InvalidTransactionError{Reason: "daily transaction limit reached"}
		}
	}
	return nil
}

// Process validates the transaction, applies its cash flow and records it.
// The transaction ID is assigned here.
func (m *TransactionManager) Process(txn *types.Transaction) error {
	if m.cfg.Validation.ValidateTransactions {
		if err := m.Validate(txn); err != nil {
			m.recordFailure()
			return err
		}
	}

	txn.ID = m.ids.Next(idgen.KindTransaction)

	amount, isDebit := cashFlowAmount(txn)

	desc := fmt.Sprintf("%s %s %s @ %s", txn.Action, txn.Quantity, txn.Ticker, txn.Price)
	ref := fmt.Sprintf("txn-%d", txn.ID)
	if err := m.cash.ProcessTransactionCashFlow(amount, isDebit, desc, ref); err != nil {
		m.recordFailure()
		return err
	}

	m.mu.Lock()
	m.transactions = append(m.transactions, *txn)
	m.countByDay[dayKey(txn.Time)]++
	m.mu.Unlock()

	m.logger.Debug("Transaction processed",
		zap.Int64("transactionId", txn.ID),
		zap.String("ticker", txn.Ticker),
		zap.String("action", string(txn.Action)),
		zap.String("amount", amount.String()),
		zap.Bool("debit", isDebit),
	)
	return nil
}

// Transactions returns a copy of the transaction history
func (m *TransactionManager) Transactions() []types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Transaction, len(m.transactions))
	copy(out, m.transactions)
	return out
}

// FailureCount returns the number of rejected transactions
func (m *TransactionManager) FailureCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *TransactionManager) recordFailure() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// cashFlowAmount returns the cash leg of a transaction: buys debit
// value + commission, sells credit value - commission.
func cashFlowAmount(txn *types.Transaction) (decimal.Decimal, bool) {
	isDebit := txn.Action == types.OrderSideBuy
	amount := txn.Value()
	if isDebit {
		amount = amount.Add(txn.Commission)
	} else {
		amount = amount.Sub(txn.Commission)
	}
	return amount, isDebit
}
