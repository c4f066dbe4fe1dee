package portfolio

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

func newTestCash(t *testing.T, initial float64) *CashManager {
	t.Helper()
	return NewCashManager(zap.NewNop(), idgen.New(), decimal.NewFromFloat(initial), decimal.Zero)
}

func TestDepositWithdraw(t *testing.T) {
	cash := newTestCash(t, 0)

	if err := cash.Deposit(decimal.NewFromInt(1000), "initial funding"); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := cash.Withdraw(decimal.NewFromInt(400), "withdrawal"); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !cash.Balance().Equal(decimal.NewFromInt(600)) {
		t.Errorf("balance: expected 600, got %s", cash.Balance())
	}

	err := cash.Withdraw(decimal.NewFromInt(700), "too much")
	var insufficient *InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(600)) {
		t.Errorf("error available: expected 600, got %s", insufficient.Available)
	}

	if err := cash.Deposit(decimal.NewFromInt(-5), "bad"); err == nil {
		t.Error("negative deposit should fail")
	}
	if err := cash.Withdraw(decimal.Zero, "bad"); err == nil {
		t.Error("zero withdrawal should fail")
	}
}

func TestCashAuditLog(t *testing.T) {
	cash := newTestCash(t, 0)

	_ = cash.Deposit(decimal.NewFromInt(1000), "funding")
	_ = cash.Withdraw(decimal.NewFromInt(250), "payout")

	ops := cash.Operations()
	if len(ops) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(ops))
	}
	if ops[0].Type != types.CashOpDeposit || ops[1].Type != types.CashOpWithdrawal {
		t.Errorf("audit types: %s, %s", ops[0].Type, ops[1].Type)
	}
	if !ops[1].BalanceBefore.Equal(decimal.NewFromInt(1000)) ||
		!ops[1].BalanceAfter.Equal(decimal.NewFromInt(750)) {
		t.Errorf("audit balances: before %s after %s", ops[1].BalanceBefore, ops[1].BalanceAfter)
	}
}

func TestReservations(t *testing.T) {
	cash := newTestCash(t, 1000)

	if err := cash.ReserveCash(decimal.NewFromInt(300), "pending order", "order-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if !cash.Balance().Equal(decimal.NewFromInt(1000)) {
		t.Errorf("reservation must not change balance, got %s", cash.Balance())
	}
	if !cash.AvailableBalance().Equal(decimal.NewFromInt(700)) {
		t.Errorf("available: expected 700, got %s", cash.AvailableBalance())
	}

	// Reserved cash is not spendable
	if err := cash.Withdraw(decimal.NewFromInt(800), "too much"); err == nil {
		t.Error("withdrawal exceeding available should fail")
	}

	// Releasing more than reserved is invalid
	if err := cash.ReleaseCashReservation(decimal.NewFromInt(500), "excess", "order-1"); err == nil {
		t.Error("excess release should fail")
	}

	if err := cash.ReleaseCashReservation(decimal.NewFromInt(300), "cancelled", "order-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !cash.Reserved().IsZero() {
		t.Errorf("reserved should be 0, got %s", cash.Reserved())
	}
	if !cash.AvailableBalance().Equal(decimal.NewFromInt(1000)) {
		t.Errorf("available: expected 1000, got %s", cash.AvailableBalance())
	}
}

func TestTransactionCashFlow(t *testing.T) {
	cash := newTestCash(t, 1000)

	if err := cash.ProcessTransactionCashFlow(decimal.NewFromInt(400), true, "buy", "txn-1"); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if err := cash.ProcessTransactionCashFlow(decimal.NewFromInt(150), false, "sell", "txn-2"); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if !cash.Balance().Equal(decimal.NewFromInt(750)) {
		t.Errorf("balance: expected 750, got %s", cash.Balance())
	}

	var insufficient *InsufficientFundsError
	err := cash.ProcessTransactionCashFlow(decimal.NewFromInt(10000), true, "big buy", "txn-3")
	if !errors.As(err, &insufficient) {
		t.Errorf("expected InsufficientFundsError, got %v", err)
	}
}

func TestCashRounding(t *testing.T) {
	cash := newTestCash(t, 0)

	amount := decimal.RequireFromString("10.005")
	if err := cash.Deposit(amount, "fractional"); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if !cash.Balance().Equal(decimal.RequireFromString("10.01")) {
		t.Errorf("expected half-up rounding to 10.01, got %s", cash.Balance())
	}
}

func TestMaxBalanceLimit(t *testing.T) {
	cash := NewCashManager(zap.NewNop(), idgen.New(),
		decimal.NewFromInt(900), decimal.NewFromInt(1000))

	if err := cash.Deposit(decimal.NewFromInt(200), "over limit"); err == nil {
		t.Error("deposit beyond max balance should fail")
	}
	if err := cash.Deposit(decimal.NewFromInt(100), "at limit"); err != nil {
		t.Errorf("deposit up to max balance should pass: %v", err)
	}
}
