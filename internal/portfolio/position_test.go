package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

func txn(action types.OrderSide, qty, price, commission float64) *types.Transaction {
	return &types.Transaction{
		PortfolioID: "p1",
		Time:        time.Now(),
		Ticker:      "BTCUSDT",
		Action:      action,
		Quantity:    decimal.NewFromFloat(qty),
		Price:       decimal.NewFromFloat(price),
		Commission:  decimal.NewFromFloat(commission),
	}
}

func TestLongPositionPnL(t *testing.T) {
	pos := NewPosition(1, txn(types.OrderSideBuy, 10, 100, 10))

	if pos.Side != types.PositionSideLong {
		t.Fatalf("expected LONG, got %s", pos.Side)
	}
	// avgPrice folds the entry commission in: (100*10 + 10) / 10 = 101
	if !pos.AvgPrice().Equal(decimal.NewFromInt(101)) {
		t.Errorf("avgPrice: expected 101, got %s", pos.AvgPrice())
	}

	pos.UpdatePrice(decimal.NewFromInt(110))
	if !pos.UnrealisedPnL().Equal(decimal.NewFromInt(90)) {
		t.Errorf("unrealised: expected 90, got %s", pos.UnrealisedPnL())
	}

	if err := pos.ApplyTransaction(txn(types.OrderSideSell, 5, 120, 6)); err != nil {
		t.Fatalf("partial close failed: %v", err)
	}
	// (120-100)*5 - (5/10)*10 - 6 = 89
	if !pos.RealisedPnL().Equal(decimal.NewFromInt(89)) {
		t.Errorf("realised: expected 89, got %s", pos.RealisedPnL())
	}
	if !pos.NetQuantity().Equal(decimal.NewFromInt(5)) {
		t.Errorf("net quantity: expected 5, got %s", pos.NetQuantity())
	}
	if pos.IsClosed() {
		t.Error("position should still be open")
	}
}

func TestShortPositionPnL(t *testing.T) {
	pos := NewPosition(1, txn(types.OrderSideSell, 10, 100, 10))

	if pos.Side != types.PositionSideShort {
		t.Fatalf("expected SHORT, got %s", pos.Side)
	}
	// Market value of a short is negative
	if !pos.MarketValue().Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("market value: expected -1000, got %s", pos.MarketValue())
	}

	if err := pos.ApplyTransaction(txn(types.OrderSideBuy, 4, 90, 4)); err != nil {
		t.Fatalf("partial cover failed: %v", err)
	}
	// (100-90)*4 - (4/10)*10 - 4 = 32
	if !pos.RealisedPnL().Equal(decimal.NewFromInt(32)) {
		t.Errorf("realised: expected 32, got %s", pos.RealisedPnL())
	}
	if !pos.NetQuantity().Equal(decimal.NewFromInt(-6)) {
		t.Errorf("net quantity: expected -6, got %s", pos.NetQuantity())
	}
}

func TestAveragingIn(t *testing.T) {
	pos := NewPosition(1, txn(types.OrderSideBuy, 10, 100, 0))

	if err := pos.ApplyTransaction(txn(types.OrderSideBuy, 10, 120, 0)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// (100*10 + 120*10) / 20 = 110
	if !pos.AvgBought.Equal(decimal.NewFromInt(110)) {
		t.Errorf("avgBought: expected 110, got %s", pos.AvgBought)
	}
	if !pos.BuyQuantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("buyQuantity: expected 20, got %s", pos.BuyQuantity)
	}
}

func TestPositionReversalRejected(t *testing.T) {
	pos := NewPosition(1, txn(types.OrderSideBuy, 10, 100, 0))

	if err := pos.ApplyTransaction(txn(types.OrderSideSell, 15, 100, 0)); err == nil {
		t.Error("selling through zero should be rejected")
	}
	// Rejected transaction must not mutate the position
	if !pos.SellQuantity.IsZero() {
		t.Errorf("sellQuantity changed on rejected transaction: %s", pos.SellQuantity)
	}
}

func TestPositionCloseSetsExitDate(t *testing.T) {
	pos := NewPosition(1, txn(types.OrderSideBuy, 10, 100, 0))

	if err := pos.ApplyTransaction(txn(types.OrderSideSell, 10, 105, 0)); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !pos.IsClosed() {
		t.Fatal("position should be closed")
	}
	if pos.ExitDate == nil {
		t.Error("exit date should be set on close")
	}
	if !pos.UnrealisedPnL().IsZero() {
		t.Errorf("closed position has no unrealised pnl, got %s", pos.UnrealisedPnL())
	}
}
