package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

// Position tracks one ticker's aggregated buys and sells. Adding to a
// position averages the entry price in; commissions accumulate per side and
// flow into the P&L figures.
type Position struct {
	ID             int64              `json:"id"`
	PortfolioID    string             `json:"portfolioId"`
	Ticker         string             `json:"ticker"`
	Side           types.PositionSide `json:"side"`
	BuyQuantity    decimal.Decimal    `json:"buyQuantity"`
	SellQuantity   decimal.Decimal    `json:"sellQuantity"`
	AvgBought      decimal.Decimal    `json:"avgBought"`
	AvgSold        decimal.Decimal    `json:"avgSold"`
	BuyCommission  decimal.Decimal    `json:"buyCommission"`
	SellCommission decimal.Decimal    `json:"sellCommission"`
	CurrentPrice   decimal.Decimal    `json:"currentPrice"`
	EntryDate      time.Time          `json:"entryDate"`
	ExitDate       *time.Time         `json:"exitDate,omitempty"`
}

// NewPosition opens a position from its first transaction
func NewPosition(id int64, txn *types.Transaction) *Position {
	p := &Position{
		ID:           id,
		PortfolioID:  txn.PortfolioID,
		Ticker:       txn.Ticker,
		CurrentPrice: txn.Price,
		EntryDate:    txn.Time,
	}
	if txn.Action == types.OrderSideBuy {
		p.Side = types.PositionSideLong
	} else {
		p.Side = types.PositionSideShort
	}
	p.applyTransaction(txn)
	return p
}

// NetQuantity is buyQuantity - sellQuantity: positive for longs, negative
// for shorts, zero when closed.
func (p *Position) NetQuantity() decimal.Decimal {
	return p.BuyQuantity.Sub(p.SellQuantity)
}

// IsClosed reports whether the position is fully offset
func (p *Position) IsClosed() bool {
	return p.NetQuantity().IsZero()
}

// ApplyTransaction folds a fill into the position. Transactions that would
// flip the position through zero are rejected; close first, then reopen.
func (p *Position) ApplyTransaction(txn *types.Transaction) error {
	closing := txn.Action != p.Side.OpeningAction()
	if closing {
		var remaining decimal.Decimal
		if p.Side == types.PositionSideLong {
			remaining = p.BuyQuantity.Sub(p.SellQuantity)
		} else {
			remaining = p.SellQuantity.Sub(p.BuyQuantity)
		}
		if txn.Quantity.GreaterThan(remaining) {
			return &InvalidTransactionError{
				Reason: "quantity exceeds open position; position reversal is not supported",
			}
		}
	}
	p.applyTransaction(txn)
	if p.IsClosed() {
		exit := txn.Time
		p.ExitDate = &exit
	}
	return nil
}

func (p *Position) applyTransaction(txn *types.Transaction) {
	if txn.Action == types.OrderSideBuy {
		p.AvgBought = weightedAverage(p.AvgBought, p.BuyQuantity, txn.Price, txn.Quantity)
		p.BuyQuantity = p.BuyQuantity.Add(txn.Quantity)
		p.BuyCommission = p.BuyCommission.Add(txn.Commission)
	} else {
		p.AvgSold = weightedAverage(p.AvgSold, p.SellQuantity, txn.Price, txn.Quantity)
		p.SellQuantity = p.SellQuantity.Add(txn.Quantity)
		p.SellCommission = p.SellCommission.Add(txn.Commission)
	}
	p.CurrentPrice = txn.Price
}

// weightedAverage returns (oldAvg*oldQty + addPrice*addQty) / (oldQty+addQty)
func weightedAverage(oldAvg, oldQty, addPrice, addQty decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(addQty)
	if total.IsZero() {
		return decimal.Zero
	}
	return oldAvg.Mul(oldQty).Add(addPrice.Mul(addQty)).Div(total)
}

// AvgPrice returns the commission-adjusted average entry price
func (p *Position) AvgPrice() decimal.Decimal {
	if p.Side == types.PositionSideLong {
		if p.BuyQuantity.IsZero() {
			return decimal.Zero
		}
		return p.AvgBought.Mul(p.BuyQuantity).Add(p.BuyCommission).Div(p.BuyQuantity)
	}
	if p.SellQuantity.IsZero() {
		return decimal.Zero
	}
	return p.AvgSold.Mul(p.SellQuantity).Sub(p.SellCommission).Div(p.SellQuantity)
}

// RealisedPnL returns profit locked in by the closing side, net of a
// proportional share of entry commission and the full exit commission.
func (p *Position) RealisedPnL() decimal.Decimal {
	if p.Side == types.PositionSideLong {
		if p.SellQuantity.IsZero() || p.BuyQuantity.IsZero() {
			return decimal.Zero
		}
		gross := p.AvgSold.Sub(p.AvgBought).Mul(p.SellQuantity)
		entryShare := p.SellQuantity.Div(p.BuyQuantity).Mul(p.BuyCommission)
		return gross.Sub(entryShare).Sub(p.SellCommission)
	}
	if p.BuyQuantity.IsZero() || p.SellQuantity.IsZero() {
		return decimal.Zero
	}
	gross := p.AvgSold.Sub(p.AvgBought).Mul(p.BuyQuantity)
	entryShare := p.BuyQuantity.Div(p.SellQuantity).Mul(p.SellCommission)
	return gross.Sub(entryShare).Sub(p.BuyCommission)
}

// UnrealisedPnL is (currentPrice - avgPrice) * netQuantity. The sign works
// out for both sides because netQuantity is negative for shorts.
func (p *Position) UnrealisedPnL() decimal.Decimal {
	if p.IsClosed() {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.AvgPrice()).Mul(p.NetQuantity())
}

// TotalPnL is realised plus unrealised
func (p *Position) TotalPnL() decimal.Decimal {
	return p.RealisedPnL().Add(p.UnrealisedPnL())
}

// MarketValue is currentPrice * netQuantity, negative for short positions
func (p *Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(p.NetQuantity())
}

// UpdatePrice refreshes the mark price from market data
func (p *Position) UpdatePrice(price decimal.Decimal) {
	p.CurrentPrice = price
}
