package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

func feedCloses(s *SMACross, ticker string, closes []float64) []*types.Signal {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []*types.Signal
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bar := types.Bar{
			Ticker: ticker, Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open: price, High: price, Low: price, Close: price,
			Volume: decimal.NewFromInt(1),
		}
		out = append(out, s.OnBar(events.NewBarEvent(bar.Timestamp, map[string]types.Bar{ticker: bar}))...)
	}
	return out
}

func TestSMACrossEntryAndExit(t *testing.T) {
	cfg := DefaultSMACrossConfig("p1")
	cfg.FastPeriod = 2
	cfg.SlowPeriod = 3
	s := NewSMACross(zap.NewNop(), cfg)

	// Flat, then rising (golden cross), then falling (death cross)
	signals := feedCloses(s, "BTCUSDT", []float64{100, 100, 100, 110, 120, 90, 80})

	if len(signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(signals))
	}
	entry, exit := signals[0], signals[1]
	if entry.Action != types.OrderSideBuy {
		t.Errorf("entry action = %s", entry.Action)
	}
	if entry.PortfolioID != "p1" {
		t.Errorf("portfolioId = %s", entry.PortfolioID)
	}
	if !entry.StopLoss.Equal(entry.Price.Mul(decimal.NewFromFloat(0.95))) {
		t.Errorf("stop loss = %s for entry %s", entry.StopLoss, entry.Price)
	}
	if !entry.TakeProfit.GreaterThan(entry.Price) {
		t.Errorf("take profit = %s", entry.TakeProfit)
	}
	if exit.Action != types.OrderSideSell {
		t.Errorf("exit action = %s", exit.Action)
	}
	if exit.StopLoss.Sign() != 0 || exit.TakeProfit.Sign() != 0 {
		t.Error("exit must not carry protective levels")
	}
}

func TestSMACrossWarmupEmitsNothing(t *testing.T) {
	cfg := DefaultSMACrossConfig("p1")
	cfg.FastPeriod = 5
	cfg.SlowPeriod = 20
	s := NewSMACross(zap.NewNop(), cfg)

	signals := feedCloses(s, "BTCUSDT", []float64{100, 101, 102, 103, 104})
	if len(signals) != 0 {
		t.Fatalf("signals during warmup = %d", len(signals))
	}
}

func TestSMACrossExitSkippedWhenPositionAlreadyClosed(t *testing.T) {
	cfg := DefaultSMACrossConfig("p1")
	cfg.FastPeriod = 2
	cfg.SlowPeriod = 3

	// A protective order already flattened the position: the crossover
	// exit must not sell again and open a short.
	flat := NewSMACross(zap.NewNop(), cfg)
	flat.BindPositions(func(portfolioID, ticker string) decimal.Decimal {
		return decimal.Zero
	})
	signals := feedCloses(flat, "BTCUSDT", []float64{100, 100, 100, 110, 120, 90, 80})
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want entry only", len(signals))
	}
	if signals[0].Action != types.OrderSideBuy {
		t.Errorf("action = %s", signals[0].Action)
	}

	// The skipped exit still resets the state, so a later cross re-enters
	signals = feedCloses(flat, "BTCUSDT", []float64{200, 300})
	if len(signals) != 1 || signals[0].Action != types.OrderSideBuy {
		t.Fatalf("re-entry after skipped exit: got %d signals", len(signals))
	}

	// With the position still held the exit goes through as before
	held := NewSMACross(zap.NewNop(), cfg)
	held.BindPositions(func(portfolioID, ticker string) decimal.Decimal {
		return decimal.NewFromInt(1)
	})
	signals = feedCloses(held, "BTCUSDT", []float64{100, 100, 100, 110, 120, 90, 80})
	if len(signals) != 2 {
		t.Fatalf("signals = %d, want entry and exit", len(signals))
	}
	if signals[1].Action != types.OrderSideSell {
		t.Errorf("exit action = %s", signals[1].Action)
	}
}

func TestSMACrossDoesNotReenterWhileLong(t *testing.T) {
	cfg := DefaultSMACrossConfig("p1")
	cfg.FastPeriod = 2
	cfg.SlowPeriod = 3
	s := NewSMACross(zap.NewNop(), cfg)

	// Keeps rising after the cross: still only one entry
	signals := feedCloses(s, "BTCUSDT", []float64{100, 100, 100, 110, 120, 130, 140})
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
}
