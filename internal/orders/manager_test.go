package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

func newTestManager(mode types.MarketExecutionMode) (*Manager, *MemoryStorage, *events.Queue) {
	storage := NewMemoryStorage()
	queue := events.NewQueue()
	return NewManager(zap.NewNop(), storage, queue, mode), storage, queue
}

func barEvent(ticker string, open, close float64) *events.BarEvent {
	now := time.Now()
	return events.NewBarEvent(now, map[string]types.Bar{
		ticker: {
			Ticker:    ticker,
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(close * 1.01),
			Low:       decimal.NewFromFloat(open * 0.99),
			Close:     decimal.NewFromFloat(close),
			Volume:    decimal.NewFromInt(1000),
			Timestamp: now,
		},
	})
}

func drainOrderEvents(queue *events.Queue) []*events.OrderEvent {
	var out []*events.OrderEvent
	for {
		e, ok := queue.TryPop()
		if !ok {
			return out
		}
		if oe, ok := e.(*events.OrderEvent); ok {
			out = append(out, oe)
		}
	}
}

func TestStopLossTriggersOnClose(t *testing.T) {
	m, storage, queue := newTestManager(types.MarketExecutionImmediate)

	stop := testOrder(1, types.OrderTypeStop, types.OrderSideSell, 95)
	storage.AddOrder(stop)

	m.ProcessOrdersOnMarketData(barEvent("BTCUSDT", 100, 90))

	if stop.Status != types.OrderStatusFilled {
		t.Fatalf("expected FILLED, got %s", stop.Status)
	}
	if len(stop.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(stop.Fills))
	}
	if !stop.Fills[0].Price.Equal(decimal.NewFromInt(90)) {
		t.Errorf("fill at close: expected 90, got %s", stop.Fills[0].Price)
	}

	changes := stop.StateChanges
	if len(changes) == 0 || changes[len(changes)-1].Reason != "stop loss triggered" {
		t.Errorf("expected stop loss reason, got %+v", changes)
	}

	if len(storage.ActiveOrders("p1")) != 0 {
		t.Error("filled order still active")
	}
	if _, ok := storage.GetOrder("p1", 1); !ok {
		t.Error("filled order must stay in full index")
	}

	orderEvents := drainOrderEvents(queue)
	if len(orderEvents) != 1 || orderEvents[0].Order.ID != 1 {
		t.Errorf("expected one order event for order 1, got %d", len(orderEvents))
	}
}

func TestTriggersAreStrictInequalities(t *testing.T) {
	tests := []struct {
		name      string
		orderType types.OrderType
		action    types.OrderSide
		price     float64
		close     float64
		triggered bool
	}{
		{"stop sell below", types.OrderTypeStop, types.OrderSideSell, 95, 90, true},
		{"stop sell at price", types.OrderTypeStop, types.OrderSideSell, 95, 95, false},
		{"stop sell above", types.OrderTypeStop, types.OrderSideSell, 95, 96, false},
		{"stop buy above", types.OrderTypeStop, types.OrderSideBuy, 105, 110, true},
		{"stop buy at price", types.OrderTypeStop, types.OrderSideBuy, 105, 105, false},
		{"limit sell above", types.OrderTypeLimit, types.OrderSideSell, 110, 115, true},
		{"limit sell at price", types.OrderTypeLimit, types.OrderSideSell, 110, 110, false},
		{"limit buy below", types.OrderTypeLimit, types.OrderSideBuy, 90, 85, true},
		{"limit buy at price", types.OrderTypeLimit, types.OrderSideBuy, 90, 90, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := testOrder(1, tt.orderType, tt.action, tt.price)
			fired, _ := triggerFires(order, decimal.NewFromFloat(tt.close))
			if fired != tt.triggered {
				t.Errorf("triggered = %v, want %v", fired, tt.triggered)
			}
		})
	}
}

func TestOCOCleanup(t *testing.T) {
	m, storage, queue := newTestManager(types.MarketExecutionImmediate)

	// Protective pair for a long: stop below, take-profit above
	stop := testOrder(1, types.OrderTypeStop, types.OrderSideSell, 95)
	limit := testOrder(2, types.OrderTypeLimit, types.OrderSideSell, 110)
	storage.AddOrder(stop)
	storage.AddOrder(limit)

	// Close below the stop price fires the stop only
	m.ProcessOrdersOnMarketData(barEvent("BTCUSDT", 100, 90))

	if stop.Status != types.OrderStatusFilled {
		t.Fatalf("stop: expected FILLED, got %s", stop.Status)
	}
	if limit.Status != types.OrderStatusCancelled {
		t.Fatalf("limit: expected CANCELLED, got %s", limit.Status)
	}
	if len(storage.ActiveOrders("p1")) != 0 {
		t.Error("no orders should remain active")
	}
	// Both orders stay in the audit index
	if len(storage.AllOrders("p1")) != 2 {
		t.Error("both orders must remain in full index")
	}

	orderEvents := drainOrderEvents(queue)
	if len(orderEvents) != 1 {
		t.Errorf("only the filled order emits an event, got %d", len(orderEvents))
	}
}

func TestOCOScopedToTickerAndPortfolio(t *testing.T) {
	m, storage, _ := newTestManager(types.MarketExecutionImmediate)

	stop := testOrder(1, types.OrderTypeStop, types.OrderSideSell, 95)
	otherTicker := testOrder(2, types.OrderTypeLimit, types.OrderSideSell, 110)
	otherTicker.Ticker = "ETHUSDT"
	otherPortfolio := testOrder(3, types.OrderTypeLimit, types.OrderSideSell, 110)
	otherPortfolio.PortfolioID = "p2"
	storage.AddOrder(stop)
	storage.AddOrder(otherTicker)
	storage.AddOrder(otherPortfolio)

	m.ProcessOrdersOnMarketData(barEvent("BTCUSDT", 100, 90))

	if otherTicker.Status != types.OrderStatusPending {
		t.Error("OCO must not touch other tickers")
	}
	if otherPortfolio.Status != types.OrderStatusPending {
		t.Error("OCO must not touch other portfolios")
	}
}

func TestTieBreakLowerIDWins(t *testing.T) {
	m, storage, _ := newTestManager(types.MarketExecutionImmediate)

	// Both would trigger at close 90: stop sell (90 < 100) and limit
	// sell (90 > 80). Ascending id order means the stop fires first and
	// cancels the limit.
	stop := testOrder(1, types.OrderTypeStop, types.OrderSideSell, 100)
	limit := testOrder(2, types.OrderTypeLimit, types.OrderSideSell, 80)
	storage.AddOrder(stop)
	storage.AddOrder(limit)

	m.ProcessOrdersOnMarketData(barEvent("BTCUSDT", 100, 90))

	if stop.Status != types.OrderStatusFilled {
		t.Errorf("stop: expected FILLED, got %s", stop.Status)
	}
	if limit.Status != types.OrderStatusCancelled {
		t.Errorf("limit: expected CANCELLED, got %s", limit.Status)
	}
}

func TestImmediateMarketExecution(t *testing.T) {
	m, storage, queue := newTestManager(types.MarketExecutionImmediate)

	order := testOrder(1, types.OrderTypeMarket, types.OrderSideBuy, 100)
	storage.AddOrder(order)

	m.ProcessMarketOrdersImmediately(time.Now())

	if order.Status != types.OrderStatusFilled {
		t.Fatalf("expected FILLED, got %s", order.Status)
	}
	if !order.Fills[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("market fill at stored price: expected 100, got %s", order.Fills[0].Price)
	}
	if len(drainOrderEvents(queue)) != 1 {
		t.Error("expected one order event")
	}
}

func TestNextBarExecutesAtOpen(t *testing.T) {
	m, storage, _ := newTestManager(types.MarketExecutionNextBar)

	order := testOrder(1, types.OrderTypeMarket, types.OrderSideBuy, 100)
	storage.AddOrder(order)
	m.QueueMarketOrdersForNextBar()

	// Order must not fill until the next bar arrives
	if order.Status != types.OrderStatusPending {
		t.Fatalf("queued order filled early: %s", order.Status)
	}

	m.ProcessOrdersOnMarketData(barEvent("BTCUSDT", 105, 108))

	if order.Status != types.OrderStatusFilled {
		t.Fatalf("expected FILLED, got %s", order.Status)
	}
	if !order.Fills[0].Price.Equal(decimal.NewFromInt(105)) {
		t.Errorf("next-bar fill at open: expected 105, got %s", order.Fills[0].Price)
	}
}

func TestNextBarFallsBackToStoredPrice(t *testing.T) {
	m, storage, _ := newTestManager(types.MarketExecutionNextBar)

	order := testOrder(1, types.OrderTypeMarket, types.OrderSideBuy, 100)
	order.Ticker = "ETHUSDT"
	storage.AddOrder(order)
	m.QueueMarketOrdersForNextBar()

	// Bar has no data for ETHUSDT
	m.ProcessOrdersOnMarketData(barEvent("BTCUSDT", 105, 108))

	if order.Status != types.OrderStatusFilled {
		t.Fatalf("expected FILLED, got %s", order.Status)
	}
	if !order.Fills[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fallback fill at stored price: expected 100, got %s", order.Fills[0].Price)
	}
}

func TestExpireOrders(t *testing.T) {
	m, storage, _ := newTestManager(types.MarketExecutionImmediate)

	expiry := time.Now().Add(-time.Hour)
	expired := testOrder(1, types.OrderTypeLimit, types.OrderSideSell, 110)
	expired.ExpirationTime = &expiry
	fresh := testOrder(2, types.OrderTypeLimit, types.OrderSideSell, 110)
	storage.AddOrder(expired)
	storage.AddOrder(fresh)

	if n := m.ExpireOrders(time.Now()); n != 1 {
		t.Fatalf("expected 1 expired order, got %d", n)
	}
	if expired.Status != types.OrderStatusExpired {
		t.Errorf("expected EXPIRED, got %s", expired.Status)
	}
	if fresh.Status != types.OrderStatusPending {
		t.Errorf("order without expiry must stay PENDING, got %s", fresh.Status)
	}
}
