package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

func newTestExchange(t *testing.T, cfg types.ExchangeConfig) (*SimulatedExchange, *events.Queue) {
	t.Helper()
	queue := events.NewQueue()
	ex, err := NewSimulatedExchange(zap.NewNop(), cfg, queue)
	if err != nil {
		t.Fatalf("failed to create exchange: %v", err)
	}
	return ex, queue
}

func marketOrder(id int64, ticker string, action types.OrderSide, price, qty float64) *types.Order {
	return &types.Order{
		ID:          id,
		Type:        types.OrderTypeMarket,
		Status:      types.OrderStatusPending,
		Ticker:      ticker,
		Action:      action,
		Price:       decimal.NewFromFloat(price),
		Quantity:    decimal.NewFromFloat(qty),
		PortfolioID: "p1",
		CreatedAt:   time.Now(),
	}
}

func TestConnectIdempotent(t *testing.T) {
	cfg := DefaultPreset()
	cfg.Connection.AutoConnect = false
	ex, _ := newTestExchange(t, cfg)

	first := ex.Connect()
	if !first.Success || first.Status != types.ConnectionStateConnected {
		t.Fatalf("connect failed: %+v", first)
	}

	second := ex.Connect()
	if !second.Success {
		t.Fatal("repeat connect should succeed")
	}
	if !second.ConnectionTime.Equal(*first.ConnectionTime) {
		t.Error("repeat connect must not change the connection timestamp")
	}

	disc := ex.Disconnect()
	if disc.Status != types.ConnectionStateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", disc.Status)
	}
}

func TestExecuteOrderDefaultPreset(t *testing.T) {
	ex, queue := newTestExchange(t, DefaultPreset())

	order := marketOrder(1, "BTCUSDT", types.OrderSideBuy, 40, 1)
	result := ex.ExecuteOrder(events.NewOrderEvent(time.Now(), order))

	if !result.Success {
		t.Fatalf("execution failed: %+v", result)
	}
	if !result.ExecutedPrice.Equal(decimal.NewFromInt(40)) {
		t.Errorf("zero slippage should execute at 40, got %s", result.ExecutedPrice)
	}
	if !result.Commission.IsZero() {
		t.Errorf("zero fee preset should charge nothing, got %s", result.Commission)
	}

	e, ok := queue.TryPop()
	if !ok {
		t.Fatal("no fill event emitted")
	}
	fe, ok := e.(*events.FillEvent)
	if !ok {
		t.Fatalf("expected fill event, got %T", e)
	}
	if fe.Fill.Status != types.FillStatusExecuted {
		t.Errorf("fill status: %s", fe.Fill.Status)
	}
	if fe.Fill.OrderID != 1 {
		t.Errorf("fill order id: %d", fe.Fill.OrderID)
	}
}

func TestExecuteOrderRealisticPreset(t *testing.T) {
	cfg := RealisticPreset()
	cfg.FailureSimulation.SimulateFailures = false
	ex, _ := newTestExchange(t, cfg)

	order := marketOrder(1, "BTCUSDT", types.OrderSideBuy, 150, 100)
	result := ex.ExecuteOrder(events.NewOrderEvent(time.Now(), order))
	if !result.Success {
		t.Fatalf("execution failed: %+v", result)
	}

	lower := decimal.NewFromFloat(0.90 * 150)
	upper := decimal.NewFromFloat(1.10 * 150)
	if result.ExecutedPrice.LessThan(lower) || result.ExecutedPrice.GreaterThan(upper) {
		t.Errorf("executed price %s outside slippage bounds", result.ExecutedPrice)
	}

	wantFee := decimal.NewFromInt(100).Mul(result.ExecutedPrice).Mul(decimal.NewFromFloat(0.001)).Round(2)
	if !result.Commission.Equal(wantFee) {
		t.Errorf("commission: expected %s, got %s", wantFee, result.Commission)
	}

	if _, ok := result.Metadata["slippagePct"]; !ok {
		t.Error("metadata missing slippagePct")
	}
	if _, ok := result.Metadata["originalPrice"]; !ok {
		t.Error("metadata missing originalPrice")
	}
}

func TestExecuteOrderFailureInjection(t *testing.T) {
	cfg := DefaultPreset()
	cfg.FailureSimulation = types.FailureSimulationConfig{
		SimulateFailures: true,
		FailureRate:      1.0,
	}
	ex, queue := newTestExchange(t, cfg)

	order := marketOrder(1, "BTCUSDT", types.OrderSideBuy, 40, 1)
	result := ex.ExecuteOrder(events.NewOrderEvent(time.Now(), order))

	if result.Success {
		t.Fatal("execution should fail with failureRate 1.0")
	}
	if result.Status != types.ExecutionStatusFailed {
		t.Errorf("expected FAILED status, got %s", result.Status)
	}

	valid := map[types.ErrorCode]bool{
		types.ErrCodeNetworkError:        true,
		types.ErrCodeExchangeError:       true,
		types.ErrCodeRateLimitExceeded:   true,
		types.ErrCodeExchangeMaintenance: true,
	}
	if !valid[result.ErrorCode] {
		t.Errorf("unexpected error code %s", result.ErrorCode)
	}

	if queue.Len() != 0 {
		t.Error("no fill must be produced on failure")
	}

	health := ex.HealthCheck()
	if health.OrdersFailedToday != 1 {
		t.Errorf("ordersFailed should be 1, got %d", health.OrdersFailedToday)
	}
}

func TestValidateOrderLimits(t *testing.T) {
	cfg := DefaultPreset()
	cfg.Limits.SupportedSymbols = []string{"BTCUSDT"}
	cfg.Limits.MinOrderSize = decimal.NewFromFloat(0.01)
	cfg.Limits.MaxOrderSize = decimal.NewFromInt(1000)
	ex, _ := newTestExchange(t, cfg)

	tests := []struct {
		name     string
		order    *types.Order
		wantCode types.ErrorCode
	}{
		{
			"unsupported symbol",
			marketOrder(1, "DOGEUSDT", types.OrderSideBuy, 10, 1),
			types.ErrCodeSymbolNotFound,
		},
		{
			"below min size",
			marketOrder(2, "BTCUSDT", types.OrderSideBuy, 10, 0.005),
			types.ErrCodeOrderSizeTooSmall,
		},
		{
			"above max size",
			marketOrder(3, "BTCUSDT", types.OrderSideBuy, 10, 2000),
			types.ErrCodeOrderSizeTooLarge,
		},
		{
			"invalid price",
			marketOrder(4, "BTCUSDT", types.OrderSideBuy, 0, 1),
			types.ErrCodeInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ex.ValidateOrder(events.NewOrderEvent(time.Now(), tt.order))
			if result.IsValid {
				t.Fatal("validation should fail")
			}
			if result.ErrorCode != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, result.ErrorCode)
			}
		})
	}

	// Boundary: exactly minOrderSize passes
	ok := ex.ValidateOrder(events.NewOrderEvent(time.Now(),
		marketOrder(5, "BTCUSDT", types.OrderSideBuy, 10, 0.01)))
	if !ok.IsValid {
		t.Errorf("order at exact minOrderSize should pass: %+v", ok)
	}
}

func TestExecuteOrderWhenDisconnected(t *testing.T) {
	cfg := DefaultPreset()
	cfg.Connection.AutoConnect = false
	ex, _ := newTestExchange(t, cfg)

	order := marketOrder(1, "BTCUSDT", types.OrderSideBuy, 40, 1)
	result := ex.ExecuteOrder(events.NewOrderEvent(time.Now(), order))

	if result.Success {
		t.Fatal("execution should fail when disconnected")
	}
	if result.ErrorCode != types.ErrCodeNetworkError {
		t.Errorf("expected NETWORK_ERROR, got %s", result.ErrorCode)
	}
}

func TestPresets(t *testing.T) {
	names := []string{"default", "realistic", "high_fee", "low_latency"}
	for _, name := range names {
		cfg, err := PresetConfig(name)
		if err != nil {
			t.Errorf("preset %s: %v", name, err)
		}
		if cfg.Name != name {
			t.Errorf("preset name mismatch: %s != %s", cfg.Name, name)
		}
		if _, err := NewFeeModel(cfg.FeeModel); err != nil {
			t.Errorf("preset %s fee model: %v", name, err)
		}
		if _, err := NewSlippageModel(cfg.SlippageModel); err != nil {
			t.Errorf("preset %s slippage model: %v", name, err)
		}
	}

	if _, err := PresetConfig("bogus"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestUpdateConfig(t *testing.T) {
	ex, _ := newTestExchange(t, DefaultPreset())

	if err := ex.UpdateConfig(HighFeePreset()); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	dict := ex.GetConfigDict()
	if dict["name"] != "high_fee" {
		t.Errorf("config not updated: %v", dict["name"])
	}
}
