package exchange

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestZeroFee(t *testing.T) {
	model := NewZeroFee()

	fee, err := model.CalculateFee(d(10), d(100), types.OrderSideBuy, types.OrderTypeMarket, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fee.IsZero() {
		t.Errorf("zero fee model returned %s", fee)
	}

	if _, err := model.CalculateFee(d(0), d(100), types.OrderSideBuy, types.OrderTypeMarket, nil); err == nil {
		t.Error("expected error for zero quantity")
	}
	if _, err := model.CalculateFee(d(10), d(-1), types.OrderSideBuy, types.OrderTypeMarket, nil); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestPercentFee(t *testing.T) {
	model := NewPercentFee(d(0.001))

	fee, err := model.CalculateFee(d(100), d(150), types.OrderSideBuy, types.OrderTypeMarket, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100 * 150 * 0.001 = 15
	if !fee.Equal(d(15)) {
		t.Errorf("expected fee 15, got %s", fee)
	}
}

func TestPercentFeePerSideRates(t *testing.T) {
	model := NewPercentFeeWithRates(d(0.001), d(0.002))

	buyFee, _ := model.CalculateFee(d(10), d(100), types.OrderSideBuy, types.OrderTypeMarket, nil)
	sellFee, _ := model.CalculateFee(d(10), d(100), types.OrderSideSell, types.OrderTypeMarket, nil)

	if !buyFee.Equal(d(1)) {
		t.Errorf("buy fee: expected 1, got %s", buyFee)
	}
	if !sellFee.Equal(d(2)) {
		t.Errorf("sell fee: expected 2, got %s", sellFee)
	}
}

func TestMakerTakerFee(t *testing.T) {
	model := NewMakerTakerFee(d(0.008), d(0.01))

	tests := []struct {
		name      string
		orderType types.OrderType
		extras    map[string]any
		want      decimal.Decimal
	}{
		{"limit is maker", types.OrderTypeLimit, nil, d(8)},
		{"market is taker", types.OrderTypeMarket, nil, d(10)},
		{"stop is taker", types.OrderTypeStop, nil, d(10)},
		{"extras override to maker", types.OrderTypeMarket, map[string]any{"isMaker": true}, d(8)},
		{"extras override to taker", types.OrderTypeLimit, map[string]any{"isMaker": false}, d(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := model.CalculateFee(d(10), d(100), types.OrderSideBuy, tt.orderType, tt.extras)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !fee.Equal(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, fee)
			}
		})
	}
}

func TestTieredFee(t *testing.T) {
	tiers := []types.FeeTier{
		{VolumeThreshold: d(0), MakerRate: d(0.001), TakerRate: d(0.002)},
		{VolumeThreshold: d(10000), MakerRate: d(0.0008), TakerRate: d(0.0015)},
		{VolumeThreshold: d(100000), MakerRate: d(0.0005), TakerRate: d(0.001)},
	}

	model, err := NewTieredFee(tiers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Base tier: taker 0.2%
	fee, _ := model.CalculateFee(d(10), d(100), types.OrderSideBuy, types.OrderTypeMarket, nil)
	if !fee.Equal(d(2)) {
		t.Errorf("base tier fee: expected 2, got %s", fee)
	}

	// Crossing into second tier changes the rate
	model.UpdateVolume(d(10000))
	fee, _ = model.CalculateFee(d(10), d(100), types.OrderSideBuy, types.OrderTypeMarket, nil)
	if !fee.Equal(d(1.5)) {
		t.Errorf("second tier fee: expected 1.5, got %s", fee)
	}

	// AddToVolume accumulates
	model.AddToVolume(d(90000))
	if !model.Volume().Equal(d(100000)) {
		t.Errorf("volume: expected 100000, got %s", model.Volume())
	}
	fee, _ = model.CalculateFee(d(10), d(100), types.OrderSideBuy, types.OrderTypeMarket, nil)
	if !fee.Equal(d(1)) {
		t.Errorf("top tier fee: expected 1, got %s", fee)
	}

	// ResetVolume returns to the base tier
	model.ResetVolume()
	fee, _ = model.CalculateFee(d(10), d(100), types.OrderSideBuy, types.OrderTypeMarket, nil)
	if !fee.Equal(d(2)) {
		t.Errorf("after reset: expected 2, got %s", fee)
	}
}

func TestTieredFeeRejectsBadSchedules(t *testing.T) {
	if _, err := NewTieredFee(nil); err == nil {
		t.Error("expected error for empty tier list")
	}

	tiers := []types.FeeTier{
		{VolumeThreshold: d(100), MakerRate: d(0.001), TakerRate: d(0.002)},
	}
	if _, err := NewTieredFee(tiers); err == nil {
		t.Error("expected error for first tier threshold != 0")
	}
}

func TestNewFeeModelFromConfig(t *testing.T) {
	if _, err := NewFeeModel(types.FeeModelConfig{ModelType: "bogus"}); err == nil {
		t.Error("expected error for unknown model type")
	}

	model, err := NewFeeModel(types.FeeModelConfig{ModelType: "percent", FeeRate: d(0.001)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := model.(*PercentFee); !ok {
		t.Errorf("expected *PercentFee, got %T", model)
	}
}
