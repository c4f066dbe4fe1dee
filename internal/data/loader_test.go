package data

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/types"
)

func TestReadBarsCSV(t *testing.T) {
	csv := `ticker,timestamp,open,high,low,close,volume
BTCUSDT,2024-01-02T00:00:00Z,42000,42500,41800,42300,120.5
btcusdt,2024-01-01T00:00:00Z,41000,42100,40900,42000,98
ETHUSDT,1704153600,2300,2350,2290,2340,400
`
	bars, err := ReadBarsCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d", len(bars))
	}
	// Sorted ascending by timestamp
	if !bars[0].Timestamp.Before(bars[1].Timestamp) {
		t.Error("bars not sorted by timestamp")
	}
	if bars[0].Ticker != "BTCUSDT" {
		t.Errorf("ticker not uppercased: %s", bars[0].Ticker)
	}
	if !bars[0].Open.Equal(decimal.NewFromInt(41000)) {
		t.Errorf("open = %s", bars[0].Open)
	}
	// Epoch timestamps parse to UTC
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	found := false
	for _, b := range bars {
		if b.Ticker == "ETHUSDT" && b.Timestamp.Equal(want) {
			found = true
		}
	}
	if !found {
		t.Error("epoch timestamp not parsed to expected UTC time")
	}
}

func TestReadBarsCSVRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"bad timestamp", "BTCUSDT,yesterday,1,2,0.5,1.5,10\n"},
		{"bad price", "BTCUSDT,2024-01-01T00:00:00Z,abc,2,0.5,1.5,10\n"},
		{"empty ticker", ",2024-01-01T00:00:00Z,1,2,0.5,1.5,10\n"},
		{"short row", "BTCUSDT,2024-01-01T00:00:00Z,1,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadBarsCSV(strings.NewReader(tt.csv)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func bar(ticker string, ts time.Time, open, high, low, close float64) types.Bar {
	return types.Bar{
		Ticker:    ticker,
		Timestamp: ts,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(10),
	}
}

func TestQualityValidator(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	clean := []types.Bar{
		bar("BTCUSDT", base, 100, 105, 98, 102),
		bar("BTCUSDT", base.Add(time.Hour), 102, 110, 101, 108),
	}
	if report := v.Validate(clean); !report.Clean() {
		t.Fatalf("clean series flagged: %+v", report.Issues)
	}

	dirty := []types.Bar{
		bar("BTCUSDT", base, 100, 99, 98, 100),                   // high below open
		bar("BTCUSDT", base, 100, 105, 101, 102),                 // duplicate ts, low above range
		bar("BTCUSDT", base.Add(time.Hour), 200, 210, 190, 200), // ~96% jump
	}
	report := v.Validate(dirty)
	codes := make(map[string]bool)
	for _, issue := range report.Issues {
		codes[issue.Code] = true
	}
	for _, want := range []string{"HIGH_BELOW_RANGE", "LOW_ABOVE_RANGE", "DUPLICATE_TIMESTAMP", "EXTREME_MOVE"} {
		if !codes[want] {
			t.Errorf("missing issue %s in %v", want, report.Issues)
		}
	}
}
