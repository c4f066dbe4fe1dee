package data

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/types"
)

// QualityIssue is one defect found in a historical bar series
type QualityIssue struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// QualityReport summarises validation of a bar series
type QualityReport struct {
	BarsChecked int            `json:"barsChecked"`
	Issues      []QualityIssue `json:"issues"`
}

// Clean reports whether no issues were found
func (r *QualityReport) Clean() bool { return len(r.Issues) == 0 }

// QualityValidator checks bar series for defects that would poison a
// backtest: inconsistent OHLC ranges, non-positive prices, negative volume,
// duplicate timestamps per ticker and extreme bar-to-bar jumps.
type QualityValidator struct {
	logger *zap.Logger

	// A close-to-close move larger than this fraction is flagged
	MaxJumpPct decimal.Decimal
}

// NewQualityValidator creates a validator with a 50% jump threshold
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:     logger.Named("data_quality"),
		MaxJumpPct: decimal.NewFromFloat(0.5),
	}
}

// Validate checks a timestamp-sorted bar series
func (v *QualityValidator) Validate(bars []types.Bar) QualityReport {
	report := QualityReport{BarsChecked: len(bars)}
	seen := make(map[string]time.Time)
	lastClose := make(map[string]decimal.Decimal)

	for _, bar := range bars {
		report.check(bar)

		if prev, ok := seen[bar.Ticker]; ok && prev.Equal(bar.Timestamp) {
			report.add(bar, "DUPLICATE_TIMESTAMP",
				fmt.Sprintf("duplicate bar at %s", bar.Timestamp.Format(time.RFC3339)))
		}
		seen[bar.Ticker] = bar.Timestamp

		if prev, ok := lastClose[bar.Ticker]; ok && prev.Sign() > 0 {
			jump := bar.Close.Sub(prev).Abs().Div(prev)
			if jump.GreaterThan(v.MaxJumpPct) {
				report.add(bar, "EXTREME_MOVE",
					fmt.Sprintf("close moved %s%% from previous bar", jump.Mul(decimal.NewFromInt(100)).Round(1)))
			}
		}
		lastClose[bar.Ticker] = bar.Close
	}

	if !report.Clean() {
		v.logger.Warn("Bar series failed quality checks",
			zap.Int("bars", report.BarsChecked),
			zap.Int("issues", len(report.Issues)),
		)
	}
	return report
}

func (r *QualityReport) check(bar types.Bar) {
	if bar.Open.Sign() <= 0 || bar.High.Sign() <= 0 || bar.Low.Sign() <= 0 || bar.Close.Sign() <= 0 {
		r.add(bar, "NON_POSITIVE_PRICE", "all OHLC prices must be positive")
	}
	if bar.Volume.Sign() < 0 {
		r.add(bar, "NEGATIVE_VOLUME", "volume cannot be negative")
	}
	maxOC := decimal.Max(bar.Open, bar.Close)
	minOC := decimal.Min(bar.Open, bar.Close)
	if bar.High.LessThan(maxOC) {
		r.add(bar, "HIGH_BELOW_RANGE", fmt.Sprintf("high %s below max(open, close) %s", bar.High, maxOC))
	}
	if bar.Low.GreaterThan(minOC) {
		r.add(bar, "LOW_ABOVE_RANGE", fmt.Sprintf("low %s above min(open, close) %s", bar.Low, minOC))
	}
}

func (r *QualityReport) add(bar types.Bar, code, message string) {
	r.Issues = append(r.Issues, QualityIssue{
		Ticker:    bar.Ticker,
		Timestamp: bar.Timestamp,
		Code:      code,
		Message:   message,
	})
}
