// Package engine wires the event dispatcher, price feed and strategy host
// into backtest and live processing loops.
package engine

import (
	"sort"
	"time"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

// PriceFeed yields bar events with monotonically non-decreasing timestamps.
// Backtests restart the feed with Reset.
type PriceFeed interface {
	Next() (*events.BarEvent, bool)
	Reset()
}

// SliceFeed replays a fixed series of bar events
type SliceFeed struct {
	bars []*events.BarEvent
	pos  int
}

// NewSliceFeed creates a feed over pre-built bar events
func NewSliceFeed(bars []*events.BarEvent) *SliceFeed {
	return &SliceFeed{bars: bars}
}

// NewSliceFeedFromBars groups raw bars by timestamp into bar events,
// ordered by time
func NewSliceFeedFromBars(bars []types.Bar) *SliceFeed {
	byTime := make(map[time.Time]map[string]types.Bar)
	for _, bar := range bars {
		m, ok := byTime[bar.Timestamp]
		if !ok {
			m = make(map[string]types.Bar)
			byTime[bar.Timestamp] = m
		}
		m[bar.Ticker] = bar
	}

	stamps := make([]time.Time, 0, len(byTime))
	for ts := range byTime {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	out := make([]*events.BarEvent, 0, len(stamps))
	for _, ts := range stamps {
		out = append(out, events.NewBarEvent(ts, byTime[ts]))
	}
	return NewSliceFeed(out)
}

// Next returns the next bar event, or false when the feed is exhausted
func (f *SliceFeed) Next() (*events.BarEvent, bool) {
	if f.pos >= len(f.bars) {
		return nil, false
	}
	ev := f.bars[f.pos]
	f.pos++
	return ev, true
}

// Reset rewinds the feed to the first bar
func (f *SliceFeed) Reset() {
	f.pos = 0
}

// Len returns the number of bar events in the feed
func (f *SliceFeed) Len() int {
	return len(f.bars)
}
