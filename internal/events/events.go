// Package events provides the typed events and the global queue that the
// engine drains in canonical order.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/altfolio/tradesim/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventTypePing     EventType = "ping"
	EventTypeBar      EventType = "bar"
	EventTypeScreener EventType = "screener"
	EventTypeSignal   EventType = "signal"
	EventTypeOrder    EventType = "order"
	EventTypeFill     EventType = "fill"
	EventTypeUpdate   EventType = "update"
)

// priorities define the canonical processing order within a drain cycle:
// PING -> BAR -> SCREENER -> SIGNAL -> ORDER -> FILL -> UPDATE.
var priorities = map[EventType]int{
	EventTypePing:     0,
	EventTypeBar:      1,
	EventTypeScreener: 2,
	EventTypeSignal:   3,
	EventTypeOrder:    4,
	EventTypeFill:     5,
	EventTypeUpdate:   6,
}

// Priority returns the canonical ordering rank for an event type
func (t EventType) Priority() int {
	p, ok := priorities[t]
	if !ok {
		return len(priorities)
	}
	return p
}

// Event is the base interface for all events
type Event interface {
	GetID() string
	GetType() EventType
	GetTimestamp() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetID() string           { return e.ID }
func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// NewBaseEvent creates a base event with a generated correlation id
func NewBaseEvent(eventType EventType, ts time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: ts,
	}
}

// PingEvent is a liveness heartbeat
type PingEvent struct {
	BaseEvent
	Source string `json:"source,omitempty"`
}

// NewPingEvent creates a ping event
func NewPingEvent(ts time.Time, source string) *PingEvent {
	return &PingEvent{BaseEvent: NewBaseEvent(EventTypePing, ts), Source: source}
}

// BarEvent carries one bar per ticker for a single timestamp
type BarEvent struct {
	BaseEvent
	Bars map[string]types.Bar `json:"bars"`
}

// NewBarEvent creates a bar event
func NewBarEvent(ts time.Time, bars map[string]types.Bar) *BarEvent {
	return &BarEvent{BaseEvent: NewBaseEvent(EventTypeBar, ts), Bars: bars}
}

// Bar returns the bar for a ticker if present
func (e *BarEvent) Bar(ticker string) (types.Bar, bool) {
	bar, ok := e.Bars[ticker]
	return bar, ok
}

// ClosePrices returns ticker -> close for all bars in the event
func (e *BarEvent) ClosePrices() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(e.Bars))
	for ticker, bar := range e.Bars {
		prices[ticker] = bar.Close
	}
	return prices
}

// ScreenerEvent reports tickers selected by a market screener
type ScreenerEvent struct {
	BaseEvent
	Tickers []string `json:"tickers"`
	Source  string   `json:"source,omitempty"`
}

// NewScreenerEvent creates a screener event
func NewScreenerEvent(ts time.Time, tickers []string, source string) *ScreenerEvent {
	return &ScreenerEvent{BaseEvent: NewBaseEvent(EventTypeScreener, ts), Tickers: tickers, Source: source}
}

// SignalEvent carries a strategy signal
type SignalEvent struct {
	BaseEvent
	Signal *types.Signal `json:"signal"`
}

// NewSignalEvent creates a signal event
func NewSignalEvent(ts time.Time, signal *types.Signal) *SignalEvent {
	return &SignalEvent{BaseEvent: NewBaseEvent(EventTypeSignal, ts), Signal: signal}
}

// OrderEvent carries an order bound for the exchange
type OrderEvent struct {
	BaseEvent
	Order *types.Order `json:"order"`
}

// NewOrderEvent creates an order event
func NewOrderEvent(ts time.Time, order *types.Order) *OrderEvent {
	return &OrderEvent{BaseEvent: NewBaseEvent(EventTypeOrder, ts), Order: order}
}

// FillEvent carries an execution confirmation
type FillEvent struct {
	BaseEvent
	Fill types.Fill `json:"fill"`
}

// NewFillEvent creates a fill event
func NewFillEvent(ts time.Time, fill types.Fill) *FillEvent {
	return &FillEvent{BaseEvent: NewBaseEvent(EventTypeFill, ts), Fill: fill}
}

// PortfolioUpdateEvent carries a per-portfolio snapshot
type PortfolioUpdateEvent struct {
	BaseEvent
	Update types.PortfolioUpdate `json:"update"`
}

// NewPortfolioUpdateEvent creates a portfolio update event
func NewPortfolioUpdateEvent(ts time.Time, update types.PortfolioUpdate) *PortfolioUpdateEvent {
	return &PortfolioUpdateEvent{BaseEvent: NewBaseEvent(EventTypeUpdate, ts), Update: update}
}
