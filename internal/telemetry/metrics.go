// Package telemetry exposes Prometheus metrics for the engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	EventQueueDepth prometheus.Gauge
	OrdersCreated   prometheus.Counter
	OrdersFilled    prometheus.Counter
	OrdersFailed    prometheus.Counter
	FillsProcessed  prometheus.Counter
	BarsProcessed   prometheus.Counter
	PortfolioEquity *prometheus.GaugeVec
}

// New creates the engine metrics and registers them on the registry
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "events_processed_total",
			Help:      "Events dispatched, by event type.",
		}, []string{"type"}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradesim",
			Name:      "event_queue_depth",
			Help:      "Current depth of the global event queue.",
		}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "orders_created_total",
			Help:      "Orders created from signals.",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "orders_filled_total",
			Help:      "Orders that reached FILLED.",
		}),
		OrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "orders_failed_total",
			Help:      "Order executions that failed or were rejected.",
		}),
		FillsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "fills_processed_total",
			Help:      "Fills applied to portfolios.",
		}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "bars_processed_total",
			Help:      "Bar events consumed from the price feed.",
		}),
		PortfolioEquity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradesim",
			Name:      "portfolio_equity",
			Help:      "Total equity per portfolio.",
		}, []string{"portfolio"}),
	}

	reg.MustRegister(
		m.EventsProcessed,
		m.EventQueueDepth,
		m.OrdersCreated,
		m.OrdersFilled,
		m.OrdersFailed,
		m.FillsProcessed,
		m.BarsProcessed,
		m.PortfolioEquity,
	)
	return m
}

// NewNop creates unregistered metrics for tests
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
