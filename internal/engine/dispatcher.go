package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/internal/exchange"
	"github.com/altfolio/tradesim/internal/orders"
	"github.com/altfolio/tradesim/internal/portfolio"
	"github.com/altfolio/tradesim/internal/telemetry"
	"github.com/altfolio/tradesim/pkg/types"
)

// Dispatcher drains the global event queue in canonical order and routes
// each event to its handler. The backtest driver is synchronous: one bar is
// pushed and the queue drained to empty before the next bar. The live loop
// runs the same dispatch on a single worker goroutine.
type Dispatcher struct {
	logger     *zap.Logger
	queue      *events.Queue
	exchange   *exchange.SimulatedExchange
	orders     *orders.Handler
	portfolios *portfolio.Handler
	strategies *StrategyHost
	notifier   Notifier
	metrics    *telemetry.Metrics
	cfg        types.EngineConfig

	mu       sync.Mutex
	universe map[string]types.Bar
	lastPing time.Time

	updateSubs []func(types.PortfolioUpdate)

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewDispatcher wires the engine components together
func NewDispatcher(
	logger *zap.Logger,
	queue *events.Queue,
	ex *exchange.SimulatedExchange,
	orderHandler *orders.Handler,
	portfolioHandler *portfolio.Handler,
	strategies *StrategyHost,
	notifier Notifier,
	metrics *telemetry.Metrics,
	cfg types.EngineConfig,
) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Dispatcher{
		logger:     logger.Named("dispatcher"),
		queue:      queue,
		exchange:   ex,
		orders:     orderHandler,
		portfolios: portfolioHandler,
		strategies: strategies,
		notifier:   notifier,
		metrics:    metrics,
		cfg:        cfg,
		universe:   make(map[string]types.Bar),
	}
}

// SubscribeUpdates registers a callback invoked on every portfolio update
// event. Callbacks run on the dispatch goroutine and must not block.
func (d *Dispatcher) SubscribeUpdates(fn func(types.PortfolioUpdate)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateSubs = append(d.updateSubs, fn)
}

// Universe returns the latest known bar per ticker
func (d *Dispatcher) Universe() map[string]types.Bar {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]types.Bar, len(d.universe))
	for ticker, bar := range d.universe {
		out[ticker] = bar
	}
	return out
}

// Drain dispatches queued events until the queue is empty. Events enqueued
// during dispatch are processed in the same cycle.
func (d *Dispatcher) Drain() {
	for {
		e, ok := d.queue.TryPop()
		if !ok {
			return
		}
		d.dispatch(e)
	}
}

func (d *Dispatcher) dispatch(e events.Event) {
	if d.metrics != nil {
		d.metrics.EventsProcessed.WithLabelValues(string(e.GetType())).Inc()
		d.metrics.EventQueueDepth.Set(float64(d.queue.Len()))
	}

	switch ev := e.(type) {
	case *events.PingEvent:
		d.mu.Lock()
		d.lastPing = ev.Timestamp
		d.mu.Unlock()

	case *events.BarEvent:
		d.handleBar(ev)

	case *events.ScreenerEvent:
		d.logger.Debug("Screener results",
			zap.Strings("tickers", ev.Tickers),
			zap.String("source", ev.Source),
		)

	case *events.SignalEvent:
		if err := d.orders.OnSignal(ev); err != nil {
			d.logger.Warn("Signal dropped", zap.Error(err))
		} else if d.metrics != nil {
			d.metrics.OrdersCreated.Inc()
		}

	case *events.OrderEvent:
		result := d.exchange.ExecuteOrder(ev)
		if !result.Success {
			d.logger.Warn("Order execution failed",
				zap.Int64("orderId", ev.Order.ID),
				zap.String("errorCode", string(result.ErrorCode)),
				zap.String("errorMessage", result.ErrorMessage),
			)
			if d.metrics != nil {
				d.metrics.OrdersFailed.Inc()
			}
			return
		}
		if d.metrics != nil {
			d.metrics.OrdersFilled.Inc()
		}

	case *events.FillEvent:
		if err := d.portfolios.OnFill(ev); err != nil {
			d.logger.Error("Fill processing failed",
				zap.Int64("orderId", ev.Fill.OrderID),
				zap.Error(err),
			)
			return
		}
		if d.metrics != nil {
			d.metrics.FillsProcessed.Inc()
		}

	case *events.PortfolioUpdateEvent:
		d.handleUpdate(ev)

	default:
		d.logger.Warn("Unknown event type", zap.String("type", string(e.GetType())))
	}
}

// handleBar runs the per-bar pipeline: record the universe, mark portfolios
// to the close, process pending/triggered orders, then invoke strategies.
func (d *Dispatcher) handleBar(ev *events.BarEvent) {
	d.mu.Lock()
	for ticker, bar := range ev.Bars {
		d.universe[ticker] = bar
	}
	d.mu.Unlock()

	d.portfolios.UpdateMarketValues(ev.ClosePrices(), ev.Timestamp)
	d.orders.Manager().ProcessOrdersOnMarketData(ev)
	d.strategies.OnBar(ev)

	if d.metrics != nil {
		d.metrics.BarsProcessed.Inc()
		for _, p := range d.portfolios.Portfolios() {
			equity, _ := p.TotalEquity().Float64()
			d.metrics.PortfolioEquity.WithLabelValues(p.ID).Set(equity)
		}
	}
}

func (d *Dispatcher) handleUpdate(ev *events.PortfolioUpdateEvent) {
	d.mu.Lock()
	subs := make([]func(types.PortfolioUpdate), len(d.updateSubs))
	copy(subs, d.updateSubs)
	d.mu.Unlock()

	for _, fn := range subs {
		fn(ev.Update)
	}
	d.notifier.Send(fmt.Sprintf("portfolio %s equity %s cash %s",
		ev.Update.PortfolioID, ev.Update.TotalEquity, ev.Update.AvailableCash))
}

// RunBacktest replays the feed: each bar is pushed onto the queue and the
// queue drained to empty before the next bar, so every fill is observed by
// the portfolio before the following BAR event.
func (d *Dispatcher) RunBacktest(feed PriceFeed) error {
	if feed == nil {
		return fmt.Errorf("price feed is required")
	}
	feed.Reset()

	bars := 0
	start := time.Now()
	for {
		ev, ok := feed.Next()
		if !ok {
			break
		}
		d.queue.Push(ev)
		d.Drain()
		bars++
	}

	d.logger.Info("Backtest complete",
		zap.Int("bars", bars),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Start launches the live event loop on a worker goroutine. External feeds
// push events onto the queue; the worker blocks on pop with the configured
// timeout.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.loop()
	d.logger.Info("Event loop started")
	return nil
}

func (d *Dispatcher) loop() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			// Drain what is already queued before exiting
			d.Drain()
			return
		default:
		}
		if e, ok := d.queue.Pop(d.cfg.PopTimeout); ok {
			d.dispatch(e)
		}
	}
}

// Stop signals the live loop to finish and waits up to the configured stop
// timeout for it to drain
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	done := d.doneCh
	d.mu.Unlock()

	select {
	case <-done:
		d.logger.Info("Event loop stopped")
		return nil
	case <-time.After(d.cfg.StopTimeout):
		return fmt.Errorf("event loop did not stop within %s", d.cfg.StopTimeout)
	}
}
