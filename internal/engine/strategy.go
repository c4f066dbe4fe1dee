package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

// Strategy turns bars into trade intents. Implementations own their
// indicator buffers and must not mutate engine state.
type Strategy interface {
	Name() string
	OnBar(ev *events.BarEvent) []*types.Signal
}

// Sizer mutates a signal's quantity before it enters the order pipeline
type Sizer interface {
	Apply(signal *types.Signal)
}

// StrategyHost invokes registered strategies on each bar and enqueues the
// resulting signal events. A panicking strategy is logged and skipped; the
// other strategies still run.
type StrategyHost struct {
	mu         sync.Mutex
	logger     *zap.Logger
	queue      *events.Queue
	strategies []Strategy
	sizer      Sizer
}

// NewStrategyHost creates a host publishing signals to the given queue
func NewStrategyHost(logger *zap.Logger, queue *events.Queue) *StrategyHost {
	return &StrategyHost{
		logger: logger.Named("strategy_host"),
		queue:  queue,
	}
}

// Register adds a strategy to the host
func (h *StrategyHost) Register(s Strategy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strategies = append(h.strategies, s)
	h.logger.Info("Strategy registered", zap.String("strategy", s.Name()))
}

// SetSizer installs a sizer applied to every emitted signal
func (h *StrategyHost) SetSizer(s Sizer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sizer = s
}

// Strategies returns the registered strategies
func (h *StrategyHost) Strategies() []Strategy {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Strategy, len(h.strategies))
	copy(out, h.strategies)
	return out
}

// OnBar runs every strategy against the bar and enqueues one signal event
// per emitted signal
func (h *StrategyHost) OnBar(ev *events.BarEvent) {
	for _, s := range h.Strategies() {
		h.runStrategy(s, ev)
	}
}

func (h *StrategyHost) runStrategy(s Strategy, ev *events.BarEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Strategy panicked",
				zap.String("strategy", s.Name()),
				zap.Any("panic", r),
			)
		}
	}()

	h.mu.Lock()
	sizer := h.sizer
	h.mu.Unlock()

	for _, signal := range s.OnBar(ev) {
		if signal == nil {
			continue
		}
		if signal.Time.IsZero() {
			signal.Time = ev.Timestamp
		}
		if signal.StrategyID == "" {
			signal.StrategyID = s.Name()
		}
		if sizer != nil {
			sizer.Apply(signal)
		}
		h.queue.Push(events.NewSignalEvent(signal.Time, signal))
	}
}

// StrategyFunc adapts a plain function into a Strategy
type StrategyFunc struct {
	ID string
	Fn func(ev *events.BarEvent) []*types.Signal
}

func (s StrategyFunc) Name() string { return s.ID }

func (s StrategyFunc) OnBar(ev *events.BarEvent) []*types.Signal { return s.Fn(ev) }
