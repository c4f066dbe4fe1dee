package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

// Handler routes fill events to the owning portfolio and publishes portfolio
// update events after each processed fill.
type Handler struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	queue      *events.Queue
	portfolios map[string]*Portfolio
}

// NewHandler creates a portfolio handler publishing to the given queue
func NewHandler(logger *zap.Logger, queue *events.Queue) *Handler {
	return &Handler{
		logger:     logger.Named("portfolio_handler"),
		queue:      queue,
		portfolios: make(map[string]*Portfolio),
	}
}

// AddPortfolio registers a portfolio with the handler
func (h *Handler) AddPortfolio(p *Portfolio) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.portfolios[p.ID] = p
}

// GetPortfolio looks up a registered portfolio
func (h *Handler) GetPortfolio(id string) (*Portfolio, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.portfolios[id]
	if !ok {
		return nil, &NotFoundError{Kind: "portfolio", ID: id}
	}
	return p, nil
}

// Portfolios returns all registered portfolios
func (h *Handler) Portfolios() []*Portfolio {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Portfolio, 0, len(h.portfolios))
	for _, p := range h.portfolios {
		out = append(out, p)
	}
	return out
}

// OnFill applies an executed fill to its portfolio. Rejected fills are
// dropped. A portfolio update event is published on success when the
// portfolio's config enables it.
func (h *Handler) OnFill(ev *events.FillEvent) error {
	fill := ev.Fill
	if fill.Status == types.FillStatusRejected {
		h.logger.Debug("Skipping rejected fill", zap.Int64("orderId", fill.OrderID))
		return nil
	}

	p, err := h.GetPortfolio(fill.PortfolioID)
	if err != nil {
		return err
	}

	if err := p.ProcessTransaction(fill); err != nil {
		h.logger.Error("Failed to process fill",
			zap.Int64("orderId", fill.OrderID),
			zap.String("portfolioId", fill.PortfolioID),
			zap.Error(err),
		)
		return err
	}

	if p.cfg.Events.PublishUpdateEvents {
		h.queue.Push(events.NewPortfolioUpdateEvent(fill.Time, p.Snapshot()))
	}
	return nil
}

// UpdateMarketValues marks every registered portfolio to the given prices
func (h *Handler) UpdateMarketValues(prices map[string]decimal.Decimal, at time.Time) {
	for _, p := range h.Portfolios() {
		p.UpdateMarketValues(prices, at)
	}
}
