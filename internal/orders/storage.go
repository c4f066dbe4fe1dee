// Package orders implements order creation, validation, storage and
// lifecycle management (triggers, market-order timing, OCO cleanup).
package orders

import (
	"sort"
	"sync"
	"time"

	"github.com/altfolio/tradesim/pkg/types"
)

// Storage indexes orders per portfolio. Implementations must serialize
// mutation; the in-memory store does so with a mutex so concurrent feeds can
// share it with the event loop.
type Storage interface {
	AddOrder(order *types.Order)
	GetOrder(portfolioID string, orderID int64) (*types.Order, bool)
	// UpdateOrder re-indexes the order according to its current status:
	// active statuses keep it in the active index, terminal ones remove it.
	UpdateOrder(order *types.Order)
	// DeactivateOrder removes the order from the active index while
	// preserving it in the full index. OCO cleanup relies on this.
	DeactivateOrder(portfolioID string, orderID int64)
	RemoveOrder(portfolioID string, orderID int64) bool
	ActiveOrders(portfolioID string) []*types.Order
	AllOrders(portfolioID string) []*types.Order
	ArchivedOrders(portfolioID string) []*types.Order
	PortfolioIDs() []string
	// ArchiveOrders moves terminal orders created before the cutoff out of
	// the full index into the archive. Returns the number moved.
	ArchiveOrders(cutoff time.Time) int
}

// MemoryStorage is the default in-memory Storage
type MemoryStorage struct {
	mu       sync.Mutex
	active   map[string]map[int64]*types.Order
	all      map[string]map[int64]*types.Order
	archived map[string]map[int64]*types.Order
}

// NewMemoryStorage creates an empty in-memory order store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		active:   make(map[string]map[int64]*types.Order),
		all:      make(map[string]map[int64]*types.Order),
		archived: make(map[string]map[int64]*types.Order),
	}
}

func ensure(index map[string]map[int64]*types.Order, portfolioID string) map[int64]*types.Order {
	m, ok := index[portfolioID]
	if !ok {
		m = make(map[int64]*types.Order)
		index[portfolioID] = m
	}
	return m
}

// AddOrder indexes a new order; active statuses also enter the active index
func (s *MemoryStorage) AddOrder(order *types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ensure(s.all, order.PortfolioID)[order.ID] = order
	if order.Status.IsActive() {
		ensure(s.active, order.PortfolioID)[order.ID] = order
	}
}

// GetOrder looks up an order in the full index
func (s *MemoryStorage) GetOrder(portfolioID string, orderID int64) (*types.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.all[portfolioID][orderID]
	return order, ok
}

// UpdateOrder keeps the active index consistent with the order's status
func (s *MemoryStorage) UpdateOrder(order *types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ensure(s.all, order.PortfolioID)[order.ID] = order
	if order.Status.IsActive() {
		ensure(s.active, order.PortfolioID)[order.ID] = order
	} else {
		delete(s.active[order.PortfolioID], order.ID)
	}
}

// DeactivateOrder drops the order from the active index only
func (s *MemoryStorage) DeactivateOrder(portfolioID string, orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active[portfolioID], orderID)
}

// RemoveOrder deletes the order from every index
func (s *MemoryStorage) RemoveOrder(portfolioID string, orderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.all[portfolioID][orderID]
	delete(s.active[portfolioID], orderID)
	delete(s.all[portfolioID], orderID)
	if _, archived := s.archived[portfolioID][orderID]; archived {
		delete(s.archived[portfolioID], orderID)
		ok = true
	}
	return ok
}

// ActiveOrders returns active orders sorted by ascending order id.
// Trigger evaluation depends on this ordering for deterministic tie-breaks.
func (s *MemoryStorage) ActiveOrders(portfolioID string) []*types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.active[portfolioID])
}

// AllOrders returns the full order history sorted by ascending order id
func (s *MemoryStorage) AllOrders(portfolioID string) []*types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.all[portfolioID])
}

// ArchivedOrders returns archived orders sorted by ascending order id
func (s *MemoryStorage) ArchivedOrders(portfolioID string) []*types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.archived[portfolioID])
}

// PortfolioIDs returns every portfolio with at least one indexed order
func (s *MemoryStorage) PortfolioIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.all))
	for id := range s.all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ArchiveOrders moves terminal orders created before the cutoff into the
// archive index
func (s *MemoryStorage) ArchiveOrders(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for portfolioID, byID := range s.all {
		for id, order := range byID {
			if order.Status.IsTerminal() && order.CreatedAt.Before(cutoff) {
				ensure(s.archived, portfolioID)[id] = order
				delete(byID, id)
				moved++
			}
		}
	}
	return moved
}

func sorted(byID map[int64]*types.Order) []*types.Order {
	out := make([]*types.Order, 0, len(byID))
	for _, order := range byID {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
