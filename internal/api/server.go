// Package api exposes the engine state over REST and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/engine"
	"github.com/altfolio/tradesim/internal/exchange"
	"github.com/altfolio/tradesim/internal/orders"
	"github.com/altfolio/tradesim/internal/portfolio"
	"github.com/altfolio/tradesim/pkg/types"
)

// Server serves read access to portfolios, orders and exchange health, order
// maintenance endpoints, Prometheus metrics and a WebSocket stream of
// portfolio updates.
type Server struct {
	logger     *zap.Logger
	cfg        types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub

	dispatcher *engine.Dispatcher
	portfolios *portfolio.Handler
	orders     *orders.Handler
	exchange   *exchange.SimulatedExchange
	registry   *prometheus.Registry

	startTime time.Time
}

// NewServer creates the API server and registers all routes. The dispatcher
// is tapped for portfolio update events which are fanned out to WebSocket
// subscribers.
func NewServer(
	logger *zap.Logger,
	cfg types.ServerConfig,
	dispatcher *engine.Dispatcher,
	portfolioHandler *portfolio.Handler,
	orderHandler *orders.Handler,
	ex *exchange.SimulatedExchange,
	registry *prometheus.Registry,
) *Server {
	s := &Server{
		logger:     logger.Named("api"),
		cfg:        cfg,
		router:     mux.NewRouter(),
		hub:        NewHub(logger),
		dispatcher: dispatcher,
		portfolios: portfolioHandler,
		orders:     orderHandler,
		exchange:   ex,
		registry:   registry,
		startTime:  time.Now(),
	}
	s.setupRoutes()

	if dispatcher != nil {
		dispatcher.SubscribeUpdates(s.hub.BroadcastPortfolioUpdate)
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/universe", s.handleUniverse).Methods("GET")

	api.HandleFunc("/portfolios", s.handleListPortfolios).Methods("GET")
	api.HandleFunc("/portfolios/{id}", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/portfolios/{id}/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/portfolios/{id}/transactions", s.handleTransactions).Methods("GET")
	api.HandleFunc("/portfolios/{id}/cash", s.handleCash).Methods("GET")
	api.HandleFunc("/portfolios/{id}/equity", s.handleEquityCurve).Methods("GET")
	api.HandleFunc("/portfolios/{id}/health", s.handlePortfolioHealth).Methods("GET")

	api.HandleFunc("/portfolios/{id}/orders", s.handleOrders).Methods("GET")
	api.HandleFunc("/portfolios/{id}/orders/summary", s.handleOrdersSummary).Methods("GET")
	api.HandleFunc("/portfolios/{id}/orders/{orderId}", s.handleModifyOrder).Methods("PUT")
	api.HandleFunc("/portfolios/{id}/orders/{orderId}/cancel", s.handleCancelOrder).Methods("POST")

	api.HandleFunc("/exchange/health", s.handleExchangeHealth).Methods("GET")
	api.HandleFunc("/exchange/config", s.handleExchangeConfig).Methods("GET")

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Router exposes the configured router, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. It blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      c.Handler(s.router),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("API server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop closes WebSocket clients and shuts the HTTP server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("API server stopping")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"success": status < 400,
		"data":    data,
	}); err != nil {
		s.logger.Error("Response encoding failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *Server) lookupPortfolio(w http.ResponseWriter, r *http.Request) (*portfolio.Portfolio, bool) {
	id := mux.Vars(r)["id"]
	p, err := s.portfolios.GetPortfolio(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return p, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"uptimeSeconds": time.Since(s.startTime).Seconds(),
		"portfolios":    len(s.portfolios.Portfolios()),
		"wsClients":     s.hub.ClientCount(),
	})
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.writeJSON(w, http.StatusOK, map[string]types.Bar{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.dispatcher.Universe())
}

func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	all := s.portfolios.Portfolios()
	snapshots := make([]types.PortfolioUpdate, 0, len(all))
	for _, p := range all {
		snapshots = append(snapshots, p.Snapshot())
	}
	s.writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":       p.ID,
		"userId":   p.UserID,
		"name":     p.Name,
		"exchange": p.Exchange,
		"state":    p.State(),
		"snapshot": p.Snapshot(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"open":   p.Positions().OpenPositions(),
		"closed": p.Positions().ClosedPositions(),
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, p.Transactions().Transactions())
}

func (s *Server) handleCash(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	cash := p.Cash()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"balance":    cash.Balance(),
		"reserved":   cash.Reserved(),
		"available":  cash.AvailableBalance(),
		"operations": cash.Operations(),
	})
}

func (s *Server) handleEquityCurve(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, p.EquityCurve())
}

func (s *Server) handlePortfolioHealth(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, p.Health())
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		s.writeJSON(w, http.StatusOK, s.orders.GetOrdersByStatus(p.ID, types.OrderStatus(status)))
		return
	}
	if q.Get("ticker") != "" || q.Get("action") != "" || q.Get("type") != "" {
		s.writeJSON(w, http.StatusOK, s.orders.SearchOrders(
			p.ID, q.Get("ticker"), types.OrderSide(q.Get("action")), types.OrderType(q.Get("type"))))
		return
	}
	if q.Get("history") == "true" {
		s.writeJSON(w, http.StatusOK, s.orders.GetOrderHistory(p.ID))
		return
	}
	s.writeJSON(w, http.StatusOK, s.orders.GetActiveOrders(p.ID))
}

func (s *Server) handleOrdersSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.orders.GetOrdersSummary(p.ID))
}

type modifyOrderRequest struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(mux.Vars(r)["orderId"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}
	var req modifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.orders.ModifyOrder(p.ID, orderID, req.Price, req.Quantity); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "modified": true})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPortfolio(w, r)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(mux.Vars(r)["orderId"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}
	if err := s.orders.CancelOrder(p.ID, orderID, "cancelled via api"); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "cancelled": true})
}

func (s *Server) handleExchangeHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.exchange.HealthCheck())
}

func (s *Server) handleExchangeConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.exchange.GetConfigDict())
}
