package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/internal/exchange"
	"github.com/altfolio/tradesim/internal/orders"
	"github.com/altfolio/tradesim/internal/portfolio"
	"github.com/altfolio/tradesim/pkg/idgen"
	"github.com/altfolio/tradesim/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *orders.Handler) {
	t.Helper()
	logger := zap.NewNop()
	queue := events.NewQueue()

	ex, err := exchange.NewSimulatedExchange(logger, exchange.DefaultPreset(), queue)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	portfolios := portfolio.NewHandler(logger, queue)
	portfolios.AddPortfolio(portfolio.NewPortfolio(logger, idgen.New(), "p1", "u1", "test", "sim",
		decimal.NewFromInt(10000), types.DefaultPortfolioConfig()))

	storage := orders.NewMemoryStorage()
	manager := orders.NewManager(logger, storage, queue, types.MarketExecutionImmediate)
	validator := orders.NewValidator(logger, portfolios, orders.DefaultValidatorConfig())
	orderHandler := orders.NewHandler(logger, idgen.New(), storage, manager, validator)

	srv := NewServer(logger, types.DefaultServerConfig(), nil, portfolios, orderHandler, ex, nil)
	return srv, orderHandler
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var envelope map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid JSON response for %s %s: %v", method, path, err)
	}
	return rec, envelope
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, envelope := doRequest(t, srv, "GET", "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if envelope["success"] != true {
		t.Error("expected success envelope")
	}
}

func TestPortfolioEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, envelope := doRequest(t, srv, "GET", "/api/v1/portfolios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if list, ok := envelope["data"].([]any); !ok || len(list) != 1 {
		t.Fatalf("expected one portfolio snapshot, got %v", envelope["data"])
	}

	rec, envelope = doRequest(t, srv, "GET", "/api/v1/portfolios/p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := envelope["data"].(map[string]any)
	if data["state"] != string(types.PortfolioStateActive) {
		t.Errorf("state = %v", data["state"])
	}

	rec, _ = doRequest(t, srv, "GET", "/api/v1/portfolios/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown portfolio status = %d", rec.Code)
	}

	rec, envelope = doRequest(t, srv, "GET", "/api/v1/portfolios/p1/cash", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cash status = %d", rec.Code)
	}
	cash := envelope["data"].(map[string]any)
	if cash["balance"] != "10000" {
		t.Errorf("balance = %v", cash["balance"])
	}
}

func TestOrderEndpoints(t *testing.T) {
	srv, orderHandler := newTestServer(t)

	// Seed a limit order through the signal path
	signal := &types.Signal{
		Time:        time.Now(),
		OrderType:   types.OrderTypeLimit,
		Ticker:      "BTCUSDT",
		Action:      types.OrderSideSell,
		Price:       decimal.NewFromInt(110),
		Quantity:    decimal.NewFromInt(1),
		StrategyID:  "s1",
		PortfolioID: "p1",
	}
	if err := orderHandler.OnSignal(events.NewSignalEvent(signal.Time, signal)); err != nil {
		t.Fatalf("signal: %v", err)
	}
	active := orderHandler.GetActiveOrders("p1")
	if len(active) != 1 {
		t.Fatalf("expected one active order, got %d", len(active))
	}
	orderID := active[0].ID

	rec, envelope := doRequest(t, srv, "GET", "/api/v1/portfolios/p1/orders", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("orders status = %d", rec.Code)
	}
	if list := envelope["data"].([]any); len(list) != 1 {
		t.Fatalf("expected one order, got %d", len(list))
	}

	rec, _ = doRequest(t, srv, "GET", "/api/v1/portfolios/p1/orders/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}

	body, _ := json.Marshal(modifyOrderRequest{Price: decimal.NewFromInt(120)})
	rec, _ = doRequest(t, srv, "PUT", fmt.Sprintf("/api/v1/portfolios/p1/orders/%d", orderID), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("modify status = %d", rec.Code)
	}
	order, _ := orderHandler.Storage().GetOrder("p1", orderID)
	if !order.Price.Equal(decimal.NewFromInt(120)) {
		t.Errorf("price after modify = %s", order.Price)
	}

	rec, _ = doRequest(t, srv, "POST", fmt.Sprintf("/api/v1/portfolios/p1/orders/%d/cancel", orderID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if got := orderHandler.GetActiveOrders("p1"); len(got) != 0 {
		t.Errorf("active orders after cancel = %d", len(got))
	}

	rec, _ = doRequest(t, srv, "POST", "/api/v1/portfolios/p1/orders/9999/cancel", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("cancel unknown order status = %d", rec.Code)
	}
}

func TestExchangeEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, envelope := doRequest(t, srv, "GET", "/api/v1/exchange/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := envelope["data"].(map[string]any)
	if data["exchangeName"] == "" {
		t.Error("expected exchange name in health payload")
	}

	rec, _ = doRequest(t, srv, "GET", "/api/v1/exchange/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("config status = %d", rec.Code)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Close()

	client := &Client{id: "c1", hub: hub, send: make(chan []byte, 8)}
	hub.register <- client

	deadline := time.After(time.Second)
	for hub.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.BroadcastPortfolioUpdate(types.PortfolioUpdate{
		PortfolioID: "p1",
		Time:        time.Now(),
		TotalEquity: decimal.NewFromInt(10000),
	})

	select {
	case payload := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if msg.Type != WSTypePortfolioUpdate {
			t.Errorf("type = %s", msg.Type)
		}
		var update types.PortfolioUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			t.Fatalf("bad update payload: %v", err)
		}
		if update.PortfolioID != "p1" {
			t.Errorf("portfolioId = %s", update.PortfolioID)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
}
