package exchange

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/events"
	"github.com/altfolio/tradesim/pkg/types"
)

// defaultFailureScenarios are drawn from uniformly when failure injection
// is enabled without an explicit scenario list.
var defaultFailureScenarios = []types.ErrorCode{
	types.ErrCodeNetworkError,
	types.ErrCodeExchangeError,
	types.ErrCodeRateLimitExceeded,
	types.ErrCodeExchangeMaintenance,
}

// priceWarnThreshold triggers a validation warning, not a rejection
var priceWarnThreshold = decimal.NewFromInt(1_000_000)

// minOrderValue below which validation warns (never rejects)
var minOrderValue = decimal.NewFromInt(1)

// SimulatedExchange validates orders, applies slippage and fees, and emits
// fills onto the global event queue.
type SimulatedExchange struct {
	mu     sync.Mutex
	logger *zap.Logger
	queue  *events.Queue
	rng    *rand.Rand

	cfg      types.ExchangeConfig
	feeModel FeeModel
	slippage SlippageModel
	symbols  map[string]bool

	state       types.ConnectionState
	connectedAt *time.Time
	startedAt   time.Time
	lastPing    *time.Time

	ordersExecuted int64
	ordersFailed   int64
	totalVolume    decimal.Decimal
}

// NewSimulatedExchange creates a simulated exchange from configuration.
// When the connection config requests it, the exchange auto-connects.
func NewSimulatedExchange(logger *zap.Logger, cfg types.ExchangeConfig, queue *events.Queue) (*SimulatedExchange, error) {
	feeModel, err := NewFeeModel(cfg.FeeModel)
	if err != nil {
		return nil, fmt.Errorf("fee model: %w", err)
	}
	slippage, err := NewSlippageModel(cfg.SlippageModel)
	if err != nil {
		return nil, fmt.Errorf("slippage model: %w", err)
	}

	ex := &SimulatedExchange{
		logger:    logger.Named("exchange"),
		queue:     queue,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg:       cfg,
		feeModel:  feeModel,
		slippage:  slippage,
		symbols:   symbolSet(cfg.Limits.SupportedSymbols),
		state:     types.ConnectionStateDisconnected,
		startedAt: time.Now(),
	}

	if cfg.Connection.AutoConnect {
		ex.Connect()
	}
	return ex, nil
}

func symbolSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}

// Name returns the configured exchange name
func (ex *SimulatedExchange) Name() string {
	return ex.cfg.Name
}

// Connect brings the connection up. Connecting while already connected is a
// no-op that preserves the original connection timestamp.
func (ex *SimulatedExchange) Connect() types.ConnectionResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.state == types.ConnectionStateConnected {
		return types.ConnectionResult{
			Success:        true,
			Status:         ex.state,
			ExchangeName:   ex.cfg.Name,
			ConnectionTime: ex.connectedAt,
		}
	}

	ex.state = types.ConnectionStateConnecting
	if ex.cfg.Connection.ConnectionTimeout > 0 {
		// Synthetic handshake delay
		time.Sleep(time.Millisecond)
	}
	now := time.Now()
	ex.state = types.ConnectionStateConnected
	ex.connectedAt = &now

	ex.logger.Info("Exchange connected", zap.String("exchange", ex.cfg.Name))
	return types.ConnectionResult{
		Success:        true,
		Status:         ex.state,
		ExchangeName:   ex.cfg.Name,
		ConnectionTime: ex.connectedAt,
	}
}

// Disconnect tears the connection down
func (ex *SimulatedExchange) Disconnect() types.ConnectionResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.state != types.ConnectionStateConnected {
		ex.state = types.ConnectionStateDisconnected
		return types.ConnectionResult{Success: true, Status: ex.state, ExchangeName: ex.cfg.Name}
	}

	ex.state = types.ConnectionStateDisconnecting
	ex.state = types.ConnectionStateDisconnected
	ex.connectedAt = nil

	ex.logger.Info("Exchange disconnected", zap.String("exchange", ex.cfg.Name))
	return types.ConnectionResult{Success: true, Status: ex.state, ExchangeName: ex.cfg.Name}
}

// IsConnected reports whether orders can currently be executed
func (ex *SimulatedExchange) IsConnected() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state == types.ConnectionStateConnected
}

// HealthCheck returns a snapshot of connection state and daily counters
func (ex *SimulatedExchange) HealthCheck() types.HealthStatus {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	now := time.Now()
	ex.lastPing = &now

	var uptime float64
	if ex.connectedAt != nil {
		uptime = now.Sub(*ex.connectedAt).Seconds()
	}

	total := ex.ordersExecuted + ex.ordersFailed
	var errorRate float64
	if total > 0 {
		errorRate = float64(ex.ordersFailed) / float64(total)
	}

	return types.HealthStatus{
		ExchangeName:        ex.cfg.Name,
		Connected:           ex.state == types.ConnectionStateConnected,
		Status:              ex.state,
		LastPingTime:        ex.lastPing,
		LatencyMs:           ex.rng.Float64()*9 + 1,
		UptimeSeconds:       uptime,
		ErrorRate:           errorRate,
		OrdersExecutedToday: ex.ordersExecuted,
		OrdersFailedToday:   ex.ordersFailed,
		TotalVolumeToday:    ex.totalVolume,
	}
}

// ValidateOrder checks an order event against exchange limits
func (ex *SimulatedExchange) ValidateOrder(ev *events.OrderEvent) types.ValidationResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.validateLocked(ev.Order)
}

func (ex *SimulatedExchange) validateLocked(order *types.Order) types.ValidationResult {
	result := types.ValidationResult{IsValid: true, ValidationTime: time.Now()}

	fail := func(code types.ErrorCode, check, msg string) {
		result.IsValid = false
		if result.ErrorCode == "" {
			result.ErrorCode = code
			result.ErrorMessage = msg
		}
		result.FailedChecks = append(result.FailedChecks, check)
	}

	if len(ex.symbols) > 0 && !ex.symbols[order.Ticker] {
		fail(types.ErrCodeSymbolNotFound, "supported_symbol",
			fmt.Sprintf("symbol %s is not supported", order.Ticker))
	}
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		fail(types.ErrCodeInvalidOrder, "quantity_positive",
			fmt.Sprintf("quantity must be positive, got %s", order.Quantity))
	}
	if !ex.cfg.Limits.MinOrderSize.IsZero() && order.Quantity.LessThan(ex.cfg.Limits.MinOrderSize) {
		fail(types.ErrCodeOrderSizeTooSmall, "min_order_size",
			fmt.Sprintf("quantity %s below minimum %s", order.Quantity, ex.cfg.Limits.MinOrderSize))
	}
	if !ex.cfg.Limits.MaxOrderSize.IsZero() && order.Quantity.GreaterThan(ex.cfg.Limits.MaxOrderSize) {
		fail(types.ErrCodeOrderSizeTooLarge, "max_order_size",
			fmt.Sprintf("quantity %s above maximum %s", order.Quantity, ex.cfg.Limits.MaxOrderSize))
	}
	if order.Price.LessThanOrEqual(decimal.Zero) {
		fail(types.ErrCodeInvalidPrice, "price_positive",
			fmt.Sprintf("price must be positive, got %s", order.Price))
	} else if order.Price.GreaterThan(priceWarnThreshold) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("price %s exceeds %s", order.Price, priceWarnThreshold))
	}
	if ex.state != types.ConnectionStateConnected {
		fail(types.ErrCodeNetworkError, "connection_active", "exchange is not connected")
	}
	if order.Price.GreaterThan(decimal.Zero) && order.Quantity.GreaterThan(decimal.Zero) {
		if order.Price.Mul(order.Quantity).LessThan(minOrderValue) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("order value below %s", minOrderValue))
		}
	}

	return result
}

// ExecuteOrder runs the execution algorithm: validate, check connection,
// inject failures, apply slippage and fees, emit a fill.
func (ex *SimulatedExchange) ExecuteOrder(ev *events.OrderEvent) types.ExecutionResult {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	order := ev.Order
	now := ev.GetTimestamp()

	if v := ex.validateLocked(order); !v.IsValid {
		ex.ordersFailed++
		ex.logger.Warn("Order rejected by validation",
			zap.Int64("orderId", order.ID),
			zap.String("errorCode", string(v.ErrorCode)),
			zap.String("error", v.ErrorMessage),
		)
		return types.ExecutionResult{
			Success:       false,
			Status:        types.ExecutionStatusRejected,
			OrderID:       order.ID,
			ExecutionTime: now,
			ErrorCode:     v.ErrorCode,
			ErrorMessage:  v.ErrorMessage,
		}
	}

	if ex.state != types.ConnectionStateConnected {
		ex.ordersFailed++
		return types.ExecutionResult{
			Success:       false,
			Status:        types.ExecutionStatusFailed,
			OrderID:       order.ID,
			ExecutionTime: now,
			ErrorCode:     types.ErrCodeNetworkError,
			ErrorMessage:  "exchange is not connected",
		}
	}

	if ex.cfg.FailureSimulation.SimulateFailures && ex.rng.Float64() < ex.cfg.FailureSimulation.FailureRate {
		scenarios := ex.cfg.FailureSimulation.EnabledScenarios
		if len(scenarios) == 0 {
			scenarios = defaultFailureScenarios
		}
		code := scenarios[ex.rng.Intn(len(scenarios))]
		ex.ordersFailed++
		ex.logger.Warn("Simulated execution failure",
			zap.Int64("orderId", order.ID),
			zap.String("errorCode", string(code)),
		)
		return types.ExecutionResult{
			Success:       false,
			Status:        types.ExecutionStatusFailed,
			OrderID:       order.ID,
			ExecutionTime: now,
			ErrorCode:     code,
			ErrorMessage:  fmt.Sprintf("simulated failure: %s", code),
		}
	}

	// The order manager records the fill baseline (trigger close or market
	// price); the exchange applies microstructure adjustments on top.
	basePrice := order.Price
	quantity := order.Quantity
	if n := len(order.Fills); n > 0 {
		basePrice = order.Fills[n-1].Price
		quantity = order.Fills[n-1].Quantity
	}

	factor := ex.slippage.CalculateSlippageFactor(quantity, basePrice, order.Action, order.Type)
	executedPrice := basePrice.Mul(decimal.NewFromFloat(factor))

	commission, err := ex.feeModel.CalculateFee(quantity, executedPrice, order.Action, order.Type, nil)
	if err != nil {
		ex.ordersFailed++
		return types.ExecutionResult{
			Success:       false,
			Status:        types.ExecutionStatusRejected,
			OrderID:       order.ID,
			ExecutionTime: now,
			ErrorCode:     types.ErrCodeInvalidOrder,
			ErrorMessage:  err.Error(),
		}
	}

	fill := types.Fill{
		OrderID:     order.ID,
		Time:        now,
		Status:      types.FillStatusExecuted,
		Ticker:      order.Ticker,
		Action:      order.Action,
		Price:       executedPrice,
		Quantity:    quantity,
		Commission:  commission,
		PortfolioID: order.PortfolioID,
	}
	ex.queue.Push(events.NewFillEvent(now, fill))

	value := executedPrice.Mul(quantity)
	ex.ordersExecuted++
	ex.totalVolume = ex.totalVolume.Add(value)
	if tiered, ok := ex.feeModel.(*TieredFee); ok {
		tiered.AddToVolume(value)
	}

	ex.logger.Debug("Order executed",
		zap.Int64("orderId", order.ID),
		zap.String("ticker", order.Ticker),
		zap.String("action", string(order.Action)),
		zap.String("executedPrice", executedPrice.String()),
		zap.String("commission", commission.String()),
	)

	return types.ExecutionResult{
		Success:          true,
		Status:           types.ExecutionStatusExecuted,
		OrderID:          order.ID,
		ExchangeOrderID:  fmt.Sprintf("%s-%d", ex.cfg.Name, order.ID),
		ExecutedPrice:    executedPrice,
		ExecutedQuantity: quantity,
		Commission:       commission,
		ExecutionTime:    now,
		Metadata: map[string]any{
			"slippagePct":   (factor - 1) * 100,
			"originalPrice": basePrice.String(),
		},
	}
}

// UpdateConfig swaps the exchange configuration and rebuilds models
func (ex *SimulatedExchange) UpdateConfig(cfg types.ExchangeConfig) error {
	feeModel, err := NewFeeModel(cfg.FeeModel)
	if err != nil {
		return fmt.Errorf("fee model: %w", err)
	}
	slippage, err := NewSlippageModel(cfg.SlippageModel)
	if err != nil {
		return fmt.Errorf("slippage model: %w", err)
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.cfg = cfg
	ex.feeModel = feeModel
	ex.slippage = slippage
	ex.symbols = symbolSet(cfg.Limits.SupportedSymbols)
	ex.logger.Info("Exchange config updated", zap.String("exchange", cfg.Name))
	return nil
}

// GetConfigDict returns the observable configuration as nested maps
func (ex *SimulatedExchange) GetConfigDict() map[string]any {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return map[string]any{
		"name": ex.cfg.Name,
		"feeModel": map[string]any{
			"modelType": ex.cfg.FeeModel.ModelType,
			"feeRate":   ex.cfg.FeeModel.FeeRate.String(),
			"makerRate": ex.cfg.FeeModel.MakerRate.String(),
			"takerRate": ex.cfg.FeeModel.TakerRate.String(),
		},
		"slippageModel": map[string]any{
			"modelType":       ex.cfg.SlippageModel.ModelType,
			"slippagePct":     ex.cfg.SlippageModel.SlippagePct,
			"basePct":         ex.cfg.SlippageModel.BasePct,
			"sizeFactor":      ex.cfg.SlippageModel.SizeFactor,
			"maxPct":          ex.cfg.SlippageModel.MaxPct,
			"randomVariation": ex.cfg.SlippageModel.RandomVariation,
		},
		"limits": map[string]any{
			"minOrderSize":     ex.cfg.Limits.MinOrderSize.String(),
			"maxOrderSize":     ex.cfg.Limits.MaxOrderSize.String(),
			"supportedSymbols": ex.cfg.Limits.SupportedSymbols,
			"maxPrice":         ex.cfg.Limits.MaxPrice.String(),
		},
		"failureSimulation": map[string]any{
			"simulateFailures": ex.cfg.FailureSimulation.SimulateFailures,
			"failureRate":      ex.cfg.FailureSimulation.FailureRate,
		},
		"connection": map[string]any{
			"autoConnect":       ex.cfg.Connection.AutoConnect,
			"connectionTimeout": ex.cfg.Connection.ConnectionTimeout.String(),
			"retryAttempts":     ex.cfg.Connection.RetryAttempts,
			"retryDelay":        ex.cfg.Connection.RetryDelay.String(),
		},
	}
}
