package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/internal/portfolio"
	"github.com/altfolio/tradesim/pkg/types"
)

// ValidationLevel classifies pipeline messages
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "ERROR"
	ValidationLevelWarning ValidationLevel = "WARNING"
	ValidationLevelInfo    ValidationLevel = "INFO"
)

// ValidationMessage is one finding from a validation phase
type ValidationMessage struct {
	Level   ValidationLevel `json:"level"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Field   string          `json:"field,omitempty"`
}

// PipelineResult is the outcome of the progressive validation pipeline
type PipelineResult struct {
	Success  bool                `json:"success"`
	Messages []ValidationMessage `json:"messages"`
	Summary  string              `json:"summary"`
}

func (r *PipelineResult) addError(code, message, field string) {
	r.Messages = append(r.Messages, ValidationMessage{
		Level: ValidationLevelError, Code: code, Message: message, Field: field,
	})
}

// HasErrors reports whether any message is at ERROR level
func (r *PipelineResult) HasErrors() bool {
	for _, m := range r.Messages {
		if m.Level == ValidationLevelError {
			return true
		}
	}
	return false
}

// ValidatorConfig bounds per-order risk and names accepted exchanges
type ValidatorConfig struct {
	SupportedExchanges []string        `json:"supportedExchanges" mapstructure:"supportedExchanges"`
	MinOrderValue      decimal.Decimal `json:"minOrderValue" mapstructure:"minOrderValue"`
	MaxOrderValue      decimal.Decimal `json:"maxOrderValue" mapstructure:"maxOrderValue"`
	MinQuantity        decimal.Decimal `json:"minQuantity" mapstructure:"minQuantity"`
	MaxQuantity        decimal.Decimal `json:"maxQuantity" mapstructure:"maxQuantity"`
	MinPrice           decimal.Decimal `json:"minPrice" mapstructure:"minPrice"`
	MaxPrice           decimal.Decimal `json:"maxPrice" mapstructure:"maxPrice"`
}

// DefaultValidatorConfig accepts any exchange and applies no risk bounds
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{}
}

// Validator runs the progressive signal validation pipeline. Phases run in
// order and the pipeline stops at the first failing phase.
type Validator struct {
	logger     *zap.Logger
	portfolios *portfolio.Handler
	cfg        ValidatorConfig
}

// NewValidator creates a validator resolving portfolios through the handler
func NewValidator(logger *zap.Logger, portfolios *portfolio.Handler, cfg ValidatorConfig) *Validator {
	return &Validator{
		logger:     logger.Named("order_validator"),
		portfolios: portfolios,
		cfg:        cfg,
	}
}

// ValidateSignalPipeline runs all phases on the signal. On success the
// signal is marked verified.
func (v *Validator) ValidateSignalPipeline(signal *types.Signal) PipelineResult {
	phases := []struct {
		name string
		run  func(*types.Signal, *PipelineResult)
	}{
		{"critical fields", v.validateCriticalFields},
		{"market conditions", v.validateMarketConditions},
		{"portfolio constraints", v.validatePortfolioConstraints},
		{"financial risk", v.validateFinancialRisk},
	}

	result := PipelineResult{}
	for _, phase := range phases {
		phase.run(signal, &result)
		if result.HasErrors() {
			result.Summary = fmt.Sprintf("validation failed at phase %q", phase.name)
			v.logger.Warn("Signal validation failed",
				zap.String("phase", phase.name),
				zap.String("ticker", signal.Ticker),
				zap.Int("messages", len(result.Messages)),
			)
			return result
		}
	}

	result.Success = true
	result.Summary = "all validation phases passed"
	signal.Verified = true
	return result
}

func (v *Validator) validateCriticalFields(signal *types.Signal, result *PipelineResult) {
	if signal.Ticker == "" {
		result.addError("MISSING_TICKER", "ticker is required", "ticker")
	}
	if !signal.Action.Valid() {
		result.addError("INVALID_ACTION", fmt.Sprintf("unknown action %q", signal.Action), "action")
	}
	if signal.Price.Sign() <= 0 {
		result.addError("INVALID_PRICE", "price must be positive", "price")
	}
	if signal.Quantity.Sign() <= 0 {
		result.addError("INVALID_QUANTITY", "quantity must be positive", "quantity")
	}
	if !signal.OrderType.Valid() {
		result.addError("INVALID_ORDER_TYPE", fmt.Sprintf("unknown order type %q", signal.OrderType), "orderType")
	}
}

func (v *Validator) validateMarketConditions(signal *types.Signal, result *PipelineResult) {
	if len(v.cfg.SupportedExchanges) == 0 {
		return
	}
	p, err := v.portfolios.GetPortfolio(signal.PortfolioID)
	if err != nil {
		result.addError("PORTFOLIO_NOT_FOUND", err.Error(), "portfolioId")
		return
	}
	for _, name := range v.cfg.SupportedExchanges {
		if name == p.Exchange {
			return
		}
	}
	result.addError("UNSUPPORTED_EXCHANGE",
		fmt.Sprintf("exchange %q is not supported", p.Exchange), "exchange")
}

func (v *Validator) validatePortfolioConstraints(signal *types.Signal, result *PipelineResult) {
	p, err := v.portfolios.GetPortfolio(signal.PortfolioID)
	if err != nil {
		result.addError("PORTFOLIO_NOT_FOUND", err.Error(), "portfolioId")
		return
	}

	if signal.Action == types.OrderSideBuy {
		required := signal.Quantity.Mul(signal.Price)
		if p.AvailableCash().LessThan(required) {
			result.addError("INSUFFICIENT_FUNDS",
				fmt.Sprintf("required %s, available %s", required, p.AvailableCash()), "quantity")
		}
		return
	}

	// A sell with no open long opens or adds to a short; only reducing an
	// existing long is bounded by the held quantity.
	pos, ok := p.Positions().GetPosition(signal.Ticker)
	if ok && pos.Side == types.PositionSideLong && pos.NetQuantity().LessThan(signal.Quantity) {
		result.addError("INSUFFICIENT_POSITION",
			fmt.Sprintf("selling %s but holding %s", signal.Quantity, pos.NetQuantity()), "quantity")
	}
}

func (v *Validator) validateFinancialRisk(signal *types.Signal, result *PipelineResult) {
	value := signal.Quantity.Mul(signal.Price)

	if v.cfg.MinOrderValue.Sign() > 0 && value.LessThan(v.cfg.MinOrderValue) {
		result.addError("ORDER_VALUE_TOO_SMALL",
			fmt.Sprintf("order value %s below minimum %s", value, v.cfg.MinOrderValue), "quantity")
	}
	if v.cfg.MaxOrderValue.Sign() > 0 && value.GreaterThan(v.cfg.MaxOrderValue) {
		result.addError("ORDER_VALUE_TOO_LARGE",
			fmt.Sprintf("order value %s above maximum %s", value, v.cfg.MaxOrderValue), "quantity")
	}
	if v.cfg.MinQuantity.Sign() > 0 && signal.Quantity.LessThan(v.cfg.MinQuantity) {
		result.addError("QUANTITY_TOO_SMALL",
			fmt.Sprintf("quantity %s below minimum %s", signal.Quantity, v.cfg.MinQuantity), "quantity")
	}
	if v.cfg.MaxQuantity.Sign() > 0 && signal.Quantity.GreaterThan(v.cfg.MaxQuantity) {
		result.addError("QUANTITY_TOO_LARGE",
			fmt.Sprintf("quantity %s above maximum %s", signal.Quantity, v.cfg.MaxQuantity), "quantity")
	}
	if v.cfg.MinPrice.Sign() > 0 && signal.Price.LessThan(v.cfg.MinPrice) {
		result.addError("PRICE_TOO_LOW",
			fmt.Sprintf("price %s below minimum %s", signal.Price, v.cfg.MinPrice), "price")
	}
	if v.cfg.MaxPrice.Sign() > 0 && signal.Price.GreaterThan(v.cfg.MaxPrice) {
		result.addError("PRICE_TOO_HIGH",
			fmt.Sprintf("price %s above maximum %s", signal.Price, v.cfg.MaxPrice), "price")
	}
}

// ValidateOrderModification checks a proposed price/quantity change. Zero
// values leave the field unchanged.
func (v *Validator) ValidateOrderModification(order *types.Order, newPrice, newQuantity decimal.Decimal) error {
	if !order.IsActive() {
		return fmt.Errorf("order %d cannot be modified in status %s", order.ID, order.Status)
	}
	if newPrice.Sign() < 0 {
		return fmt.Errorf("new price cannot be negative")
	}
	if newQuantity.Sign() < 0 {
		return fmt.Errorf("new quantity cannot be negative")
	}
	if newQuantity.Sign() > 0 && newQuantity.LessThan(order.FilledQuantity) {
		return fmt.Errorf("new quantity %s is below filled quantity %s", newQuantity, order.FilledQuantity)
	}
	return nil
}
