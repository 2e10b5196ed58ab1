package trading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/logging"
	"paper-exchange/internal/models"
	"paper-exchange/internal/risk"
)

// PlaceOrder validates, risk-checks and reserves funds for an order. Market
// orders fill immediately; every other type rests as open until a tick
// triggers it. On any error nothing is locked or persisted.
func (e *Engine) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (*models.Order, error) {
	if err := e.validateRequest(&req); err != nil {
		return nil, err
	}
	switch req.Type {
	case models.OrderTypeTrailingStop:
		return nil, apperrors.NewValidationError("type", req.Type, "use PlaceTrailingStop")
	case models.OrderTypeIceberg:
		return nil, apperrors.NewValidationError("type", req.Type, "use PlaceIceberg")
	}

	price, err := e.price(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := e.checkRisk(ctx, accountID, req, price); err != nil {
		return nil, err
	}

	var placed *models.Order
	var executed *models.Trade
	err = e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		order := e.newOrder(accountID, req, tx.Now())
		if err := e.reserve(tx, order, e.reservePrice(order, price)); err != nil {
			return err
		}
		if order.Type == models.OrderTypeMarket {
			fillPrice := e.slipped(price, order.Side)
			trade, err := e.fill(tx, order, fillPrice)
			if err != nil {
				return err
			}
			e.persist(tx, order)
			e.record(tx, trade)
			placed, executed = order.Clone(), trade
			return nil
		}
		if err := order.Transition(models.OrderStatusOpen, tx.Now()); err != nil {
			return err
		}
		e.persist(tx, order)
		placed = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogOrder(e.logger, placed)
	if executed != nil {
		logging.LogTrade(e.logger, executed)
	}
	return placed, nil
}

// validateRequest checks the fields each order type needs and normalizes the
// symbol. Pairs must be quoted in the valuation asset so that notionals, fees
// and realized P&L are all in the unit the risk limits are measured in.
func (e *Engine) validateRequest(req *models.OrderRequest) error {
	base, quote, err := models.ParseSymbol(req.Symbol)
	if err != nil {
		return apperrors.NewValidationError("symbol", req.Symbol, err.Error())
	}
	if base == quote {
		return apperrors.NewValidationError("symbol", req.Symbol, "base and quote must differ")
	}
	if quote != e.cfg.BaseAsset {
		return apperrors.NewValidationError("symbol", req.Symbol,
			fmt.Sprintf("only %s-quoted pairs can be traded", e.cfg.BaseAsset))
	}
	req.Symbol = models.Symbol(base, quote)

	req.Side = models.OrderSide(strings.ToLower(string(req.Side)))
	if !req.Side.Valid() {
		return apperrors.NewValidationError("side", req.Side, "must be buy or sell")
	}
	req.Type = models.OrderType(strings.ToLower(string(req.Type)))
	if !req.Type.Valid() {
		return apperrors.NewValidationError("type", req.Type, "unknown order type")
	}
	if req.Amount.Sign() <= 0 {
		return apperrors.NewValidationError("amount", req.Amount.String(), "must be positive")
	}
	if req.Type.RequiresPrice() && (req.Price == nil || req.Price.Sign() <= 0) {
		return apperrors.NewValidationError("price", req.Price, fmt.Sprintf("required for %s orders", req.Type))
	}
	if req.Type.RequiresStopPrice() && (req.StopPrice == nil || req.StopPrice.Sign() <= 0) {
		return apperrors.NewValidationError("stop_price", req.StopPrice, fmt.Sprintf("required for %s orders", req.Type))
	}
	if req.Price != nil && req.Price.Sign() <= 0 {
		return apperrors.NewValidationError("price", req.Price.String(), "must be positive")
	}
	if req.StopPrice != nil && req.StopPrice.Sign() <= 0 {
		return apperrors.NewValidationError("stop_price", req.StopPrice.String(), "must be positive")
	}
	if req.Leverage.IsNegative() {
		return apperrors.NewValidationError("leverage", req.Leverage.String(), "must not be negative")
	}
	if req.ExpiresAt != nil {
		if req.Type == models.OrderTypeMarket {
			return apperrors.NewValidationError("expires_at", req.ExpiresAt, "market orders cannot expire")
		}
		if !req.ExpiresAt.After(e.clock.Now()) {
			return apperrors.NewValidationError("expires_at", req.ExpiresAt, "must be in the future")
		}
	}
	return nil
}

// checkRisk runs the pre-trade gate against a snapshot of the account.
func (e *Engine) checkRisk(ctx context.Context, accountID string, req models.OrderRequest, price decimal.Decimal) error {
	if e.gate == nil {
		return nil
	}
	acct, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return err
	}
	result := e.gate.Validate(ctx, risk.Request{
		Order:     req,
		Price:     price,
		Portfolio: e.valuer.Snapshot(ctx, acct, e.cfg.BaseAsset, e.clock.Now()),
		Limits:    e.limitsFor(acct),
	})
	if result.Allowed {
		if len(result.Warnings) > 0 {
			e.logger.Info().
				Str("account_id", accountID).
				Str("symbol", req.Symbol).
				Strs("warnings", result.Warnings).
				Msg("Order accepted with risk warnings")
		}
		return nil
	}

	rv := &apperrors.RiskViolationError{
		Reasons:  result.Violations,
		Warnings: result.Warnings,
	}
	if s := result.Adjustments.SuggestedAmount; s != nil {
		rv.SuggestedAmount = s.String()
	}
	if s := result.Adjustments.SuggestedStopPrice; s != nil {
		rv.SuggestedStopPrice = s.String()
	}
	return rv
}

// limitsFor returns the account's override or the configured default.
func (e *Engine) limitsFor(acct *models.Account) models.RiskLimits {
	if acct.RiskLimits != nil {
		return *acct.RiskLimits
	}
	return e.cfg.DefaultLimits
}

func (e *Engine) newOrder(accountID string, req models.OrderRequest, now time.Time) *models.Order {
	return &models.Order{
		ID:            e.newID(),
		AccountID:     accountID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Amount:        req.Amount,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Status:        models.OrderStatusPending,
		Remaining:     req.Amount,
		ClientOrderID: req.ClientOrderID,
		Leverage:      req.Leverage,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// reservePrice is the per-unit quote price a buy order reserves against.
func (e *Engine) reservePrice(order *models.Order, current decimal.Decimal) decimal.Decimal {
	switch order.Type {
	case models.OrderTypeMarket:
		return e.slipped(current, order.Side)
	case models.OrderTypeStop:
		return e.slipped(decimal.Max(order.TriggerPrice(), current), order.Side)
	case models.OrderTypeTrailingStop:
		return e.slipped(order.TriggerPrice(), order.Side)
	default:
		return order.LimitPrice()
	}
}

// requirement is what an order of amount must lock: quote for buys
// (amount × price × (1 + fee)), base for sells.
func (e *Engine) requirement(order *models.Order, amount, price decimal.Decimal) (string, decimal.Decimal) {
	base, quote, _ := models.ParseSymbol(order.Symbol)
	if order.Side == models.OrderSideSell {
		return base, amount
	}
	return quote, amount.Mul(price).Mul(decimal.NewFromInt(1).Add(e.cfg.FeeRate))
}

// reserve locks the order's full requirement and records it on the order.
func (e *Engine) reserve(tx *ledger.Tx, order *models.Order, price decimal.Decimal) error {
	asset, amount := e.requirement(order, order.Amount, price)
	if err := tx.Lock(asset, amount); err != nil {
		return err
	}
	order.ReserveAsset = asset
	order.Reserved = amount
	return nil
}

// release unlocks whatever the order still holds.
func (e *Engine) release(tx *ledger.Tx, order *models.Order) error {
	if !order.Reserved.IsPositive() {
		order.Reserved = decimal.Zero
		return nil
	}
	if err := tx.Unlock(order.ReserveAsset, order.Reserved); err != nil {
		return err
	}
	order.Reserved = decimal.Zero
	return nil
}
