package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/logging"
	"paper-exchange/internal/models"
)

// TrailingStopRequest describes a trailing stop. Exactly one of
// TrailingAmount and TrailingPercent must be set.
type TrailingStopRequest struct {
	Symbol          string
	Side            models.OrderSide
	Amount          decimal.Decimal
	TrailingAmount  *decimal.Decimal
	TrailingPercent *decimal.Decimal
	ActivationPrice *decimal.Decimal
	ClientOrderID   string
}

// PlaceTrailingStop places a stop whose trigger follows the market in the
// position's favour and never retreats.
func (e *Engine) PlaceTrailingStop(ctx context.Context, accountID string, req TrailingStopRequest) (*models.Order, error) {
	if err := validateTrailing(req); err != nil {
		return nil, err
	}
	base := models.OrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          models.OrderTypeTrailingStop,
		Amount:        req.Amount,
		ClientOrderID: req.ClientOrderID,
	}
	if err := e.validateRequest(&base); err != nil {
		return nil, err
	}

	price, err := e.price(ctx, base.Symbol)
	if err != nil {
		return nil, err
	}

	data := &models.TrailingStopData{
		TrailingAmount:  req.TrailingAmount,
		TrailingPercent: req.TrailingPercent,
		ActivationPrice: req.ActivationPrice,
		HighestPrice:    price,
		LowestPrice:     price,
	}
	data.CurrentStopPrice = data.StopFrom(price, base.Side)
	data.IsActivated = activationCrossed(data, base.Side, price)
	if !data.CurrentStopPrice.IsPositive() {
		return nil, apperrors.NewValidationError("trailing_amount", req.TrailingAmount, "stop would be non-positive at the current price")
	}

	base.StopPrice = models.DecimalPtr(data.CurrentStopPrice)
	if err := e.checkRisk(ctx, accountID, base, price); err != nil {
		return nil, err
	}

	var placed *models.Order
	err = e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		order := e.newOrder(accountID, base, tx.Now())
		order.TypeData = data
		if err := e.reserve(tx, order, e.reservePrice(order, price)); err != nil {
			return err
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
	return placed, nil
}

// CancelTrailingStop cancels a trailing stop order.
func (e *Engine) CancelTrailingStop(ctx context.Context, accountID, orderID string) (*models.Order, error) {
	var cancelled *models.Order
	err := e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		order, err := e.loadOwned(ctx, accountID, orderID)
		if err != nil {
			return err
		}
		if order.Type != models.OrderTypeTrailingStop {
			return apperrors.NewValidationError("order_id", orderID, fmt.Sprintf("order is %s, not trailing_stop", order.Type))
		}
		if err := e.cancelChecked(tx, order); err != nil {
			return err
		}
		cancelled = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.LogOrder(e.logger, cancelled)
	return cancelled, nil
}

func validateTrailing(req TrailingStopRequest) error {
	if (req.TrailingAmount == nil) == (req.TrailingPercent == nil) {
		return apperrors.NewValidationError("trailing", nil, "exactly one of trailing amount and trailing percent is required")
	}
	if req.TrailingAmount != nil && req.TrailingAmount.Sign() <= 0 {
		return apperrors.NewValidationError("trailing_amount", req.TrailingAmount.String(), "must be positive")
	}
	if req.TrailingPercent != nil {
		if req.TrailingPercent.Sign() <= 0 || req.TrailingPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return apperrors.NewValidationError("trailing_percent", req.TrailingPercent.String(), "must be in (0, 100)")
		}
	}
	if req.ActivationPrice != nil && req.ActivationPrice.Sign() <= 0 {
		return apperrors.NewValidationError("activation_price", req.ActivationPrice.String(), "must be positive")
	}
	return nil
}

// activationCrossed is current ≥ activation for sells and current ≤
// activation for buys; no activation price means immediately active.
func activationCrossed(data *models.TrailingStopData, side models.OrderSide, current decimal.Decimal) bool {
	if data.ActivationPrice == nil {
		return true
	}
	if side == models.OrderSideSell {
		return current.GreaterThanOrEqual(*data.ActivationPrice)
	}
	return current.LessThanOrEqual(*data.ActivationPrice)
}

// advanceTrailing moves the trailing state to the current price and reports
// whether anything changed. The stop only ever moves in the position's
// favour: up for sells, down for buys.
func advanceTrailing(order *models.Order, current decimal.Decimal, now time.Time) bool {
	data, ok := order.TypeData.(*models.TrailingStopData)
	if !ok || data.TriggeredAt != nil {
		return false
	}

	if !data.IsActivated {
		if !activationCrossed(data, order.Side, current) {
			return false
		}
		data.IsActivated = true
		data.HighestPrice = current
		data.LowestPrice = current
		data.CurrentStopPrice = data.StopFrom(current, order.Side)
		order.StopPrice = models.DecimalPtr(data.CurrentStopPrice)
		order.UpdatedAt = now
		return true
	}

	changed := false
	switch order.Side {
	case models.OrderSideSell:
		if current.GreaterThan(data.HighestPrice) {
			data.HighestPrice = current
			changed = true
			if candidate := data.StopFrom(current, order.Side); candidate.GreaterThan(data.CurrentStopPrice) {
				data.CurrentStopPrice = candidate
			}
		}
	case models.OrderSideBuy:
		if current.LessThan(data.LowestPrice) {
			data.LowestPrice = current
			changed = true
			if candidate := data.StopFrom(current, order.Side); candidate.LessThan(data.CurrentStopPrice) {
				data.CurrentStopPrice = candidate
			}
		}
	}
	if changed {
		order.StopPrice = models.DecimalPtr(data.CurrentStopPrice)
		order.UpdatedAt = now
	}
	return changed
}

// markTriggered records the trigger time and deactivates the trailing stop.
func markTriggered(order *models.Order, now time.Time) {
	if data, ok := order.TypeData.(*models.TrailingStopData); ok {
		t := now
		data.TriggeredAt = &t
		data.IsActivated = false
	}
}
