package trading

import (
	"context"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/logging"
	"paper-exchange/internal/models"
)

// OCORequest describes a One-Cancels-Other pair: a limit leg at Price and a
// stop leg triggering at StopPrice. With StopLimitPrice set the stop leg is
// a stop_limit order.
type OCORequest struct {
	Symbol         string
	Side           models.OrderSide
	Amount         decimal.Decimal
	Price          decimal.Decimal
	StopPrice      decimal.Decimal
	StopLimitPrice *decimal.Decimal
	ClientOrderID  string
}

// OCOResult holds both legs of a pair.
type OCOResult struct {
	OrderListID string
	Limit       *models.Order
	Stop        *models.Order
}

// PlaceOCO places both legs of an OCO pair, or neither. Each leg holds its
// own reservation.
func (e *Engine) PlaceOCO(ctx context.Context, accountID string, req OCORequest) (*OCOResult, error) {
	limitReq := models.OrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          models.OrderTypeLimit,
		Amount:        req.Amount,
		Price:         models.DecimalPtr(req.Price),
		ClientOrderID: req.ClientOrderID,
	}
	if err := e.validateRequest(&limitReq); err != nil {
		return nil, err
	}
	if req.StopPrice.Sign() <= 0 {
		return nil, apperrors.NewValidationError("stop_price", req.StopPrice.String(), "must be positive")
	}
	switch limitReq.Side {
	case models.OrderSideSell:
		if !req.StopPrice.LessThan(req.Price) {
			return nil, apperrors.NewValidationError("stop_price", req.StopPrice.String(), "sell OCO requires stop price below limit price")
		}
	case models.OrderSideBuy:
		if !req.StopPrice.GreaterThan(req.Price) {
			return nil, apperrors.NewValidationError("stop_price", req.StopPrice.String(), "buy OCO requires stop price above limit price")
		}
	}

	stopReq := limitReq
	stopReq.Type = models.OrderTypeStop
	stopReq.Price = nil
	stopReq.StopPrice = models.DecimalPtr(req.StopPrice)
	if req.StopLimitPrice != nil {
		stopReq.Type = models.OrderTypeStopLimit
		stopReq.Price = req.StopLimitPrice
	}
	if err := e.validateRequest(&stopReq); err != nil {
		return nil, err
	}

	price, err := e.price(ctx, limitReq.Symbol)
	if err != nil {
		return nil, err
	}
	if err := e.checkRisk(ctx, accountID, limitReq, price); err != nil {
		return nil, err
	}

	result := &OCOResult{OrderListID: e.newID()}
	err = e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		limit := e.newOrder(accountID, limitReq, tx.Now())
		stop := e.newOrder(accountID, stopReq, tx.Now())
		limit.TypeData = &models.OCOLink{OrderListID: result.OrderListID, SiblingID: stop.ID, Leg: models.OCOLegLimit}
		stop.TypeData = &models.OCOLink{OrderListID: result.OrderListID, SiblingID: limit.ID, Leg: models.OCOLegStop}

		for _, leg := range []*models.Order{limit, stop} {
			if err := e.reserve(tx, leg, e.reservePrice(leg, price)); err != nil {
				return err
			}
			if err := leg.Transition(models.OrderStatusOpen, tx.Now()); err != nil {
				return err
			}
		}
		e.persistPair(tx, limit, stop)
		result.Limit, result.Stop = limit.Clone(), stop.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogOrder(e.logger, result.Limit)
	logging.LogOrder(e.logger, result.Stop)
	return result, nil
}

// persistPair saves both legs; when the second save fails the first is
// deleted so no half pair is left resting.
func (e *Engine) persistPair(tx *ledger.Tx, first, second *models.Order) {
	a, b := first.Clone(), second.Clone()
	tx.AfterSaveUndo(func(ctx context.Context) error {
		if err := e.orders.SaveOrder(ctx, a); err != nil {
			return err
		}
		if err := e.orders.SaveOrder(ctx, b); err != nil {
			if derr := e.orders.DeleteOrder(ctx, a.ID); derr != nil {
				e.logger.Error().Err(derr).Str("order_id", a.ID).Msg("Failed to remove orphaned OCO leg")
			}
			return err
		}
		return nil
	}, func(ctx context.Context) error {
		if err := e.orders.DeleteOrder(ctx, b.ID); err != nil {
			return err
		}
		return e.orders.DeleteOrder(ctx, a.ID)
	})
}

// CancelOCO cancels both legs of the pair containing orderID. A leg that is
// already terminal is left untouched; ErrOrderNotCancellable is returned
// only when both are.
func (e *Engine) CancelOCO(ctx context.Context, accountID, orderID string) (*OCOResult, error) {
	var result *OCOResult
	err := e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		order, err := e.loadOwned(ctx, accountID, orderID)
		if err != nil {
			return err
		}
		link, ok := order.TypeData.(*models.OCOLink)
		if !ok {
			return apperrors.NewValidationError("order_id", orderID, "order is not part of an OCO pair")
		}
		sibling, err := e.loadOwned(ctx, accountID, link.SiblingID)
		if err != nil {
			return err
		}
		if order.IsTerminal() && sibling.IsTerminal() {
			return apperrors.NewOrderError(orderID, order.Symbol, "cancel_oco",
				"both legs are terminal", apperrors.ErrOrderNotCancellable)
		}

		for _, leg := range []*models.Order{order, sibling} {
			if leg.IsTerminal() {
				continue
			}
			if err := e.cancel(tx, leg); err != nil {
				return err
			}
			e.update(tx, leg)
		}

		result = &OCOResult{OrderListID: link.OrderListID}
		if link.Leg == models.OCOLegLimit {
			result.Limit, result.Stop = order.Clone(), sibling.Clone()
		} else {
			result.Limit, result.Stop = sibling.Clone(), order.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.LogOrder(e.logger, result.Limit)
	logging.LogOrder(e.logger, result.Stop)
	return result, nil
}

// cancelSibling cancels the surviving leg after an OCO fill, when configured.
func (e *Engine) cancelSibling(ctx context.Context, tx *ledger.Tx, filled *models.Order) error {
	link, ok := filled.TypeData.(*models.OCOLink)
	if !ok || !e.cfg.OCOCancelSiblingOnFill {
		return nil
	}
	sibling, err := e.loadOwned(ctx, filled.AccountID, link.SiblingID)
	if err != nil {
		return err
	}
	if sibling.IsTerminal() {
		return nil
	}
	if err := e.cancel(tx, sibling); err != nil {
		return err
	}
	e.update(tx, sibling)
	e.logger.Info().
		Str("order_id", sibling.ID).
		Str("filled_sibling", filled.ID).
		Str("order_list_id", link.OrderListID).
		Msg("OCO sibling cancelled after fill")
	return nil
}
