package trading

import (
	"context"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/logging"
	"paper-exchange/internal/models"
)

// CancelOrder cancels an open order and releases its reservation.
// Cancelling an iceberg parent or any of its open children cancels the
// whole iceberg. Cancelling one OCO leg leaves its sibling alone; use CancelOCO
// for both.
func (e *Engine) CancelOrder(ctx context.Context, accountID, orderID string) (*models.Order, error) {
	var cancelled *models.Order
	err := e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		order, err := e.loadOwned(ctx, accountID, orderID)
		if err != nil {
			return err
		}
		if child, ok := order.TypeData.(*models.IcebergChild); ok {
			if order.IsTerminal() {
				return apperrors.NewOrderError(order.ID, order.Symbol, "cancel",
					"order is "+string(order.Status), apperrors.ErrOrderNotCancellable)
			}
			if order, err = e.loadOwned(ctx, accountID, child.ParentID); err != nil {
				return err
			}
		}
		if order.Type == models.OrderTypeIceberg {
			if err := e.cancelIceberg(ctx, tx, order); err != nil {
				return err
			}
		} else if err := e.cancelChecked(tx, order); err != nil {
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

// cancelChecked cancels order inside tx, failing when it is already terminal.
func (e *Engine) cancelChecked(tx *ledger.Tx, order *models.Order) error {
	if order.IsTerminal() {
		return apperrors.NewOrderError(order.ID, order.Symbol, "cancel",
			"order is "+string(order.Status), apperrors.ErrOrderNotCancellable)
	}
	if err := e.cancel(tx, order); err != nil {
		return err
	}
	e.update(tx, order)
	return nil
}
