package trading

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/logging"
	"paper-exchange/internal/models"
)

// IcebergRequest describes an iceberg: TotalSize worked as a sequence of
// limit children of at most VisibleSize at Price.
type IcebergRequest struct {
	Symbol        string
	Side          models.OrderSide
	TotalSize     decimal.Decimal
	VisibleSize   decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// PlaceIceberg places the non-executing parent and its first child. The
// parent reserves for the total size; each child's reservation is carved
// out of the parent's without moving ledger funds.
func (e *Engine) PlaceIceberg(ctx context.Context, accountID string, req IcebergRequest) (*models.Order, error) {
	parentReq := models.OrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          models.OrderTypeIceberg,
		Amount:        req.TotalSize,
		Price:         models.DecimalPtr(req.Price),
		ClientOrderID: req.ClientOrderID,
	}
	if err := e.validateRequest(&parentReq); err != nil {
		return nil, err
	}
	if req.VisibleSize.Sign() <= 0 || !req.VisibleSize.LessThan(req.TotalSize) {
		return nil, apperrors.NewValidationError("visible_size", req.VisibleSize.String(), "must be positive and below total size")
	}

	price, err := e.price(ctx, parentReq.Symbol)
	if err != nil {
		return nil, err
	}
	riskReq := parentReq
	riskReq.Type = models.OrderTypeLimit
	if err := e.checkRisk(ctx, accountID, riskReq, price); err != nil {
		return nil, err
	}

	var placed *models.Order
	err = e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		parent := e.newOrder(accountID, parentReq, tx.Now())
		parent.TypeData = &models.IcebergData{
			VisibleSize:     req.VisibleSize,
			TotalSize:       req.TotalSize,
			HiddenRemaining: req.TotalSize,
		}
		if err := e.reserve(tx, parent, parent.LimitPrice()); err != nil {
			return err
		}
		if err := parent.Transition(models.OrderStatusOpen, tx.Now()); err != nil {
			return err
		}
		child, err := e.spawnChild(tx, parent)
		if err != nil {
			return err
		}
		e.persistPair(tx, parent, child)
		placed = parent.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.LogOrder(e.logger, placed)
	return placed, nil
}

// spawnChild carves the next visible slice out of the parent.
func (e *Engine) spawnChild(tx *ledger.Tx, parent *models.Order) (*models.Order, error) {
	data, ok := parent.TypeData.(*models.IcebergData)
	if !ok {
		return nil, fmt.Errorf("order %s has no iceberg data", parent.ID)
	}
	size := data.NextChildSize()
	if !size.IsPositive() {
		return nil, fmt.Errorf("iceberg %s has nothing left to show", parent.ID)
	}

	child := e.newOrder(parent.AccountID, models.OrderRequest{
		Symbol: parent.Symbol,
		Side:   parent.Side,
		Type:   models.OrderTypeLimit,
		Amount: size,
		Price:  models.DecimalPtr(parent.LimitPrice()),
	}, tx.Now())
	child.TypeData = &models.IcebergChild{ParentID: parent.ID, Sequence: len(data.ChildOrders) + 1}

	_, share := e.requirement(child, size, parent.LimitPrice())
	share = decimal.Min(share, parent.Reserved)
	parent.Reserved = parent.Reserved.Sub(share)
	child.Reserved = share
	child.ReserveAsset = parent.ReserveAsset
	if err := child.Transition(models.OrderStatusOpen, tx.Now()); err != nil {
		return nil, err
	}

	data.HiddenRemaining = data.HiddenRemaining.Sub(size)
	data.ChildOrders = append(data.ChildOrders, child.ID)
	data.ActiveChildID = child.ID
	parent.UpdatedAt = tx.Now()
	return child, nil
}

// onChildFilled folds a filled child into its parent and shows the next
// slice, all in the caller's critical section.
func (e *Engine) onChildFilled(ctx context.Context, tx *ledger.Tx, child *models.Order) error {
	link, ok := child.TypeData.(*models.IcebergChild)
	if !ok {
		return nil
	}
	parent, err := e.loadOwned(ctx, child.AccountID, link.ParentID)
	if err != nil {
		return err
	}
	if parent.IsTerminal() {
		return nil
	}
	data := parent.TypeData.(*models.IcebergData)

	data.ExecutedSize = data.ExecutedSize.Add(child.Filled)
	data.ActiveChildID = ""
	if err := parent.ApplyFill(child.Filled, parent.LimitPrice(), child.Fees, tx.Now()); err != nil {
		return err
	}

	if data.HiddenRemaining.IsPositive() {
		next, err := e.spawnChild(tx, parent)
		if err != nil {
			return err
		}
		e.persist(tx, next)
	} else if err := e.release(tx, parent); err != nil {
		return err
	}
	e.update(tx, parent)
	logging.LogOrder(e.logger, parent)
	return nil
}

// cancelIceberg cancels the parent and its outstanding child.
func (e *Engine) cancelIceberg(ctx context.Context, tx *ledger.Tx, parent *models.Order) error {
	if parent.IsTerminal() {
		return apperrors.NewOrderError(parent.ID, parent.Symbol, "cancel",
			"iceberg is "+string(parent.Status), apperrors.ErrOrderNotCancellable)
	}
	data := parent.TypeData.(*models.IcebergData)
	if data.ActiveChildID != "" {
		child, err := e.loadOwned(ctx, parent.AccountID, data.ActiveChildID)
		if err != nil {
			return err
		}
		if !child.IsTerminal() {
			if err := e.cancel(tx, child); err != nil {
				return err
			}
			e.update(tx, child)
		}
		data.ActiveChildID = ""
	}
	if err := e.cancel(tx, parent); err != nil {
		return err
	}
	e.update(tx, parent)
	return nil
}

// IcebergChildren returns the children of an iceberg parent in sequence order.
func (e *Engine) IcebergChildren(ctx context.Context, accountID, parentID string) ([]*models.Order, error) {
	parent, err := e.loadOwned(ctx, accountID, parentID)
	if err != nil {
		return nil, err
	}
	data, ok := parent.TypeData.(*models.IcebergData)
	if !ok {
		return nil, apperrors.NewValidationError("order_id", parentID, "order is not an iceberg")
	}
	children := make([]*models.Order, 0, len(data.ChildOrders))
	for _, id := range data.ChildOrders {
		child, err := e.loadOwned(ctx, accountID, id)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
