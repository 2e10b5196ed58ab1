package trading

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"paper-exchange/internal/ledger"
	"paper-exchange/internal/models"
)

// errShortfall is returned by fill when a buy costs more than the order
// reserved and the difference cannot be locked.
var errShortfall = errors.New("fill cost exceeds reservation")

// fill executes the order's whole remaining amount at price, settles the
// ledger, updates cost basis and realized PnL and returns the trade.
func (e *Engine) fill(tx *ledger.Tx, order *models.Order, price decimal.Decimal) (*models.Trade, error) {
	base, quote, err := models.ParseSymbol(order.Symbol)
	if err != nil {
		return nil, err
	}
	qty := order.Remaining
	notional := qty.Mul(price)
	fee := notional.Mul(e.cfg.FeeRate)
	acct := tx.Account()
	held := acct.Balance(base).Total

	trade := &models.Trade{
		ID:         e.newID(),
		OrderID:    order.ID,
		AccountID:  order.AccountID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Amount:     qty,
		Price:      price,
		Notional:   notional,
		Fee:        fee,
		FeeAsset:   quote,
		ExecutedAt: tx.Now(),
	}

	switch order.Side {
	case models.OrderSideBuy:
		cost := notional.Add(fee)
		if cost.GreaterThan(order.Reserved) {
			shortfall := cost.Sub(order.Reserved)
			if err := tx.Lock(quote, shortfall); err != nil {
				return nil, fmt.Errorf("%w: %v", errShortfall, err)
			}
			order.Reserved = order.Reserved.Add(shortfall)
		}
		if err := tx.Settle(quote, cost, base, qty); err != nil {
			return nil, err
		}
		order.Reserved = order.Reserved.Sub(cost)

		// Fees are folded into the entry price.
		prevCost := acct.CostBasis[base].Mul(held)
		acct.CostBasis[base] = prevCost.Add(cost).Div(held.Add(qty))

	case models.OrderSideSell:
		if err := tx.Settle(base, qty, quote, notional.Sub(fee)); err != nil {
			return nil, err
		}
		order.Reserved = order.Reserved.Sub(qty)

		if avg, ok := acct.CostBasis[base]; ok {
			trade.RealizedPnL = notional.Sub(fee).Sub(avg.Mul(qty))
			acct.RecordRealized(tx.Now(), trade.RealizedPnL)
		}
		if !acct.Balance(base).Total.IsPositive() {
			delete(acct.CostBasis, base)
		}
	}

	if err := e.release(tx, order); err != nil {
		return nil, err
	}
	if err := order.ApplyFill(qty, price, fee, tx.Now()); err != nil {
		return nil, err
	}
	return trade, nil
}

// reject releases the order's reservation and marks it rejected.
func (e *Engine) reject(tx *ledger.Tx, order *models.Order, reason string) error {
	if err := e.release(tx, order); err != nil {
		return err
	}
	if err := order.Transition(models.OrderStatusRejected, tx.Now()); err != nil {
		return err
	}
	order.RejectReason = reason
	return nil
}

// cancel releases the order's reservation and marks it cancelled.
func (e *Engine) cancel(tx *ledger.Tx, order *models.Order) error {
	if err := e.release(tx, order); err != nil {
		return err
	}
	return order.Transition(models.OrderStatusCancelled, tx.Now())
}

// expire releases the order's reservation and marks it expired.
func (e *Engine) expire(tx *ledger.Tx, order *models.Order) error {
	if err := e.release(tx, order); err != nil {
		return err
	}
	return order.Transition(models.OrderStatusExpired, tx.Now())
}
