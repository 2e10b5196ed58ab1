package trading

import (
	"github.com/shopspring/decimal"

	"paper-exchange/internal/models"
)

// Evaluate reports whether a resting order triggers at the current price and
// the price it fills at. It does not mutate the order; trailing stops must be
// advanced with advanceTrailing first.
func (e *Engine) Evaluate(order *models.Order, current decimal.Decimal) (bool, decimal.Decimal) {
	if !order.Status.IsOpen() || !current.IsPositive() {
		return false, decimal.Zero
	}
	buy := order.Side == models.OrderSideBuy

	switch order.Type {
	case models.OrderTypeLimit, models.OrderTypeTakeProfit:
		limit := order.LimitPrice()
		if buy && current.LessThanOrEqual(limit) || !buy && current.GreaterThanOrEqual(limit) {
			return true, limit
		}

	case models.OrderTypeStop:
		if stopCrossed(buy, current, order.TriggerPrice()) {
			return true, e.slipped(current, order.Side)
		}

	case models.OrderTypeStopLimit:
		if stopCrossed(buy, current, order.TriggerPrice()) {
			if e.cfg.StopLimitFill == StopLimitFillMarket {
				return true, e.slipped(current, order.Side)
			}
			return true, order.LimitPrice()
		}

	case models.OrderTypeTrailingStop:
		data, ok := order.TypeData.(*models.TrailingStopData)
		if ok && data.IsActivated && stopCrossed(buy, current, data.CurrentStopPrice) {
			return true, current
		}

	case models.OrderTypeIceberg:
		// The parent never executes; its children are limit orders.
	}
	return false, decimal.Zero
}

// stopCrossed is current ≥ stop for buys and current ≤ stop for sells.
func stopCrossed(buy bool, current, stop decimal.Decimal) bool {
	if buy {
		return current.GreaterThanOrEqual(stop)
	}
	return current.LessThanOrEqual(stop)
}
