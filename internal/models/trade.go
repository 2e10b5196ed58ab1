package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents one simulated fill.
type Trade struct {
	ID          string
	OrderID     string
	AccountID   string
	Symbol      string
	Side        OrderSide
	Amount      decimal.Decimal
	Price       decimal.Decimal
	Notional    decimal.Decimal
	Fee         decimal.Decimal
	FeeAsset    string
	RealizedPnL decimal.Decimal
	ExecutedAt  time.Time
}
