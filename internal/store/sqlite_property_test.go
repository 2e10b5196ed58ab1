package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"paper-exchange/internal/models"
)

// Property: for any valid order, saving it and then retrieving it by ID
// produces an equivalent order, including decimals and type data.
func TestProperty_OrderRoundTripConsistency(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "orders_property.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "ETH/BTC"}
	typeGen := gen.OneConstOf(models.OrderTypeLimit, models.OrderTypeStop, models.OrderTypeStopLimit,
		models.OrderTypeTakeProfit, models.OrderTypeTrailingStop, models.OrderTypeIceberg)
	sideGen := gen.OneConstOf(models.OrderSideBuy, models.OrderSideSell)

	seq := 0
	properties.Property("Order round-trip: save then find produces equivalent data", prop.ForAll(
		func(symbolIdx int, typ models.OrderType, side models.OrderSide, amountCents int64, priceCents int64) bool {
			ctx := context.Background()
			seq++
			order := generateTestOrder(fmt.Sprintf("ord-%d-%d", seq, time.Now().UnixNano()),
				symbols[symbolIdx%len(symbols)], typ, side,
				decimal.New(amountCents, -4), decimal.New(priceCents, -2))

			if err := store.SaveOrder(ctx, order); err != nil {
				t.Logf("Failed to save order: %v", err)
				return false
			}
			got, err := store.FindOrder(ctx, order.ID)
			if err != nil {
				t.Logf("Failed to find order: %v", err)
				return false
			}
			if !ordersEqual(order, got) {
				t.Logf("Order mismatch: original=%+v, retrieved=%+v", order, got)
				return false
			}
			return true
		},
		gen.IntRange(0, len(symbols)-1),
		typeGen,
		sideGen,
		gen.Int64Range(1, 10_000_000),
		gen.Int64Range(1, 10_000_000),
	))

	properties.TestingRun(t)
}

// generateTestOrder builds an open order carrying the type data its type implies.
func generateTestOrder(id, symbol string, typ models.OrderType, side models.OrderSide, amount, price decimal.Decimal) *models.Order {
	now := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	o := &models.Order{
		ID:           id,
		AccountID:    "acct-1",
		Symbol:       symbol,
		Side:         side,
		Type:         typ,
		Amount:       amount,
		Price:        models.DecimalPtr(price),
		Status:       models.OrderStatusOpen,
		Remaining:    amount,
		Reserved:     amount,
		ReserveAsset: "BTC",
		Leverage:     decimal.NewFromInt(1),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	switch typ {
	case models.OrderTypeStop, models.OrderTypeStopLimit:
		o.StopPrice = models.DecimalPtr(price.Mul(decimal.RequireFromString("0.95")))
		o.TypeData = &models.OCOLink{OrderListID: "list-" + id, SiblingID: "sib-" + id, Leg: models.OCOLegStop}
	case models.OrderTypeTrailingStop:
		o.Price = nil
		o.TypeData = &models.TrailingStopData{
			TrailingPercent:  models.DecimalPtr(decimal.NewFromInt(2)),
			CurrentStopPrice: price,
			HighestPrice:     price,
			LowestPrice:      price,
			IsActivated:      true,
		}
	case models.OrderTypeIceberg:
		o.TypeData = &models.IcebergData{
			VisibleSize:     amount.Div(decimal.NewFromInt(4)),
			TotalSize:       amount,
			HiddenRemaining: amount,
			ChildOrders:     []string{"child-" + id},
			ActiveChildID:   "child-" + id,
		}
	}
	return o
}

// ordersEqual compares the persisted fields of two orders.
func ordersEqual(a, b *models.Order) bool {
	if a.ID != b.ID || a.AccountID != b.AccountID || a.Symbol != b.Symbol ||
		a.Side != b.Side || a.Type != b.Type || a.Status != b.Status {
		return false
	}
	if !a.Amount.Equal(b.Amount) || !a.Remaining.Equal(b.Remaining) || !a.Reserved.Equal(b.Reserved) {
		return false
	}
	if !decimalPtrEqual(a.Price, b.Price) || !decimalPtrEqual(a.StopPrice, b.StopPrice) {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	if (a.TypeData == nil) != (b.TypeData == nil) {
		return false
	}
	if a.TypeData != nil && a.TypeData.Kind() != b.TypeData.Kind() {
		return false
	}
	if ad, ok := a.TypeData.(*models.IcebergData); ok {
		bd := b.TypeData.(*models.IcebergData)
		if !ad.TotalSize.Equal(bd.TotalSize) || len(ad.ChildOrders) != len(bd.ChildOrders) {
			return false
		}
	}
	return true
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
