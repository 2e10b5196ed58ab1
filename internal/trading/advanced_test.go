package trading

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/models"
	"paper-exchange/internal/store"
)

func sellOCO(amount, price, stop string) OCORequest {
	return OCORequest{
		Symbol:    "BTC/USDT",
		Side:      models.OrderSideSell,
		Amount:    d(amount),
		Price:     d(price),
		StopPrice: d(stop),
	}
}

func TestOCO_PlacementValidatesPriceOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "BTC", "2")
	f.deposit(t, "alice", "USDT", "100000")

	res, err := f.engine.PlaceOCO(ctx, "alice", sellOCO("1", "60000", "58000"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderListID)
	assert.Equal(t, models.OrderStatusOpen, res.Limit.Status)
	assert.Equal(t, models.OrderStatusOpen, res.Stop.Status)
	assert.Equal(t, models.OrderTypeLimit, res.Limit.Type)
	assert.Equal(t, models.OrderTypeStop, res.Stop.Type)

	limitLink := res.Limit.TypeData.(*models.OCOLink)
	stopLink := res.Stop.TypeData.(*models.OCOLink)
	assert.Equal(t, res.Stop.ID, limitLink.SiblingID)
	assert.Equal(t, res.Limit.ID, stopLink.SiblingID)
	assert.Equal(t, res.OrderListID, stopLink.OrderListID)
	assert.True(t, f.balance(t, "alice", "BTC").Locked.Equal(d("2")))

	_, err = f.engine.PlaceOCO(ctx, "alice", sellOCO("1", "60000", "61000"))
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)

	buy := OCORequest{Symbol: "BTC/USDT", Side: models.OrderSideBuy, Amount: d("0.1"), Price: d("45000"), StopPrice: d("44000")}
	_, err = f.engine.PlaceOCO(ctx, "alice", buy)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)

	buy.StopPrice = d("52000")
	_, err = f.engine.PlaceOCO(ctx, "alice", buy)
	require.NoError(t, err)
	f.assertReservationsMatchLocks(t, "alice")
}

func TestOCO_InsufficientFundsPlacesNeitherLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "BTC", "1.5")

	_, err := f.engine.PlaceOCO(ctx, "alice", sellOCO("1", "60000", "58000"))
	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	orders, err := f.engine.ListOrders(ctx, "alice", store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.True(t, f.balance(t, "alice", "BTC").Available.Equal(d("1.5")))
}

func TestOCO_StopLimitLeg(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", "BTC", "2")

	req := sellOCO("1", "60000", "58000")
	req.StopLimitPrice = models.DecimalPtr(d("57900"))
	res, err := f.engine.PlaceOCO(context.Background(), "alice", req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderTypeStopLimit, res.Stop.Type)
	assert.True(t, res.Stop.LimitPrice().Equal(d("57900")))

	f.setPrice(t, "BTC/USDT", "57500")
	f.tick(t)
	filled := f.order(t, "alice", res.Stop.ID)
	assert.Equal(t, models.OrderStatusFilled, filled.Status)
	assert.True(t, filled.AveragePrice().Equal(d("57900")))
}

func TestOCO_CancelCancelsBothLegsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "BTC", "3")

	res, err := f.engine.PlaceOCO(ctx, "alice", sellOCO("1", "60000", "58000"))
	require.NoError(t, err)
	other, err := f.engine.PlaceOrder(ctx, "alice", limitReq("BTC/USDT", models.OrderSideSell, "0.5", "70000"))
	require.NoError(t, err)

	cancelled, err := f.engine.CancelOCO(ctx, "alice", res.Stop.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Limit.Status)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Stop.Status)
	assert.Equal(t, models.OrderStatusOpen, f.order(t, "alice", other.ID).Status)

	btc := f.balance(t, "alice", "BTC")
	assert.True(t, btc.Locked.Equal(d("0.5")))
	assert.True(t, btc.Available.Equal(d("2.5")))

	_, err = f.engine.CancelOCO(ctx, "alice", res.Limit.ID)
	require.ErrorIs(t, err, apperrors.ErrOrderNotCancellable)

	_, err = f.engine.CancelOCO(ctx, "alice", other.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)
}

func TestOCO_FillLeavesSiblingByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "BTC", "2")

	res, err := f.engine.PlaceOCO(ctx, "alice", sellOCO("1", "60000", "58000"))
	require.NoError(t, err)

	f.setPrice(t, "BTC/USDT", "60000")
	r := f.tick(t)
	assert.Equal(t, 1, r.Filled)

	assert.Equal(t, models.OrderStatusFilled, f.order(t, "alice", res.Limit.ID).Status)
	assert.Equal(t, models.OrderStatusOpen, f.order(t, "alice", res.Stop.ID).Status)
	assert.True(t, f.balance(t, "alice", "USDT").Total.Equal(d("59940")))
	assert.True(t, f.balance(t, "alice", "BTC").Locked.Equal(d("1")))

	// The surviving leg can still be cancelled through the pair.
	cancelled, err := f.engine.CancelOCO(ctx, "alice", res.Limit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, cancelled.Limit.Status)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Stop.Status)
	f.assertReservationsMatchLocks(t, "alice")
}

func TestOCO_FillCancelsSiblingWhenConfigured(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.OCOCancelSiblingOnFill = true })
	f.deposit(t, "alice", "BTC", "2")

	res, err := f.engine.PlaceOCO(context.Background(), "alice", sellOCO("1", "60000", "58000"))
	require.NoError(t, err)

	f.setPrice(t, "BTC/USDT", "61000")
	f.tick(t)

	assert.Equal(t, models.OrderStatusFilled, f.order(t, "alice", res.Limit.ID).Status)
	assert.Equal(t, models.OrderStatusCancelled, f.order(t, "alice", res.Stop.ID).Status)
	btc := f.balance(t, "alice", "BTC")
	assert.True(t, btc.Locked.IsZero())
	assert.True(t, btc.Available.Equal(d("1")))
}

func TestTrailing_SellFollowsPriceUp(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", "SOL", "1")

	order, err := f.engine.PlaceTrailingStop(context.Background(), "alice", TrailingStopRequest{
		Symbol:          "SOL/USDT",
		Side:            models.OrderSideSell,
		Amount:          d("1"),
		TrailingPercent: models.DecimalPtr(d("2")),
	})
	require.NoError(t, err)
	data := order.TypeData.(*models.TrailingStopData)
	assert.True(t, data.CurrentStopPrice.Equal(d("98")))
	assert.True(t, data.IsActivated)

	f.setPrice(t, "SOL/USDT", "110")
	f.tick(t)
	data = f.order(t, "alice", order.ID).TypeData.(*models.TrailingStopData)
	assert.True(t, data.HighestPrice.Equal(d("110")))
	assert.True(t, data.CurrentStopPrice.Equal(d("107.8")), data.CurrentStopPrice.String())

	f.setPrice(t, "SOL/USDT", "107")
	r := f.tick(t)
	assert.Equal(t, 1, r.Filled)

	filled := f.order(t, "alice", order.ID)
	assert.Equal(t, models.OrderStatusFilled, filled.Status)
	assert.True(t, filled.AveragePrice().Equal(d("107")))
	data = filled.TypeData.(*models.TrailingStopData)
	assert.NotNil(t, data.TriggeredAt)
	assert.False(t, data.IsActivated)
	assert.True(t, f.balance(t, "alice", "USDT").Total.Equal(d("106.893")))
}

func TestTrailing_ActivationPrice(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", "SOL", "1")

	order, err := f.engine.PlaceTrailingStop(context.Background(), "alice", TrailingStopRequest{
		Symbol:          "SOL/USDT",
		Side:            models.OrderSideSell,
		Amount:          d("1"),
		TrailingAmount:  models.DecimalPtr(d("5")),
		ActivationPrice: models.DecimalPtr(d("105")),
	})
	require.NoError(t, err)
	assert.False(t, order.TypeData.(*models.TrailingStopData).IsActivated)

	// Below the stop but not yet activated.
	f.setPrice(t, "SOL/USDT", "94")
	f.tick(t)
	assert.Equal(t, models.OrderStatusOpen, f.order(t, "alice", order.ID).Status)

	f.setPrice(t, "SOL/USDT", "106")
	f.tick(t)
	data := f.order(t, "alice", order.ID).TypeData.(*models.TrailingStopData)
	assert.True(t, data.IsActivated)
	assert.True(t, data.CurrentStopPrice.Equal(d("101")))

	f.setPrice(t, "SOL/USDT", "100")
	f.tick(t)
	filled := f.order(t, "alice", order.ID)
	assert.Equal(t, models.OrderStatusFilled, filled.Status)
	assert.True(t, filled.AveragePrice().Equal(d("100")))
}

func TestTrailing_BuyFollowsPriceDown(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", "USDT", "200")

	order, err := f.engine.PlaceTrailingStop(context.Background(), "alice", TrailingStopRequest{
		Symbol:         "SOL/USDT",
		Side:           models.OrderSideBuy,
		Amount:         d("1"),
		TrailingAmount: models.DecimalPtr(d("5")),
	})
	require.NoError(t, err)
	assert.True(t, order.Reserved.Equal(d("105.1575525")), order.Reserved.String())

	f.setPrice(t, "SOL/USDT", "90")
	f.tick(t)
	data := f.order(t, "alice", order.ID).TypeData.(*models.TrailingStopData)
	assert.True(t, data.LowestPrice.Equal(d("90")))
	assert.True(t, data.CurrentStopPrice.Equal(d("95")))

	f.setPrice(t, "SOL/USDT", "96")
	f.tick(t)
	assert.Equal(t, models.OrderStatusFilled, f.order(t, "alice", order.ID).Status)

	usdt := f.balance(t, "alice", "USDT")
	assert.True(t, usdt.Total.Equal(d("103.904")))
	assert.True(t, usdt.Locked.IsZero())
	assert.True(t, f.balance(t, "alice", "SOL").Total.Equal(d("1")))
}

func TestTrailing_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "SOL", "1")

	base := TrailingStopRequest{Symbol: "SOL/USDT", Side: models.OrderSideSell, Amount: d("1")}

	_, err := f.engine.PlaceTrailingStop(ctx, "alice", base)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)

	both := base
	both.TrailingAmount = models.DecimalPtr(d("1"))
	both.TrailingPercent = models.DecimalPtr(d("1"))
	_, err = f.engine.PlaceTrailingStop(ctx, "alice", both)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)

	pct := base
	pct.TrailingPercent = models.DecimalPtr(d("100"))
	_, err = f.engine.PlaceTrailingStop(ctx, "alice", pct)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)

	wide := base
	wide.TrailingAmount = models.DecimalPtr(d("150"))
	_, err = f.engine.PlaceTrailingStop(ctx, "alice", wide)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)
}

func TestTrailing_CancelRequiresTrailingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "SOL", "2")

	limit, err := f.engine.PlaceOrder(ctx, "alice", limitReq("SOL/USDT", models.OrderSideSell, "1", "150"))
	require.NoError(t, err)
	_, err = f.engine.CancelTrailingStop(ctx, "alice", limit.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)

	trailing, err := f.engine.PlaceTrailingStop(ctx, "alice", TrailingStopRequest{
		Symbol: "SOL/USDT", Side: models.OrderSideSell, Amount: d("1"), TrailingAmount: models.DecimalPtr(d("3")),
	})
	require.NoError(t, err)
	cancelled, err := f.engine.CancelTrailingStop(ctx, "alice", trailing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	f.assertReservationsMatchLocks(t, "alice")
}

// icebergConserved checks executed + hidden + outstanding child amounts == total.
func icebergConserved(t *testing.T, f *fixture, account, parentID string) {
	t.Helper()
	parent := f.order(t, account, parentID)
	data := parent.TypeData.(*models.IcebergData)
	children, err := f.engine.IcebergChildren(context.Background(), account, parentID)
	require.NoError(t, err)
	outstanding := decimal.Zero
	for _, c := range children {
		if !c.IsTerminal() {
			outstanding = outstanding.Add(c.Remaining)
		}
	}
	sum := data.ExecutedSize.Add(data.HiddenRemaining).Add(outstanding)
	assert.True(t, sum.Equal(data.TotalSize), "executed %s + hidden %s + outstanding %s != %s",
		data.ExecutedSize, data.HiddenRemaining, outstanding, data.TotalSize)
}

func TestIceberg_WorksThroughChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "SOL", "10")

	parent, err := f.engine.PlaceIceberg(ctx, "alice", IcebergRequest{
		Symbol:      "SOL/USDT",
		Side:        models.OrderSideSell,
		TotalSize:   d("10"),
		VisibleSize: d("2"),
		Price:       d("120"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOpen, parent.Status)
	data := parent.TypeData.(*models.IcebergData)
	require.Len(t, data.ChildOrders, 1)
	assert.True(t, data.HiddenRemaining.Equal(d("8")))
	icebergConserved(t, f, "alice", parent.ID)
	f.assertReservationsMatchLocks(t, "alice")

	// Parents are never evaluated; the child does not trigger below 120.
	r := f.tick(t)
	assert.Equal(t, 1, r.Evaluated)
	assert.Zero(t, r.Filled)

	f.setPrice(t, "SOL/USDT", "120")
	for i := 0; i < 5; i++ {
		r := f.tick(t)
		assert.Equal(t, 1, r.Filled)
		icebergConserved(t, f, "alice", parent.ID)
		f.assertReservationsMatchLocks(t, "alice")
	}

	done := f.order(t, "alice", parent.ID)
	assert.Equal(t, models.OrderStatusFilled, done.Status)
	data = done.TypeData.(*models.IcebergData)
	assert.True(t, data.ExecutedSize.Equal(d("10")))
	assert.True(t, data.HiddenRemaining.IsZero())
	assert.Len(t, data.ChildOrders, 5)

	children, err := f.engine.IcebergChildren(ctx, "alice", parent.ID)
	require.NoError(t, err)
	for i, c := range children {
		assert.Equal(t, models.OrderStatusFilled, c.Status)
		assert.Equal(t, i+1, c.TypeData.(*models.IcebergChild).Sequence)
	}

	assert.True(t, f.balance(t, "alice", "USDT").Total.Equal(d("1198.8")))
	sol := f.balance(t, "alice", "SOL")
	assert.True(t, sol.Total.IsZero())
	assert.True(t, sol.Locked.IsZero())
	assert.Zero(t, f.tick(t).Evaluated)
}

func TestIceberg_CancelMidway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "SOL", "10")

	parent, err := f.engine.PlaceIceberg(ctx, "alice", IcebergRequest{
		Symbol: "SOL/USDT", Side: models.OrderSideSell, TotalSize: d("10"), VisibleSize: d("2"), Price: d("120"),
	})
	require.NoError(t, err)

	f.setPrice(t, "SOL/USDT", "125")
	f.tick(t)
	f.setPrice(t, "SOL/USDT", "100")

	children, err := f.engine.IcebergChildren(ctx, "alice", parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	// Cancelling the visible child cancels the whole iceberg.
	cancelled, err := f.engine.CancelOrder(ctx, "alice", children[1].ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, cancelled.ID)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.OrderStatusCancelled, f.order(t, "alice", children[1].ID).Status)

	sol := f.balance(t, "alice", "SOL")
	assert.True(t, sol.Total.Equal(d("8")))
	assert.True(t, sol.Locked.IsZero())

	_, err = f.engine.CancelOrder(ctx, "alice", parent.ID)
	require.ErrorIs(t, err, apperrors.ErrOrderNotCancellable)
}

func TestIceberg_CancelFilledChildIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "SOL", "10")

	parent, err := f.engine.PlaceIceberg(ctx, "alice", IcebergRequest{
		Symbol: "SOL/USDT", Side: models.OrderSideSell, TotalSize: d("10"), VisibleSize: d("2"), Price: d("120"),
	})
	require.NoError(t, err)

	f.setPrice(t, "SOL/USDT", "125")
	f.tick(t)
	f.setPrice(t, "SOL/USDT", "100")

	children, err := f.engine.IcebergChildren(ctx, "alice", parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, models.OrderStatusFilled, children[0].Status)

	_, err = f.engine.CancelOrder(ctx, "alice", children[0].ID)
	require.ErrorIs(t, err, apperrors.ErrOrderNotCancellable)

	assert.False(t, f.order(t, "alice", parent.ID).IsTerminal())
	assert.Equal(t, models.OrderStatusOpen, f.order(t, "alice", children[1].ID).Status)
	sol := f.balance(t, "alice", "SOL")
	assert.True(t, sol.Available.IsZero(), "available %s", sol.Available)
	assert.True(t, sol.Locked.Equal(d("8")), "locked %s", sol.Locked)
	f.assertReservationsMatchLocks(t, "alice")
}

func TestIceberg_BuyReservationsSumToParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "USDT", "1000")

	parent, err := f.engine.PlaceIceberg(ctx, "alice", IcebergRequest{
		Symbol: "SOL/USDT", Side: models.OrderSideBuy, TotalSize: d("7"), VisibleSize: d("3"), Price: d("90"),
	})
	require.NoError(t, err)
	// 7 × 90 × 1.001
	assert.True(t, f.balance(t, "alice", "USDT").Locked.Equal(d("630.63")))

	f.setPrice(t, "SOL/USDT", "89")
	for i := 0; i < 3; i++ {
		f.tick(t)
		icebergConserved(t, f, "alice", parent.ID)
		f.assertReservationsMatchLocks(t, "alice")
	}
	assert.Equal(t, models.OrderStatusFilled, f.order(t, "alice", parent.ID).Status)
	assert.True(t, f.balance(t, "alice", "SOL").Total.Equal(d("7")))
	usdt := f.balance(t, "alice", "USDT")
	assert.True(t, usdt.Total.Equal(d("369.37")))
	assert.True(t, usdt.Locked.IsZero())
}

func TestIceberg_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", "SOL", "10")

	for name, req := range map[string]IcebergRequest{
		"visible equals total": {Symbol: "SOL/USDT", Side: models.OrderSideSell, TotalSize: d("10"), VisibleSize: d("10"), Price: d("120")},
		"zero visible":         {Symbol: "SOL/USDT", Side: models.OrderSideSell, TotalSize: d("10"), VisibleSize: d("0"), Price: d("120")},
		"no price":             {Symbol: "SOL/USDT", Side: models.OrderSideSell, TotalSize: d("10"), VisibleSize: d("2")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.PlaceIceberg(ctx, "alice", req)
			require.ErrorIs(t, err, apperrors.ErrInvalidOrderParameters)
		})
	}

	_, err := f.engine.IcebergChildren(ctx, "alice", "nope")
	require.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}

func TestEvaluate(t *testing.T) {
	e := &Engine{cfg: DefaultConfig()}
	open := func(o *models.Order) *models.Order {
		o.Status = models.OrderStatusOpen
		return o
	}
	p := func(s string) *decimal.Decimal { return models.DecimalPtr(d(s)) }

	cases := []struct {
		name    string
		order   *models.Order
		current string
		fills   bool
		price   string
	}{
		{"limit buy below", open(&models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Price: p("100")}), "99", true, "100"},
		{"limit buy above", open(&models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Price: p("100")}), "101", false, "0"},
		{"limit sell at", open(&models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideSell, Price: p("100")}), "100", true, "100"},
		{"stop sell crossed", open(&models.Order{Type: models.OrderTypeStop, Side: models.OrderSideSell, StopPrice: p("100")}), "100", true, "99.95"},
		{"stop buy crossed", open(&models.Order{Type: models.OrderTypeStop, Side: models.OrderSideBuy, StopPrice: p("100")}), "102", true, "102.051"},
		{"stop buy waiting", open(&models.Order{Type: models.OrderTypeStop, Side: models.OrderSideBuy, StopPrice: p("100")}), "99", false, "0"},
		{"take profit sell", open(&models.Order{Type: models.OrderTypeTakeProfit, Side: models.OrderSideSell, Price: p("110")}), "111", true, "110"},
		{"iceberg parent", open(&models.Order{Type: models.OrderTypeIceberg, Side: models.OrderSideSell, Price: p("1")}), "100", false, "0"},
		{"closed order", &models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Price: p("100"), Status: models.OrderStatusFilled}, "50", false, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fills, price := e.Evaluate(tc.order, d(tc.current))
			assert.Equal(t, tc.fills, fills)
			assert.True(t, price.Equal(d(tc.price)), price.String())
		})
	}
}
