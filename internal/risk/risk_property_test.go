package risk

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-exchange/internal/models"
)

// Property: the suggested amount always fits within the position limit and
// is the largest such amount at 8 decimal places.
func TestProperty_SuggestedAmountFitsLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("amount × price <= maxValue and one step more exceeds it", prop.ForAll(
		func(maxCents, priceCents int64) bool {
			maxValue := decimal.New(maxCents, -2)
			price := decimal.New(priceCents, -2)

			amount := MaxAmountWithin(maxValue, price)
			if amount.IsNegative() || amount.Mul(price).GreaterThan(maxValue) {
				return false
			}
			if !amount.Equal(amount.Truncate(suggestionPlaces)) {
				return false
			}
			next := amount.Add(decimal.New(1, -suggestionPlaces))
			return next.Mul(price).GreaterThan(maxValue)
		},
		gen.Int64Range(1, 100_000_000),
		gen.Int64Range(1, 10_000_000),
	))

	properties.TestingRun(t)
}

// Property: re-validating an oversized buy at the suggested amount clears the
// position size check.
func TestProperty_SuggestionPassesPositionSize(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	g := NewGateWithChecks(zerolog.Nop(), PositionSizeCheck{})
	limits := models.RiskLimits{MaxPositionSize: decimal.RequireFromString("0.1")}

	properties.Property("suggested amount is accepted", prop.ForAll(
		func(cash, priceCents, amountMilli int64) bool {
			req := Request{
				Order:     buy("BTC/USDT", "0"),
				Price:     decimal.New(priceCents, -2),
				Portfolio: cashPortfolio(decimal.NewFromInt(cash).String()),
				Limits:    limits,
			}
			req.Order.Amount = decimal.New(amountMilli, -3)

			first := g.Validate(context.Background(), req)
			if first.Allowed {
				return first.Adjustments.SuggestedAmount == nil
			}
			if first.Adjustments.SuggestedAmount == nil {
				return false
			}
			req.Order.Amount = *first.Adjustments.SuggestedAmount
			return g.Validate(context.Background(), req).Allowed
		},
		gen.Int64Range(100, 1_000_000),
		gen.Int64Range(1, 10_000_000),
		gen.Int64Range(1, 100_000),
	))

	properties.TestingRun(t)
}
