package risk

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-exchange/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cashPortfolio(cash string) PortfolioSnapshot {
	return PortfolioSnapshot{
		AccountID:      "alice",
		ValuationAsset: "USDT",
		Value:          d(cash),
		Cash:           d(cash),
		Holdings:       map[string]decimal.Decimal{"USDT": d(cash)},
		Quantities:     map[string]decimal.Decimal{"USDT": d(cash)},
	}
}

func buy(symbol, amount string) models.OrderRequest {
	return models.OrderRequest{Symbol: symbol, Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Amount: d(amount)}
}

func moderate(t *testing.T) models.RiskLimits {
	t.Helper()
	limits, err := models.RiskProfilePreset(models.RiskProfileModerate)
	require.NoError(t, err)
	return limits
}

func TestGate_ZeroLimitsAllowEverything(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	result := g.Validate(context.Background(), Request{
		Order:     buy("BTC/USDT", "0.2"),
		Price:     d("50000"),
		Portfolio: cashPortfolio("10000"),
	})

	assert.True(t, result.Allowed)
	assert.Empty(t, result.Violations)
	assert.Len(t, result.ChecksPassed, 8)
	assert.Empty(t, result.ChecksFailed)
}

func TestGate_PositionSizeSuggestsAmount(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	result := g.Validate(context.Background(), Request{
		Order:     buy("BTC/USDT", "0.05"),
		Price:     d("50000"),
		Portfolio: cashPortfolio("10000"),
		Limits:    moderate(t),
	})

	require.False(t, result.Allowed)
	assert.Contains(t, result.ChecksFailed, "position_size")
	require.NotNil(t, result.Adjustments.SuggestedAmount)
	assert.True(t, result.Adjustments.SuggestedAmount.Equal(d("0.02")), result.Adjustments.SuggestedAmount.String())
}

func TestGate_LimitPriceDrivesNotional(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	order := buy("BTC/USDT", "0.02")
	order.Type = models.OrderTypeLimit
	order.Price = models.DecimalPtr(d("40000"))

	// 0.02 × 40000 = 800 fits under 10% of 10000 even though market value is 1000+.
	result := g.Validate(context.Background(), Request{
		Order:     order,
		Price:     d("60000"),
		Portfolio: cashPortfolio("10000"),
		Limits:    moderate(t),
	})
	assert.True(t, result.Allowed, result.Violations)
}

func TestGate_SellsAreNotSizeLimited(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	p := cashPortfolio("1000")
	p.Holdings["BTC"] = d("9000")
	p.Quantities["BTC"] = d("0.18")
	p.Value = d("10000")

	order := buy("BTC/USDT", "0.18")
	order.Side = models.OrderSideSell
	result := g.Validate(context.Background(), Request{Order: order, Price: d("50000"), Portfolio: p, Limits: moderate(t)})
	assert.True(t, result.Allowed, result.Violations)
}

func TestGate_StopLossRequired(t *testing.T) {
	limits, err := models.RiskProfilePreset(models.RiskProfileConservative)
	require.NoError(t, err)
	g := NewGate(nil, nil, zerolog.Nop())

	result := g.Validate(context.Background(), Request{
		Order:     buy("BTC/USDT", "0.001"),
		Price:     d("50000"),
		Portfolio: cashPortfolio("10000"),
		Limits:    limits,
	})

	require.False(t, result.Allowed)
	assert.Contains(t, result.ChecksFailed, "stop_loss")
	require.NotNil(t, result.Adjustments.SuggestedStopPrice)
	assert.True(t, result.Adjustments.SuggestedStopPrice.Equal(d("49000")))
}

func TestGate_StopTooCloseWarns(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	order := buy("BTC/USDT", "0.001")
	order.StopPrice = models.DecimalPtr(d("49900"))

	result := g.Validate(context.Background(), Request{Order: order, Price: d("50000"), Portfolio: cashPortfolio("10000"), Limits: moderate(t)})
	assert.True(t, result.Allowed)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "stop distance")
}

func TestGate_AssetClassRestriction(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	result := g.Validate(context.Background(), Request{
		Order:     buy("UNI/USDT", "1"),
		Price:     d("7"),
		Portfolio: cashPortfolio("10000"),
		Limits:    moderate(t),
	})

	require.False(t, result.Allowed)
	assert.Equal(t, []string{"asset_class"}, result.ChecksFailed)
}

func TestGate_LeverageCap(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	order := buy("BTC/USDT", "0.001")
	order.Leverage = d("5")

	result := g.Validate(context.Background(), Request{Order: order, Price: d("50000"), Portfolio: cashPortfolio("10000"), Limits: moderate(t)})
	require.False(t, result.Allowed)
	assert.Equal(t, []string{"leverage"}, result.ChecksFailed)
}

func TestGate_DailyLossReached(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	p := cashPortfolio("10000")
	p.DailyLoss = d("600")

	result := g.Validate(context.Background(), Request{Order: buy("BTC/USDT", "0.001"), Price: d("50000"), Portfolio: p, Limits: moderate(t)})
	require.False(t, result.Allowed)
	assert.Contains(t, result.ChecksFailed, "daily_loss")
}

func TestGate_OpenPositionsOnlyLimitsNewAssets(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	limits := models.RiskLimits{MaxOpenPositions: 1}
	p := cashPortfolio("9000")
	p.Holdings["ETH"] = d("1000")
	p.Quantities["ETH"] = d("0.5")
	p.Value = d("10000")

	blocked := g.Validate(context.Background(), Request{Order: buy("BTC/USDT", "0.001"), Price: d("50000"), Portfolio: p, Limits: limits})
	assert.False(t, blocked.Allowed)
	assert.Equal(t, []string{"open_positions"}, blocked.ChecksFailed)

	topUp := g.Validate(context.Background(), Request{Order: buy("ETH/USDT", "0.1"), Price: d("2000"), Portfolio: p, Limits: limits})
	assert.True(t, topUp.Allowed)
}

func TestGate_CorrelationWarnsOnly(t *testing.T) {
	g := NewGate(nil, nil, zerolog.Nop())
	p := cashPortfolio("9500")
	p.Holdings["ETH"] = d("500")
	p.Quantities["ETH"] = d("0.25")
	p.Value = d("10000")

	result := g.Validate(context.Background(), Request{Order: buy("BTC/USDT", "0.001"), Price: d("50000"), Portfolio: p, Limits: moderate(t)})
	assert.True(t, result.Allowed)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "ETH")
}

func TestGate_ConcentrationCountsExistingHolding(t *testing.T) {
	g := NewGateWithChecks(zerolog.Nop(), ConcentrationCheck{Multiplier: d("1.5")})
	p := cashPortfolio("8800")
	p.Holdings["BTC"] = d("1200")
	p.Quantities["BTC"] = d("0.024")
	p.Value = d("10000")

	// 1200 + 500 = 17% > 15%.
	result := g.Validate(context.Background(), Request{Order: buy("BTC/USDT", "0.01"), Price: d("50000"), Portfolio: p, Limits: moderate(t)})
	assert.False(t, result.Allowed)
	assert.Equal(t, []string{"concentration"}, result.ChecksFailed)
}

func TestAssetClassifier(t *testing.T) {
	c := NewAssetClassifier(nil, map[string]string{"pepe": "Meme"})
	assert.Equal(t, ClassStablecoin, c.Classify("usdt"))
	assert.Equal(t, ClassDeFi, c.Classify("AAVE"))
	assert.Equal(t, ClassCrypto, c.Classify("BTC"))
	assert.Equal(t, "meme", c.Classify("PEPE"))
}

func TestStaticCorrelations(t *testing.T) {
	c := DefaultCorrelations()
	assert.True(t, c.Correlation("eth", "BTC").Equal(d("0.85")))
	assert.True(t, c.Correlation("BTC", "BTC").Equal(decimal.NewFromInt(1)))
	assert.True(t, c.Correlation("BTC", "DOGE").IsZero())
}
