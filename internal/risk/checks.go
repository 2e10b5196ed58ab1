package risk

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"paper-exchange/internal/models"
)

// suggestionPlaces is the precision of suggested amounts and prices.
const suggestionPlaces = 8

func baseAsset(req *Request) (string, bool) {
	base, _, err := models.ParseSymbol(req.Order.Symbol)
	return base, err == nil
}

func pct(fraction decimal.Decimal) string {
	return fraction.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// PositionSizeCheck caps a buy's notional at MaxPositionSize of portfolio value.
// Sells only reduce exposure and are not limited.
type PositionSizeCheck struct{}

func (PositionSizeCheck) Name() string { return "position_size" }

func (PositionSizeCheck) Evaluate(req *Request, out *Outcome) {
	if req.Order.Side != models.OrderSideBuy || !req.Limits.MaxPositionSize.IsPositive() {
		return
	}
	maxValue := req.Limits.MaxPositionSize.Mul(req.Portfolio.Value)
	notional := req.Notional()
	if notional.LessThanOrEqual(maxValue) {
		return
	}
	out.Violate(fmt.Sprintf("position size %s exceeds %s of portfolio (max %s)",
		notional.StringFixed(2), pct(req.Limits.MaxPositionSize), maxValue.StringFixed(2)))

	price := req.ExecPrice()
	if !price.IsPositive() {
		return
	}
	suggested := MaxAmountWithin(maxValue, price)
	out.SuggestedAmount = &suggested
}

// MaxAmountWithin returns the largest amount with suggestionPlaces decimals
// whose value at price does not exceed maxValue.
func MaxAmountWithin(maxValue, price decimal.Decimal) decimal.Decimal {
	if !maxValue.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	amount := maxValue.Div(price).Truncate(suggestionPlaces)
	step := decimal.New(1, -suggestionPlaces)
	for amount.IsPositive() && amount.Mul(price).GreaterThan(maxValue) {
		amount = amount.Sub(step)
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// ConcentrationCheck rejects buys leaving the base asset above
// Multiplier × MaxPositionSize of portfolio value.
type ConcentrationCheck struct {
	Multiplier decimal.Decimal
}

func (ConcentrationCheck) Name() string { return "concentration" }

func (c ConcentrationCheck) Evaluate(req *Request, out *Outcome) {
	if req.Order.Side != models.OrderSideBuy || !req.Limits.MaxPositionSize.IsPositive() || !req.Portfolio.Value.IsPositive() {
		return
	}
	base, ok := baseAsset(req)
	if !ok {
		return
	}
	post := req.Portfolio.Holdings[base].Add(req.Notional())
	share := post.Div(req.Portfolio.Value)
	limit := req.Limits.MaxPositionSize.Mul(c.Multiplier)
	if share.GreaterThan(limit) {
		out.Violate(fmt.Sprintf("%s concentration after trade %s exceeds %s", base, pct(share), pct(limit)))
	}
}

// CorrelationCheck warns when a buy adds to an asset highly correlated with
// an existing position.
type CorrelationCheck struct {
	Correlations Correlations
}

func (CorrelationCheck) Name() string { return "correlation" }

func (c CorrelationCheck) Evaluate(req *Request, out *Outcome) {
	if req.Order.Side != models.OrderSideBuy || !req.Limits.MaxCorrelation.IsPositive() || c.Correlations == nil {
		return
	}
	base, ok := baseAsset(req)
	if !ok {
		return
	}
	held := make([]string, 0, len(req.Portfolio.Holdings))
	for asset, value := range req.Portfolio.Holdings {
		if asset != base && asset != req.Portfolio.ValuationAsset && value.IsPositive() {
			held = append(held, asset)
		}
	}
	sort.Strings(held)
	for _, asset := range held {
		corr := c.Correlations.Correlation(base, asset)
		if corr.GreaterThan(req.Limits.MaxCorrelation) {
			out.Warn(fmt.Sprintf("%s is highly correlated with held %s (%s > %s)",
				base, asset, corr.StringFixed(2), req.Limits.MaxCorrelation.StringFixed(2)))
		}
	}
}

// DailyLossCheck blocks trading once the day's realized loss reaches the
// limit and warns when this order's worst case would cross it.
type DailyLossCheck struct{}

func (DailyLossCheck) Name() string { return "daily_loss" }

func (DailyLossCheck) Evaluate(req *Request, out *Outcome) {
	if !req.Limits.MaxDailyLoss.IsPositive() {
		return
	}
	limit := req.Limits.MaxDailyLoss.Mul(req.Portfolio.Value)
	loss := req.Portfolio.DailyLoss
	if loss.IsPositive() && loss.GreaterThanOrEqual(limit) {
		out.Violate(fmt.Sprintf("daily loss limit reached: %s (limit %s)", loss.StringFixed(2), limit.StringFixed(2)))
		return
	}

	worst := req.Notional()
	if req.Order.StopPrice != nil {
		worst = req.ExecPrice().Sub(*req.Order.StopPrice).Abs().Mul(req.Order.Amount)
	}
	if loss.Add(worst).GreaterThan(limit) {
		out.Warn(fmt.Sprintf("worst case loss %s would exceed remaining daily allowance %s",
			worst.StringFixed(2), limit.Sub(loss).StringFixed(2)))
	}
}

// LeverageCheck caps requested leverage; zero leverage means 1x.
type LeverageCheck struct{}

func (LeverageCheck) Name() string { return "leverage" }

func (LeverageCheck) Evaluate(req *Request, out *Outcome) {
	if !req.Limits.MaxLeverage.IsPositive() {
		return
	}
	lev := req.Order.Leverage
	if !lev.IsPositive() {
		lev = decimal.NewFromInt(1)
	}
	if lev.GreaterThan(req.Limits.MaxLeverage) {
		out.Violate(fmt.Sprintf("leverage %sx exceeds max %sx", lev, req.Limits.MaxLeverage))
	}
}

// AssetClassCheck restricts the base asset to the allowed classes.
type AssetClassCheck struct {
	Classifier *AssetClassifier
}

func (AssetClassCheck) Name() string { return "asset_class" }

func (c AssetClassCheck) Evaluate(req *Request, out *Outcome) {
	if len(req.Limits.AllowedAssetClasses) == 0 || c.Classifier == nil {
		return
	}
	base, ok := baseAsset(req)
	if !ok {
		out.Violate(fmt.Sprintf("cannot classify symbol %q", req.Order.Symbol))
		return
	}
	class := c.Classifier.Classify(base)
	if !req.Limits.AllowsClass(class) {
		out.Violate(fmt.Sprintf("asset class %s of %s is not allowed", class, base))
	}
}

// StopLossCheck requires buys to carry a stop price when the limits say so.
type StopLossCheck struct{}

func (StopLossCheck) Name() string { return "stop_loss" }

func (StopLossCheck) Evaluate(req *Request, out *Outcome) {
	if req.Order.Side != models.OrderSideBuy {
		return
	}
	price := req.ExecPrice()
	minDist := req.Limits.MinStopLossDistance

	if req.Order.StopPrice == nil {
		if !req.Limits.StopLossRequired {
			return
		}
		out.Violate("stop loss is required for buy orders")
		if req.Price.IsPositive() {
			stop := req.Price.Mul(decimal.NewFromInt(1).Sub(minDist)).Round(suggestionPlaces)
			out.SuggestedStopPrice = &stop
		}
		return
	}

	if !minDist.IsPositive() || !price.IsPositive() {
		return
	}
	dist := price.Sub(*req.Order.StopPrice).Abs().Div(price)
	if dist.LessThan(minDist) {
		out.Warn(fmt.Sprintf("stop distance %s is below minimum %s", pct(dist), pct(minDist)))
	}
}

// OpenPositionsCheck blocks opening a new asset position beyond MaxOpenPositions.
type OpenPositionsCheck struct{}

func (OpenPositionsCheck) Name() string { return "open_positions" }

func (OpenPositionsCheck) Evaluate(req *Request, out *Outcome) {
	if req.Order.Side != models.OrderSideBuy || req.Limits.MaxOpenPositions <= 0 {
		return
	}
	base, ok := baseAsset(req)
	if !ok || req.Portfolio.Holds(base) {
		return
	}
	if open := req.Portfolio.OpenPositions(); open >= req.Limits.MaxOpenPositions {
		out.Violate(fmt.Sprintf("max open positions reached: %d (max %d)", open, req.Limits.MaxOpenPositions))
	}
}
