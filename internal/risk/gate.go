package risk

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-exchange/internal/models"
)

// Request is everything the gate needs to judge one order.
type Request struct {
	Order     models.OrderRequest
	Price     decimal.Decimal // current market price of Order.Symbol
	Portfolio PortfolioSnapshot
	Limits    models.RiskLimits
}

// ExecPrice is the order's limit price when set, otherwise the market price.
func (r *Request) ExecPrice() decimal.Decimal {
	if r.Order.Price != nil && r.Order.Price.IsPositive() {
		return *r.Order.Price
	}
	return r.Price
}

// Notional is amount × ExecPrice, in the quote asset. The engine only admits
// pairs quoted in the valuation asset, so it compares directly with Portfolio.
func (r *Request) Notional() decimal.Decimal {
	return r.Order.Amount.Mul(r.ExecPrice())
}

// Outcome collects what a single check found.
type Outcome struct {
	Violations         []string
	Warnings           []string
	SuggestedAmount    *decimal.Decimal
	SuggestedStopPrice *decimal.Decimal
}

// Violate records a blocking finding.
func (o *Outcome) Violate(msg string) {
	o.Violations = append(o.Violations, msg)
}

// Warn records a non-blocking finding.
func (o *Outcome) Warn(msg string) {
	o.Warnings = append(o.Warnings, msg)
}

// Check is one stage of the pre-trade pipeline. A zero limit disables the
// check that reads it.
type Check interface {
	Name() string
	Evaluate(req *Request, out *Outcome)
}

// Gate runs every check and merges the findings. Checks are independent:
// a failing check never stops the ones after it.
type Gate struct {
	checks []Check
	logger zerolog.Logger
}

// NewGate creates a gate with the standard pipeline.
func NewGate(classifier *AssetClassifier, correlations Correlations, logger zerolog.Logger) *Gate {
	if classifier == nil {
		classifier = NewAssetClassifier(nil, nil)
	}
	if correlations == nil {
		correlations = DefaultCorrelations()
	}
	return NewGateWithChecks(logger,
		PositionSizeCheck{},
		ConcentrationCheck{Multiplier: decimal.RequireFromString("1.5")},
		CorrelationCheck{Correlations: correlations},
		DailyLossCheck{},
		LeverageCheck{},
		AssetClassCheck{Classifier: classifier},
		StopLossCheck{},
		OpenPositionsCheck{},
	)
}

// NewGateWithChecks creates a gate running exactly the given checks, in order.
func NewGateWithChecks(logger zerolog.Logger, checks ...Check) *Gate {
	return &Gate{
		checks: checks,
		logger: logger.With().Str("component", "risk.gate").Logger(),
	}
}

// Validate runs the pipeline. The order is allowed iff no check reported a violation.
func (g *Gate) Validate(ctx context.Context, req Request) models.RiskCheckResult {
	result := models.RiskCheckResult{
		ChecksPassed: []string{},
		ChecksFailed: []string{},
	}

	for _, check := range g.checks {
		var out Outcome
		check.Evaluate(&req, &out)

		result.Violations = append(result.Violations, out.Violations...)
		result.Warnings = append(result.Warnings, out.Warnings...)
		if result.Adjustments.SuggestedAmount == nil && out.SuggestedAmount != nil {
			result.Adjustments.SuggestedAmount = out.SuggestedAmount
		}
		if result.Adjustments.SuggestedStopPrice == nil && out.SuggestedStopPrice != nil {
			result.Adjustments.SuggestedStopPrice = out.SuggestedStopPrice
		}
		if len(out.Violations) > 0 {
			result.ChecksFailed = append(result.ChecksFailed, check.Name())
		} else {
			result.ChecksPassed = append(result.ChecksPassed, check.Name())
		}
	}

	result.Allowed = len(result.Violations) == 0

	event := g.logger.Debug()
	if !result.Allowed {
		event = g.logger.Info()
	}
	event.
		Str("account_id", req.Portfolio.AccountID).
		Str("symbol", req.Order.Symbol).
		Str("side", string(req.Order.Side)).
		Str("amount", req.Order.Amount.String()).
		Bool("allowed", result.Allowed).
		Strs("violations", result.Violations).
		Strs("warnings", result.Warnings).
		Msg("Risk check completed")

	return result
}
