package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits configures the pre-trade gate and the portfolio monitor for one account.
// Percent-like limits are fractions of portfolio value (0.10 == 10%).
type RiskLimits struct {
	MaxPositionSize     decimal.Decimal `json:"maxPositionSize"`
	MaxDailyLoss        decimal.Decimal `json:"maxDailyLoss"`
	MaxDrawdown         decimal.Decimal `json:"maxDrawdown"`
	MaxLeverage         decimal.Decimal `json:"maxLeverage"`
	MaxOpenPositions    int             `json:"maxOpenPositions"`
	StopLossRequired    bool            `json:"stopLossRequired"`
	MinStopLossDistance decimal.Decimal `json:"minStopLossDistance"`
	MaxCorrelation      decimal.Decimal `json:"maxCorrelation"`
	AllowedAssetClasses []string        `json:"allowedAssetClasses"`
}

// AllowsClass reports whether the asset class is permitted.
func (l RiskLimits) AllowsClass(class string) bool {
	for _, c := range l.AllowedAssetClasses {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

// RiskProfile names a RiskLimits preset.
type RiskProfile string

const (
	RiskProfileConservative RiskProfile = "conservative"
	RiskProfileModerate     RiskProfile = "moderate"
	RiskProfileAggressive   RiskProfile = "aggressive"
)

// RiskProfilePreset returns the limits for a named profile.
func RiskProfilePreset(p RiskProfile) (RiskLimits, error) {
	d := decimal.RequireFromString
	switch p {
	case RiskProfileConservative:
		return RiskLimits{
			MaxPositionSize:     d("0.05"),
			MaxDailyLoss:        d("0.02"),
			MaxDrawdown:         d("0.10"),
			MaxLeverage:         d("1"),
			MaxOpenPositions:    5,
			StopLossRequired:    true,
			MinStopLossDistance: d("0.02"),
			MaxCorrelation:      d("0.7"),
			AllowedAssetClasses: []string{"crypto", "stablecoin"},
		}, nil
	case RiskProfileModerate:
		return RiskLimits{
			MaxPositionSize:     d("0.10"),
			MaxDailyLoss:        d("0.05"),
			MaxDrawdown:         d("0.20"),
			MaxLeverage:         d("3"),
			MaxOpenPositions:    10,
			StopLossRequired:    false,
			MinStopLossDistance: d("0.01"),
			MaxCorrelation:      d("0.8"),
			AllowedAssetClasses: []string{"crypto", "stablecoin"},
		}, nil
	case RiskProfileAggressive:
		return RiskLimits{
			MaxPositionSize:     d("0.25"),
			MaxDailyLoss:        d("0.10"),
			MaxDrawdown:         d("0.35"),
			MaxLeverage:         d("10"),
			MaxOpenPositions:    20,
			StopLossRequired:    false,
			MinStopLossDistance: d("0.005"),
			MaxCorrelation:      d("0.9"),
			AllowedAssetClasses: []string{"crypto", "stablecoin", "defi"},
		}, nil
	}
	return RiskLimits{}, fmt.Errorf("unknown risk profile %q", p)
}

// RiskAdjustments carries suggestions that would make a rejected order pass.
type RiskAdjustments struct {
	SuggestedAmount    *decimal.Decimal `json:"suggestedAmount,omitempty"`
	SuggestedStopPrice *decimal.Decimal `json:"suggestedStopPrice,omitempty"`
}

// RiskCheckResult is the outcome of the pre-trade risk pipeline.
type RiskCheckResult struct {
	Allowed      bool
	Violations   []string
	Warnings     []string
	Adjustments  RiskAdjustments
	ChecksPassed []string
	ChecksFailed []string
}

// RiskReport is a point-in-time portfolio risk assessment.
//
// ConcentrationRisk is the largest share held in a non-valuation asset, since
// cash is not a position. DiversificationScore is 1 - HHI over every holding,
// cash included, so an all-cash account scores 0.
type RiskReport struct {
	AccountID            string
	PortfolioValue       decimal.Decimal
	Exposure             decimal.Decimal
	VaR95                decimal.Decimal
	VaR99                decimal.Decimal
	ConcentrationRisk    decimal.Decimal
	DiversificationScore decimal.Decimal
	Drawdown             decimal.Decimal
	PeakValue            decimal.Decimal
	Shares               map[string]decimal.Decimal
	Alerts               []RiskAlert
	At                   time.Time
}
