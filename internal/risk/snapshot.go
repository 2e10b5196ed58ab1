// Package risk implements the pre-trade risk gate and the portfolio risk monitor.
package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-exchange/internal/marketdata"
	"paper-exchange/internal/models"
)

// PortfolioSnapshot values an account in a single valuation asset.
type PortfolioSnapshot struct {
	AccountID      string
	ValuationAsset string
	Value          decimal.Decimal            // total, including cash
	Cash           decimal.Decimal            // holdings of the valuation asset
	Holdings       map[string]decimal.Decimal // asset -> value in ValuationAsset
	Quantities     map[string]decimal.Decimal // asset -> total quantity
	DailyLoss      decimal.Decimal
	Unpriced       []string // assets skipped because no price was available
}

// Exposure is the value held outside the valuation asset.
func (s PortfolioSnapshot) Exposure() decimal.Decimal {
	return s.Value.Sub(s.Cash)
}

// OpenPositions counts non-cash assets with a positive quantity.
func (s PortfolioSnapshot) OpenPositions() int {
	n := 0
	for asset, q := range s.Quantities {
		if asset != s.ValuationAsset && q.IsPositive() {
			n++
		}
	}
	return n
}

// Holds reports whether the account holds a positive quantity of asset.
func (s PortfolioSnapshot) Holds(asset string) bool {
	q, ok := s.Quantities[asset]
	return ok && q.IsPositive()
}

// Share returns the asset's fraction of portfolio value.
func (s PortfolioSnapshot) Share(asset string) decimal.Decimal {
	if !s.Value.IsPositive() {
		return decimal.Zero
	}
	return s.Holdings[asset].Div(s.Value)
}

// Valuer prices account holdings through a market data provider.
type Valuer struct {
	prices marketdata.Provider
	logger zerolog.Logger
}

// NewValuer creates a valuer.
func NewValuer(prices marketdata.Provider, logger zerolog.Logger) *Valuer {
	return &Valuer{prices: prices, logger: logger.With().Str("component", "risk.valuer").Logger()}
}

// Snapshot values every non-empty balance of acct in valuationAsset as of at.
// Assets without a price are left out of Value and listed in Unpriced.
func (v *Valuer) Snapshot(ctx context.Context, acct *models.Account, valuationAsset string, at time.Time) PortfolioSnapshot {
	snap := PortfolioSnapshot{
		AccountID:      acct.ID,
		ValuationAsset: valuationAsset,
		Holdings:       make(map[string]decimal.Decimal),
		Quantities:     make(map[string]decimal.Decimal),
		DailyLoss:      acct.DailyLoss(at),
	}
	for _, asset := range acct.Assets() {
		qty := acct.Balances[asset].Total
		if !qty.IsPositive() {
			continue
		}
		snap.Quantities[asset] = qty
		if asset == valuationAsset {
			snap.Holdings[asset] = qty
			snap.Cash = qty
			snap.Value = snap.Value.Add(qty)
			continue
		}
		price, err := v.prices.Price(ctx, models.Symbol(asset, valuationAsset))
		if err != nil {
			v.logger.Debug().Err(err).Str("account_id", acct.ID).Str("asset", asset).Msg("Holding left unpriced")
			snap.Unpriced = append(snap.Unpriced, asset)
			continue
		}
		value := qty.Mul(price)
		snap.Holdings[asset] = value
		snap.Value = snap.Value.Add(value)
	}
	return snap
}
