// Package marketdata supplies the current price of a trading pair.
//
// Provider is the only contract the engine depends on. StaticFeed serves
// settable prices (tests, offline paper trading), HTTPProvider queries a spot
// exchange ticker endpoint and CachedProvider wraps either with a TTL cache,
// per-call timeout, client-side rate limit and a circuit breaker.
package marketdata

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Provider returns the current price of a BASE/QUOTE symbol. Failures wrap
// errors.ErrPriceUnavailable.
type Provider interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Price calls f.
func (f ProviderFunc) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}

// PriceResult is one entry of a batch lookup.
type PriceResult struct {
	Symbol string
	Price  decimal.Decimal
	Err    error
}

// Snapshot fetches each distinct symbol once, in sorted order. Failed lookups
// are reported per symbol rather than aborting the batch.
func Snapshot(ctx context.Context, p Provider, symbols []string) []PriceResult {
	seen := make(map[string]bool, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !seen[s] {
			seen[s] = true
			unique = append(unique, s)
		}
	}
	sort.Strings(unique)

	results := make([]PriceResult, 0, len(unique))
	for _, s := range unique {
		price, err := p.Price(ctx, s)
		results = append(results, PriceResult{Symbol: s, Price: price, Err: err})
	}
	return results
}
