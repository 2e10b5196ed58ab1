package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
)

// StaticFeed serves prices set by the caller.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticFeed creates a feed seeded with the given prices.
func NewStaticFeed(prices map[string]decimal.Decimal) *StaticFeed {
	f := &StaticFeed{prices: make(map[string]decimal.Decimal, len(prices))}
	for s, p := range prices {
		f.prices[s] = p
	}
	return f
}

// Price returns the last price set for symbol.
func (f *StaticFeed) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, apperrors.NewPriceError(symbol, err)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, apperrors.NewPriceError(symbol, fmt.Errorf("no price set"))
	}
	return p, nil
}

// SetPrice sets the price for symbol. Non-positive prices are rejected.
func (f *StaticFeed) SetPrice(symbol string, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return apperrors.NewValidationError("price", price.String(), "must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
	return nil
}

// Remove forgets the price of symbol.
func (f *StaticFeed) Remove(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
}

// Symbols returns every symbol with a price, sorted.
func (f *StaticFeed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.prices))
	for s := range f.prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
