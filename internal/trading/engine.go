// Package trading implements the paper execution engine: order placement,
// market fills, tick-driven evaluation of resting orders and the advanced
// order families (OCO, trailing stop, iceberg).
//
// All mutations of one account, its balances and its orders run inside
// ledger.WithAccount, so placement, cancellation and tick evaluation of the
// same account never interleave. Orders are re-read from the store inside
// that critical section before they are acted on.
package trading

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/marketdata"
	"paper-exchange/internal/models"
	"paper-exchange/internal/risk"
	"paper-exchange/internal/store"
)

// StopLimitFill selects the execution price of a triggered stop_limit order.
type StopLimitFill string

const (
	// StopLimitFillLimit fills at the order's limit price.
	StopLimitFillLimit StopLimitFill = "limit"
	// StopLimitFillMarket fills at the triggering price with slippage.
	StopLimitFillMarket StopLimitFill = "market"
)

// Valid reports whether m is a known mode.
func (m StopLimitFill) Valid() bool {
	return m == StopLimitFillLimit || m == StopLimitFillMarket
}

// Config holds the engine's economics and policies.
type Config struct {
	SlippageFactor         decimal.Decimal
	FeeRate                decimal.Decimal
	StopLimitFill          StopLimitFill
	OCOCancelSiblingOnFill bool
	TickConcurrency        int
	BaseAsset              string            // valuation and reset asset
	DefaultLimits          models.RiskLimits // applied when an account has no override
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	limits, _ := models.RiskProfilePreset(models.RiskProfileModerate)
	return Config{
		SlippageFactor:  decimal.RequireFromString("0.0005"),
		FeeRate:         decimal.RequireFromString("0.001"),
		StopLimitFill:   StopLimitFillLimit,
		TickConcurrency: 8,
		BaseAsset:       "USDT",
		DefaultLimits:   limits,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SlippageFactor.IsNegative() || c.SlippageFactor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("slippage factor %s out of range [0,1): %w", c.SlippageFactor, apperrors.ErrConfigInvalid)
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee rate %s out of range [0,1): %w", c.FeeRate, apperrors.ErrConfigInvalid)
	}
	if !c.StopLimitFill.Valid() {
		return fmt.Errorf("stop limit fill %q: %w", c.StopLimitFill, apperrors.ErrConfigInvalid)
	}
	if c.BaseAsset == "" {
		return fmt.Errorf("base asset required: %w", apperrors.ErrConfigInvalid)
	}
	return nil
}

// Deps are the engine's collaborators. Gate may be nil to disable
// pre-trade risk checks.
type Deps struct {
	Ledger *ledger.Ledger
	Orders store.OrderStore
	Trades store.TradeStore
	Prices marketdata.Provider
	Gate   *risk.Gate
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Engine is the paper execution engine.
type Engine struct {
	cfg    Config
	ledger *ledger.Ledger
	orders store.OrderStore
	trades store.TradeStore
	prices marketdata.Provider
	gate   *risk.Gate
	valuer *risk.Valuer
	clock  clock.Clock
	logger zerolog.Logger

	ticks singleflight.Group
	newID func() string
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil || deps.Orders == nil || deps.Trades == nil || deps.Prices == nil {
		return nil, fmt.Errorf("engine requires ledger, order store, trade store and price provider: %w", apperrors.ErrConfigInvalid)
	}
	if cfg.TickConcurrency <= 0 {
		cfg.TickConcurrency = 1
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger.With().Str("component", "trading.engine").Logger()
	return &Engine{
		cfg:    cfg,
		ledger: deps.Ledger,
		orders: deps.Orders,
		trades: deps.Trades,
		prices: deps.Prices,
		gate:   deps.Gate,
		valuer: risk.NewValuer(deps.Prices, deps.Logger),
		clock:  clk,
		logger: logger,
		newID:  uuid.NewString,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// price fetches the current price of symbol.
func (e *Engine) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, err := e.prices.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if p.Sign() <= 0 {
		return decimal.Zero, apperrors.NewPriceError(symbol, fmt.Errorf("non-positive price %s", p))
	}
	return p, nil
}

// slipped applies slippage against the taker: up for buys, down for sells.
func (e *Engine) slipped(price decimal.Decimal, side models.OrderSide) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == models.OrderSideBuy {
		return price.Mul(one.Add(e.cfg.SlippageFactor))
	}
	return price.Mul(one.Sub(e.cfg.SlippageFactor))
}

// loadOwned reads an order and checks that it belongs to accountID.
// Another account's order is reported as not found.
func (e *Engine) loadOwned(ctx context.Context, accountID, orderID string) (*models.Order, error) {
	order, err := e.orders.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	return order, nil
}

// persist saves a new order after the account commit.
func (e *Engine) persist(tx *ledger.Tx, order *models.Order) {
	snapshot := order.Clone()
	tx.AfterSaveUndo(func(ctx context.Context) error {
		return e.orders.SaveOrder(ctx, snapshot)
	}, func(ctx context.Context) error {
		return e.orders.DeleteOrder(ctx, snapshot.ID)
	})
}

// update writes back a changed order after the account commit. The stored
// version it replaces is put back if a later hook fails.
func (e *Engine) update(tx *ledger.Tx, order *models.Order) {
	snapshot := order.Clone()
	var previous *models.Order
	tx.AfterSaveUndo(func(ctx context.Context) error {
		prev, err := e.orders.FindOrder(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		if err := e.orders.UpdateOrder(ctx, snapshot); err != nil {
			return err
		}
		previous = prev
		return nil
	}, func(ctx context.Context) error {
		if previous == nil {
			return nil
		}
		return e.orders.UpdateOrder(ctx, previous)
	})
}

// record saves a trade after the account commit.
func (e *Engine) record(tx *ledger.Tx, trade *models.Trade) {
	tx.AfterSaveUndo(func(ctx context.Context) error {
		return e.trades.SaveTrade(ctx, trade)
	}, func(ctx context.Context) error {
		return e.trades.DeleteTrade(ctx, trade.ID)
	})
}
