package trading

import (
	"context"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/models"
	"paper-exchange/internal/store"
)

// GetOrder returns one of the account's orders.
func (e *Engine) GetOrder(ctx context.Context, accountID, orderID string) (*models.Order, error) {
	return e.loadOwned(ctx, accountID, orderID)
}

// ListOrders returns the account's orders matching filter, in placement order.
func (e *Engine) ListOrders(ctx context.Context, accountID string, filter store.OrderFilter) ([]*models.Order, error) {
	return e.orders.FindByAccount(ctx, accountID, filter)
}

// Trades returns the account's most recent fills, newest first.
func (e *Engine) Trades(ctx context.Context, accountID string, limit int) ([]models.Trade, error) {
	return e.trades.TradesByAccount(ctx, accountID, limit)
}

// GetBalance returns one asset balance, zero-valued when absent.
func (e *Engine) GetBalance(ctx context.Context, accountID, asset string) (models.Balance, error) {
	return e.ledger.GetBalance(ctx, accountID, asset)
}

// Balances returns every non-empty balance of the account.
func (e *Engine) Balances(ctx context.Context, accountID string) ([]models.Balance, error) {
	return e.ledger.Balances(ctx, accountID)
}

// Deposit credits paper funds to the account.
func (e *Engine) Deposit(ctx context.Context, accountID, asset string, amount decimal.Decimal, reason string) error {
	if asset == "" {
		return apperrors.NewValidationError("asset", asset, "required")
	}
	return e.ledger.Deposit(ctx, accountID, asset, amount, reason)
}

// ResetAccount cancels every open order of the account and resets its
// balances to newTotal of the base asset.
func (e *Engine) ResetAccount(ctx context.Context, accountID string, newTotal decimal.Decimal, reason string) error {
	return e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		open, err := e.orders.FindByAccount(ctx, accountID, store.OrderFilter{OpenOnly: true})
		if err != nil {
			return err
		}
		for _, order := range open {
			// Reset zeroes every lock, so reservations are dropped rather than unlocked.
			order.Reserved = decimal.Zero
			if err := order.Transition(models.OrderStatusCancelled, tx.Now()); err != nil {
				return err
			}
			e.update(tx, order)
		}
		if err := tx.Reset(newTotal, e.cfg.BaseAsset, reason); err != nil {
			return err
		}
		e.logger.Info().
			Str("account_id", accountID).
			Int("cancelled_orders", len(open)).
			Msg("Account reset")
		return nil
	})
}

// SetRiskLimits overrides the account's risk limits; nil restores the default.
func (e *Engine) SetRiskLimits(ctx context.Context, accountID string, limits *models.RiskLimits) error {
	return e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		if limits == nil {
			tx.Account().RiskLimits = nil
			return nil
		}
		l := *limits
		l.AllowedAssetClasses = append([]string(nil), limits.AllowedAssetClasses...)
		tx.Account().RiskLimits = &l
		return nil
	})
}

// SetRiskProfile applies a named preset to the account.
func (e *Engine) SetRiskProfile(ctx context.Context, accountID string, profile models.RiskProfile) error {
	limits, err := models.RiskProfilePreset(profile)
	if err != nil {
		return apperrors.NewValidationError("profile", profile, err.Error())
	}
	return e.SetRiskLimits(ctx, accountID, &limits)
}

// RiskLimits returns the limits in force for the account.
func (e *Engine) RiskLimits(ctx context.Context, accountID string) (models.RiskLimits, error) {
	acct, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return models.RiskLimits{}, err
	}
	return e.limitsFor(acct), nil
}
