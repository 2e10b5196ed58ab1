// Package ledger provides the virtual per-account, per-asset balance ledger.
//
// Every mutation of an account happens inside WithAccount, which serializes
// callers per account, works on a copy of the account and persists it only
// when the callback succeeds. Invariant breaks (negative fields, total not
// equal to available+locked) panic with *errors.InvariantError.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/models"
	"paper-exchange/internal/store"
)

// Ledger implements lock/unlock/settle over an AccountStore.
type Ledger struct {
	accounts store.AccountStore
	clock    clock.Clock
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger persisting through accounts.
func New(accounts store.AccountStore, clk clock.Clock, logger zerolog.Logger) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{
		accounts: accounts,
		clock:    clk,
		logger:   logger.With().Str("component", "ledger").Logger(),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) accountLock(accountID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

// WithAccount runs fn with exclusive access to the account. Changes made
// through the Tx are saved only if fn returns nil; hooks registered with
// Tx.AfterSave run after the save. A failing hook undoes the hooks that ran
// before it, newest first, and restores the previous account state.
func (l *Ledger) WithAccount(ctx context.Context, accountID string, fn func(tx *Tx) error) error {
	if accountID == "" {
		return apperrors.NewValidationError("account_id", accountID, "required")
	}
	m := l.accountLock(accountID)
	m.Lock()
	defer m.Unlock()

	original, existed, err := l.load(ctx, accountID)
	if err != nil {
		return err
	}

	tx := &Tx{
		ledger:  l,
		account: original.Clone(),
		now:     l.clock.Now(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return l.runHooks(ctx, tx, nil)
	}

	l.assertInvariants(tx.account)
	tx.account.UpdatedAt = tx.now
	if err := l.accounts.SaveAccount(ctx, tx.account); err != nil {
		return fmt.Errorf("saving account %s: %w", accountID, err)
	}

	var restore *models.Account
	if existed {
		restore = original
	} else {
		restore = models.NewAccount(accountID, tx.now)
	}
	return l.runHooks(ctx, tx, restore)
}

func (l *Ledger) runHooks(ctx context.Context, tx *Tx, restore *models.Account) error {
	for i, hook := range tx.hooks {
		if err := hook.run(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if tx.hooks[j].undo == nil {
					continue
				}
				if uerr := tx.hooks[j].undo(ctx); uerr != nil {
					l.logger.Error().Err(uerr).Str("account_id", tx.account.ID).
						Msg("Failed to undo save hook")
				}
			}
			if restore != nil {
				if rerr := l.accounts.SaveAccount(ctx, restore); rerr != nil {
					l.logger.Error().Err(rerr).Str("account_id", tx.account.ID).
						Msg("Failed to restore account after hook failure")
				}
			}
			return err
		}
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, accountID string) (*models.Account, bool, error) {
	acct, err := l.accounts.LoadAccount(ctx, accountID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAccountNotFound) {
			return models.NewAccount(accountID, l.clock.Now()), false, nil
		}
		return nil, false, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	return acct, true, nil
}

func (l *Ledger) assertInvariants(acct *models.Account) {
	if err := acct.Validate(); err != nil {
		panic(&apperrors.InvariantError{AccountID: acct.ID, Detail: err.Error()})
	}
}

// Account returns a snapshot of the account (lazily defaulted when absent).
func (l *Ledger) Account(ctx context.Context, accountID string) (*models.Account, error) {
	var snapshot *models.Account
	err := l.WithAccount(ctx, accountID, func(tx *Tx) error {
		snapshot = tx.account.Clone()
		return nil
	})
	return snapshot, err
}

// GetBalance returns the asset balance, zero-valued when absent.
func (l *Ledger) GetBalance(ctx context.Context, accountID, asset string) (models.Balance, error) {
	var b models.Balance
	err := l.WithAccount(ctx, accountID, func(tx *Tx) error {
		b = tx.Balance(asset)
		return nil
	})
	return b, err
}

// Balances returns every non-empty balance of the account, sorted by asset.
func (l *Ledger) Balances(ctx context.Context, accountID string) ([]models.Balance, error) {
	acct, err := l.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Balance, 0, len(acct.Balances))
	for _, asset := range acct.Assets() {
		b := acct.Balance(asset)
		if b.Total.IsZero() {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Lock moves amount from available to locked.
func (l *Ledger) Lock(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	return l.WithAccount(ctx, accountID, func(tx *Tx) error {
		return tx.Lock(asset, amount)
	})
}

// Unlock moves amount from locked back to available, clamping at zero locked.
func (l *Ledger) Unlock(ctx context.Context, accountID, asset string, amount decimal.Decimal) error {
	return l.WithAccount(ctx, accountID, func(tx *Tx) error {
		return tx.Unlock(asset, amount)
	})
}

// Settle debits locked fromAsset and credits available toAsset in one step.
func (l *Ledger) Settle(ctx context.Context, accountID, fromAsset string, fromAmount decimal.Decimal, toAsset string, toAmount decimal.Decimal) error {
	return l.WithAccount(ctx, accountID, func(tx *Tx) error {
		return tx.Settle(fromAsset, fromAmount, toAsset, toAmount)
	})
}

// Deposit credits amount to the asset's total and available balance.
func (l *Ledger) Deposit(ctx context.Context, accountID, asset string, amount decimal.Decimal, reason string) error {
	return l.WithAccount(ctx, accountID, func(tx *Tx) error {
		return tx.Deposit(asset, amount, reason)
	})
}

// Reset wipes the account down to newTotal of baseAsset.
func (l *Ledger) Reset(ctx context.Context, accountID string, newTotal decimal.Decimal, baseAsset, reason string) error {
	return l.WithAccount(ctx, accountID, func(tx *Tx) error {
		return tx.Reset(newTotal, baseAsset, reason)
	})
}

// Tx is the working view of one account inside WithAccount.
type Tx struct {
	ledger  *Ledger
	account *models.Account
	now     time.Time
	dirty   bool
	hooks   []saveHook
}

type saveHook struct {
	run  func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// Now returns the timestamp captured when the Tx started.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// AccountID returns the account being mutated.
func (tx *Tx) AccountID() string {
	return tx.account.ID
}

// Account exposes the working copy for non-balance bookkeeping
// (cost basis, realized PnL, risk limits). Callers must not touch Balances.
func (tx *Tx) Account() *models.Account {
	tx.dirty = true
	return tx.account
}

// Snapshot returns a read-only copy of the working account.
func (tx *Tx) Snapshot() *models.Account {
	return tx.account.Clone()
}

// AfterSave registers fn to run once the account has been persisted.
func (tx *Tx) AfterSave(fn func(ctx context.Context) error) {
	tx.hooks = append(tx.hooks, saveHook{run: fn})
}

// AfterSaveUndo is AfterSave with a compensating action, run when a hook
// registered later fails.
func (tx *Tx) AfterSaveUndo(fn, undo func(ctx context.Context) error) {
	tx.hooks = append(tx.hooks, saveHook{run: fn, undo: undo})
}

// Balance returns the asset balance of the working copy.
func (tx *Tx) Balance(asset string) models.Balance {
	return tx.account.Balance(asset)
}

// Lock moves amount from available to locked.
func (tx *Tx) Lock(asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperrors.NewValidationError("amount", amount.String(), "lock amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	b := tx.account.Balance(asset)
	if b.Available.LessThan(amount) {
		return &apperrors.InsufficientFundsError{
			AccountID: tx.account.ID,
			Asset:     asset,
			Required:  amount.String(),
			Available: b.Available.String(),
		}
	}
	mb := tx.account.Ensure(asset)
	mb.Available = mb.Available.Sub(amount)
	mb.Locked = mb.Locked.Add(amount)
	tx.dirty = true
	return nil
}

// Unlock moves amount from locked to available; locked never goes below zero.
func (tx *Tx) Unlock(asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperrors.NewValidationError("amount", amount.String(), "unlock amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	mb := tx.account.Ensure(asset)
	release := decimal.Min(amount, mb.Locked)
	if release.LessThan(amount) {
		tx.ledger.logger.Warn().
			Str("account_id", tx.account.ID).
			Str("asset", asset).
			Str("requested", amount.String()).
			Str("locked", mb.Locked.String()).
			Msg("Unlock exceeds locked balance, clamping")
	}
	mb.Locked = mb.Locked.Sub(release)
	mb.Available = mb.Available.Add(release)
	tx.dirty = true
	return nil
}

// Settle debits total and locked of fromAsset and credits total and
// available of toAsset. Settling more than is locked is a programming error.
func (tx *Tx) Settle(fromAsset string, fromAmount decimal.Decimal, toAsset string, toAmount decimal.Decimal) error {
	if fromAmount.IsNegative() || toAmount.IsNegative() {
		return apperrors.NewValidationError("amount", fromAmount.String()+"/"+toAmount.String(), "settle amounts must not be negative")
	}
	from := tx.account.Ensure(fromAsset)
	if from.Locked.LessThan(fromAmount) {
		panic(&apperrors.InvariantError{
			AccountID: tx.account.ID,
			Detail:    fmt.Sprintf("settle %s %s exceeds locked %s", fromAmount, fromAsset, from.Locked),
		})
	}
	from.Locked = from.Locked.Sub(fromAmount)
	from.Total = from.Total.Sub(fromAmount)

	to := tx.account.Ensure(toAsset)
	to.Total = to.Total.Add(toAmount)
	to.Available = to.Available.Add(toAmount)
	tx.dirty = true
	return nil
}

// Deposit credits amount to total and available.
func (tx *Tx) Deposit(asset string, amount decimal.Decimal, reason string) error {
	if amount.Sign() <= 0 {
		return apperrors.NewValidationError("amount", amount.String(), "deposit must be positive")
	}
	b := tx.account.Ensure(asset)
	b.Total = b.Total.Add(amount)
	b.Available = b.Available.Add(amount)
	tx.account.AddHistory(models.HistoryEntry{
		At:     tx.now,
		Kind:   models.HistoryDeposit,
		Reason: reason,
		Asset:  asset,
		Amount: amount,
	})
	tx.dirty = true
	return nil
}

// Reset zeroes every non-base balance and sets the base asset to newTotal.
func (tx *Tx) Reset(newTotal decimal.Decimal, baseAsset, reason string) error {
	if newTotal.IsNegative() {
		return apperrors.NewValidationError("new_total", newTotal.String(), "must not be negative")
	}
	if baseAsset == "" {
		return apperrors.NewValidationError("base_asset", baseAsset, "required")
	}
	for asset, b := range tx.account.Balances {
		if asset == baseAsset {
			continue
		}
		b.Total, b.Available, b.Locked = decimal.Zero, decimal.Zero, decimal.Zero
	}
	base := tx.account.Ensure(baseAsset)
	base.Total, base.Available, base.Locked = newTotal, newTotal, decimal.Zero
	tx.account.CostBasis = make(map[string]decimal.Decimal)
	tx.account.DailyPnL = models.DailyPnL{}
	tx.account.AddHistory(models.HistoryEntry{
		At:     tx.now,
		Kind:   models.HistoryReset,
		Reason: reason,
		Asset:  baseAsset,
		Amount: newTotal,
	})
	tx.dirty = true
	tx.ledger.logger.Info().
		Str("account_id", tx.account.ID).
		Str("base_asset", baseAsset).
		Str("new_total", newTotal.String()).
		Str("reason", reason).
		Msg("Account reset")
	return nil
}
