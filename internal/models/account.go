package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"paper-exchange/pkg/utils"
)

// MaxHistoryEntries caps the per-account ledger history.
const MaxHistoryEntries = 50

// Balance represents one asset's funds within an account.
type Balance struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Validate checks total = available + locked and that no field is negative.
func (b Balance) Validate() error {
	if b.Total.IsNegative() || b.Available.IsNegative() || b.Locked.IsNegative() {
		return fmt.Errorf("%s: negative balance (total=%s available=%s locked=%s)",
			b.Asset, b.Total, b.Available, b.Locked)
	}
	if !b.Total.Equal(b.Available.Add(b.Locked)) {
		return fmt.Errorf("%s: total %s != available %s + locked %s",
			b.Asset, b.Total, b.Available, b.Locked)
	}
	return nil
}

// HistoryKind classifies a ledger history entry.
type HistoryKind string

const (
	HistoryReset   HistoryKind = "reset"
	HistoryDeposit HistoryKind = "deposit"
)

// HistoryEntry records an administrative change to an account.
type HistoryEntry struct {
	At     time.Time       `json:"at"`
	Kind   HistoryKind     `json:"kind"`
	Reason string          `json:"reason"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// DailyPnL accumulates realized profit and loss for one calendar day.
type DailyPnL struct {
	Date     string          `json:"date"` // YYYY-MM-DD
	Realized decimal.Decimal `json:"realized"`
}

// Account owns the virtual balances of one user.
type Account struct {
	ID         string
	Balances   map[string]*Balance
	CostBasis  map[string]decimal.Decimal // average entry price per asset, in quote
	DailyPnL   DailyPnL
	RiskLimits *RiskLimits
	History    []HistoryEntry
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewAccount creates an empty account.
func NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:        id,
		Balances:  make(map[string]*Balance),
		CostBasis: make(map[string]decimal.Decimal),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Balance returns a copy of the asset's balance, zero-valued when absent.
func (a *Account) Balance(asset string) Balance {
	if b, ok := a.Balances[asset]; ok {
		return *b
	}
	return Balance{Asset: asset}
}

// Ensure returns the asset's balance, creating it when absent.
func (a *Account) Ensure(asset string) *Balance {
	if a.Balances == nil {
		a.Balances = make(map[string]*Balance)
	}
	b, ok := a.Balances[asset]
	if !ok {
		b = &Balance{Asset: asset}
		a.Balances[asset] = b
	}
	return b
}

// Assets returns the asset names held, sorted.
func (a *Account) Assets() []string {
	assets := make([]string, 0, len(a.Balances))
	for asset := range a.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Validate checks every balance invariant.
func (a *Account) Validate() error {
	for _, asset := range a.Assets() {
		if err := a.Balances[asset].Validate(); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
	}
	return nil
}

// AddHistory appends an entry, dropping the oldest beyond MaxHistoryEntries.
func (a *Account) AddHistory(e HistoryEntry) {
	a.History = append(a.History, e)
	if len(a.History) > MaxHistoryEntries {
		a.History = a.History[len(a.History)-MaxHistoryEntries:]
	}
}

// RecordRealized adds pnl to the realized total of the given day, rolling over on a new day.
func (a *Account) RecordRealized(at time.Time, pnl decimal.Decimal) {
	day := utils.TradingDay(at)
	if a.DailyPnL.Date != day {
		a.DailyPnL = DailyPnL{Date: day}
	}
	a.DailyPnL.Realized = a.DailyPnL.Realized.Add(pnl)
}

// DailyLoss returns the realized loss for the day of at (positive number, zero when profitable).
func (a *Account) DailyLoss(at time.Time) decimal.Decimal {
	if a.DailyPnL.Date != utils.TradingDay(at) || !a.DailyPnL.Realized.IsNegative() {
		return decimal.Zero
	}
	return a.DailyPnL.Realized.Neg()
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Balances = make(map[string]*Balance, len(a.Balances))
	for k, b := range a.Balances {
		bb := *b
		c.Balances[k] = &bb
	}
	c.CostBasis = make(map[string]decimal.Decimal, len(a.CostBasis))
	for k, v := range a.CostBasis {
		c.CostBasis[k] = v
	}
	if a.RiskLimits != nil {
		rl := *a.RiskLimits
		rl.AllowedAssetClasses = append([]string(nil), a.RiskLimits.AllowedAssetClasses...)
		c.RiskLimits = &rl
	}
	c.History = append([]HistoryEntry(nil), a.History...)
	return &c
}
