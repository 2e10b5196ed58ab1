// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"paper-exchange/internal/models"
)

// OrderStore persists orders. Orders are never physically deleted.
type OrderStore interface {
	SaveOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error
	DeleteOrder(ctx context.Context, id string) error
	FindOrder(ctx context.Context, id string) (*models.Order, error)
	// FindOpenByType returns open and partially filled orders of the given types.
	FindOpenByType(ctx context.Context, types ...models.OrderType) ([]*models.Order, error)
	FindByAccount(ctx context.Context, accountID string, filter OrderFilter) ([]*models.Order, error)
}

// AccountStore persists accounts. Load returns errors.ErrAccountNotFound when absent.
type AccountStore interface {
	LoadAccount(ctx context.Context, id string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	ListAccounts(ctx context.Context) ([]string, error)
}

// TradeStore records fills.
type TradeStore interface {
	SaveTrade(ctx context.Context, trade *models.Trade) error
	DeleteTrade(ctx context.Context, id string) error
	TradesByAccount(ctx context.Context, accountID string, limit int) ([]models.Trade, error)
}

// AlertStore records portfolio risk alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.RiskAlert) error
	AlertsByAccount(ctx context.Context, accountID string, limit int) ([]models.RiskAlert, error)
}

// PriceStore persists manually set prices so a static feed survives restarts.
type PriceStore interface {
	SavePrice(ctx context.Context, symbol string, price decimal.Decimal) error
	LoadPrices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// DataStore bundles every store the engine needs.
type DataStore interface {
	OrderStore
	AccountStore
	TradeStore
	AlertStore
	PriceStore

	// Lifecycle
	Close() error
}

// OrderFilter represents filters for listing an account's orders.
type OrderFilter struct {
	Symbol   string
	Status   models.OrderStatus
	OpenOnly bool
	Limit    int
}

// Matches reports whether the order passes the filter (Limit is applied by the caller).
func (f OrderFilter) Matches(o *models.Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.OpenOnly && !o.Status.IsOpen() {
		return false
	}
	return true
}
