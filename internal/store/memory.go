package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/models"
)

// MemoryStore implements DataStore in process memory. Values are copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	orderSeq []string
	accounts map[string]*models.Account
	trades   map[string][]models.Trade
	alerts   map[string][]models.RiskAlert
	prices   map[string]decimal.Decimal
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		accounts: make(map[string]*models.Account),
		trades:   make(map[string][]models.Trade),
		alerts:   make(map[string][]models.RiskAlert),
		prices:   make(map[string]decimal.Decimal),
	}
}

// SaveOrder inserts a new order.
func (s *MemoryStore) SaveOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = order.Clone()
	s.orderSeq = append(s.orderSeq, order.ID)
	return nil
}

// UpdateOrder replaces a stored order.
func (s *MemoryStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, apperrors.ErrOrderNotFound)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

// DeleteOrder removes an order. Deleting a missing order is a no-op.
func (s *MemoryStore) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return nil
	}
	delete(s.orders, id)
	for i, seq := range s.orderSeq {
		if seq == id {
			s.orderSeq = append(s.orderSeq[:i], s.orderSeq[i+1:]...)
			break
		}
	}
	return nil
}

// FindOrder returns a copy of the order.
func (s *MemoryStore) FindOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, apperrors.ErrOrderNotFound)
	}
	return o.Clone(), nil
}

// FindOpenByType returns open orders of the given types in placement order.
func (s *MemoryStore) FindOpenByType(ctx context.Context, types ...models.OrderType) ([]*models.Order, error) {
	want := make(map[models.OrderType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.Status.IsOpen() && (len(want) == 0 || want[o.Type]) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

// FindByAccount returns the account's orders in placement order.
func (s *MemoryStore) FindByAccount(ctx context.Context, accountID string, filter OrderFilter) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.AccountID != accountID || !filter.Matches(o) {
			continue
		}
		out = append(out, o.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// LoadAccount returns a copy of the account or ErrAccountNotFound.
func (s *MemoryStore) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, apperrors.ErrAccountNotFound)
	}
	return a.Clone(), nil
}

// SaveAccount upserts the account.
func (s *MemoryStore) SaveAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account.Clone()
	return nil
}

// ListAccounts returns every stored account ID, sorted.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveTrade appends a trade to the account's history.
func (s *MemoryStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.AccountID] = append(s.trades[trade.AccountID], *trade)
	return nil
}

// DeleteTrade removes a trade from its account's history.
func (s *MemoryStore) DeleteTrade(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for account, trades := range s.trades {
		for i, t := range trades {
			if t.ID == id {
				s.trades[account] = append(trades[:i:i], trades[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// TradesByAccount returns the most recent trades first.
func (s *MemoryStore) TradesByAccount(ctx context.Context, accountID string, limit int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.trades[accountID], limit), nil
}

// SaveAlert appends an alert to the account's history.
func (s *MemoryStore) SaveAlert(ctx context.Context, alert *models.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.AccountID] = append(s.alerts[alert.AccountID], *alert)
	return nil
}

// AlertsByAccount returns the most recent alerts first.
func (s *MemoryStore) AlertsByAccount(ctx context.Context, accountID string, limit int) ([]models.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.alerts[accountID], limit), nil
}

// SavePrice sets the price of symbol.
func (s *MemoryStore) SavePrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	return nil
}

// LoadPrices returns a copy of every saved price.
func (s *MemoryStore) LoadPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func newestFirst[T any](items []T, limit int) []T {
	n := len(items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, items[i])
	}
	return out
}
