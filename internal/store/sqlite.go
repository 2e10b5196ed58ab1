// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Accounts: balances, cost basis, history and limits are JSON documents
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balances TEXT NOT NULL,
		cost_basis TEXT NOT NULL,
		daily_pnl TEXT NOT NULL,
		risk_limits TEXT,
		history TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Orders; decimals are stored as TEXT to keep exact values
	CREATE TABLE IF NOT EXISTS orders (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		price TEXT,
		stop_price TEXT,
		status TEXT NOT NULL,
		filled TEXT NOT NULL,
		remaining TEXT NOT NULL,
		cost TEXT NOT NULL,
		fees TEXT NOT NULL,
		reserved TEXT NOT NULL,
		reserve_asset TEXT NOT NULL,
		client_order_id TEXT,
		leverage TEXT NOT NULL,
		type_data_kind TEXT NOT NULL DEFAULT '',
		type_data TEXT,
		reject_reason TEXT,
		expires_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		filled_at DATETIME
	);

	-- Trades table for simulated fills
	CREATE TABLE IF NOT EXISTS trades (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		order_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		amount TEXT NOT NULL,
		price TEXT NOT NULL,
		notional TEXT NOT NULL,
		fee TEXT NOT NULL,
		fee_asset TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		executed_at DATETIME NOT NULL
	);

	-- Risk alerts raised by the portfolio monitor
	CREATE TABLE IF NOT EXISTS risk_alerts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		value TEXT NOT NULL,
		threshold TEXT NOT NULL,
		at DATETIME NOT NULL
	);

	-- Prices set by hand for the static feed
	CREATE TABLE IF NOT EXISTS prices (
		symbol TEXT PRIMARY KEY,
		price TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status_type ON orders(status, type);
	CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_account ON risk_alerts(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Orders Methods
// ============================================================================

const orderColumns = `id, account_id, symbol, side, type, amount, price, stop_price, status,
	filled, remaining, cost, fees, reserved, reserve_asset, client_order_id, leverage,
	type_data_kind, type_data, reject_reason, expires_at, created_at, updated_at, filled_at`

func orderArgs(o *models.Order) ([]interface{}, error) {
	kind, data, err := models.MarshalTypeData(o.TypeData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode type data: %w", err)
	}
	var typeData sql.NullString
	if data != nil {
		typeData = sql.NullString{String: string(data), Valid: true}
	}
	return []interface{}{
		o.ID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), o.Amount.String(),
		nullDecimal(o.Price), nullDecimal(o.StopPrice), string(o.Status),
		o.Filled.String(), o.Remaining.String(), o.Cost.String(), o.Fees.String(),
		o.Reserved.String(), o.ReserveAsset, o.ClientOrderID, o.Leverage.String(),
		string(kind), typeData, o.RejectReason, nullTime(o.ExpiresAt),
		o.CreatedAt.UTC(), o.UpdatedAt.UTC(), nullTime(o.FilledAt),
	}, nil
}

// SaveOrder inserts a new order.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *models.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// UpdateOrder replaces the mutable fields of a stored order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled = ?, remaining = ?, cost = ?, fees = ?,
			reserved = ?, type_data_kind = ?, type_data = ?, reject_reason = ?,
			price = ?, stop_price = ?, updated_at = ?, filled_at = ?
		WHERE id = ?
	`, args[8], args[9], args[10], args[11], args[12], args[13], args[17], args[18], args[19],
		args[6], args[7], args[22], args[23], order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("order %s: %w", order.ID, apperrors.ErrOrderNotFound)
	}
	return nil
}

// DeleteOrder removes an order.
func (s *SQLiteStore) DeleteOrder(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// FindOrder retrieves an order by ID.
func (s *SQLiteStore) FindOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, apperrors.ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// FindOpenByType retrieves open and partially filled orders of the given types.
func (s *SQLiteStore) FindOpenByType(ctx context.Context, types ...models.OrderType) ([]*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE status IN (?, ?)"
	args := []interface{}{string(models.OrderStatusOpen), string(models.OrderStatusPartiallyFilled)}
	if len(types) > 0 {
		query += " AND type IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ") + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += " ORDER BY seq ASC"
	return s.queryOrders(ctx, query, args...)
}

// FindByAccount retrieves an account's orders in placement order.
func (s *SQLiteStore) FindByAccount(ctx context.Context, accountID string, filter OrderFilter) ([]*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE account_id = ?"
	args := []interface{}{accountID}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.OpenOnly {
		query += " AND status IN (?, ?)"
		args = append(args, string(models.OrderStatusOpen), string(models.OrderStatusPartiallyFilled))
	}

	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryOrders(ctx, query, args...)
}

func (s *SQLiteStore) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                                            models.Order
		side, typ, status, kind                      string
		amount, filled, remaining, cost, fees        string
		reserved, leverage                           string
		price, stopPrice, typeData, clientID, reason sql.NullString
		expiresAt, filledAt                          sql.NullTime
	)
	err := row.Scan(&o.ID, &o.AccountID, &o.Symbol, &side, &typ, &amount, &price, &stopPrice,
		&status, &filled, &remaining, &cost, &fees, &reserved, &o.ReserveAsset, &clientID,
		&leverage, &kind, &typeData, &reason, &expiresAt, &o.CreatedAt, &o.UpdatedAt, &filledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.Side = models.OrderSide(side)
	o.Type = models.OrderType(typ)
	o.Status = models.OrderStatus(status)
	o.ClientOrderID = clientID.String
	o.RejectReason = reason.String

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Amount, amount}, {&o.Filled, filled}, {&o.Remaining, remaining}, {&o.Cost, cost},
		{&o.Fees, fees}, {&o.Reserved, reserved}, {&o.Leverage, leverage},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("order %s: bad decimal %q: %w", o.ID, f.src, err)
		}
	}
	if o.Price, err = parseNullDecimal(price); err != nil {
		return nil, err
	}
	if o.StopPrice, err = parseNullDecimal(stopPrice); err != nil {
		return nil, err
	}
	if o.TypeData, err = models.UnmarshalTypeData(models.TypeDataKind(kind), []byte(typeData.String)); err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	if filledAt.Valid {
		t := filledAt.Time
		o.FilledAt = &t
	}
	return &o, nil
}

// ============================================================================
// Accounts Methods
// ============================================================================

// LoadAccount retrieves an account, ErrAccountNotFound when absent.
func (s *SQLiteStore) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	var (
		balances, costBasis, dailyPnL, history string
		riskLimits                             sql.NullString
	)
	a := models.NewAccount(id, time.Time{})
	err := s.db.QueryRowContext(ctx, `
		SELECT balances, cost_basis, daily_pnl, risk_limits, history, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id).Scan(&balances, &costBasis, &dailyPnL, &riskLimits, &history, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, apperrors.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	var list []models.Balance
	if err := json.Unmarshal([]byte(balances), &list); err != nil {
		return nil, fmt.Errorf("account %s: failed to decode balances: %w", id, err)
	}
	for i := range list {
		b := list[i]
		a.Balances[b.Asset] = &b
	}
	if err := json.Unmarshal([]byte(costBasis), &a.CostBasis); err != nil {
		return nil, fmt.Errorf("account %s: failed to decode cost basis: %w", id, err)
	}
	if err := json.Unmarshal([]byte(dailyPnL), &a.DailyPnL); err != nil {
		return nil, fmt.Errorf("account %s: failed to decode daily pnl: %w", id, err)
	}
	if err := json.Unmarshal([]byte(history), &a.History); err != nil {
		return nil, fmt.Errorf("account %s: failed to decode history: %w", id, err)
	}
	if riskLimits.Valid && riskLimits.String != "" {
		var rl models.RiskLimits
		if err := json.Unmarshal([]byte(riskLimits.String), &rl); err != nil {
			return nil, fmt.Errorf("account %s: failed to decode risk limits: %w", id, err)
		}
		a.RiskLimits = &rl
	}
	return a, nil
}

// SaveAccount upserts an account.
func (s *SQLiteStore) SaveAccount(ctx context.Context, account *models.Account) error {
	list := make([]models.Balance, 0, len(account.Balances))
	for _, asset := range account.Assets() {
		list = append(list, *account.Balances[asset])
	}
	balances, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode balances: %w", err)
	}
	costBasis, err := json.Marshal(account.CostBasis)
	if err != nil {
		return fmt.Errorf("failed to encode cost basis: %w", err)
	}
	dailyPnL, err := json.Marshal(account.DailyPnL)
	if err != nil {
		return fmt.Errorf("failed to encode daily pnl: %w", err)
	}
	history, err := json.Marshal(account.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	var riskLimits sql.NullString
	if account.RiskLimits != nil {
		data, err := json.Marshal(account.RiskLimits)
		if err != nil {
			return fmt.Errorf("failed to encode risk limits: %w", err)
		}
		riskLimits = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balances, cost_basis, daily_pnl, risk_limits, history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balances = excluded.balances,
			cost_basis = excluded.cost_basis,
			daily_pnl = excluded.daily_pnl,
			risk_limits = excluded.risk_limits,
			history = excluded.history,
			updated_at = excluded.updated_at
	`, account.ID, string(balances), string(costBasis), string(dailyPnL), riskLimits, string(history),
		account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// ListAccounts returns every stored account ID, sorted.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM accounts ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ============================================================================
// Trades Methods
// ============================================================================

// SaveTrade records a fill.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, account_id, symbol, side, amount, price, notional, fee, fee_asset, realized_pnl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.OrderID, trade.AccountID, trade.Symbol, string(trade.Side), trade.Amount.String(),
		trade.Price.String(), trade.Notional.String(), trade.Fee.String(), trade.FeeAsset,
		trade.RealizedPnL.String(), trade.ExecutedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// DeleteTrade removes a recorded fill.
func (s *SQLiteStore) DeleteTrade(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM trades WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete trade: %w", err)
	}
	return nil
}

// TradesByAccount returns the account's trades, most recent first.
func (s *SQLiteStore) TradesByAccount(ctx context.Context, accountID string, limit int) ([]models.Trade, error) {
	query := `SELECT id, order_id, account_id, symbol, side, amount, price, notional, fee, fee_asset, realized_pnl, executed_at
		FROM trades WHERE account_id = ? ORDER BY seq DESC`
	args := []interface{}{accountID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t                                         models.Trade
			side                                      string
			amount, price, notional, fee, realizedPnL string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.AccountID, &t.Symbol, &side, &amount, &price,
			&notional, &fee, &t.FeeAsset, &realizedPnL, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = models.OrderSide(side)
		t.Amount = decimal.RequireFromString(amount)
		t.Price = decimal.RequireFromString(price)
		t.Notional = decimal.RequireFromString(notional)
		t.Fee = decimal.RequireFromString(fee)
		t.RealizedPnL = decimal.RequireFromString(realizedPnL)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// ============================================================================
// Alerts Methods
// ============================================================================

// SaveAlert records a risk alert.
func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *models.RiskAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_alerts (id, account_id, kind, severity, message, value, threshold, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.AccountID, string(alert.Kind), string(alert.Severity), alert.Message,
		alert.Value.String(), alert.Threshold.String(), alert.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// AlertsByAccount returns the account's alerts, most recent first.
func (s *SQLiteStore) AlertsByAccount(ctx context.Context, accountID string, limit int) ([]models.RiskAlert, error) {
	query := `SELECT id, account_id, kind, severity, message, value, threshold, at
		FROM risk_alerts WHERE account_id = ? ORDER BY seq DESC`
	args := []interface{}{accountID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.RiskAlert
	for rows.Next() {
		var (
			a                models.RiskAlert
			kind, severity   string
			value, threshold string
		)
		if err := rows.Scan(&a.ID, &a.AccountID, &kind, &severity, &a.Message, &value, &threshold, &a.At); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Kind = models.AlertKind(kind)
		a.Severity = models.AlertSeverity(severity)
		a.Value = decimal.RequireFromString(value)
		a.Threshold = decimal.RequireFromString(threshold)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// ============================================================================
// Prices Methods
// ============================================================================

// SavePrice upserts the price of symbol.
func (s *SQLiteStore) SavePrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prices (symbol, price, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at
	`, symbol, price.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save price: %w", err)
	}
	return nil
}

// LoadPrices returns every saved price keyed by symbol.
func (s *SQLiteStore) LoadPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, price FROM prices`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol, price string
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("bad price for %s: %w", symbol, err)
		}
		prices[symbol] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}
	return prices, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("bad decimal %q: %w", s.String, err)
	}
	return &d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
