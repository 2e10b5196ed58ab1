package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"paper-exchange/internal/ledger"
	"paper-exchange/internal/logging"
	"paper-exchange/internal/marketdata"
	"paper-exchange/internal/models"
)

// TickResult summarizes one evaluation cycle.
type TickResult struct {
	Evaluated      int
	Filled         int
	Expired        int
	Rejected       int
	SkippedSymbols []string
	Errors         int
}

func (r *TickResult) merge(o TickResult) {
	r.Evaluated += o.Evaluated
	r.Filled += o.Filled
	r.Expired += o.Expired
	r.Rejected += o.Rejected
	r.Errors += o.Errors
}

// tickTypes are the order types a tick evaluates. Iceberg parents never
// execute themselves; their children are limit orders.
var tickTypes = []models.OrderType{
	models.OrderTypeLimit,
	models.OrderTypeStop,
	models.OrderTypeStopLimit,
	models.OrderTypeTakeProfit,
	models.OrderTypeTrailingStop,
}

// Tick re-evaluates every open order once. Concurrent callers share the
// running cycle instead of starting another one.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	v, err, shared := e.ticks.Do("tick", func() (interface{}, error) {
		return e.tick(ctx)
	})
	if shared {
		e.logger.Debug().Msg("Joined in-flight tick")
	}
	if err != nil {
		return TickResult{}, err
	}
	return v.(TickResult), nil
}

func (e *Engine) tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	logger := logging.WithOperation(e.logger, "tick")

	open, err := e.orders.FindOpenByType(ctx, tickTypes...)
	if err != nil {
		return result, fmt.Errorf("loading open orders: %w", err)
	}
	if len(open) == 0 {
		return result, nil
	}

	symbols := make([]string, 0, len(open))
	byAccount := make(map[string][]string)
	for _, o := range open {
		symbols = append(symbols, o.Symbol)
		byAccount[o.AccountID] = append(byAccount[o.AccountID], o.ID)
	}

	// Prices are fetched once per symbol, before any account lock is taken.
	prices := make(map[string]decimal.Decimal)
	for _, pr := range marketdata.Snapshot(ctx, e.prices, symbols) {
		if pr.Err != nil {
			logger.Warn().Err(pr.Err).Str("symbol", pr.Symbol).Msg("Skipping symbol this tick")
			result.SkippedSymbols = append(result.SkippedSymbols, pr.Symbol)
			continue
		}
		prices[pr.Symbol] = pr.Price
	}

	accounts := make([]string, 0, len(byAccount))
	for id := range byAccount {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(e.cfg.TickConcurrency)
	for _, accountID := range accounts {
		accountID := accountID
		orderIDs := byAccount[accountID]
		p.Go(func() {
			r := e.tickAccount(ctx, logger, accountID, orderIDs, prices)
			mu.Lock()
			result.merge(r)
			mu.Unlock()
		})
	}
	p.Wait()

	logger.Debug().
		Int("evaluated", result.Evaluated).
		Int("filled", result.Filled).
		Int("expired", result.Expired).
		Int("rejected", result.Rejected).
		Int("errors", result.Errors).
		Strs("skipped", result.SkippedSymbols).
		Msg("Tick completed")
	return result, nil
}

// tickAccount evaluates one account's orders sequentially, each in its own
// critical section so one failing order does not roll back the others.
func (e *Engine) tickAccount(ctx context.Context, logger zerolog.Logger, accountID string, orderIDs []string, prices map[string]decimal.Decimal) TickResult {
	var result TickResult
	logger = logging.WithAccount(logger, accountID)
	for _, id := range orderIDs {
		if ctx.Err() != nil {
			return result
		}
		outcome, err := e.processOrder(ctx, accountID, id, prices)
		if err != nil {
			result.Errors++
			orderLog := logging.WithOrderID(logger, id)
			orderLog.Error().Err(err).Msg("Order evaluation failed")
			continue
		}
		switch outcome {
		case outcomeFilled:
			result.Filled++
		case outcomeExpired:
			result.Expired++
		case outcomeRejected:
			result.Rejected++
		}
		if outcome != outcomeSkipped {
			result.Evaluated++
		}
	}
	return result
}

type tickOutcome int

const (
	outcomeSkipped tickOutcome = iota
	outcomeWaiting
	outcomeFilled
	outcomeExpired
	outcomeRejected
)

// processOrder re-reads the order under the account lock and acts on it:
// expiry first, then trailing advancement, then trigger and fill.
func (e *Engine) processOrder(ctx context.Context, accountID, orderID string, prices map[string]decimal.Decimal) (tickOutcome, error) {
	outcome := outcomeSkipped
	var final *models.Order
	var trade *models.Trade

	err := e.ledger.WithAccount(ctx, accountID, func(tx *ledger.Tx) error {
		order, err := e.loadOwned(ctx, accountID, orderID)
		if err != nil {
			return err
		}
		// Cancelled or filled since the cycle started.
		if !order.Status.IsOpen() {
			return nil
		}

		if order.ExpiresAt != nil && !tx.Now().Before(*order.ExpiresAt) {
			if err := e.expire(tx, order); err != nil {
				return err
			}
			e.update(tx, order)
			outcome, final = outcomeExpired, order
			return nil
		}

		price, ok := prices[order.Symbol]
		if !ok {
			return nil
		}
		outcome = outcomeWaiting

		advanced := order.Type == models.OrderTypeTrailingStop && advanceTrailing(order, price, tx.Now())
		triggered, fillPrice := e.Evaluate(order, price)
		if !triggered {
			if advanced {
				e.update(tx, order)
			}
			return nil
		}

		if order.Type == models.OrderTypeTrailingStop {
			markTriggered(order, tx.Now())
		}
		t, err := e.fill(tx, order, fillPrice)
		if errors.Is(err, errShortfall) {
			if err := e.reject(tx, order, err.Error()); err != nil {
				return err
			}
			e.update(tx, order)
			outcome, final = outcomeRejected, order
			return nil
		}
		if err != nil {
			return err
		}
		e.record(tx, t)
		e.update(tx, order)
		if err := e.onChildFilled(ctx, tx, order); err != nil {
			return err
		}
		if err := e.cancelSibling(ctx, tx, order); err != nil {
			return err
		}
		outcome, final, trade = outcomeFilled, order, t
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}

	if final != nil {
		logging.LogOrder(e.logger, final)
	}
	if trade != nil {
		logging.LogTrade(e.logger, trade)
	}
	return outcome, nil
}
