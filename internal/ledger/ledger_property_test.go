package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// Property: after any sequence of lock, unlock and settle operations every
// balance still satisfies total = available + locked with no negative field.
func TestProperty_BalanceInvariantHolds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	opGen := gen.SliceOfN(30, gen.IntRange(0, 2))
	amountGen := gen.SliceOfN(30, gen.Int64Range(1, 50_000))

	properties.Property("Invariant: total = available + locked after random operations", prop.ForAll(
		func(ops []int, amounts []int64) bool {
			l, _ := newTestLedger(t)
			ctx := context.Background()
			if err := l.Deposit(ctx, "p", "USDT", decimal.NewFromInt(10_000), "seed"); err != nil {
				return false
			}

			for i, op := range ops {
				amount := decimal.New(amounts[i], -2)
				switch op {
				case 0:
					// Insufficient funds is an allowed outcome.
					_ = l.Lock(ctx, "p", "USDT", amount)
				case 1:
					if err := l.Unlock(ctx, "p", "USDT", amount); err != nil {
						return false
					}
				case 2:
					b, err := l.GetBalance(ctx, "p", "USDT")
					if err != nil {
						return false
					}
					settle := decimal.Min(amount, b.Locked)
					if err := l.Settle(ctx, "p", "USDT", settle, "BTC", settle.Div(decimal.NewFromInt(50_000))); err != nil {
						return false
					}
				}
			}

			acct, err := l.Account(ctx, "p")
			if err != nil {
				return false
			}
			if err := acct.Validate(); err != nil {
				t.Logf("Invariant broken: %v", err)
				return false
			}
			return true
		},
		opGen,
		amountGen,
	))

	properties.TestingRun(t)
}

// Property: lock(x) followed by unlock(x) restores the original balance.
func TestProperty_LockUnlockRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Round trip: lock then unlock leaves balance unchanged", prop.ForAll(
		func(depositCents, lockCents int64) bool {
			l, _ := newTestLedger(t)
			ctx := context.Background()
			deposit := decimal.New(depositCents, -2)
			lock := decimal.New(lockCents, -2)
			account := fmt.Sprintf("rt-%d-%d", depositCents, lockCents)

			if err := l.Deposit(ctx, account, "USDT", deposit, "seed"); err != nil {
				return false
			}
			before, _ := l.GetBalance(ctx, account, "USDT")

			if err := l.Lock(ctx, account, "USDT", lock); err != nil {
				// Only allowed when the lock exceeds the deposit.
				return lock.GreaterThan(deposit)
			}
			if err := l.Unlock(ctx, account, "USDT", lock); err != nil {
				return false
			}
			after, _ := l.GetBalance(ctx, account, "USDT")

			return before.Total.Equal(after.Total) &&
				before.Available.Equal(after.Available) &&
				before.Locked.Equal(after.Locked)
		},
		gen.Int64Range(1, 10_000_000),
		gen.Int64Range(1, 10_000_000),
	))

	properties.TestingRun(t)
}
