package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithResult_SucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	calls := 0
	got, err := RetryWithResult(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}
	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 2}
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		cancel()
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1,234,567.89", FormatAmount(decimal.RequireFromString("1234567.891"), 2))
	assert.Equal(t, "-499.24975", FormatAmount(decimal.RequireFromString("-499.24975"), 8))
	assert.Equal(t, "999", FormatAmount(decimal.NewFromInt(999), 2))
	assert.Equal(t, "12.50%", FormatPercent(decimal.RequireFromString("0.125")))
	assert.Equal(t, "-2.00%", FormatPercent(decimal.RequireFromString("-0.02")))
	assert.Equal(t, "+10.5", FormatPnL(decimal.RequireFromString("10.5")))
	assert.Equal(t, "1.50M", FormatCompact(decimal.NewFromInt(1_500_000)))
	assert.Equal(t, "12.00", FormatCompact(decimal.NewFromInt(12)))
}

func TestSymbolHelpers(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ExchangeSymbol("btc/usdt"))
	at := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "2024-05-02", TradingDay(at))
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), StartOfTradingDay(at))
}
