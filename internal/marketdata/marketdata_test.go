package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/resilience"
	"paper-exchange/pkg/utils"
)

func TestStaticFeed(t *testing.T) {
	ctx := context.Background()
	feed := NewStaticFeed(map[string]decimal.Decimal{"BTC/USDT": decimal.NewFromInt(50000)})

	p, err := feed.Price(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(50000)))

	_, err = feed.Price(ctx, "ETH/USDT")
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)

	assert.ErrorIs(t, feed.SetPrice("ETH/USDT", decimal.Zero), apperrors.ErrInvalidOrderParameters)
	require.NoError(t, feed.SetPrice("ETH/USDT", decimal.NewFromInt(3000)))
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, feed.Symbols())

	feed.Remove("BTC/USDT")
	_, err = feed.Price(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
}

func TestSnapshot_DeduplicatesAndReportsErrors(t *testing.T) {
	var calls int32
	p := ProviderFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		atomic.AddInt32(&calls, 1)
		if symbol == "BAD/USDT" {
			return decimal.Zero, apperrors.NewPriceError(symbol, nil)
		}
		return decimal.NewFromInt(1), nil
	})

	results := Snapshot(context.Background(), p, []string{"ETH/USDT", "BAD/USDT", "ETH/USDT"})
	require.Len(t, results, 2)
	assert.Equal(t, "BAD/USDT", results[0].Symbol)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.EqualValues(t, 2, calls)
}

func fastRetry() utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2,
		Retryable: func(err error) bool { return !errors.Is(err, errClientStatus) }}
}

func TestHTTPProvider_Price(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"50000.12000000"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, zerolog.Nop(), WithRetry(fastRetry()))
	price, err := p.Price(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("50000.12")))
	assert.EqualValues(t, 2, hits)
}

func TestHTTPProvider_ClientErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, zerolog.Nop(), WithRetry(fastRetry()))
	_, err := p.Price(context.Background(), "NOPE/USDT")
	require.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
	assert.EqualValues(t, 1, hits)
}

func TestCachedProvider_ServesFromCache(t *testing.T) {
	var calls int32
	upstream := ProviderFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		atomic.AddInt32(&calls, 1)
		return decimal.NewFromInt(100), nil
	})
	cfg := DefaultCacheConfig()
	cfg.TTL = time.Minute
	c := NewCachedProvider(upstream, "test", cfg, clock.NewMock(), zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := c.Price(ctx, "BTC/USDT")
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.NewFromInt(100)))
	}
	assert.EqualValues(t, 1, calls)

	// Symbols are cached independently.
	_, err := c.Price(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
}

func TestCachedProvider_ExpiresAfterTTL(t *testing.T) {
	var calls int32
	upstream := ProviderFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		atomic.AddInt32(&calls, 1)
		return decimal.NewFromInt(100), nil
	})
	cfg := DefaultCacheConfig()
	cfg.TTL = 10 * time.Millisecond
	c := NewCachedProvider(upstream, "test", cfg, clock.NewMock(), zerolog.Nop())
	ctx := context.Background()

	_, err := c.Price(ctx, "BTC/USDT")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.Price(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
}

func TestCachedProvider_TimeoutAndBreaker(t *testing.T) {
	upstream := ProviderFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		<-ctx.Done()
		return decimal.Zero, ctx.Err()
	})
	cfg := DefaultCacheConfig()
	cfg.Timeout = 5 * time.Millisecond
	cfg.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour}
	c := NewCachedProvider(upstream, "slow", cfg, clock.NewMock(), zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Price(ctx, "BTC/USDT")
		require.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	_, err := c.Price(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
	assert.Equal(t, resilience.CircuitOpen, c.BreakerStats().State)
}
