package marketdata

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/resilience"
)

// CacheConfig configures CachedProvider.
type CacheConfig struct {
	TTL           time.Duration // how long a fetched price is served from cache
	Size          int           // maximum cached symbols, 0 = unlimited
	Timeout       time.Duration // per upstream call
	RatePerSecond float64       // upstream calls per second, 0 = unlimited
	Burst         int
	Breaker       resilience.CircuitBreakerConfig

	// Breakers, when set, supplies a shared breaker keyed by provider name
	// and Breaker is ignored.
	Breakers *resilience.CircuitBreakerRegistry
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:           5 * time.Second,
		Size:          1024,
		Timeout:       3 * time.Second,
		RatePerSecond: 10,
		Burst:         10,
		Breaker:       resilience.DefaultCircuitBreakerConfig(),
	}
}

// CachedProvider decorates an upstream Provider. Concurrent misses for the
// same symbol share one upstream call.
type CachedProvider struct {
	upstream Provider
	cache    *expirable.LRU[string, decimal.Decimal]
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	group    singleflight.Group
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewCachedProvider wraps upstream. name keys the circuit breaker in logs and stats.
func NewCachedProvider(upstream Provider, name string, cfg CacheConfig, clk clock.Clock, logger zerolog.Logger) *CachedProvider {
	logger = logger.With().Str("component", "marketdata.cache").Str("provider", name).Logger()

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	var breaker *resilience.CircuitBreaker
	if cfg.Breakers != nil {
		breaker = cfg.Breakers.Get(name)
	} else {
		breakerCfg := cfg.Breaker
		if breakerCfg.OnStateChange == nil {
			breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
				logger.Warn().Str("from", string(from)).Str("to", string(to)).Msg("Market data circuit changed state")
			}
		}
		breaker = resilience.NewCircuitBreaker(name, breakerCfg, clk)
	}

	return &CachedProvider{
		upstream: upstream,
		cache:    expirable.NewLRU[string, decimal.Decimal](cfg.Size, nil, cfg.TTL),
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  breaker,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Price serves symbol from cache or fetches it through the rate limiter and breaker.
func (c *CachedProvider) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := c.cache.Get(symbol); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		if err := c.limiter.Wait(callCtx); err != nil {
			return decimal.Zero, err
		}
		price, err := resilience.ExecuteWithResult(c.breaker, callCtx, func(ctx context.Context) (decimal.Decimal, error) {
			return c.upstream.Price(ctx, symbol)
		})
		if err != nil {
			return decimal.Zero, err
		}
		c.cache.Add(symbol, price)
		return price, nil
	})
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrPriceUnavailable) {
			err = apperrors.NewPriceError(symbol, err)
		}
		c.logger.Debug().Err(err).Str("symbol", symbol).Msg("Price unavailable")
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// BreakerStats exposes the upstream circuit breaker statistics.
func (c *CachedProvider) BreakerStats() resilience.CircuitBreakerStats {
	return c.breaker.Stats()
}
