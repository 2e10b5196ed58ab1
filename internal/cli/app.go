package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-exchange/internal/config"
	"paper-exchange/internal/ledger"
	"paper-exchange/internal/marketdata"
	"paper-exchange/internal/models"
	"paper-exchange/internal/notify"
	"paper-exchange/internal/resilience"
	"paper-exchange/internal/risk"
	"paper-exchange/internal/store"
	"paper-exchange/internal/trading"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Clock    clock.Clock
	Store    store.DataStore
	Feed     *marketdata.StaticFeed // nil unless the static provider is configured
	Prices   marketdata.Provider
	Breakers *resilience.CircuitBreakerRegistry
	Ledger   *ledger.Ledger
	Engine   *trading.Engine
	Monitor  *risk.Monitor
	Notifier *notify.MultiNotifier
	Health   *resilience.HealthChecker
}

// NewApp wires every component from configuration. Alerts printed by the
// terminal notifier go to out.
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, clk clock.Clock, out io.Writer) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Clock:  clk,
	}

	dataStore, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	app.Store = dataStore
	logger.Debug().Str("driver", cfg.Store.Driver).Msg("Store initialized")

	if err := app.initMarketData(ctx); err != nil {
		dataStore.Close()
		return nil, err
	}

	limits, err := models.RiskProfilePreset(models.RiskProfile(cfg.Risk.Profile))
	if err != nil {
		dataStore.Close()
		return nil, fmt.Errorf("risk profile: %w", err)
	}

	app.Ledger = ledger.New(dataStore, clk, logger)
	gate := risk.NewGate(risk.NewAssetClassifier(nil, nil), risk.DefaultCorrelations(), logger)

	app.Engine, err = trading.NewEngine(trading.Config{
		SlippageFactor:         decimal.NewFromFloat(cfg.Engine.SlippageFactor),
		FeeRate:                decimal.NewFromFloat(cfg.Engine.FeeRate),
		StopLimitFill:          trading.StopLimitFill(cfg.Engine.StopLimitFill),
		OCOCancelSiblingOnFill: cfg.Engine.OCOCancelSiblingOnFill,
		TickConcurrency:        cfg.Engine.TickConcurrency,
		BaseAsset:              cfg.Ledger.BaseAsset,
		DefaultLimits:          limits,
	}, trading.Deps{
		Ledger: app.Ledger,
		Orders: dataStore,
		Trades: dataStore,
		Prices: app.Prices,
		Gate:   gate,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		dataStore.Close()
		return nil, err
	}

	app.Notifier = notify.NewMultiNotifier(cfg.Notifications, cfg.UI, out, logger)
	app.Monitor = risk.NewMonitor(risk.MonitorConfig{
		ValuationAsset:         cfg.Ledger.BaseAsset,
		Volatility:             decimal.NewFromFloat(cfg.Risk.Volatility),
		HistoryLimit:           cfg.Risk.AlertHistory,
		ConcentrationThreshold: decimal.NewFromFloat(cfg.Risk.ConcentrationThreshold),
		DefaultLimits:          limits,
	}, dataStore, risk.NewValuer(app.Prices, logger), dataStore, app.Notifier, clk, logger)

	app.initHealth()
	return app, nil
}

func openStore(cfg config.StoreConfig) (store.DataStore, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store %s: %w", cfg.Path, err)
		}
		return s, nil
	}
}

// initMarketData builds the price provider. The static feed is seeded from
// configuration, then from prices saved by `price set`. The http provider
// is wrapped in a cache with a rate limit and a circuit breaker.
func (a *App) initMarketData(ctx context.Context) error {
	md := a.Config.MarketData
	a.Breakers = resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: md.BreakerFailures,
		SuccessThreshold: 1,
		Timeout:          md.BreakerCooldown,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			a.Logger.Warn().Str("circuit", name).Str("from", string(from)).Str("to", string(to)).
				Msg("Market data circuit changed state")
		},
	}, a.Clock)

	if md.Provider == "http" {
		upstream := marketdata.NewHTTPProvider(md.BaseURL, a.Logger)
		a.Prices = marketdata.NewCachedProvider(upstream, upstream.Host(), marketdata.CacheConfig{
			TTL:           md.CacheTTL,
			Size:          1024,
			Timeout:       md.Timeout,
			RatePerSecond: md.RatePerSecond,
			Burst:         md.Burst,
			Breakers:      a.Breakers,
		}, a.Clock, a.Logger)
		return nil
	}

	seed := make(map[string]decimal.Decimal, len(md.Prices))
	for symbol, price := range md.Prices {
		base, quote, err := models.ParseSymbol(symbol)
		if err != nil {
			return fmt.Errorf("seed price: %w", err)
		}
		seed[models.Symbol(base, quote)] = decimal.NewFromFloat(price)
	}
	saved, err := a.Store.LoadPrices(ctx)
	if err != nil {
		return err
	}
	for symbol, price := range saved {
		seed[symbol] = price
	}
	a.Feed = marketdata.NewStaticFeed(seed)
	a.Prices = a.Feed
	return nil
}

func (a *App) initHealth() {
	a.Health = resilience.NewHealthChecker(resilience.DefaultHealthCheckerConfig(), a.Clock, a.Logger)

	a.Health.Register("store", resilience.ProbeHealthCheck(a.Clock, 100*time.Millisecond, func(ctx context.Context) error {
		_, err := a.Store.ListAccounts(ctx)
		return err
	}))

	healthSymbol := models.Symbol("BTC", a.Config.Ledger.BaseAsset)
	if a.Feed != nil {
		if symbols := a.Feed.Symbols(); len(symbols) > 0 {
			healthSymbol = symbols[0]
		}
	}
	a.Health.Register("market_data", resilience.ProbeHealthCheck(a.Clock, 2*time.Second, func(ctx context.Context) error {
		_, err := a.Prices.Price(ctx, healthSymbol)
		return err
	}))

	a.Health.Register("circuits", resilience.BreakerHealthCheck(a.Breakers))
}

// SetPrice updates the static feed and saves the price so later runs see it.
func (a *App) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) (string, error) {
	if a.Feed == nil {
		return "", fmt.Errorf("prices can only be set with the static market data provider")
	}
	base, quote, err := models.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	symbol = models.Symbol(base, quote)
	if err := a.Feed.SetPrice(symbol, price); err != nil {
		return "", err
	}
	if err := a.Store.SavePrice(ctx, symbol, price); err != nil {
		return "", err
	}
	a.Logger.Info().Str("symbol", symbol).Str("price", price.String()).Msg("Price set")
	return symbol, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
