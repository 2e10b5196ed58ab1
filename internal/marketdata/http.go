package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/logging"
	"paper-exchange/pkg/utils"
)

// DefaultBaseURL is the public spot ticker API.
const DefaultBaseURL = "https://api.binance.com"

// errClientStatus marks 4xx answers, which are not retried.
var errClientStatus = errors.New("client error status")

// HTTPProvider reads last-trade prices from a spot exchange ticker endpoint
// (GET /api/v3/ticker/price?symbol=BTCUSDT).
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	retry   utils.RetryConfig
	logger  zerolog.Logger
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithRetry replaces the retry policy.
func WithRetry(cfg utils.RetryConfig) HTTPOption {
	return func(p *HTTPProvider) { p.retry = cfg }
}

// NewHTTPProvider creates a provider for baseURL (DefaultBaseURL when empty).
func NewHTTPProvider(baseURL string, logger zerolog.Logger, opts ...HTTPOption) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	retry := utils.DefaultRetryConfig()
	retry.Retryable = func(err error) bool { return !errors.Is(err, errClientStatus) }

	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		retry:   retry,
		logger:  logger.With().Str("component", "marketdata.http").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Host returns the upstream host, used to key circuit breakers.
func (p *HTTPProvider) Host() string {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return p.baseURL
	}
	return u.Host
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Price fetches the latest price for symbol.
func (p *HTTPProvider) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := utils.RetryWithResult(ctx, p.retry, func(ctx context.Context) (decimal.Decimal, error) {
		return p.fetch(ctx, symbol)
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price lookup failed")
		return decimal.Zero, apperrors.NewPriceError(symbol, err)
	}
	return price, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, symbol string) (price decimal.Decimal, err error) {
	start := time.Now()
	defer func() {
		logging.LogAPICall(p.logger, http.MethodGet, "/api/v3/ticker/price", time.Since(start), err)
	}()

	endpoint := p.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(utils.ExchangeSymbol(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("requesting ticker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading ticker: %w", err)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return decimal.Zero, fmt.Errorf("ticker status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), errClientStatus)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker status %d", resp.StatusCode)
	}

	var tr tickerResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return decimal.Zero, fmt.Errorf("decoding ticker: %w", err)
	}
	price, err = decimal.NewFromString(tr.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing price %q: %w", tr.Price, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return price, nil
}
