package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paper-exchange/internal/models"
	"paper-exchange/internal/store"
)

// Notifier delivers risk alerts to the outside world.
type Notifier interface {
	Notify(ctx context.Context, alert models.RiskAlert) error
}

// MonitorConfig configures the portfolio monitor.
type MonitorConfig struct {
	ValuationAsset         string
	Volatility             decimal.Decimal // assumed daily volatility
	HistoryLimit           int             // alerts kept in memory per account
	ConcentrationThreshold decimal.Decimal
	DefaultLimits          models.RiskLimits // used when an account has no override
}

// DefaultMonitorConfig returns the standard monitor settings.
func DefaultMonitorConfig() MonitorConfig {
	limits, _ := models.RiskProfilePreset(models.RiskProfileModerate)
	return MonitorConfig{
		ValuationAsset:         "USDT",
		Volatility:             decimal.RequireFromString("0.02"),
		HistoryLimit:           100,
		ConcentrationThreshold: decimal.RequireFromString("0.8"),
		DefaultLimits:          limits,
	}
}

// ZScore returns the one-sided normal quantile for common confidence levels.
func ZScore(confidence decimal.Decimal) decimal.Decimal {
	switch {
	case confidence.GreaterThanOrEqual(decimal.RequireFromString("0.99")):
		return decimal.RequireFromString("2.326")
	case confidence.GreaterThanOrEqual(decimal.RequireFromString("0.95")):
		return decimal.RequireFromString("1.645")
	case confidence.GreaterThanOrEqual(decimal.RequireFromString("0.90")):
		return decimal.RequireFromString("1.282")
	default:
		return decimal.NewFromInt(1)
	}
}

// VaR is the parametric one-day value at risk: exposure × volatility × z.
func VaR(exposure, volatility, confidence decimal.Decimal) decimal.Decimal {
	return exposure.Mul(volatility).Mul(ZScore(confidence))
}

// Monitor scores portfolio risk independently of order flow. It tracks the
// value high-water mark per account and raises an alert when a threshold is
// first breached; a breach that persists is not re-alerted until it clears.
type Monitor struct {
	cfg      MonitorConfig
	accounts store.AccountStore
	valuer   *Valuer
	alerts   store.AlertStore
	notifier Notifier
	clock    clock.Clock
	logger   zerolog.Logger

	mu      sync.Mutex
	peaks   map[string]decimal.Decimal
	active  map[string]map[models.AlertKind]bool
	history map[string][]models.RiskAlert
}

// NewMonitor creates a monitor. alerts and notifier may be nil.
func NewMonitor(cfg MonitorConfig, accounts store.AccountStore, valuer *Valuer, alerts store.AlertStore, notifier Notifier, clk clock.Clock, logger zerolog.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Monitor{
		cfg:      cfg,
		accounts: accounts,
		valuer:   valuer,
		alerts:   alerts,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With().Str("component", "risk.monitor").Logger(),
		peaks:    make(map[string]decimal.Decimal),
		active:   make(map[string]map[models.AlertKind]bool),
		history:  make(map[string][]models.RiskAlert),
	}
}

// Run assesses every known account once. Per-account failures are logged
// and skipped.
func (m *Monitor) Run(ctx context.Context) error {
	ids, err := m.accounts.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.Assess(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("account_id", id).Msg("Risk assessment failed")
		}
	}
	return nil
}

// Assess computes the account's risk report and dispatches newly breached alerts.
func (m *Monitor) Assess(ctx context.Context, accountID string) (*models.RiskReport, error) {
	acct, err := m.accounts.LoadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	limits := m.cfg.DefaultLimits
	if acct.RiskLimits != nil {
		limits = *acct.RiskLimits
	}

	snap := m.valuer.Snapshot(ctx, acct, m.cfg.ValuationAsset, now)
	exposure := snap.Exposure()

	report := &models.RiskReport{
		AccountID:      accountID,
		PortfolioValue: snap.Value,
		Exposure:       exposure,
		VaR95:          VaR(exposure, m.cfg.Volatility, decimal.RequireFromString("0.95")),
		VaR99:          VaR(exposure, m.cfg.Volatility, decimal.RequireFromString("0.99")),
		Shares:         make(map[string]decimal.Decimal, len(snap.Holdings)),
		At:             now,
	}

	// Cash counts towards the HHI but is never a concentrated position.
	hhi := decimal.Zero
	for asset := range snap.Holdings {
		share := snap.Share(asset)
		report.Shares[asset] = share
		hhi = hhi.Add(share.Mul(share))
		if asset != snap.ValuationAsset && share.GreaterThan(report.ConcentrationRisk) {
			report.ConcentrationRisk = share
		}
	}
	if snap.Value.IsPositive() {
		report.DiversificationScore = decimal.NewFromInt(1).Sub(hhi)
	}

	m.mu.Lock()
	peak := m.peaks[accountID]
	if snap.Value.GreaterThan(peak) {
		peak = snap.Value
		m.peaks[accountID] = peak
	}
	m.mu.Unlock()
	report.PeakValue = peak
	if peak.IsPositive() {
		report.Drawdown = peak.Sub(snap.Value).Div(peak)
	}

	breaches := m.breaches(report, limits)
	report.Alerts = breaches
	for _, alert := range m.newlyBreached(accountID, breaches) {
		m.record(ctx, alert)
	}

	m.logger.Debug().
		Str("account_id", accountID).
		Str("value", snap.Value.StringFixed(2)).
		Str("var95", report.VaR95.StringFixed(2)).
		Str("concentration", report.ConcentrationRisk.StringFixed(4)).
		Str("drawdown", report.Drawdown.StringFixed(4)).
		Int("breaches", len(breaches)).
		Msg("Risk assessed")

	return report, nil
}

func (m *Monitor) breaches(r *models.RiskReport, limits models.RiskLimits) []models.RiskAlert {
	var out []models.RiskAlert
	add := func(kind models.AlertKind, value, threshold decimal.Decimal, msg string) {
		severity := models.SeverityWarning
		if value.GreaterThanOrEqual(threshold.Mul(decimal.RequireFromString("1.5"))) {
			severity = models.SeverityCritical
		}
		out = append(out, models.RiskAlert{
			ID:        uuid.NewString(),
			AccountID: r.AccountID,
			Kind:      kind,
			Severity:  severity,
			Message:   msg,
			Value:     value,
			Threshold: threshold,
			At:        r.At,
		})
	}

	if limits.MaxDrawdown.IsPositive() && r.Drawdown.GreaterThan(limits.MaxDrawdown) {
		add(models.AlertDrawdown, r.Drawdown, limits.MaxDrawdown,
			fmt.Sprintf("drawdown %s exceeds max %s", pct(r.Drawdown), pct(limits.MaxDrawdown)))
	}
	if m.cfg.ConcentrationThreshold.IsPositive() && r.ConcentrationRisk.GreaterThan(m.cfg.ConcentrationThreshold) {
		add(models.AlertConcentration, r.ConcentrationRisk, m.cfg.ConcentrationThreshold,
			fmt.Sprintf("single asset holds %s of portfolio", pct(r.ConcentrationRisk)))
	}
	if limits.MaxDailyLoss.IsPositive() && r.PortfolioValue.IsPositive() {
		limit := limits.MaxDailyLoss.Mul(r.PortfolioValue)
		if r.VaR95.GreaterThan(limit) {
			add(models.AlertVaR, r.VaR95, limit,
				fmt.Sprintf("95%% VaR %s exceeds daily loss limit %s", r.VaR95.StringFixed(2), limit.StringFixed(2)))
		}
	}
	return out
}

func (m *Monitor) newlyBreached(accountID string, breaches []models.RiskAlert) []models.RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.active[accountID]
	current := make(map[models.AlertKind]bool, len(breaches))
	var fresh []models.RiskAlert
	for _, b := range breaches {
		current[b.Kind] = true
		if !prev[b.Kind] {
			fresh = append(fresh, b)
		}
	}
	m.active[accountID] = current

	for _, a := range fresh {
		h := append(m.history[accountID], a)
		if len(h) > m.cfg.HistoryLimit {
			h = h[len(h)-m.cfg.HistoryLimit:]
		}
		m.history[accountID] = h
	}
	return fresh
}

func (m *Monitor) record(ctx context.Context, alert models.RiskAlert) {
	m.logger.Warn().
		Str("account_id", alert.AccountID).
		Str("kind", string(alert.Kind)).
		Str("severity", string(alert.Severity)).
		Str("value", alert.Value.String()).
		Str("threshold", alert.Threshold.String()).
		Msg(alert.Message)

	if m.alerts != nil {
		if err := m.alerts.SaveAlert(ctx, &alert); err != nil {
			m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to persist risk alert")
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, alert); err != nil {
			m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to dispatch risk alert")
		}
	}
}

// Alerts returns the in-memory alert history of the account, oldest first.
func (m *Monitor) Alerts(accountID string) []models.RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RiskAlert(nil), m.history[accountID]...)
}

// ResetPeak forgets the account's high-water mark, e.g. after an account reset.
func (m *Monitor) ResetPeak(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peaks, accountID)
	delete(m.active, accountID)
}
