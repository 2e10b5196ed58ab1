package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-exchange/internal/marketdata"
	"paper-exchange/internal/models"
	"paper-exchange/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []models.RiskAlert
}

func (n *recordingNotifier) Notify(_ context.Context, alert models.RiskAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

type monitorFixture struct {
	monitor  *Monitor
	mem      *store.MemoryStore
	feed     *marketdata.StaticFeed
	notifier *recordingNotifier
}

func newMonitorFixture(t *testing.T, balances map[string]string) *monitorFixture {
	t.Helper()
	mem := store.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	acct := models.NewAccount("alice", clk.Now())
	for asset, amount := range balances {
		b := acct.Ensure(asset)
		b.Total = d(amount)
		b.Available = d(amount)
	}
	require.NoError(t, mem.SaveAccount(context.Background(), acct))

	feed := marketdata.NewStaticFeed(map[string]decimal.Decimal{
		"BTC/USDT": d("50000"),
		"ETH/USDT": d("2000"),
	})
	notifier := &recordingNotifier{}
	m := NewMonitor(DefaultMonitorConfig(), mem, NewValuer(feed, zerolog.Nop()), mem, notifier, clk, zerolog.Nop())
	return &monitorFixture{monitor: m, mem: mem, feed: feed, notifier: notifier}
}

func TestVaR(t *testing.T) {
	exposure := d("10000")
	vol := d("0.02")
	assert.True(t, VaR(exposure, vol, d("0.95")).Equal(d("329")))
	assert.True(t, VaR(exposure, vol, d("0.99")).Equal(d("465.2")))
	assert.True(t, VaR(exposure, vol, d("0.90")).Equal(d("256.4")))
}

func TestMonitor_AssessMetrics(t *testing.T) {
	f := newMonitorFixture(t, map[string]string{"USDT": "5000", "BTC": "0.1"})

	report, err := f.monitor.Assess(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, report.PortfolioValue.Equal(d("10000")))
	assert.True(t, report.Exposure.Equal(d("5000")))
	assert.True(t, report.VaR95.Equal(d("164.5")))
	assert.True(t, report.ConcentrationRisk.Equal(d("0.5")))
	// Two equal shares: HHI 0.5.
	assert.True(t, report.DiversificationScore.Equal(d("0.5")))
	assert.True(t, report.Drawdown.IsZero())
	assert.Empty(t, report.Alerts)
}

func TestMonitor_CashIsExcludedFromConcentrationOnly(t *testing.T) {
	f := newMonitorFixture(t, map[string]string{"USDT": "10000"})

	report, err := f.monitor.Assess(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, report.Shares["USDT"].Equal(d("1")))
	assert.True(t, report.ConcentrationRisk.IsZero(), "concentration %s", report.ConcentrationRisk)
	assert.True(t, report.DiversificationScore.IsZero(), "diversification %s", report.DiversificationScore)
	assert.Empty(t, report.Alerts)

	// Mostly cash: concentration reads the BTC share, the HHI reads both.
	f2 := newMonitorFixture(t, map[string]string{"USDT": "7500", "BTC": "0.05"})
	report, err = f2.monitor.Assess(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, report.ConcentrationRisk.Equal(d("0.25")), "concentration %s", report.ConcentrationRisk)
	assert.True(t, report.DiversificationScore.Equal(d("0.375")), "diversification %s", report.DiversificationScore)
}

func TestMonitor_ConcentrationAlertFiresOnce(t *testing.T) {
	f := newMonitorFixture(t, map[string]string{"USDT": "500", "BTC": "0.19"})
	ctx := context.Background()

	first, err := f.monitor.Assess(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, first.Alerts, 1)
	assert.Equal(t, models.AlertConcentration, first.Alerts[0].Kind)

	second, err := f.monitor.Assess(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, second.Alerts, 1, "report still lists the active breach")

	assert.Len(t, f.notifier.alerts, 1)
	assert.Len(t, f.monitor.Alerts("alice"), 1)
	stored, err := f.mem.AlertsByAccount(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestMonitor_DrawdownFromPeak(t *testing.T) {
	f := newMonitorFixture(t, map[string]string{"USDT": "9000", "BTC": "0.02"})
	acct, err := f.mem.LoadAccount(context.Background(), "alice")
	require.NoError(t, err)
	acct.RiskLimits = &models.RiskLimits{MaxDrawdown: d("0.05")}
	require.NoError(t, f.mem.SaveAccount(context.Background(), acct))
	ctx := context.Background()

	_, err = f.monitor.Assess(ctx, "alice")
	require.NoError(t, err)

	// 10000 -> 9500.
	require.NoError(t, f.feed.SetPrice("BTC/USDT", d("25000")))
	report, err := f.monitor.Assess(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, report.PeakValue.Equal(d("10000")))
	assert.True(t, report.Drawdown.Equal(d("0.05")))
	assert.Empty(t, report.Alerts, "drawdown equal to the limit is not a breach")

	require.NoError(t, f.feed.SetPrice("BTC/USDT", d("20000")))
	report, err = f.monitor.Assess(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, models.AlertDrawdown, report.Alerts[0].Kind)
	assert.Equal(t, models.SeverityWarning, report.Alerts[0].Severity)
}

func TestMonitor_VaRAlert(t *testing.T) {
	f := newMonitorFixture(t, map[string]string{"USDT": "3000", "BTC": "0.1", "ETH": "1"})
	acct, err := f.mem.LoadAccount(context.Background(), "alice")
	require.NoError(t, err)
	acct.RiskLimits = &models.RiskLimits{MaxDailyLoss: d("0.01")}
	require.NoError(t, f.mem.SaveAccount(context.Background(), acct))

	// Value 10000, exposure 7000, VaR95 230.3 > 100.
	report, err := f.monitor.Assess(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, models.AlertVaR, report.Alerts[0].Kind)
	assert.Equal(t, models.SeverityCritical, report.Alerts[0].Severity)
}

func TestMonitor_RunAssessesEveryAccount(t *testing.T) {
	f := newMonitorFixture(t, map[string]string{"USDT": "100", "BTC": "1"})
	require.NoError(t, f.mem.SaveAccount(context.Background(), models.NewAccount("bob", time.Now())))

	require.NoError(t, f.monitor.Run(context.Background()))
	assert.Len(t, f.notifier.alerts, 1)
}

func TestMonitor_HistoryIsCapped(t *testing.T) {
	f := newMonitorFixture(t, map[string]string{"USDT": "100", "BTC": "1"})
	f.monitor.cfg.HistoryLimit = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.monitor.Assess(ctx, "alice")
		require.NoError(t, err)
		f.monitor.ResetPeak("alice")
	}
	assert.Len(t, f.monitor.Alerts("alice"), 3)
	assert.Len(t, f.notifier.alerts, 5)
}

func TestMonitor_UnknownAccount(t *testing.T) {
	f := newMonitorFixture(t, nil)
	_, err := f.monitor.Assess(context.Background(), "nobody")
	assert.Error(t, err)
}
