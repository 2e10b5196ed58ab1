package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func componentNamed(t *testing.T, h SystemHealth, name string) ComponentHealth {
	t.Helper()
	for _, c := range h.Components {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("component %q not reported", name)
	return ComponentHealth{}
}

func TestHealthChecker_AggregatesStatus(t *testing.T) {
	clk := clock.NewMock()
	h := NewHealthChecker(HealthCheckerConfig{}, clk, zerolog.Nop())

	h.Register("store", ProbeHealthCheck(clk, time.Second, ok))
	result := h.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, result.Status)
	require.Len(t, result.Components, 3)
	assert.Equal(t, "goroutines", result.Components[0].Name)
	assert.Equal(t, "memory", result.Components[1].Name)
	assert.Equal(t, "store", result.Components[2].Name)

	h.Register("prices", ProbeHealthCheck(clk, time.Second, failing))
	result = h.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, result.Status)
	prices := componentNamed(t, result, "prices")
	assert.Equal(t, HealthStatusUnhealthy, prices.Status)
	assert.Contains(t, prices.Message, "upstream down")

	total, failed := h.Counts()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), failed)
}

func TestHealthChecker_RecoversPanickingCheck(t *testing.T) {
	h := NewHealthChecker(HealthCheckerConfig{}, clock.NewMock(), zerolog.Nop())
	h.Register("broken", func(ctx context.Context) ComponentHealth {
		panic("boom")
	})

	result := h.Check(context.Background())
	broken := componentNamed(t, result, "broken")
	assert.Equal(t, HealthStatusUnhealthy, broken.Status)
	assert.Contains(t, broken.Message, "boom")
	assert.Equal(t, HealthStatusUnhealthy, result.Status)
}

func TestProbeHealthCheck_SlowIsDegraded(t *testing.T) {
	clk := clock.NewMock()
	check := ProbeHealthCheck(clk, time.Second, func(ctx context.Context) error {
		clk.Add(2 * time.Second)
		return nil
	})

	health := check(context.Background())
	assert.Equal(t, HealthStatusDegraded, health.Status)
	assert.Equal(t, 2*time.Second, health.Latency)
}

func TestBreakerHealthCheck(t *testing.T) {
	clk := clock.NewMock()
	r := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute}, clk)
	r.Get("binance")
	check := BreakerHealthCheck(r)

	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	_ = r.Get("binance").Execute(context.Background(), failing)
	health := check(context.Background())
	assert.Equal(t, HealthStatusDegraded, health.Status)
	assert.Equal(t, "OPEN", health.Details["binance"])
}
