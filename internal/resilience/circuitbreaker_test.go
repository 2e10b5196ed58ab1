package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failing(ctx context.Context) error { return errUpstream }
func ok(ctx context.Context) error      { return nil }

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clk := clock.NewMock()
	var transitions []CircuitState
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Second,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, to)
		},
	}
	cb := NewCircuitBreaker("prices", cfg, clk)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, failing), errUpstream)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, failing), errUpstream)
	assert.Equal(t, CircuitOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clk.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, transitions)

	stats := cb.Stats()
	assert.EqualValues(t, 1, stats.TotalRejected)
	assert.EqualValues(t, 3, stats.TotalRequests)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewMock()
	cb := NewCircuitBreaker("prices", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second}, clk)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	require.Equal(t, CircuitOpen, cb.State())

	clk.Add(2 * time.Second)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	notFound := errors.New("unknown symbol")
	cb := NewCircuitBreaker("prices", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	}, clock.NewMock())

	got, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 0, notFound
	})
	assert.ErrorIs(t, err, notFound)
	assert.Zero(t, got)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestRegistry_SharesBreakersByName(t *testing.T) {
	r := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute}, clock.NewMock())
	a := r.Get("api.example.com")
	assert.Same(t, a, r.Get("api.example.com"))

	_ = a.Execute(context.Background(), failing)
	assert.Equal(t, []string{"api.example.com"}, r.OpenCircuits())

	r.ResetAll()
	assert.Empty(t, r.OpenCircuits())
}
