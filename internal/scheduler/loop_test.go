package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

func start(t *testing.T, l *Loop) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, l.Run(ctx))
	}()
	return cancel, done
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Name: "x"}, func(context.Context) error { return nil }, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = New(Config{Name: "x", Interval: time.Second}, nil, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestLoop_RunsEveryInterval(t *testing.T) {
	clk := clock.NewMock()
	ran := make(chan struct{}, 10)
	l, err := New(Config{Name: "tick", Interval: time.Minute, RunOnStart: true}, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, clk, zerolog.Nop())
	require.NoError(t, err)

	cancel, done := start(t, l)
	defer func() { cancel(); <-done }()

	// The ticker exists once the first run has started.
	select {
	case <-ran:
	case <-time.After(wait):
		t.Fatal("initial run did not happen")
	}

	for i := int64(1); i <= 3; i++ {
		// Let the previous run finish so this tick is not skipped.
		require.Eventually(t, func() bool { return l.Stats().Runs == i }, wait, 5*time.Millisecond)
		clk.Add(time.Minute)
		select {
		case <-ran:
		case <-time.After(wait):
			t.Fatalf("run %d did not happen", i+1)
		}
	}
	assert.Eventually(t, func() bool { return l.Stats().Runs == 4 }, wait, 5*time.Millisecond)
	assert.Zero(t, l.Stats().Skipped)
}

func TestLoop_SkipsWhileInFlight(t *testing.T) {
	clk := clock.NewMock()
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	l, err := New(Config{Name: "tick", Interval: time.Minute, Timeout: time.Hour, RunOnStart: true}, func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}, clk, zerolog.Nop())
	require.NoError(t, err)

	cancel, done := start(t, l)
	<-started

	clk.Add(time.Minute)
	assert.Eventually(t, func() bool { return l.Stats().Skipped == 1 }, wait, 5*time.Millisecond)
	assert.Len(t, started, 0)

	close(release)
	cancel()
	<-done
	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(1), stats.Skipped)
}

func TestLoop_ShutdownWaitsForInFlightRun(t *testing.T) {
	clk := clock.NewMock()
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	l, err := New(Config{Name: "tick", Interval: time.Minute, Timeout: time.Hour, RunOnStart: true}, func(ctx context.Context) error {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return nil
	}, clk, zerolog.Nop())
	require.NoError(t, err)

	cancel, done := start(t, l)
	<-started
	cancel()

	assert.Never(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)

	close(release)
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("loop did not stop after the in-flight run finished")
	}
	assert.False(t, sawCancel.Load())
	assert.Equal(t, int64(1), l.Stats().Runs)
}

func TestLoop_RecordsFailuresAndPanics(t *testing.T) {
	clk := clock.NewMock()
	var calls atomic.Int32
	ran := make(chan struct{}, 10)
	l, err := New(Config{Name: "monitor", Interval: time.Minute, RunOnStart: true}, func(context.Context) error {
		defer func() { ran <- struct{}{} }()
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("feed down")
	}, clk, zerolog.Nop())
	require.NoError(t, err)

	cancel, done := start(t, l)
	defer func() { cancel(); <-done }()

	<-ran
	assert.Eventually(t, func() bool { return l.Stats().Runs == 1 }, wait, 5*time.Millisecond)
	clk.Add(time.Minute)
	<-ran
	assert.Eventually(t, func() bool { return l.Stats().Runs == 2 }, wait, 5*time.Millisecond)

	stats := l.Stats()
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, "feed down", stats.LastError)
	assert.Equal(t, clk.Now(), stats.LastRun)
}
