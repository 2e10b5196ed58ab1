// Package scheduler runs periodic background work such as the order tick and
// the risk monitor.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Config configures a Loop.
type Config struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run, including one still in flight at
	// shutdown. Defaults to Interval.
	Timeout time.Duration
	// RunOnStart triggers a run as soon as the loop starts.
	RunOnStart bool
}

// Stats describes a loop's activity.
type Stats struct {
	Runs      int64
	Skipped   int64
	Failures  int64
	LastRun   time.Time
	LastError string
}

// Loop runs a Task every interval of an injected clock. A tick that arrives
// while the previous run is still in flight is skipped.
type Loop struct {
	cfg    Config
	task   Task
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	stats   Stats
	wg      sync.WaitGroup
}

// New creates a loop.
func New(cfg Config, task Task, clk clock.Clock, logger zerolog.Logger) (*Loop, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler %q: interval must be positive", cfg.Name)
	}
	if task == nil {
		return nil, fmt.Errorf("scheduler %q: task required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		cfg:    cfg,
		task:   task,
		clock:  clk,
		logger: logger.With().Str("component", "scheduler").Str("loop", cfg.Name).Logger(),
	}, nil
}

// Run blocks until ctx is cancelled, then waits for any in-flight run to
// finish. It returns nil on shutdown so it composes with errgroup.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.Ticker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Info().Dur("interval", l.cfg.Interval).Msg("Loop started")
	if l.cfg.RunOnStart {
		l.trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			l.logger.Info().Msg("Loop stopped")
			return nil
		case <-ticker.C:
			l.trigger(ctx)
		}
	}
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) trigger(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.stats.Skipped++
		l.mu.Unlock()
		l.logger.Debug().Msg("Previous run still in flight, skipping")
		return
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		// An in-flight run survives shutdown until its own timeout.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.Timeout)
		defer cancel()
		err := l.runOnce(runCtx)

		l.mu.Lock()
		defer l.mu.Unlock()
		l.running = false
		l.stats.Runs++
		l.stats.LastRun = l.clock.Now()
		l.stats.LastError = ""
		if err != nil {
			l.stats.Failures++
			l.stats.LastError = err.Error()
		}
	}()
}

func (l *Loop) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			l.logger.Error().Interface("panic", r).Msg("Recovered from panic in scheduled run")
		}
	}()

	start := l.clock.Now()
	err = l.task(ctx)
	elapsed := l.clock.Since(start)
	if err != nil {
		l.logger.Error().Err(err).Dur("elapsed", elapsed).Msg("Scheduled run failed")
		return err
	}
	l.logger.Debug().Dur("elapsed", elapsed).Msg("Scheduled run completed")
	return nil
}
