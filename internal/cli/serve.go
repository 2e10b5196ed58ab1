package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"paper-exchange/internal/resilience"
	"paper-exchange/internal/scheduler"
)

const healthInterval = time.Minute

// addServeCommands adds the long-running scheduler command.
func addServeCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the order tick, risk monitor and health checks on a schedule",
		Long: `Run until interrupted. Every engine.tick_interval_ms the engine evaluates
resting orders; every risk.monitor_interval the monitor assesses each account
and raises alerts through the configured notification channels.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loops, err := buildLoops(app)
			if err != nil {
				return err
			}

			if !output.IsJSON() {
				output.Success("paperx serving (%s provider, %s store)", app.Config.MarketData.Provider, app.Config.Store.Driver)
				output.Dim("Notification channels: %v", app.Notifier.Channels())
				output.Dim("Press Ctrl+C to stop")
			}

			g, gctx := errgroup.WithContext(ctx)
			for _, loop := range loops {
				g.Go(func() error { return loop.Run(gctx) })
			}
			err = g.Wait()
			app.Logger.Info().Msg("Scheduler stopped")
			return err
		},
	})
}

func buildLoops(app *App) ([]*scheduler.Loop, error) {
	tick, err := scheduler.New(scheduler.Config{
		Name:       "tick",
		Interval:   app.Config.Engine.TickInterval(),
		RunOnStart: true,
	}, func(ctx context.Context) error {
		result, err := app.Engine.Tick(ctx)
		if err != nil {
			if nerr := app.Notifier.SendError(ctx, err, "order tick"); nerr != nil {
				app.Logger.Warn().Err(nerr).Msg("Failed to send error notification")
			}
			return err
		}
		if result.Filled > 0 || result.Expired > 0 || result.Rejected > 0 {
			app.Logger.Info().
				Int("evaluated", result.Evaluated).
				Int("filled", result.Filled).
				Int("expired", result.Expired).
				Int("rejected", result.Rejected).
				Msg("Tick completed")
		}
		return nil
	}, app.Clock, app.Logger)
	if err != nil {
		return nil, err
	}

	monitor, err := scheduler.New(scheduler.Config{
		Name:       "risk-monitor",
		Interval:   app.Config.Risk.MonitorInterval,
		RunOnStart: true,
	}, app.Monitor.Run, app.Clock, app.Logger)
	if err != nil {
		return nil, err
	}

	health, err := scheduler.New(scheduler.Config{
		Name:     "health",
		Interval: healthInterval,
		Timeout:  30 * time.Second,
	}, func(ctx context.Context) error {
		result := app.Health.Check(ctx)
		if result.Status != resilience.HealthStatusHealthy {
			app.Logger.Warn().Str("status", string(result.Status)).Msg("System health degraded")
		}
		return nil
	}, app.Clock, app.Logger)
	if err != nil {
		return nil, err
	}

	return []*scheduler.Loop{tick, monitor, health}, nil
}
