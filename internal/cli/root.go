// Package cli provides the paperx command-line interface.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"paper-exchange/internal/config"
	"paper-exchange/internal/logging"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// commandTimeout bounds one-shot commands.
const commandTimeout = 30 * time.Second

// skipInit marks commands that run without wiring the engine.
const skipInit = "skip-init"

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "paperx",
		Short: "Paper exchange - virtual trading with conditional orders",
		Long: `paperx simulates a spot exchange against live or static prices.

Accounts hold virtual balances. Orders reserve funds when placed and settle
with slippage and fees when filled. Stop, take-profit, trailing stop, OCO and
iceberg orders rest until a tick finds them triggered.

Run 'paperx serve' to evaluate resting orders and monitor portfolio risk on a
schedule, or 'paperx tick' to run a single evaluation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipInit] == "true" {
				return nil
			}
			return initApp(cmd, app)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/paperx)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringP("account", "a", "default", "account to act on")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addOrderCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addRiskCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)
	addServeCommands(rootCmd, app)

	return rootCmd
}

func initApp(cmd *cobra.Command, app *App) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Console = cfg.Log.Console
	logCfg.File = cfg.Log.File
	logCfg.FilePath = cfg.Log.Path
	logCfg.Out = cmd.ErrOrStderr()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	logger := logging.NewLoggerWithConfig(logCfg)

	ctx, cancel := context.WithTimeout(commandContext(cmd), commandTimeout)
	defer cancel()

	built, err := NewApp(ctx, cfg, logger, clock.New(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	*app = *built
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withTimeout returns the context one-shot commands run under.
func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(commandContext(cmd), commandTimeout)
}

func accountFlag(cmd *cobra.Command) string {
	account, _ := cmd.Flags().GetString("account")
	return account
}

func parseDecimal(name, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", name, value)
	}
	return d, nil
}

// optionalDecimal reads a decimal flag; an empty flag yields nil.
func optionalDecimal(cmd *cobra.Command, flag string) (*decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(flag)
	if raw == "" {
		return nil, nil
	}
	d, err := parseDecimal(flag, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipInit: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("paperx v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the paperx configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipInit: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Loading already validated; reaching here means the file is valid.
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Slippage:        %g\n", cfg.Engine.SlippageFactor)
	output.Printf("  Fee rate:        %g\n", cfg.Engine.FeeRate)
	output.Printf("  Tick interval:   %s\n", cfg.Engine.TickInterval())
	output.Printf("  Stop-limit fill: %s\n", cfg.Engine.StopLimitFill)
	output.Printf("  OCO cancel:      %v\n", cfg.Engine.OCOCancelSiblingOnFill)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Profile:         %s\n", cfg.Risk.Profile)
	output.Printf("  Monitor every:   %s\n", cfg.Risk.MonitorInterval)
	output.Printf("  Volatility:      %g\n", cfg.Risk.Volatility)
	output.Println()

	output.Bold("Market Data")
	output.Printf("  Provider:        %s\n", cfg.MarketData.Provider)
	if cfg.MarketData.Provider == "http" {
		output.Printf("  Base URL:        %s\n", cfg.MarketData.BaseURL)
		output.Printf("  Cache TTL:       %s\n", cfg.MarketData.CacheTTL)
	}
	output.Println()

	output.Bold("Storage")
	output.Printf("  Driver:          %s\n", cfg.Store.Driver)
	output.Printf("  Path:            %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
}

