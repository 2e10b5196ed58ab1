package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"paper-exchange/internal/marketdata"
	"paper-exchange/internal/models"
	"paper-exchange/internal/resilience"
	"paper-exchange/internal/trading"
	"paper-exchange/pkg/utils"
)

// addMarketCommands adds price, tick and health commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	price := &cobra.Command{
		Use:   "price",
		Short: "Read and set market prices",
	}

	price.AddCommand(&cobra.Command{
		Use:     "set <symbol> <price>",
		Short:   "Set a price on the static feed",
		Long:    "Set a price on the static feed. The price is saved and used by later runs until changed.",
		Example: "  paperx price set BTC/USDT 48000",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			value, err := parseDecimal("price", args[1])
			if err != nil {
				return err
			}
			symbol, err := app.SetPrice(ctx, args[0], value)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"symbol": symbol, "price": value.String()})
			}
			output.Success("%s = %s", symbol, utils.FormatAmount(value, 8))
			return nil
		},
	})

	price.AddCommand(&cobra.Command{
		Use:   "get [symbol...]",
		Short: "Show current prices",
		Long:  "Show current prices. Without arguments every symbol on the static feed is listed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			symbols := make([]string, 0, len(args))
			for _, arg := range args {
				base, quote, err := models.ParseSymbol(arg)
				if err != nil {
					return err
				}
				symbols = append(symbols, models.Symbol(base, quote))
			}
			if len(symbols) == 0 {
				if app.Feed == nil {
					return fmt.Errorf("specify at least one symbol")
				}
				symbols = app.Feed.Symbols()
			}

			results := marketdata.Snapshot(ctx, app.Prices, symbols)
			if output.IsJSON() {
				type row struct {
					Symbol string `json:"symbol"`
					Price  string `json:"price,omitempty"`
					Error  string `json:"error,omitempty"`
				}
				rows := make([]row, 0, len(results))
				for _, r := range results {
					if r.Err != nil {
						rows = append(rows, row{Symbol: r.Symbol, Error: r.Err.Error()})
						continue
					}
					rows = append(rows, row{Symbol: r.Symbol, Price: r.Price.String()})
				}
				return output.JSON(rows)
			}

			table := NewTable(output, "SYMBOL", "PRICE")
			for _, r := range results {
				if r.Err != nil {
					table.AddRow(r.Symbol, output.Red(r.Err.Error()))
					continue
				}
				table.AddRow(r.Symbol, utils.FormatAmount(r.Price, 8))
			}
			table.Render()
			return nil
		},
	})
	rootCmd.AddCommand(price)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Evaluate every resting order once",
		Long: `Fetch a price for each symbol with resting orders and fill, trigger or
expire orders accordingly. 'paperx serve' runs this on a schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			result, err := app.Engine.Tick(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			printTickResult(output, result)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check the store, market data and circuit breakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			health := app.Health.Check(ctx)
			if output.IsJSON() {
				return output.JSON(health)
			}

			output.Printf("Status: %s\n", healthText(output, health.Status))
			output.Dim("Goroutines: %d  Memory: %d MB", health.Goroutines, health.MemoryMB)
			output.Println()
			table := NewTable(output, "COMPONENT", "STATUS", "LATENCY", "MESSAGE")
			for _, c := range health.Components {
				table.AddRow(c.Name, healthText(output, c.Status), c.Latency.String(), c.Message)
			}
			table.Render()
			return nil
		},
	})
}

func printTickResult(output *Output, r trading.TickResult) {
	output.Printf("Evaluated: %d\n", r.Evaluated)
	output.Printf("Filled:    %s\n", output.Green(fmt.Sprint(r.Filled)))
	output.Printf("Expired:   %d\n", r.Expired)
	output.Printf("Rejected:  %d\n", r.Rejected)
	if r.Errors > 0 {
		output.Printf("Errors:    %s\n", output.Red(fmt.Sprint(r.Errors)))
	}
	if len(r.SkippedSymbols) > 0 {
		output.Warning("No price for: %v", r.SkippedSymbols)
	}
}

func healthText(output *Output, s resilience.HealthStatus) string {
	switch s {
	case resilience.HealthStatusHealthy:
		return output.Green(string(s))
	case resilience.HealthStatusDegraded:
		return output.Yellow(string(s))
	case resilience.HealthStatusUnhealthy:
		return output.Red(string(s))
	}
	return output.DimText(string(s))
}
