package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"paper-exchange/internal/models"
	"paper-exchange/pkg/utils"
)

// addRiskCommands adds portfolio risk and limit commands.
func addRiskCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Portfolio risk reports and limits",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Assess the account's portfolio risk now",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			report, err := app.Monitor.Assess(ctx, accountFlag(cmd))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			printRiskReport(output, report, app.Config.Ledger.BaseAsset)
			return nil
		},
	})

	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "Show recorded risk alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			limit, _ := cmd.Flags().GetInt("limit")
			list, err := app.Store.AlertsByAccount(ctx, accountFlag(cmd), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Dim("No alerts")
				return nil
			}
			table := NewTable(output, "TIME", "KIND", "SEVERITY", "VALUE", "THRESHOLD", "MESSAGE")
			for _, a := range list {
				table.AddRow(
					a.At.Local().Format(time.DateTime),
					string(a.Kind),
					severityText(output, a.Severity),
					utils.FormatAmount(a.Value, 4),
					utils.FormatAmount(a.Threshold, 4),
					a.Message,
				)
			}
			table.Render()
			return nil
		},
	}
	alerts.Flags().Int("limit", 20, "Maximum alerts to show (0 for all)")
	cmd.AddCommand(alerts)

	cmd.AddCommand(&cobra.Command{
		Use:       "profile <conservative|moderate|aggressive>",
		Short:     "Apply a risk limit preset to the account",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(models.RiskProfileConservative), string(models.RiskProfileModerate), string(models.RiskProfileAggressive)},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			account := accountFlag(cmd)
			profile := models.RiskProfile(strings.ToLower(args[0]))
			if err := app.Engine.SetRiskProfile(ctx, account, profile); err != nil {
				return err
			}
			limits, err := app.Engine.RiskLimits(ctx, account)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(limits)
			}
			output.Success("Risk profile %s applied to %s", profile, account)
			printLimits(output, limits)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "limits",
		Short: "Show the limits the risk gate applies to the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			limits, err := app.Engine.RiskLimits(ctx, accountFlag(cmd))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(limits)
			}
			printLimits(output, limits)
			return nil
		},
	})

	rootCmd.AddCommand(cmd)
}

func severityText(output *Output, s models.AlertSeverity) string {
	if s == models.SeverityCritical {
		return output.Red(strings.ToUpper(string(s)))
	}
	return output.Yellow(strings.ToUpper(string(s)))
}

func printRiskReport(output *Output, r *models.RiskReport, quote string) {
	output.Bold("Risk report for %s", r.AccountID)
	output.Dim("%s", r.At.Local().Format(time.DateTime))
	output.Println()
	output.Printf("  Portfolio value:   %s %s\n", utils.FormatAmount(r.PortfolioValue, 2), quote)
	output.Printf("  Exposure:          %s %s\n", utils.FormatAmount(r.Exposure, 2), quote)
	output.Printf("  VaR (95%%, 1d):     %s %s\n", utils.FormatAmount(r.VaR95, 2), quote)
	output.Printf("  VaR (99%%, 1d):     %s %s\n", utils.FormatAmount(r.VaR99, 2), quote)
	output.Printf("  Concentration:     %s\n", utils.FormatPercent(r.ConcentrationRisk))
	output.Printf("  Diversification:   %s\n", r.DiversificationScore.StringFixed(2))
	output.Printf("  Drawdown:          %s (peak %s)\n", utils.FormatPercent(r.Drawdown), utils.FormatAmount(r.PeakValue, 2))

	if len(r.Shares) > 0 {
		output.Println()
		assets := make([]string, 0, len(r.Shares))
		for asset := range r.Shares {
			assets = append(assets, asset)
		}
		sort.Slice(assets, func(i, j int) bool {
			return r.Shares[assets[i]].GreaterThan(r.Shares[assets[j]])
		})
		table := NewTable(output, "ASSET", "SHARE")
		for _, asset := range assets {
			table.AddRow(asset, utils.FormatPercent(r.Shares[asset]))
		}
		table.Render()
	}

	if len(r.Alerts) > 0 {
		output.Println()
		for _, a := range r.Alerts {
			output.Printf("%s %s\n", severityText(output, a.Severity), a.Message)
		}
	}
}

func printLimits(output *Output, l models.RiskLimits) {
	off := func(d decimal.Decimal, format func(decimal.Decimal) string) string {
		if d.IsZero() {
			return output.DimText("off")
		}
		return format(d)
	}
	multiple := func(d decimal.Decimal) string { return d.String() + "x" }

	output.Printf("  Max position size:   %s\n", off(l.MaxPositionSize, utils.FormatPercent))
	output.Printf("  Max daily loss:      %s\n", off(l.MaxDailyLoss, utils.FormatPercent))
	output.Printf("  Max drawdown:        %s\n", off(l.MaxDrawdown, utils.FormatPercent))
	output.Printf("  Max leverage:        %s\n", off(l.MaxLeverage, multiple))
	if l.MaxOpenPositions > 0 {
		output.Printf("  Max open positions:  %d\n", l.MaxOpenPositions)
	} else {
		output.Printf("  Max open positions:  %s\n", output.DimText("off"))
	}
	output.Printf("  Stop loss required:  %v\n", l.StopLossRequired)
	output.Printf("  Min stop distance:   %s\n", off(l.MinStopLossDistance, utils.FormatPercent))
	output.Printf("  Max correlation:     %s\n", off(l.MaxCorrelation, func(d decimal.Decimal) string { return d.StringFixed(2) }))
	output.Printf("  Asset classes:       %s\n", fmt.Sprint(l.AllowedAssetClasses))
}
