package cli

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"paper-exchange/pkg/utils"
)

// addAccountCommands adds balance and account administration commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Show account balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			account := accountFlag(cmd)
			balances, err := app.Engine.Balances(ctx, account)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"account":  account,
					"balances": balances,
				})
			}

			output.Bold("Account %s", account)
			if len(balances) == 0 {
				output.Dim("No balances. Deposit funds with 'paperx deposit'.")
				return nil
			}
			table := NewTable(output, "ASSET", "TOTAL", "AVAILABLE", "LOCKED")
			for _, b := range balances {
				table.AddRow(
					b.Asset,
					utils.FormatAmount(b.Total, 8),
					utils.FormatAmount(b.Available, 8),
					utils.FormatAmount(b.Locked, 8),
				)
			}
			table.Render()
			return nil
		},
	})

	deposit := &cobra.Command{
		Use:     "deposit <asset> <amount>",
		Short:   "Credit virtual funds to the account",
		Example: "  paperx deposit USDT 10000\n  paperx -a alice deposit BTC 0.5 --reason airdrop",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			asset := strings.ToUpper(args[0])
			amount, err := parseDecimal("amount", args[1])
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")

			account := accountFlag(cmd)
			if err := app.Engine.Deposit(ctx, account, asset, amount, reason); err != nil {
				return err
			}
			balance, err := app.Engine.GetBalance(ctx, account, asset)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(balance)
			}
			output.Success("Deposited %s %s", utils.FormatAmount(amount, 8), asset)
			output.Printf("  Available: %s %s\n", utils.FormatAmount(balance.Available, 8), asset)
			return nil
		},
	}
	deposit.Flags().String("reason", "deposit", "Reason recorded in the account history")
	rootCmd.AddCommand(deposit)

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Cancel open orders and reset balances",
		Long: `Cancel every open order and replace all balances with a single balance of
the base asset. The drawdown peak is cleared as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			amount := decimal.NewFromFloat(app.Config.Ledger.InitialBalance)
			if raw, _ := cmd.Flags().GetString("amount"); raw != "" {
				var err error
				if amount, err = parseDecimal("amount", raw); err != nil {
					return err
				}
			}
			reason, _ := cmd.Flags().GetString("reason")

			account := accountFlag(cmd)
			if err := app.Engine.ResetAccount(ctx, account, amount, reason); err != nil {
				return err
			}
			app.Monitor.ResetPeak(account)

			if output.IsJSON() {
				return output.JSON(map[string]string{
					"account": account,
					"asset":   app.Config.Ledger.BaseAsset,
					"balance": amount.String(),
				})
			}
			output.Success("Account %s reset to %s %s", account, utils.FormatAmount(amount, 2), app.Config.Ledger.BaseAsset)
			return nil
		},
	}
	reset.Flags().String("amount", "", "New base asset balance (default: ledger.initial_balance)")
	reset.Flags().String("reason", "reset", "Reason recorded in the account history")
	rootCmd.AddCommand(reset)

	trades := &cobra.Command{
		Use:   "trades",
		Short: "Show recent fills",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			limit, _ := cmd.Flags().GetInt("limit")
			list, err := app.Engine.Trades(ctx, accountFlag(cmd), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Dim("No trades")
				return nil
			}

			dayStart := utils.StartOfTradingDay(app.Clock.Now())
			realized, today, volume := decimal.Zero, decimal.Zero, decimal.Zero
			table := NewTable(output, "TIME", "SYMBOL", "SIDE", "AMOUNT", "PRICE", "FEE", "P&L")
			for _, t := range list {
				realized = realized.Add(t.RealizedPnL)
				volume = volume.Add(t.Notional)
				if !t.ExecutedAt.Before(dayStart) {
					today = today.Add(t.RealizedPnL)
				}
				table.AddRow(
					t.ExecutedAt.Local().Format(time.DateTime),
					t.Symbol,
					output.Side(t.Side),
					utils.FormatAmount(t.Amount, 8),
					utils.FormatAmount(t.Price, 8),
					utils.FormatAmount(t.Fee, 8)+" "+t.FeeAsset,
					output.FormatPnL(t.RealizedPnL),
				)
			}
			table.Render()
			output.Println()
			output.Printf("Realized P&L: %s (today %s)\n", output.FormatPnL(realized), output.FormatPnL(today))
			output.Printf("Volume:       %s\n", utils.FormatCompact(volume))
			return nil
		},
	}
	trades.Flags().Int("limit", 20, "Maximum trades to show (0 for all)")
	rootCmd.AddCommand(trades)
}
