package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	apperrors "paper-exchange/internal/errors"
	"paper-exchange/internal/models"
	"paper-exchange/internal/store"
	"paper-exchange/internal/trading"
	"paper-exchange/pkg/utils"
)

// addOrderCommands adds order placement and management commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newOrderCmd(app))
	rootCmd.AddCommand(newOCOCmd(app))
	rootCmd.AddCommand(newTrailingCmd(app))
	rootCmd.AddCommand(newIcebergCmd(app))
}

// orderArgs parses the <symbol> <side> <amount> positional arguments.
func orderArgs(args []string) (string, models.OrderSide, decimal.Decimal, error) {
	symbol := strings.ToUpper(args[0])
	side := models.OrderSide(strings.ToLower(args[1]))
	if !side.Valid() {
		return "", "", decimal.Zero, fmt.Errorf("invalid side %q (must be buy or sell)", args[1])
	}
	amount, err := parseDecimal("amount", args[2])
	if err != nil {
		return "", "", decimal.Zero, err
	}
	return symbol, side, amount, nil
}

func newOrderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place and manage orders",
	}

	place := &cobra.Command{
		Use:   "place <symbol> <buy|sell> <amount>",
		Short: "Place an order",
		Long: `Place a market, limit, stop, stop_limit or take_profit order.

Funds are reserved at placement. Market orders fill immediately with
slippage; every other type rests until a tick triggers it.`,
		Example: `  paperx order place BTC/USDT buy 0.01
  paperx order place BTC/USDT buy 0.01 --type limit --price 48000
  paperx order place BTC/USDT sell 0.01 --type stop --stop-price 45000
  paperx order place ETH/USDT sell 1 --type stop_limit --stop-price 2800 --price 2790 --expires-in 24h`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			symbol, side, amount, err := orderArgs(args)
			if err != nil {
				return err
			}
			orderType, _ := cmd.Flags().GetString("type")
			clientID, _ := cmd.Flags().GetString("client-id")
			leverageRaw, _ := cmd.Flags().GetString("leverage")
			expiresIn, _ := cmd.Flags().GetDuration("expires-in")

			price, err := optionalDecimal(cmd, "price")
			if err != nil {
				return err
			}
			stopPrice, err := optionalDecimal(cmd, "stop-price")
			if err != nil {
				return err
			}

			req := models.OrderRequest{
				Symbol:        symbol,
				Side:          side,
				Type:          models.OrderType(strings.ToLower(orderType)),
				Amount:        amount,
				Price:         price,
				StopPrice:     stopPrice,
				ClientOrderID: clientID,
			}
			if leverageRaw != "" {
				if req.Leverage, err = parseDecimal("leverage", leverageRaw); err != nil {
					return err
				}
			}
			if expiresIn > 0 {
				at := app.Clock.Now().Add(expiresIn)
				req.ExpiresAt = &at
			}

			order, err := app.Engine.PlaceOrder(ctx, accountFlag(cmd), req)
			if err != nil {
				return explainOrderError(output, err)
			}

			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order placed")
			printOrder(output, order)
			return nil
		},
	}
	place.Flags().StringP("type", "t", string(models.OrderTypeMarket), "Order type (market, limit, stop, stop_limit, take_profit)")
	place.Flags().StringP("price", "p", "", "Limit price")
	place.Flags().String("stop-price", "", "Trigger price for stop, stop_limit and take_profit orders")
	place.Flags().String("client-id", "", "Client order id")
	place.Flags().String("leverage", "", "Leverage checked by the risk gate (default 1)")
	place.Flags().Duration("expires-in", 0, "Expire the order after this long")
	cmd.AddCommand(place)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order and release its reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			order, err := app.Engine.CancelOrder(ctx, accountFlag(cmd), args[0])
			if err != nil {
				return explainOrderError(output, err)
			}
			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order %s is %s", order.ID, order.Status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <order-id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			order, err := app.Engine.GetOrder(ctx, accountFlag(cmd), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(order)
			}
			printOrder(output, order)
			return nil
		},
	})

	list := &cobra.Command{
		Use:   "list",
		Short: "List the account's orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			symbol, _ := cmd.Flags().GetString("symbol")
			status, _ := cmd.Flags().GetString("status")
			openOnly, _ := cmd.Flags().GetBool("open")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := store.OrderFilter{
				Status:   models.OrderStatus(strings.ToLower(status)),
				OpenOnly: openOnly,
				Limit:    limit,
			}
			if symbol != "" {
				base, quote, err := models.ParseSymbol(symbol)
				if err != nil {
					return err
				}
				filter.Symbol = models.Symbol(base, quote)
			}

			orders, err := app.Engine.ListOrders(ctx, accountFlag(cmd), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Dim("No orders")
				return nil
			}
			printOrderTable(output, orders)
			return nil
		},
	}
	list.Flags().String("symbol", "", "Filter by symbol")
	list.Flags().String("status", "", "Filter by status")
	list.Flags().Bool("open", false, "Only open and partially filled orders")
	list.Flags().Int("limit", 50, "Maximum orders to show (0 for all)")
	cmd.AddCommand(list)

	return cmd
}

func newOCOCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oco",
		Short: "One-Cancels-Other order pairs",
	}

	place := &cobra.Command{
		Use:   "place <symbol> <buy|sell> <amount>",
		Short: "Place a limit leg and a stop leg together",
		Long: `Place a One-Cancels-Other pair. For a sell the limit price must be above
the market and the stop price below it; for a buy the reverse. Cancelling
either leg cancels both.`,
		Example: `  paperx oco place BTC/USDT sell 0.1 --price 55000 --stop-price 45000
  paperx oco place BTC/USDT sell 0.1 --price 55000 --stop-price 45000 --stop-limit-price 44900`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			symbol, side, amount, err := orderArgs(args)
			if err != nil {
				return err
			}
			price, err := optionalDecimal(cmd, "price")
			if err != nil {
				return err
			}
			stopPrice, err := optionalDecimal(cmd, "stop-price")
			if err != nil {
				return err
			}
			if price == nil || stopPrice == nil {
				return fmt.Errorf("--price and --stop-price are required")
			}
			stopLimit, err := optionalDecimal(cmd, "stop-limit-price")
			if err != nil {
				return err
			}
			clientID, _ := cmd.Flags().GetString("client-id")

			result, err := app.Engine.PlaceOCO(ctx, accountFlag(cmd), trading.OCORequest{
				Symbol:         symbol,
				Side:           side,
				Amount:         amount,
				Price:          *price,
				StopPrice:      *stopPrice,
				StopLimitPrice: stopLimit,
				ClientOrderID:  clientID,
			})
			if err != nil {
				return explainOrderError(output, err)
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			output.Success("OCO pair %s placed", result.OrderListID)
			printOrderTable(output, []*models.Order{result.Limit, result.Stop})
			return nil
		},
	}
	place.Flags().StringP("price", "p", "", "Limit leg price")
	place.Flags().String("stop-price", "", "Stop leg trigger price")
	place.Flags().String("stop-limit-price", "", "Make the stop leg a stop_limit at this price")
	place.Flags().String("client-id", "", "Client order id")
	cmd.AddCommand(place)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel both legs of the pair containing an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			result, err := app.Engine.CancelOCO(ctx, accountFlag(cmd), args[0])
			if err != nil {
				return explainOrderError(output, err)
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			output.Success("OCO pair %s cancelled", result.OrderListID)
			printOrderTable(output, []*models.Order{result.Limit, result.Stop})
			return nil
		},
	})

	return cmd
}

func newTrailingCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trailing",
		Short: "Trailing stop orders",
	}

	place := &cobra.Command{
		Use:   "place <symbol> <buy|sell> <amount>",
		Short: "Place a trailing stop",
		Long: `Place a stop whose trigger follows the market in the position's favour
by a fixed distance (--trail-amount) or a percentage (--trail-percent). With
--activation the stop starts trailing only once the market crosses that price.`,
		Example: `  paperx trailing place BTC/USDT sell 0.1 --trail-percent 2
  paperx trailing place BTC/USDT sell 0.1 --trail-amount 500 --activation 52000`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			symbol, side, amount, err := orderArgs(args)
			if err != nil {
				return err
			}
			trailAmount, err := optionalDecimal(cmd, "trail-amount")
			if err != nil {
				return err
			}
			trailPercent, err := optionalDecimal(cmd, "trail-percent")
			if err != nil {
				return err
			}
			activation, err := optionalDecimal(cmd, "activation")
			if err != nil {
				return err
			}
			clientID, _ := cmd.Flags().GetString("client-id")

			order, err := app.Engine.PlaceTrailingStop(ctx, accountFlag(cmd), trading.TrailingStopRequest{
				Symbol:          symbol,
				Side:            side,
				Amount:          amount,
				TrailingAmount:  trailAmount,
				TrailingPercent: trailPercent,
				ActivationPrice: activation,
				ClientOrderID:   clientID,
			})
			if err != nil {
				return explainOrderError(output, err)
			}
			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Trailing stop placed")
			printOrder(output, order)
			return nil
		},
	}
	place.Flags().String("trail-amount", "", "Trailing distance in quote currency")
	place.Flags().String("trail-percent", "", "Trailing distance in percent (2 means 2%)")
	place.Flags().String("activation", "", "Start trailing once the market crosses this price")
	place.Flags().String("client-id", "", "Client order id")
	place.MarkFlagsMutuallyExclusive("trail-amount", "trail-percent")
	place.MarkFlagsOneRequired("trail-amount", "trail-percent")
	cmd.AddCommand(place)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel a trailing stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			order, err := app.Engine.CancelTrailingStop(ctx, accountFlag(cmd), args[0])
			if err != nil {
				return explainOrderError(output, err)
			}
			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Trailing stop %s is %s", order.ID, order.Status)
			return nil
		},
	})

	return cmd
}

func newIcebergCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iceberg",
		Short: "Iceberg orders",
	}

	place := &cobra.Command{
		Use:   "place <symbol> <buy|sell> <total>",
		Short: "Work a large limit order through small visible children",
		Example: `  paperx iceberg place SOL/USDT sell 10 --visible 2 --price 120`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			symbol, side, total, err := orderArgs(args)
			if err != nil {
				return err
			}
			visible, err := optionalDecimal(cmd, "visible")
			if err != nil {
				return err
			}
			price, err := optionalDecimal(cmd, "price")
			if err != nil {
				return err
			}
			if visible == nil || price == nil {
				return fmt.Errorf("--visible and --price are required")
			}
			clientID, _ := cmd.Flags().GetString("client-id")

			parent, err := app.Engine.PlaceIceberg(ctx, accountFlag(cmd), trading.IcebergRequest{
				Symbol:        symbol,
				Side:          side,
				TotalSize:     total,
				VisibleSize:   *visible,
				Price:         *price,
				ClientOrderID: clientID,
			})
			if err != nil {
				return explainOrderError(output, err)
			}
			if output.IsJSON() {
				return output.JSON(parent)
			}
			output.Success("Iceberg placed")
			printOrder(output, parent)
			return nil
		},
	}
	place.Flags().String("visible", "", "Size of each visible child")
	place.Flags().StringP("price", "p", "", "Limit price of every child")
	place.Flags().String("client-id", "", "Client order id")
	cmd.AddCommand(place)

	cmd.AddCommand(&cobra.Command{
		Use:   "children <order-id>",
		Short: "List the children of an iceberg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			children, err := app.Engine.IcebergChildren(ctx, accountFlag(cmd), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(children)
			}
			printOrderTable(output, children)
			return nil
		},
	})

	return cmd
}

// explainOrderError prints the risk gate's reasons and suggestions before
// returning err.
func explainOrderError(output *Output, err error) error {
	var violation *apperrors.RiskViolationError
	if output.IsJSON() || !apperrors.As(err, &violation) {
		return err
	}
	output.Error("Order refused by risk checks:")
	for _, reason := range violation.Reasons {
		output.Printf("  - %s\n", reason)
	}
	for _, warning := range violation.Warnings {
		output.Warning("  ! %s", warning)
	}
	if violation.SuggestedAmount != "" {
		output.Info("  Suggested amount: %s", violation.SuggestedAmount)
	}
	if violation.SuggestedStopPrice != "" {
		output.Info("  Suggested stop price: %s", violation.SuggestedStopPrice)
	}
	return err
}

func orderPrice(o *models.Order) string {
	switch {
	case o.Filled.IsPositive():
		return utils.FormatAmount(o.AveragePrice(), 8)
	case o.Price != nil:
		return utils.FormatAmount(*o.Price, 8)
	case o.StopPrice != nil:
		return "@" + utils.FormatAmount(*o.StopPrice, 8)
	}
	if data, ok := o.TypeData.(*models.TrailingStopData); ok && data.IsActivated {
		return "@" + utils.FormatAmount(data.CurrentStopPrice, 8)
	}
	return "-"
}

func printOrderTable(output *Output, orders []*models.Order) {
	table := NewTable(output, "ID", "SYMBOL", "SIDE", "TYPE", "AMOUNT", "FILLED", "PRICE", "STATUS", "CREATED")
	for _, o := range orders {
		table.AddRow(
			o.ID,
			o.Symbol,
			output.Side(o.Side),
			string(o.Type),
			utils.FormatAmount(o.Amount, 8),
			utils.FormatAmount(o.Filled, 8),
			orderPrice(o),
			output.Status(o.Status),
			o.CreatedAt.Local().Format(time.DateTime),
		)
	}
	table.Render()
}

func printOrder(output *Output, o *models.Order) {
	output.Printf("  Order ID:  %s\n", o.ID)
	if o.ClientOrderID != "" {
		output.Printf("  Client ID: %s\n", o.ClientOrderID)
	}
	output.Printf("  Symbol:    %s\n", o.Symbol)
	output.Printf("  Side:      %s\n", output.Side(o.Side))
	output.Printf("  Type:      %s\n", o.Type)
	output.Printf("  Amount:    %s\n", utils.FormatAmount(o.Amount, 8))
	if o.Price != nil {
		output.Printf("  Price:     %s\n", utils.FormatAmount(*o.Price, 8))
	}
	if o.StopPrice != nil {
		output.Printf("  Stop:      %s\n", utils.FormatAmount(*o.StopPrice, 8))
	}
	output.Printf("  Status:    %s\n", output.Status(o.Status))
	if o.Filled.IsPositive() {
		output.Printf("  Filled:    %s @ %s\n", utils.FormatAmount(o.Filled, 8), utils.FormatAmount(o.AveragePrice(), 8))
		output.Printf("  Fees:      %s\n", utils.FormatAmount(o.Fees, 8))
	}
	if o.Reserved.IsPositive() {
		output.Printf("  Reserved:  %s %s\n", utils.FormatAmount(o.Reserved, 8), o.ReserveAsset)
	}
	if o.RejectReason != "" {
		output.Printf("  Reason:    %s\n", o.RejectReason)
	}
	if o.ExpiresAt != nil {
		output.Printf("  Expires:   %s\n", o.ExpiresAt.Local().Format(time.DateTime))
	}

	switch data := o.TypeData.(type) {
	case *models.OCOLink:
		output.Printf("  OCO:       %s leg of %s (sibling %s)\n", data.Leg, data.OrderListID, data.SiblingID)
	case *models.TrailingStopData:
		if data.IsActivated {
			output.Printf("  Trailing:  stop at %s\n", utils.FormatAmount(data.CurrentStopPrice, 8))
		} else {
			output.Printf("  Trailing:  waiting for activation\n")
		}
	case *models.IcebergData:
		output.Printf("  Iceberg:   %s executed, %s hidden, %d children\n",
			utils.FormatAmount(data.ExecutedSize, 8), utils.FormatAmount(data.HiddenRemaining, 8), len(data.ChildOrders))
	case *models.IcebergChild:
		output.Printf("  Parent:    %s (child %d)\n", data.ParentID, data.Sequence)
	}
}
