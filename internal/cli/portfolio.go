package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockfolio/internal/portfolio"
	"stockfolio/pkg/utils"
)

// addPortfolioCommands adds portfolio commands.
func addPortfolioCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show the full portfolio with live valuation",
		Long: `Join your holdings and positions with live quotes and show cost basis,
current value, today's change, and total gain/loss per holding and per
instrument class.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			refresh, _ := cmd.Flags().GetBool("refresh")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if refresh {
				app.Assembler.InvalidatePortfolio(ctx)
			}

			data, err := app.Assembler.GetPortfolioData(ctx)
			if err != nil {
				return fmt.Errorf("assembling portfolio: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(data)
			}
			renderPortfolio(output, data)
			return nil
		},
	}
	cmd.Flags().Bool("refresh", false, "invalidate caches before fetching")

	cmd.AddCommand(newPortfolioLiveCmd(app))
	rootCmd.AddCommand(cmd)
}

// newPortfolioLiveCmd keeps the portfolio on screen, re-rendering as the
// reconciler applies change events, until interrupted.
func newPortfolioLiveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Continuously reconcile and re-render the portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			interval, _ := cmd.Flags().GetDuration("interval")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			app.Reconciler.Start(ctx)
			defer app.Reconciler.Stop()

			tick := time.NewTicker(interval)
			defer tick.Stop()

			output.Dim("Press Ctrl+C to exit.")
			for {
				select {
				case <-sigCh:
					return nil
				case <-ctx.Done():
					return nil
				case <-tick.C:
					list := app.Reconciler.Snapshot()
					data := portfolio.Calculate(list, time.Now())
					output.Println()
					renderPortfolio(output, data)
				}
			}
		},
	}
	cmd.Flags().Duration("interval", 15*time.Second, "render interval")
	return cmd
}

func renderPortfolio(output *Output, data portfolio.PortfolioData) {
	if len(data.Entries) == 0 {
		output.Info("No holdings yet. Add one with 'stockfolio holding add SYMBOL'.")
		return
	}

	output.Bold("Portfolio - %s", time.Now().Format("Jan 2 15:04"))
	output.Println()

	table := NewTable(output, "Symbol", "Class", "Shares", "Cost Basis", "Value", "Today", "Total Gain/Loss")
	for _, ps := range data.Entries {
		today := "N/A"
		if ps.TodayChange != nil {
			today = utils.FormatCurrency(*ps.TodayChange)
		}
		table.AddRow(
			ps.Holding.Symbol.String(),
			string(ps.Holding.Class),
			utils.FormatShares(ps.TotalShares),
			utils.FormatCurrency(ps.CostBasis),
			output.FormatMoney(ps.Current),
			today,
			output.FormatGainLoss(ps.TotalGainLoss, ps.TotalGainLossPercent),
		)
	}
	table.Render()
	output.Println()

	renderSummary(output, "Total", data.All)
	if data.Stocks.Holdings > 0 {
		renderSummary(output, "Stocks", data.Stocks)
	}
	if data.Options.Holdings > 0 {
		renderSummary(output, "Options", data.Options)
	}
	if data.Crypto.Holdings > 0 {
		renderSummary(output, "Crypto", data.Crypto)
	}
}

func renderSummary(output *Output, label string, s portfolio.Summary) {
	today := "N/A"
	if s.TodayChange != nil && s.TodayChangePercent != nil {
		today = utils.FormatGainLoss(*s.TodayChange, *s.TodayChangePercent)
	}
	output.Printf("%-8s %s cost, %s value, today %s, total %s  (%d short / %d long term lots)\n",
		label+":",
		utils.FormatCurrency(s.CostBasis),
		output.FormatMoney(s.Current),
		today,
		output.FormatGainLoss(s.TotalGainLoss, s.TotalGainLossPercent),
		s.ShortTermCount,
		s.LongTermCount,
	)
}
