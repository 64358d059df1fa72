package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stockfolio/internal/models"
	"stockfolio/internal/ticker"
	"stockfolio/pkg/utils"
)

// addWatchlistCommands adds watchlist commands.
func addWatchlistCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Show the watchlist with live quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			refresh, _ := cmd.Flags().GetBool("refresh")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			entries, err := app.Store.Watchlist().QueryAll(ctx)
			if err != nil {
				return fmt.Errorf("querying watchlist: %w", err)
			}
			if len(entries) == 0 {
				output.Info("Watchlist is empty. Add a symbol with 'stockfolio watchlist add SYMBOL'.")
				return nil
			}

			symbols := make([]models.Symbol, 0, len(entries))
			for _, e := range entries {
				symbols = append(symbols, e.Symbol)
			}

			tickers, err := app.Tickers.Fetch(ctx, symbols, nil, ticker.FetchOptions{
				Force:           refresh,
				NotifyBigMovers: app.Config.Notifications.Enabled,
			})
			if err != nil {
				return fmt.Errorf("fetching quotes: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(tickers)
			}

			table := NewTable(output, "Symbol", "Price", "Change", "Open", "High", "Low")
			for _, t := range tickers {
				if t.Quote == nil {
					table.AddRow(t.Symbol.String(), "N/A", "", "", "", "")
					continue
				}
				q := t.Quote
				table.AddRow(
					t.Symbol.String(),
					utils.FormatCurrency(q.RegularPrice),
					output.FormatGainLoss(&q.RegularChangeAmount, &q.RegularChangePercent),
					utils.FormatCurrency(q.Open),
					utils.FormatCurrency(q.High),
					utils.FormatCurrency(q.Low),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("refresh", false, "invalidate the quote cache before fetching")

	cmd.AddCommand(&cobra.Command{
		Use:   "add SYMBOL",
		Short: "Add a symbol to the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			symbol := models.NewSymbol(args[0])
			if err := app.Store.Watchlist().Add(ctx, symbol); err != nil {
				return fmt.Errorf("adding to watchlist: %w", err)
			}
			output.Success("Watching %s", symbol)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove SYMBOL",
		Short: "Remove a symbol from the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			symbol := models.NewSymbol(args[0])
			if err := app.Store.Watchlist().Remove(ctx, symbol); err != nil {
				return fmt.Errorf("removing from watchlist: %w", err)
			}
			output.Success("Stopped watching %s", symbol)
			return nil
		},
	})

	rootCmd.AddCommand(cmd)
}
