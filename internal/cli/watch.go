package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockfolio/internal/marketdata"
	"stockfolio/internal/models"
	"stockfolio/pkg/utils"
)

// addWatchCommands adds the live streaming watch command.
func addWatchCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "watch [SYMBOL...]",
		Short: "Stream live quote updates",
		Long: `Subscribe to the provider's live quote stream for the given symbols,
or for the whole watchlist when none are given, and print updates until
interrupted. The stream reconnects automatically on connection loss.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if app.Config.MarketData.StreamURL == "" {
				return fmt.Errorf("marketdata.stream_url not configured")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			symbols, err := watchSymbols(ctx, app, args)
			if err != nil {
				return err
			}
			if len(symbols) == 0 {
				output.Info("Nothing to watch.")
				return nil
			}

			stream := marketdata.NewQuoteStream(marketdata.QuoteStreamConfig{
				URL:    app.Config.MarketData.StreamURL,
				APIKey: app.Config.MarketData.APIKey,
			})

			stream.OnQuote(func(q models.Quote) {
				output.Printf("%s  %-6s %s  %s\n",
					q.Timestamp.Format("15:04:05"),
					q.Symbol,
					utils.FormatCurrency(q.RegularPrice),
					output.FormatGainLoss(&q.RegularChangeAmount, &q.RegularChangePercent))
			})
			stream.OnError(func(err error) {
				output.Error("stream: %v", err)
			})
			stream.OnConnect(func() {
				output.Dim("Connected. Press Ctrl+C to exit.")
			})
			stream.OnDisconnect(func() {
				output.Warning("Disconnected, reconnecting...")
			})

			if err := stream.Connect(ctx); err != nil {
				return fmt.Errorf("connecting to quote stream: %w", err)
			}
			defer stream.Disconnect()

			if err := stream.Subscribe(symbols); err != nil {
				return fmt.Errorf("subscribing: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-sigCh:
			case <-ctx.Done():
			}
			return nil
		},
	}
	rootCmd.AddCommand(cmd)
}

// watchSymbols resolves the symbols to stream: explicit arguments win,
// otherwise the stored watchlist.
func watchSymbols(ctx context.Context, app *App, args []string) ([]models.Symbol, error) {
	if len(args) > 0 {
		symbols := make([]models.Symbol, 0, len(args))
		for _, raw := range args {
			symbols = append(symbols, models.NewSymbol(raw))
		}
		return symbols, nil
	}

	if app.Store == nil {
		return nil, errStoreUnavailable
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	entries, err := app.Store.Watchlist().QueryAll(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("querying watchlist: %w", err)
	}
	symbols := make([]models.Symbol, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	return symbols, nil
}
