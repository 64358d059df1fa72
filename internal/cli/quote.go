package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stockfolio/internal/models"
	"stockfolio/internal/ticker"
	"stockfolio/pkg/utils"
)

// addQuoteCommands adds the quote command.
func addQuoteCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "quote SYMBOL...",
		Short: "Fetch live quotes for one or more symbols",
		Long: `Fetch live quotes, and with --range a chart summary, for the given
symbols. Symbols the provider cannot resolve are shown as N/A.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rangeStr, _ := cmd.Flags().GetString("range")
			force, _ := cmd.Flags().GetBool("refresh")

			var r *models.IntervalRange
			if rangeStr != "" {
				parsed, err := parseRange(rangeStr)
				if err != nil {
					return err
				}
				r = &parsed
			}

			symbols := make([]models.Symbol, 0, len(args))
			for _, raw := range args {
				symbols = append(symbols, models.NewSymbol(raw))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			tickers, err := app.Tickers.Fetch(ctx, symbols, r, ticker.FetchOptions{Force: force})
			if err != nil {
				return fmt.Errorf("fetching quotes: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(tickers)
			}
			for _, t := range tickers {
				renderTicker(output, t)
			}
			return nil
		},
	}
	cmd.Flags().String("range", "", "chart range: 1D, 5D, 1M, 3M, 6M, 1Y, 5Y, MAX")
	cmd.Flags().Bool("refresh", false, "invalidate cached responses before fetching")
	rootCmd.AddCommand(cmd)
}

func renderTicker(output *Output, t models.Ticker) {
	output.Bold("%s", t.Symbol)
	if t.Quote == nil {
		output.Dim("  quote unavailable")
	} else {
		q := t.Quote
		output.Printf("  %s  %s\n",
			utils.FormatCurrency(q.RegularPrice),
			output.FormatGainLoss(&q.RegularChangeAmount, &q.RegularChangePercent))
		output.Printf("  prev %s  open %s  high %s  low %s\n",
			utils.FormatCurrency(q.PreviousClose),
			utils.FormatCurrency(q.Open),
			utils.FormatCurrency(q.High),
			utils.FormatCurrency(q.Low))
		if q.PreMarket != nil {
			output.Printf("  pre-market  %s  %s\n",
				utils.FormatCurrency(q.PreMarket.Price),
				output.FormatGainLoss(&q.PreMarket.ChangeAmount, &q.PreMarket.ChangePercent))
		}
		if q.PostMarket != nil {
			output.Printf("  after-hours %s  %s\n",
				utils.FormatCurrency(q.PostMarket.Price),
				output.FormatGainLoss(&q.PostMarket.ChangeAmount, &q.PostMarket.ChangePercent))
		}
	}
	if t.Chart != nil && len(t.Chart.Points) > 0 {
		first := t.Chart.Points[0]
		last := t.Chart.Points[len(t.Chart.Points)-1]
		output.Printf("  %s range: %s (%s) to %s (%s), %d samples\n",
			t.Chart.Range,
			utils.FormatCurrency(first.Close), first.Date.Format("2006-01-02"),
			utils.FormatCurrency(last.Close), last.Date.Format("2006-01-02"),
			len(t.Chart.Points))
	}
	output.Println()
}

func parseRange(raw string) (models.IntervalRange, error) {
	r := models.IntervalRange(strings.ToUpper(strings.TrimSpace(raw)))
	switch r {
	case models.RangeOneDay, models.RangeFiveDays, models.RangeOneMonth,
		models.RangeThreeMonth, models.RangeSixMonth, models.RangeOneYear,
		models.RangeFiveYears, models.RangeMax:
		return r, nil
	default:
		return "", fmt.Errorf("unknown range %q", raw)
	}
}
