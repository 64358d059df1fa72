package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
)

// portfolioRow is the CSV shape of one exported portfolio entry. Unknown
// money fields marshal as empty cells rather than zeros.
type portfolioRow struct {
	Symbol               string   `csv:"symbol"`
	Class                string   `csv:"class"`
	TotalShares          float64  `csv:"total_shares"`
	CostBasis            float64  `csv:"cost_basis"`
	Current              *float64 `csv:"current_value"`
	TodayChange          *float64 `csv:"today_change"`
	TotalGainLoss        *float64 `csv:"total_gain_loss"`
	TotalGainLossPercent *float64 `csv:"total_gain_loss_percent"`
}

// positionRow is the CSV shape of one exported purchase lot.
type positionRow struct {
	ID           int64   `csv:"id"`
	HoldingID    int64   `csv:"holding_id"`
	Symbol       string  `csv:"symbol"`
	Shares       float64 `csv:"shares"`
	Price        float64 `csv:"price"`
	Cost         float64 `csv:"cost"`
	PurchaseDate string  `csv:"purchase_date"`
}

// addExportCommands adds CSV export commands.
func addExportCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export portfolio data to CSV",
	}

	cmd.AddCommand(newExportPortfolioCmd(app))
	cmd.AddCommand(newExportPositionsCmd(app))

	rootCmd.AddCommand(cmd)
}

func newExportPortfolioCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Export the valued portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			path, _ := cmd.Flags().GetString("output")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			list, err := app.Assembler.GetPortfolio(ctx)
			if err != nil {
				return fmt.Errorf("assembling portfolio: %w", err)
			}

			rows := make([]portfolioRow, 0, len(list))
			for _, ps := range list {
				rows = append(rows, portfolioRow{
					Symbol:               ps.Holding.Symbol.String(),
					Class:                string(ps.Holding.Class),
					TotalShares:          ps.TotalShares,
					CostBasis:            ps.CostBasis,
					Current:              ps.Current,
					TodayChange:          ps.TodayChange,
					TotalGainLoss:        ps.TotalGainLoss,
					TotalGainLossPercent: ps.TotalGainLossPercent,
				})
			}

			if err := writeCSV(path, &rows); err != nil {
				return err
			}
			output.Success("Exported %d holdings to %s", len(rows), path)
			return nil
		},
	}
	cmd.Flags().String("output", "portfolio.csv", "output file path")
	return cmd
}

func newExportPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Export all purchase lots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			path, _ := cmd.Flags().GetString("output")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			holdings, err := app.Store.Holdings().QueryAll(ctx)
			if err != nil {
				return fmt.Errorf("querying holdings: %w", err)
			}
			symbolByHolding := make(map[int64]string, len(holdings))
			for _, h := range holdings {
				symbolByHolding[h.ID] = h.Symbol.String()
			}

			positions, err := app.Store.Positions().QueryAll(ctx)
			if err != nil {
				return fmt.Errorf("querying positions: %w", err)
			}

			rows := make([]positionRow, 0, len(positions))
			for _, p := range positions {
				rows = append(rows, positionRow{
					ID:           p.ID,
					HoldingID:    p.HoldingID,
					Symbol:       symbolByHolding[p.HoldingID],
					Shares:       p.Shares,
					Price:        p.Price,
					Cost:         p.Cost(),
					PurchaseDate: p.PurchaseDate.Format("2006-01-02"),
				})
			}

			if err := writeCSV(path, &rows); err != nil {
				return err
			}
			output.Success("Exported %d positions to %s", len(rows), path)
			return nil
		},
	}
	cmd.Flags().String("output", "positions.csv", "output file path")
	return cmd
}

func writeCSV(path string, rows interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(rows, f); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}
