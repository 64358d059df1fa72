package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/models"
	"stockfolio/pkg/utils"
)

// addPositionCommands adds position (lot) management commands.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Manage purchase lots under a holding",
	}

	cmd.AddCommand(newPositionListCmd(app))
	cmd.AddCommand(newPositionAddCmd(app))
	cmd.AddCommand(newPositionRemoveCmd(app))

	rootCmd.AddCommand(cmd)
}

func newPositionListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list [HOLDING_ID]",
		Short: "List positions, optionally for one holding",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			var (
				positions []models.Position
				err       error
			)
			if len(args) == 1 {
				holdingID, parseErr := strconv.ParseInt(args[0], 10, 64)
				if parseErr != nil {
					return fmt.Errorf("invalid holding id %q", args[0])
				}
				positions, err = app.Store.Positions().QueryByHolding(ctx, holdingID)
			} else {
				positions, err = app.Store.Positions().QueryAll(ctx)
			}
			if err != nil {
				return fmt.Errorf("querying positions: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Info("No positions.")
				return nil
			}

			now := time.Now()
			table := NewTable(output, "ID", "Holding", "Shares", "Price", "Cost", "Purchased", "Term")
			for _, p := range positions {
				term := "short"
				if p.LongTerm(now) {
					term = "long"
				}
				table.AddRow(
					strconv.FormatInt(p.ID, 10),
					strconv.FormatInt(p.HoldingID, 10),
					utils.FormatShares(p.Shares),
					utils.FormatCurrency(p.Price),
					utils.FormatCurrency(p.Cost()),
					p.PurchaseDate.Format("2006-01-02"),
					term,
				)
			}
			table.Render()
			return nil
		},
	}
}

func newPositionAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add HOLDING_ID",
		Short: "Add a purchase lot to a holding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)

			holdingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid holding id %q", args[0])
			}
			shares, _ := cmd.Flags().GetFloat64("shares")
			price, _ := cmd.Flags().GetFloat64("price")
			dateStr, _ := cmd.Flags().GetString("date")

			purchaseDate := time.Now()
			if dateStr != "" {
				purchaseDate, err = time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", dateStr)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			h, err := app.Store.Holdings().QueryByID(ctx, holdingID)
			if err != nil {
				return fmt.Errorf("looking up holding: %w", err)
			}
			if h == nil {
				return apperrors.ErrHoldingNotFound
			}

			p := &models.Position{
				HoldingID:    holdingID,
				Shares:       shares,
				Price:        price,
				PurchaseDate: purchaseDate,
			}
			if _, err := app.Store.Positions().Insert(ctx, p); err != nil {
				return fmt.Errorf("adding position: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Success("Added %s %s @ %s (lot %d)",
				utils.FormatShares(shares), h.Symbol, utils.FormatCurrency(price), p.ID)
			return nil
		},
	}
	cmd.Flags().Float64("shares", 0, "share/contract count")
	cmd.Flags().Float64("price", 0, "price paid per share")
	cmd.Flags().String("date", "", "purchase date (YYYY-MM-DD, default today)")
	cmd.MarkFlagRequired("shares")
	cmd.MarkFlagRequired("price")
	return cmd
}

func newPositionRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a purchase lot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid position id %q", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			p, err := app.Store.Positions().QueryByID(ctx, id)
			if err != nil {
				return fmt.Errorf("looking up position: %w", err)
			}
			if p == nil {
				return apperrors.ErrPositionNotFound
			}

			if _, err := app.Store.Positions().Delete(ctx, *p, false); err != nil {
				return fmt.Errorf("removing position: %w", err)
			}
			output.Success("Removed position %d", id)
			return nil
		},
	}
}
