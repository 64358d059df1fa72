package cli

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/models"
	"stockfolio/internal/store"
)

// addHoldingCommands adds holding management commands.
func addHoldingCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "holding",
		Short: "Manage tracked holdings",
		Long:  "Add, remove, restore, and list the instruments you track.",
	}

	cmd.AddCommand(newHoldingListCmd(app))
	cmd.AddCommand(newHoldingAddCmd(app))
	cmd.AddCommand(newHoldingRemoveCmd(app))
	cmd.AddCommand(newHoldingRestoreCmd(app))

	rootCmd.AddCommand(cmd)
}

func newHoldingListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			holdings, err := app.Store.Holdings().QueryAll(ctx)
			if err != nil {
				return fmt.Errorf("querying holdings: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(holdings)
			}
			if len(holdings) == 0 {
				output.Info("No holdings.")
				return nil
			}

			table := NewTable(output, "ID", "Symbol", "Class", "Added")
			for _, h := range holdings {
				table.AddRow(
					strconv.FormatInt(h.ID, 10),
					h.Symbol.String(),
					string(h.Class),
					h.CreatedAt.Format("2006-01-02"),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newHoldingAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add SYMBOL",
		Short: "Add a holding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			class, _ := cmd.Flags().GetString("class")

			instrumentClass, err := parseClass(class)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			h := &models.Holding{
				Symbol:    models.NewSymbol(args[0]),
				Class:     instrumentClass,
				CreatedAt: time.Now(),
			}
			outcome, err := app.Store.Holdings().Insert(ctx, h)
			if err != nil {
				return fmt.Errorf("adding holding: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"holding": h, "outcome": outcome})
			}
			if outcome == store.OutcomeUpdated {
				output.Success("Updated holding %s (id %d)", h.Symbol, h.ID)
			} else {
				output.Success("Added holding %s (id %d)", h.Symbol, h.ID)
			}
			return nil
		},
	}
	cmd.Flags().String("class", "stock", "instrument class: stock, option, or crypto")
	return cmd
}

func newHoldingRemoveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a holding",
		Long: `Remove a holding by id. The holding is kept restorable for the undo
window; pass --wait-undo to hold the window open and undo with Enter.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)
			waitUndo, _ := cmd.Flags().GetDuration("wait-undo")

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid holding id %q", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if _, err := app.Assembler.RemoveHolding(ctx, id); err != nil {
				if apperrors.Is(err, apperrors.ErrHoldingNotFound) {
					output.Error("No holding with id %d", id)
				}
				return err
			}
			output.Success("Removed holding %d", id)

			if waitUndo <= 0 {
				return nil
			}
			return waitForUndo(cmd, app, output, waitUndo)
		},
	}
	cmd.Flags().Duration("wait-undo", 0, "keep the undo window open for this long")
	return cmd
}

// waitForUndo runs the reconciler so the delete event lands in its undo
// slot, then restores the holding if the user presses Enter in time.
func waitForUndo(cmd *cobra.Command, app *App, output *Output, window time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), window+5*time.Second)
	defer cancel()

	app.Reconciler.Start(ctx)
	defer app.Reconciler.Stop()

	output.Dim("Press Enter within %s to undo...", window)

	entered := make(chan struct{})
	go func() {
		reader := bufio.NewReader(cmd.InOrStdin())
		if _, err := reader.ReadString('\n'); err == nil {
			close(entered)
		}
	}()

	select {
	case <-entered:
		h, err := app.Reconciler.Restore(ctx)
		if err != nil {
			return err
		}
		output.Success("Restored holding %s (id %d)", h.Symbol, h.ID)
		return nil
	case <-time.After(window):
		output.Dim("Undo window expired.")
		return nil
	}
}

func newHoldingRestoreCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore the most recently removed holding",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			output := NewOutput(cmd)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			app.Reconciler.Start(ctx)
			defer app.Reconciler.Stop()

			// The delete event replays to the fresh subscription; give the
			// event loop a moment to populate the undo slot.
			deadline := time.Now().Add(time.Second)
			for app.Reconciler.RecentlyDeleted() == nil && time.Now().Before(deadline) {
				time.Sleep(20 * time.Millisecond)
			}

			h, err := app.Reconciler.Restore(ctx)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrNothingToRestore) {
					output.Warning("Nothing to restore.")
					return nil
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(h)
			}
			output.Success("Restored holding %s (id %d)", h.Symbol, h.ID)
			return nil
		},
	}
}

func parseClass(raw string) (models.InstrumentClass, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stock", "":
		return models.ClassStock, nil
	case "option":
		return models.ClassOption, nil
	case "crypto", "cryptocurrency":
		return models.ClassCrypto, nil
	default:
		return "", fmt.Errorf("unknown instrument class %q (want stock, option, or crypto)", raw)
	}
}
