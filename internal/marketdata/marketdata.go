// Package marketdata provides the remote market data source: live quotes,
// historical chart series, and cache invalidation over them.
package marketdata

import (
	"context"

	"stockfolio/internal/models"
)

// Source defines the market data provider contract. Symbols the provider
// cannot resolve are omitted from results, never surfaced as per-symbol
// errors; only a total request failure returns an error.
type Source interface {
	GetQuotes(ctx context.Context, symbols []models.Symbol) ([]models.Quote, error)
	GetCharts(ctx context.Context, symbols []models.Symbol, r models.IntervalRange) ([]models.Chart, error)

	// InvalidateQuotes clears cached quotes. A nil symbol list clears all.
	InvalidateQuotes(symbols []models.Symbol)
	// InvalidateCharts clears cached charts. A nil symbol list clears all
	// symbols; a nil range clears all ranges.
	InvalidateCharts(symbols []models.Symbol, r *models.IntervalRange)
	InvalidateAll()
}
