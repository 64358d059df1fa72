// Package portfolio joins persisted holdings with live market data and
// computes valuation aggregates.
package portfolio

import (
	"stockfolio/internal/models"
)

// PortfolioStock is one holding joined with its position lots, splits, and
// resolved quote. The derived fields are computed at construction time and
// read-only afterwards. A nil money field means the value is unknown
// because the quote did not resolve; a zero-share holding carries exact
// zeros instead.
type PortfolioStock struct {
	Holding   models.Holding
	Positions []models.Position
	Splits    []models.Split
	Quote     *models.Quote

	TotalShares          float64
	CostBasis            float64
	Current              *float64
	TodayChange          *float64
	TodayDirection       models.Direction
	TotalGainLoss        *float64
	TotalGainLossPercent *float64
	TotalDirection       models.Direction
	Display              string
}

// NewPortfolioStock builds a PortfolioStock and computes its derived fields.
func NewPortfolioStock(h models.Holding, positions []models.Position, splits []models.Split, quote *models.Quote) PortfolioStock {
	ps := PortfolioStock{
		Holding:   h,
		Positions: positions,
		Splits:    splits,
		Quote:     quote,
	}
	computeStock(&ps)
	return ps
}

// PortfolioStockList is the full collection of portfolio stocks for one
// assemble cycle, in holding order.
type PortfolioStockList []PortfolioStock

// Symbols returns the distinct symbols of the list, in holding order.
func (l PortfolioStockList) Symbols() []models.Symbol {
	seen := make(map[models.Symbol]struct{}, len(l))
	out := make([]models.Symbol, 0, len(l))
	for _, ps := range l {
		if _, ok := seen[ps.Holding.Symbol]; ok {
			continue
		}
		seen[ps.Holding.Symbol] = struct{}{}
		out = append(out, ps.Holding.Symbol)
	}
	return out
}

// ByClass returns the subset of the list with the given instrument class,
// preserving order.
func (l PortfolioStockList) ByClass(class models.InstrumentClass) PortfolioStockList {
	out := make(PortfolioStockList, 0, len(l))
	for _, ps := range l {
		if ps.Holding.Class == class {
			out = append(out, ps)
		}
	}
	return out
}

// Summary holds aggregate valuation figures over a set of portfolio stocks.
// Value fields are nil when any constituent's quote did not resolve; a
// partial sum is never reported. Cost basis is always known locally and
// always sums.
type Summary struct {
	Holdings  int
	CostBasis float64

	Current              *float64
	TodayChange          *float64
	TodayChangePercent   *float64
	TodayDirection       models.Direction
	TotalGainLoss        *float64
	TotalGainLossPercent *float64
	TotalDirection       models.Direction

	ShortTermCount int
	LongTermCount  int
}

// PortfolioData is the presentation-ready aggregate: the full list plus
// summaries for the whole portfolio and for each instrument class.
type PortfolioData struct {
	Entries PortfolioStockList

	All     Summary
	Stocks  Summary
	Options Summary
	Crypto  Summary
}
