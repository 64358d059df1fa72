package portfolio

import (
	"time"

	"stockfolio/internal/models"
	"stockfolio/pkg/utils"
)

// displayUnknown is shown when a stock's gain/loss cannot be computed.
const displayUnknown = "N/A"

// computeStock derives the valuation fields of a single stock from its
// positions and quote. Pure apart from writing the derived fields; calling
// it again on the same inputs yields the same outputs.
//
// A zero total share count forces every derived field to exactly zero with
// direction NONE, so offsetting lots can never produce -0.0 or a 0/0
// percent. Otherwise money fields are nil when the quote is absent.
func computeStock(ps *PortfolioStock) {
	var totalShares, costBasis float64
	for _, p := range ps.Positions {
		totalShares += p.Shares
		costBasis += p.Cost()
	}
	ps.TotalShares = zeroSafe(totalShares)

	if ps.TotalShares == 0 {
		zero := 0.0
		ps.CostBasis = 0
		ps.Current = &zero
		ps.TodayChange = ptr(0)
		ps.TotalGainLoss = ptr(0)
		ps.TotalGainLossPercent = ptr(0)
		ps.TodayDirection = models.DirectionNone
		ps.TotalDirection = models.DirectionNone
		ps.Display = utils.FormatGainLoss(0, 0)
		return
	}

	ps.CostBasis = zeroSafe(costBasis)

	if ps.Quote == nil {
		ps.Current = nil
		ps.TodayChange = nil
		ps.TotalGainLoss = nil
		ps.TotalGainLossPercent = nil
		ps.TodayDirection = models.DirectionNone
		ps.TotalDirection = models.DirectionNone
		ps.Display = displayUnknown
		return
	}

	current := zeroSafe(ps.Quote.RegularPrice * ps.TotalShares)
	todayChange := zeroSafe(ps.Quote.RegularChangeAmount * ps.TotalShares)
	gainLoss := zeroSafe(current - ps.CostBasis)

	var gainLossPercent float64
	if ps.CostBasis != 0 {
		gainLossPercent = zeroSafe(gainLoss / ps.CostBasis * 100)
	}

	ps.Current = ptr(current)
	ps.TodayChange = ptr(todayChange)
	ps.TotalGainLoss = ptr(gainLoss)
	ps.TotalGainLossPercent = ptr(gainLossPercent)
	ps.TodayDirection = models.DirectionOf(todayChange)
	ps.TotalDirection = models.DirectionOf(gainLoss)
	ps.Display = utils.FormatGainLoss(gainLoss, gainLossPercent)
}

// Summarize aggregates a list of portfolio stocks. If any constituent's
// today-value is unknown, the aggregate value fields are nil rather than a
// partial sum that would understate the portfolio. Cost basis and position
// term counts are always computed; long-term means purchased more than one
// year before now.
func Summarize(list PortfolioStockList, now time.Time) Summary {
	s := Summary{
		Holdings:       len(list),
		TodayDirection: models.DirectionNone,
		TotalDirection: models.DirectionNone,
	}

	var current, todayChange float64
	resolved := true
	for _, ps := range list {
		s.CostBasis += ps.CostBasis
		for _, p := range ps.Positions {
			if p.LongTerm(now) {
				s.LongTermCount++
			} else {
				s.ShortTermCount++
			}
		}
		if ps.Current == nil || ps.TodayChange == nil {
			resolved = false
			continue
		}
		current += *ps.Current
		todayChange += *ps.TodayChange
	}
	s.CostBasis = zeroSafe(s.CostBasis)

	if !resolved {
		return s
	}

	current = zeroSafe(current)
	todayChange = zeroSafe(todayChange)
	gainLoss := zeroSafe(current - s.CostBasis)

	s.Current = ptr(current)
	s.TodayChange = ptr(todayChange)
	s.TotalGainLoss = ptr(gainLoss)

	// Today's percent is relative to today's value, not cost basis.
	if current != 0 {
		s.TodayChangePercent = ptr(zeroSafe(todayChange / current * 100))
	}
	if s.CostBasis != 0 {
		s.TotalGainLossPercent = ptr(zeroSafe(gainLoss / s.CostBasis * 100))
	} else {
		s.TotalGainLossPercent = ptr(0)
	}

	s.TodayDirection = models.DirectionOf(todayChange)
	s.TotalDirection = models.DirectionOf(gainLoss)
	return s
}

// Calculate produces the full presentation aggregate: the overall summary
// plus per-instrument-class summaries, each with the same null-propagation
// discipline.
func Calculate(list PortfolioStockList, now time.Time) PortfolioData {
	return PortfolioData{
		Entries: list,
		All:     Summarize(list, now),
		Stocks:  Summarize(list.ByClass(models.ClassStock), now),
		Options: Summarize(list.ByClass(models.ClassOption), now),
		Crypto:  Summarize(list.ByClass(models.ClassCrypto), now),
	}
}

func ptr(v float64) *float64 {
	return &v
}

// zeroSafe normalizes IEEE negative zero to positive zero.
func zeroSafe(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}
