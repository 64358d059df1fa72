package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/models"
	"stockfolio/internal/store"
	"stockfolio/internal/ticker"
)

// Assembler queries the local store and the ticker aggregator and joins the
// results into a PortfolioStockList.
type Assembler struct {
	store   store.Store
	tickers *ticker.Aggregator
	logger  zerolog.Logger
}

// NewAssembler creates a portfolio assembler.
func NewAssembler(st store.Store, tickers *ticker.Aggregator, logger zerolog.Logger) *Assembler {
	return &Assembler{
		store:   st,
		tickers: tickers,
		logger:  logger.With().Str("component", "portfolio").Logger(),
	}
}

// GetPortfolio assembles the full portfolio list. Holdings, positions, and
// splits are queried concurrently; a failure in any of the three fails the
// call. The quote leg degrades instead: stocks are built with nil quotes
// when it fails. Holding order is preserved in the result.
func (a *Assembler) GetPortfolio(ctx context.Context) (PortfolioStockList, error) {
	var (
		wg        sync.WaitGroup
		holdings  []models.Holding
		positions []models.Position
		splits    []models.Split

		holdingErr  error
		positionErr error
		splitErr    error
	)

	start := time.Now()

	wg.Add(3)
	go func() {
		defer wg.Done()
		holdings, holdingErr = a.store.Holdings().QueryAll(ctx)
	}()
	go func() {
		defer wg.Done()
		positions, positionErr = a.store.Positions().QueryAll(ctx)
	}()
	go func() {
		defer wg.Done()
		splits, splitErr = a.store.Splits().QueryAll(ctx)
	}()
	wg.Wait()

	for _, err := range []error{holdingErr, positionErr, splitErr} {
		if err != nil {
			if apperrors.IsCancellation(err) {
				return nil, err
			}
			return nil, apperrors.Wrap(err, "querying portfolio entities")
		}
	}

	if len(holdings) == 0 {
		return PortfolioStockList{}, nil
	}

	symbols := make([]models.Symbol, 0, len(holdings))
	seen := make(map[models.Symbol]struct{}, len(holdings))
	for _, h := range holdings {
		if _, ok := seen[h.Symbol]; ok {
			continue
		}
		seen[h.Symbol] = struct{}{}
		symbols = append(symbols, h.Symbol)
	}

	// Valuation needs quotes only; no chart range.
	tickers, err := a.tickers.Fetch(ctx, symbols, nil, ticker.FetchOptions{})
	if err != nil {
		if apperrors.IsCancellation(err) {
			return nil, err
		}
		a.logger.Warn().Err(err).Msg("Quote fetch failed, assembling without quotes")
		tickers = nil
	}

	quotesBySymbol := make(map[models.Symbol]*models.Quote, len(tickers))
	for _, t := range tickers {
		if t.Quote != nil {
			quotesBySymbol[t.Symbol] = t.Quote
		}
	}

	positionsByHolding := make(map[int64][]models.Position, len(holdings))
	for _, p := range positions {
		positionsByHolding[p.HoldingID] = append(positionsByHolding[p.HoldingID], p)
	}
	splitsByHolding := make(map[int64][]models.Split)
	for _, s := range splits {
		splitsByHolding[s.HoldingID] = append(splitsByHolding[s.HoldingID], s)
	}

	list := make(PortfolioStockList, 0, len(holdings))
	for _, h := range holdings {
		list = append(list, NewPortfolioStock(
			h,
			positionsByHolding[h.ID],
			splitsByHolding[h.ID],
			quotesBySymbol[h.Symbol],
		))
	}

	a.logger.Debug().
		Int("holdings", len(holdings)).
		Int("positions", len(positions)).
		Int("quotes", len(quotesBySymbol)).
		Dur("duration", time.Since(start)).
		Msg("Portfolio assembled")

	return list, nil
}

// GetPortfolioData assembles the portfolio and computes its presentation
// aggregates.
func (a *Assembler) GetPortfolioData(ctx context.Context) (PortfolioData, error) {
	list, err := a.GetPortfolio(ctx)
	if err != nil {
		return PortfolioData{}, err
	}
	return Calculate(list, time.Now()), nil
}

// InvalidatePortfolio clears the store's per-entity read caches and the
// aggregator's quote cache, in parallel.
func (a *Assembler) InvalidatePortfolio(ctx context.Context) {
	var wg sync.WaitGroup
	for _, invalidate := range []func(){
		a.store.Holdings().InvalidateCache,
		a.store.Positions().InvalidateCache,
		a.store.Splits().InvalidateCache,
		a.tickers.InvalidateQuotes,
	} {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			fn()
		}(invalidate)
	}
	wg.Wait()
}

// RemoveHolding soft-deletes the holding with the given id, offering an
// undo window. Returns ErrHoldingNotFound when the id is absent.
func (a *Assembler) RemoveHolding(ctx context.Context, id int64) (bool, error) {
	a.store.Positions().InvalidateCache()

	h, err := a.store.Holdings().QueryByID(ctx, id)
	if err != nil {
		return false, apperrors.Wrap(err, "looking up holding")
	}
	if h == nil {
		return false, apperrors.ErrHoldingNotFound
	}

	deleted, err := a.store.Holdings().Delete(ctx, *h, true)
	if err != nil {
		return false, apperrors.Wrap(err, "deleting holding")
	}

	a.logger.Info().
		Int64("id", id).
		Str("symbol", h.Symbol.String()).
		Bool("deleted", deleted).
		Msg("Holding removed")
	return deleted, nil
}
