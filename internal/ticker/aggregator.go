// Package ticker aggregates live quotes and chart series into per-symbol
// Ticker records.
package ticker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/logging"
	"stockfolio/internal/marketdata"
	"stockfolio/internal/models"
	"stockfolio/internal/notify"
)

// FetchOptions controls a Fetch call.
type FetchOptions struct {
	// Force invalidates any cached upstream responses before fetching.
	Force bool
	// NotifyBigMovers asynchronously evaluates resolved quotes against the
	// movement threshold after merging. Never blocks or fails the fetch.
	NotifyBigMovers bool
}

// Aggregator fetches quotes and charts concurrently for a symbol set and
// merges them into one Ticker per requested symbol.
type Aggregator struct {
	source        marketdata.Source
	notifier      notify.Notifier
	moveThreshold float64 // percent; big-mover notification threshold
	logger        zerolog.Logger
}

// NewAggregator creates a new ticker aggregator. The notifier may be nil
// when big-mover notifications are unused.
func NewAggregator(source marketdata.Source, notifier notify.Notifier, moveThreshold float64, logger zerolog.Logger) *Aggregator {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Aggregator{
		source:        source,
		notifier:      notifier,
		moveThreshold: moveThreshold,
		logger:        logger.With().Str("component", "ticker").Logger(),
	}
}

// Fetch resolves quotes and, when r is non-nil, chart series for the given
// symbols concurrently. Each leg's failure degrades to absent results for
// that leg; only both legs failing fails the call. One Ticker is produced
// per requested symbol even when neither leg resolved it.
func (a *Aggregator) Fetch(ctx context.Context, symbols []models.Symbol, r *models.IntervalRange, opts FetchOptions) ([]models.Ticker, error) {
	symbols = dedupe(symbols)
	if len(symbols) == 0 {
		return []models.Ticker{}, nil
	}

	if opts.Force {
		a.Invalidate(symbols, r)
	}

	var (
		wg       sync.WaitGroup
		quotes   []models.Quote
		charts   []models.Chart
		quoteErr error
		chartErr error
	)

	start := time.Now()

	wg.Add(1)
	go func() {
		defer wg.Done()
		legStart := time.Now()
		quotes, quoteErr = a.source.GetQuotes(ctx, symbols)
		logging.LogFetch(a.logger, "quotes", len(symbols), time.Since(legStart), quoteErr)
	}()

	chartRequested := r != nil
	if chartRequested {
		wg.Add(1)
		go func() {
			defer wg.Done()
			legStart := time.Now()
			charts, chartErr = a.source.GetCharts(ctx, symbols, *r)
			logging.LogFetch(a.logger, "charts", len(symbols), time.Since(legStart), chartErr)
		}()
	}

	wg.Wait()

	// Cancellation unwinds without logging and without degrading.
	for _, err := range []error{quoteErr, chartErr} {
		if err != nil && apperrors.IsCancellation(err) {
			return nil, err
		}
	}

	if quoteErr != nil && (!chartRequested || chartErr != nil) {
		return nil, apperrors.Wrap(quoteErr, apperrors.ErrAllFetchesFailed.Error())
	}
	if quoteErr != nil {
		a.logger.Warn().Err(quoteErr).Int("symbols", len(symbols)).Msg("Quote leg failed, degrading")
		quotes = nil
	}
	if chartErr != nil {
		a.logger.Warn().Err(chartErr).Int("symbols", len(symbols)).Msg("Chart leg failed, degrading")
		charts = nil
	}

	tickers := merge(symbols, quotes, charts)

	a.logger.Debug().
		Int("symbols", len(symbols)).
		Int("quotes", len(quotes)).
		Int("charts", len(charts)).
		Dur("duration", time.Since(start)).
		Msg("Tickers aggregated")

	if opts.NotifyBigMovers {
		// Fire and forget; detached from the caller's cancellation.
		go a.notifyBigMovers(context.WithoutCancel(ctx), quotes)
	}

	return tickers, nil
}

// merge produces one Ticker per requested symbol, in request order.
func merge(symbols []models.Symbol, quotes []models.Quote, charts []models.Chart) []models.Ticker {
	quotesBySymbol := make(map[models.Symbol]*models.Quote, len(quotes))
	for i := range quotes {
		quotesBySymbol[quotes[i].Symbol] = &quotes[i]
	}
	chartsBySymbol := make(map[models.Symbol]*models.Chart, len(charts))
	for i := range charts {
		chartsBySymbol[charts[i].Symbol] = &charts[i]
	}

	tickers := make([]models.Ticker, 0, len(symbols))
	for _, sym := range symbols {
		tickers = append(tickers, models.Ticker{
			Symbol: sym,
			Quote:  quotesBySymbol[sym],
			Chart:  chartsBySymbol[sym],
		})
	}
	return tickers
}

// notifyBigMovers emits a notification for every resolved quote whose
// session move exceeds the threshold. Errors are logged, never propagated.
func (a *Aggregator) notifyBigMovers(ctx context.Context, quotes []models.Quote) {
	if a.moveThreshold <= 0 {
		return
	}
	for _, q := range quotes {
		pct := q.RegularChangePercent
		if pct < 0 {
			pct = -pct
		}
		if pct < a.moveThreshold {
			continue
		}
		if err := a.notifier.Send(ctx, notify.NewBigMoverNotification(q)); err != nil {
			a.logger.Warn().Err(err).Str("symbol", q.Symbol.String()).Msg("Big mover notification failed")
		}
	}
}

// Invalidate clears upstream cached responses for the given symbols: quotes
// always, charts only when r is non-nil.
func (a *Aggregator) Invalidate(symbols []models.Symbol, r *models.IntervalRange) {
	a.source.InvalidateQuotes(symbols)
	if r != nil {
		a.source.InvalidateCharts(symbols, r)
	}
}

// InvalidateQuotes clears the entire upstream quote cache.
func (a *Aggregator) InvalidateQuotes() {
	a.source.InvalidateQuotes(nil)
}

// InvalidateAll clears every upstream cached response.
func (a *Aggregator) InvalidateAll() {
	a.source.InvalidateAll()
}

func dedupe(symbols []models.Symbol) []models.Symbol {
	seen := make(map[models.Symbol]struct{}, len(symbols))
	out := make([]models.Symbol, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
