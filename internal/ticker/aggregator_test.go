package ticker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/models"
	"stockfolio/internal/notify"
)

type fakeSource struct {
	quotes   map[models.Symbol]models.Quote
	charts   map[models.Symbol]models.Chart
	quoteErr error
	chartErr error

	quoteCalls       atomic.Int64
	chartCalls       atomic.Int64
	quoteInvalidated atomic.Int64
	chartInvalidated atomic.Int64
	allInvalidated   atomic.Int64
}

func (f *fakeSource) GetQuotes(ctx context.Context, symbols []models.Symbol) ([]models.Quote, error) {
	f.quoteCalls.Add(1)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	out := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeSource) GetCharts(ctx context.Context, symbols []models.Symbol, r models.IntervalRange) ([]models.Chart, error) {
	f.chartCalls.Add(1)
	if f.chartErr != nil {
		return nil, f.chartErr
	}
	out := make([]models.Chart, 0, len(symbols))
	for _, s := range symbols {
		if c, ok := f.charts[s]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) InvalidateQuotes(symbols []models.Symbol) { f.quoteInvalidated.Add(1) }

func (f *fakeSource) InvalidateCharts(symbols []models.Symbol, r *models.IntervalRange) {
	f.chartInvalidated.Add(1)
}

func (f *fakeSource) InvalidateAll() { f.allInvalidated.Add(1) }

// recordingNotifier captures sent notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Send(ctx context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) snapshot() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

func quoteFor(symbol string, price, change, percent float64) models.Quote {
	return models.Quote{
		Symbol:               models.NewSymbol(symbol),
		RegularPrice:         price,
		RegularChangeAmount:  change,
		RegularChangePercent: percent,
		RegularDirection:     models.DirectionOf(change),
		Timestamp:            time.Now(),
	}
}

func chartFor(symbol string, r models.IntervalRange) models.Chart {
	return models.Chart{
		Symbol: models.NewSymbol(symbol),
		Range:  r,
		Points: []models.ChartPoint{{Date: time.Now(), Close: 100}},
	}
}

func TestFetch_EmptySymbolsShortCircuits(t *testing.T) {
	src := &fakeSource{}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	tickers, err := agg.Fetch(context.Background(), nil, nil, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(tickers) != 0 {
		t.Errorf("len(tickers) = %d, want 0", len(tickers))
	}
	if src.quoteCalls.Load() != 0 {
		t.Errorf("remote call issued for empty symbol set")
	}
}

func TestFetch_OneTickerPerRequestedSymbol(t *testing.T) {
	r := models.RangeOneMonth
	src := &fakeSource{
		quotes: map[models.Symbol]models.Quote{"AAA": quoteFor("AAA", 10, 1, 11.1)},
		charts: map[models.Symbol]models.Chart{"BBB": chartFor("BBB", r)},
	}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	symbols := []models.Symbol{"AAA", "BBB", "CCC"}
	tickers, err := agg.Fetch(context.Background(), symbols, &r, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(tickers) != 3 {
		t.Fatalf("len(tickers) = %d, want 3", len(tickers))
	}
	for i, sym := range symbols {
		if tickers[i].Symbol != sym {
			t.Errorf("tickers[%d].Symbol = %s, want %s", i, tickers[i].Symbol, sym)
		}
	}
	if tickers[0].Quote == nil || tickers[0].Chart != nil {
		t.Errorf("AAA: quote resolved, chart not: got quote=%v chart=%v", tickers[0].Quote, tickers[0].Chart)
	}
	if tickers[1].Quote != nil || tickers[1].Chart == nil {
		t.Errorf("BBB: chart resolved, quote not")
	}
	if tickers[2].Quote != nil || tickers[2].Chart != nil {
		t.Errorf("CCC: both must be nil for unresolved symbol")
	}
}

func TestFetch_ChartLegFailureDegrades(t *testing.T) {
	r := models.RangeOneDay
	src := &fakeSource{
		quotes:   map[models.Symbol]models.Quote{"AAA": quoteFor("AAA", 10, 1, 11.1)},
		chartErr: errors.New("chart endpoint down"),
	}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	tickers, err := agg.Fetch(context.Background(), []models.Symbol{"AAA"}, &r, FetchOptions{})
	if err != nil {
		t.Fatalf("one leg failing must degrade, got: %v", err)
	}
	if tickers[0].Quote == nil {
		t.Error("quote leg result lost")
	}
	if tickers[0].Chart != nil {
		t.Error("chart should be absent after leg failure")
	}
}

func TestFetch_QuoteLegFailureDegradesWhenChartsRequested(t *testing.T) {
	r := models.RangeOneDay
	src := &fakeSource{
		quoteErr: errors.New("quote endpoint down"),
		charts:   map[models.Symbol]models.Chart{"AAA": chartFor("AAA", r)},
	}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	tickers, err := agg.Fetch(context.Background(), []models.Symbol{"AAA"}, &r, FetchOptions{})
	if err != nil {
		t.Fatalf("one leg failing must degrade, got: %v", err)
	}
	if tickers[0].Chart == nil {
		t.Error("chart leg result lost")
	}
	if tickers[0].Quote != nil {
		t.Error("quote should be absent after leg failure")
	}
}

func TestFetch_BothLegsFailingFails(t *testing.T) {
	r := models.RangeOneDay
	src := &fakeSource{
		quoteErr: errors.New("quotes down"),
		chartErr: errors.New("charts down"),
	}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	_, err := agg.Fetch(context.Background(), []models.Symbol{"AAA"}, &r, FetchOptions{})
	if err == nil {
		t.Fatal("expected error when both legs fail")
	}
}

func TestFetch_QuoteOnlyFailureFails(t *testing.T) {
	src := &fakeSource{quoteErr: errors.New("quotes down")}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	_, err := agg.Fetch(context.Background(), []models.Symbol{"AAA"}, nil, FetchOptions{})
	if err == nil {
		t.Fatal("quote-only fetch with failed quotes must fail")
	}
}

func TestFetch_CancellationIsNotWrapped(t *testing.T) {
	src := &fakeSource{quoteErr: context.Canceled}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	_, err := agg.Fetch(context.Background(), []models.Symbol{"AAA"}, nil, FetchOptions{})
	if !apperrors.IsCancellation(err) {
		t.Errorf("err = %v, want cancellation", err)
	}
}

func TestFetch_ForceInvalidatesBeforeFetching(t *testing.T) {
	r := models.RangeOneDay
	src := &fakeSource{
		quotes: map[models.Symbol]models.Quote{"AAA": quoteFor("AAA", 10, 1, 11.1)},
	}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	if _, err := agg.Fetch(context.Background(), []models.Symbol{"AAA"}, &r, FetchOptions{Force: true}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if src.quoteInvalidated.Load() != 1 {
		t.Errorf("quote cache not invalidated on force")
	}
	if src.chartInvalidated.Load() != 1 {
		t.Errorf("chart cache not invalidated on force with range")
	}
}

func TestFetch_BigMoversNotified(t *testing.T) {
	src := &fakeSource{
		quotes: map[models.Symbol]models.Quote{
			"BIG":   quoteFor("BIG", 100, 8, 8.7),
			"SMALL": quoteFor("SMALL", 100, 1, 1.0),
			"DROP":  quoteFor("DROP", 100, -9, -8.3),
		},
	}
	notifier := &recordingNotifier{}
	agg := NewAggregator(src, notifier, 5.0, zerolog.Nop())

	symbols := []models.Symbol{"BIG", "SMALL", "DROP"}
	if _, err := agg.Fetch(context.Background(), symbols, nil, FetchOptions{NotifyBigMovers: true}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	// The side effect is fire-and-forget; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(notifier.snapshot()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := notifier.snapshot()
	if len(sent) != 2 {
		t.Fatalf("notifications sent = %d, want 2 (both directions over threshold)", len(sent))
	}
	for _, n := range sent {
		if n.Symbol != "BIG" && n.Symbol != "DROP" {
			t.Errorf("unexpected big mover %s", n.Symbol)
		}
	}
}

func TestFetch_DuplicateSymbolsCollapsed(t *testing.T) {
	src := &fakeSource{
		quotes: map[models.Symbol]models.Quote{"AAA": quoteFor("AAA", 10, 0, 0)},
	}
	agg := NewAggregator(src, nil, 0, zerolog.Nop())

	tickers, err := agg.Fetch(context.Background(), []models.Symbol{"AAA", "AAA"}, nil, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(tickers) != 1 {
		t.Errorf("len(tickers) = %d, want 1", len(tickers))
	}
}
