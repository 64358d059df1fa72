package portfolio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/models"
	"stockfolio/internal/store"
	"stockfolio/internal/ticker"
)

// fakeSource implements marketdata.Source over canned data.
type fakeSource struct {
	quotes      map[models.Symbol]models.Quote
	quoteErr    error
	quoteCalls  atomic.Int64
	invalidated atomic.Int64
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
	return nil, nil
}

func (f *fakeSource) InvalidateQuotes(symbols []models.Symbol) { f.invalidated.Add(1) }

func (f *fakeSource) InvalidateCharts(symbols []models.Symbol, r *models.IntervalRange) {}

func (f *fakeSource) InvalidateAll() { f.invalidated.Add(1) }

// fakeStore implements store.Store with function hooks.
type fakeStore struct {
	holdings  *fakeHoldingRepo
	positions *fakePositionRepo
	splits    *fakeSplitRepo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		holdings:  &fakeHoldingRepo{hub: store.NewHub[models.Holding]()},
		positions: &fakePositionRepo{hub: store.NewHub[models.Position]()},
		splits:    &fakeSplitRepo{hub: store.NewHub[models.Split]()},
	}
}

func (s *fakeStore) Holdings() store.HoldingRepository   { return s.holdings }
func (s *fakeStore) Positions() store.PositionRepository { return s.positions }
func (s *fakeStore) Splits() store.SplitRepository       { return s.splits }
func (s *fakeStore) Watchlist() store.WatchlistRepository {
	return nil
}
func (s *fakeStore) Close() error { return nil }

type fakeHoldingRepo struct {
	rows        []models.Holding
	queryErr    error
	queryCalls  atomic.Int64
	insertCalls atomic.Int64
	hub         *store.Hub[models.Holding]
}

func (r *fakeHoldingRepo) QueryAll(ctx context.Context) ([]models.Holding, error) {
	r.queryCalls.Add(1)
	return r.rows, r.queryErr
}

func (r *fakeHoldingRepo) QueryByID(ctx context.Context, id int64) (*models.Holding, error) {
	for _, h := range r.rows {
		if h.ID == id {
			return &h, nil
		}
	}
	return nil, nil
}

func (r *fakeHoldingRepo) Insert(ctx context.Context, h *models.Holding) (store.InsertOutcome, error) {
	r.insertCalls.Add(1)
	r.rows = append(r.rows, *h)
	r.hub.Publish(models.Event[models.Holding]{Kind: models.EventInsert, Entity: *h})
	return store.OutcomeInserted, nil
}

func (r *fakeHoldingRepo) Delete(ctx context.Context, h models.Holding, offerUndo bool) (bool, error) {
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.ID != h.ID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	r.hub.Publish(models.Event[models.Holding]{Kind: models.EventDelete, Entity: h, OfferUndo: offerUndo})
	return true, nil
}

func (r *fakeHoldingRepo) InvalidateCache()                 {}
func (r *fakeHoldingRepo) Events() *store.Hub[models.Holding] { return r.hub }

type fakePositionRepo struct {
	rows       []models.Position
	queryErr   error
	queryCalls atomic.Int64
	hub        *store.Hub[models.Position]
}

func (r *fakePositionRepo) QueryAll(ctx context.Context) ([]models.Position, error) {
	r.queryCalls.Add(1)
	return r.rows, r.queryErr
}

func (r *fakePositionRepo) QueryByID(ctx context.Context, id int64) (*models.Position, error) {
	for _, p := range r.rows {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *fakePositionRepo) QueryByHolding(ctx context.Context, holdingID int64) ([]models.Position, error) {
	var out []models.Position
	for _, p := range r.rows {
		if p.HoldingID == holdingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePositionRepo) Insert(ctx context.Context, p *models.Position) (store.InsertOutcome, error) {
	r.rows = append(r.rows, *p)
	r.hub.Publish(models.Event[models.Position]{Kind: models.EventInsert, Entity: *p})
	return store.OutcomeInserted, nil
}

func (r *fakePositionRepo) Delete(ctx context.Context, p models.Position, offerUndo bool) (bool, error) {
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.ID != p.ID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	r.hub.Publish(models.Event[models.Position]{Kind: models.EventDelete, Entity: p, OfferUndo: offerUndo})
	return true, nil
}

func (r *fakePositionRepo) InvalidateCache()                   {}
func (r *fakePositionRepo) Events() *store.Hub[models.Position] { return r.hub }

type fakeSplitRepo struct {
	rows     []models.Split
	queryErr error
	hub      *store.Hub[models.Split]
}

func (r *fakeSplitRepo) QueryAll(ctx context.Context) ([]models.Split, error) {
	return r.rows, r.queryErr
}

func (r *fakeSplitRepo) QueryByID(ctx context.Context, id int64) (*models.Split, error) {
	for _, s := range r.rows {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

func (r *fakeSplitRepo) Insert(ctx context.Context, s *models.Split) (store.InsertOutcome, error) {
	r.rows = append(r.rows, *s)
	r.hub.Publish(models.Event[models.Split]{Kind: models.EventInsert, Entity: *s})
	return store.OutcomeInserted, nil
}

func (r *fakeSplitRepo) Delete(ctx context.Context, s models.Split, offerUndo bool) (bool, error) {
	r.hub.Publish(models.Event[models.Split]{Kind: models.EventDelete, Entity: s, OfferUndo: offerUndo})
	return true, nil
}

func (r *fakeSplitRepo) InvalidateCache()                {}
func (r *fakeSplitRepo) Events() *store.Hub[models.Split] { return r.hub }

func newTestAssembler(st *fakeStore, src *fakeSource) *Assembler {
	agg := ticker.NewAggregator(src, nil, 0, zerolog.Nop())
	return NewAssembler(st, agg, zerolog.Nop())
}

func TestGetPortfolio_JoinsAndPreservesHoldingOrder(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.holdings.rows = []models.Holding{
		makeHolding(2, "BBB", models.ClassStock),
		makeHolding(1, "AAA", models.ClassCrypto),
	}
	st.positions.rows = []models.Position{
		{ID: 10, HoldingID: 1, Shares: 5, Price: 100, PurchaseDate: now},
		{ID: 11, HoldingID: 2, Shares: 10, Price: 10, PurchaseDate: now},
	}
	src := &fakeSource{quotes: map[models.Symbol]models.Quote{
		"AAA": *makeQuote("AAA", 110, 1, 0.92),
		"BBB": *makeQuote("BBB", 12, 1, 9.09),
	}}

	list, err := newTestAssembler(st, src).GetPortfolio(context.Background())
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].Holding.ID != 2 || list[1].Holding.ID != 1 {
		t.Errorf("holding order not preserved: got %d, %d", list[0].Holding.ID, list[1].Holding.ID)
	}
	if list[0].Quote == nil || list[0].Quote.Symbol != "BBB" {
		t.Errorf("BBB quote not joined")
	}
	if len(list[1].Positions) != 1 || list[1].Positions[0].ID != 10 {
		t.Errorf("AAA positions not joined: %+v", list[1].Positions)
	}
	if list[0].Current == nil || *list[0].Current != 120 {
		t.Errorf("BBB Current = %v, want 120", list[0].Current)
	}
}

func TestGetPortfolio_PositionQueryFailureIsFatal(t *testing.T) {
	st := newFakeStore()
	st.holdings.rows = []models.Holding{makeHolding(1, "AAA", models.ClassStock)}
	cause := errors.New("disk I/O error")
	st.positions.queryErr = cause
	src := &fakeSource{}

	list, err := newTestAssembler(st, src).GetPortfolio(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, cause) {
		t.Errorf("error does not carry the underlying cause: %v", err)
	}
	if list != nil {
		t.Errorf("partial list returned alongside failure: %+v", list)
	}
}

func TestGetPortfolio_QuoteLegFailureDegrades(t *testing.T) {
	now := time.Now()
	st := newFakeStore()
	st.holdings.rows = []models.Holding{makeHolding(1, "AAA", models.ClassStock)}
	st.positions.rows = []models.Position{
		{ID: 1, HoldingID: 1, Shares: 10, Price: 10, PurchaseDate: now},
	}
	src := &fakeSource{quoteErr: errors.New("provider down")}

	list, err := newTestAssembler(st, src).GetPortfolio(context.Background())
	if err != nil {
		t.Fatalf("quote failure must degrade, got error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	if list[0].Quote != nil {
		t.Errorf("expected nil quote after degrade")
	}
	if list[0].Current != nil {
		t.Errorf("Current = %v, want nil", *list[0].Current)
	}
	if list[0].CostBasis != 100 {
		t.Errorf("CostBasis = %v, want 100", list[0].CostBasis)
	}
}

func TestGetPortfolio_CancellationPropagatesUnwrapped(t *testing.T) {
	st := newFakeStore()
	st.holdings.rows = []models.Holding{makeHolding(1, "AAA", models.ClassStock)}
	src := &fakeSource{quoteErr: context.Canceled}

	_, err := newTestAssembler(st, src).GetPortfolio(context.Background())
	if err == nil {
		t.Fatal("expected cancellation to propagate")
	}
	if !apperrors.IsCancellation(err) {
		t.Errorf("error not classified as cancellation: %v", err)
	}
}

func TestGetPortfolio_EmptyStore(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{}

	list, err := newTestAssembler(st, src).GetPortfolio(context.Background())
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("len(list) = %d, want 0", len(list))
	}
	if src.quoteCalls.Load() != 0 {
		t.Errorf("quote fetch issued for empty portfolio")
	}
}

func TestRemoveHolding_NotFound(t *testing.T) {
	st := newFakeStore()
	src := &fakeSource{}

	_, err := newTestAssembler(st, src).RemoveHolding(context.Background(), 42)
	if !errors.Is(err, apperrors.ErrHoldingNotFound) {
		t.Errorf("err = %v, want ErrHoldingNotFound", err)
	}
}

func TestRemoveHolding_SoftDeletesWithUndo(t *testing.T) {
	st := newFakeStore()
	st.holdings.rows = []models.Holding{makeHolding(7, "AAA", models.ClassStock)}
	src := &fakeSource{}

	events := st.holdings.hub.Subscribe()
	deleted, err := newTestAssembler(st, src).RemoveHolding(context.Background(), 7)
	if err != nil {
		t.Fatalf("RemoveHolding: %v", err)
	}
	if !deleted {
		t.Error("deleted = false, want true")
	}

	select {
	case ev := <-events:
		if ev.Kind != models.EventDelete || !ev.OfferUndo {
			t.Errorf("event = %+v, want delete with undo", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no delete event published")
	}
}
