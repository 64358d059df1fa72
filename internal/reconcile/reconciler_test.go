package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/models"
	"stockfolio/internal/portfolio"
	"stockfolio/internal/store"
)

// mockAssembler counts calls and serves a canned list.
type mockAssembler struct {
	mu              sync.Mutex
	list            portfolio.PortfolioStockList
	err             error
	getCalls        int
	invalidateCalls int
	block           chan struct{}
}

func (m *mockAssembler) GetPortfolio(ctx context.Context) (portfolio.PortfolioStockList, error) {
	m.mu.Lock()
	m.getCalls++
	list, err, block := m.list, m.err, m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return list, err
}

func (m *mockAssembler) InvalidatePortfolio(ctx context.Context) {
	m.mu.Lock()
	m.invalidateCalls++
	m.mu.Unlock()
}

func (m *mockAssembler) calls() (get, invalidate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls, m.invalidateCalls
}

// eventStore implements store.Store with live hubs and an insert recorder.
type eventStore struct {
	holdingHub  *store.Hub[models.Holding]
	positionHub *store.Hub[models.Position]
	splitHub    *store.Hub[models.Split]

	mu        sync.Mutex
	inserted  []models.Holding
	insertErr error
}

func newEventStore() *eventStore {
	return &eventStore{
		holdingHub:  store.NewHub[models.Holding](),
		positionHub: store.NewHub[models.Position](),
		splitHub:    store.NewHub[models.Split](),
	}
}

func (s *eventStore) Holdings() store.HoldingRepository    { return &eventHoldingRepo{s} }
func (s *eventStore) Positions() store.PositionRepository  { return &eventPositionRepo{s} }
func (s *eventStore) Splits() store.SplitRepository        { return &eventSplitRepo{s} }
func (s *eventStore) Watchlist() store.WatchlistRepository { return nil }
func (s *eventStore) Close() error                         { return nil }

type eventHoldingRepo struct{ s *eventStore }

func (r *eventHoldingRepo) QueryAll(ctx context.Context) ([]models.Holding, error) { return nil, nil }
func (r *eventHoldingRepo) QueryByID(ctx context.Context, id int64) (*models.Holding, error) {
	return nil, nil
}
func (r *eventHoldingRepo) Insert(ctx context.Context, h *models.Holding) (store.InsertOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.insertErr != nil {
		return "", r.s.insertErr
	}
	r.s.inserted = append(r.s.inserted, *h)
	return store.OutcomeInserted, nil
}
func (r *eventHoldingRepo) Delete(ctx context.Context, h models.Holding, offerUndo bool) (bool, error) {
	return true, nil
}
func (r *eventHoldingRepo) InvalidateCache()                   {}
func (r *eventHoldingRepo) Events() *store.Hub[models.Holding] { return r.s.holdingHub }

type eventPositionRepo struct{ s *eventStore }

func (r *eventPositionRepo) QueryAll(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}
func (r *eventPositionRepo) QueryByID(ctx context.Context, id int64) (*models.Position, error) {
	return nil, nil
}
func (r *eventPositionRepo) QueryByHolding(ctx context.Context, holdingID int64) ([]models.Position, error) {
	return nil, nil
}
func (r *eventPositionRepo) Insert(ctx context.Context, p *models.Position) (store.InsertOutcome, error) {
	return store.OutcomeInserted, nil
}
func (r *eventPositionRepo) Delete(ctx context.Context, p models.Position, offerUndo bool) (bool, error) {
	return true, nil
}
func (r *eventPositionRepo) InvalidateCache()                    {}
func (r *eventPositionRepo) Events() *store.Hub[models.Position] { return r.s.positionHub }

type eventSplitRepo struct{ s *eventStore }

func (r *eventSplitRepo) QueryAll(ctx context.Context) ([]models.Split, error) { return nil, nil }
func (r *eventSplitRepo) QueryByID(ctx context.Context, id int64) (*models.Split, error) {
	return nil, nil
}
func (r *eventSplitRepo) Insert(ctx context.Context, sp *models.Split) (store.InsertOutcome, error) {
	return store.OutcomeInserted, nil
}
func (r *eventSplitRepo) Delete(ctx context.Context, sp models.Split, offerUndo bool) (bool, error) {
	return true, nil
}
func (r *eventSplitRepo) InvalidateCache()                 {}
func (r *eventSplitRepo) Events() *store.Hub[models.Split] { return r.s.splitHub }

func holdingStock(id int64, symbol string, positions ...models.Position) portfolio.PortfolioStock {
	h := models.Holding{
		ID:        id,
		Symbol:    models.NewSymbol(symbol),
		Class:     models.ClassStock,
		CreatedAt: time.Now(),
	}
	quote := &models.Quote{
		Symbol:       h.Symbol,
		RegularPrice: 100,
		Timestamp:    time.Now(),
	}
	return portfolio.NewPortfolioStock(h, positions, nil, quote)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startReconciler(t *testing.T, st *eventStore, asm *mockAssembler) (*Reconciler, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReconciler(st, asm, zerolog.Nop())
	r.Start(ctx)
	t.Cleanup(func() {
		r.Stop()
		cancel()
	})

	// Initial assemble.
	waitFor(t, "initial snapshot", func() bool {
		return len(r.Snapshot()) == len(asm.list)
	})
	return r, cancel
}

func TestReconciler_PositionDeletePatchesWithoutRefetch(t *testing.T) {
	now := time.Now()
	p1 := models.Position{ID: 1, HoldingID: 7, Shares: 10, Price: 10, PurchaseDate: now}
	p2 := models.Position{ID: 2, HoldingID: 7, Shares: 5, Price: 20, PurchaseDate: now}

	st := newEventStore()
	asm := &mockAssembler{list: portfolio.PortfolioStockList{holdingStock(7, "AAA", p1, p2)}}
	r, _ := startReconciler(t, st, asm)

	getBefore, _ := asm.calls()

	st.positionHub.Publish(models.Event[models.Position]{Kind: models.EventDelete, Entity: p1})

	waitFor(t, "position removed from snapshot", func() bool {
		list := r.Snapshot()
		return len(list) == 1 && len(list[0].Positions) == 1 && list[0].Positions[0].ID == 2
	})

	if getAfter, _ := asm.calls(); getAfter != getBefore {
		t.Errorf("assembler called %d extra times for a position delete", getAfter-getBefore)
	}

	// Derived fields were rebuilt from the remaining lot.
	list := r.Snapshot()
	if list[0].TotalShares != 5 {
		t.Errorf("TotalShares = %v, want 5", list[0].TotalShares)
	}
	if list[0].CostBasis != 100 {
		t.Errorf("CostBasis = %v, want 100", list[0].CostBasis)
	}
}

func TestReconciler_PositionInsertPatchesInPlace(t *testing.T) {
	now := time.Now()
	p1 := models.Position{ID: 1, HoldingID: 7, Shares: 10, Price: 10, PurchaseDate: now}

	st := newEventStore()
	asm := &mockAssembler{list: portfolio.PortfolioStockList{holdingStock(7, "AAA", p1)}}
	r, _ := startReconciler(t, st, asm)

	getBefore, _ := asm.calls()

	p2 := models.Position{ID: 2, HoldingID: 7, Shares: 3, Price: 30, PurchaseDate: now}
	st.positionHub.Publish(models.Event[models.Position]{Kind: models.EventInsert, Entity: p2})

	waitFor(t, "position appended", func() bool {
		list := r.Snapshot()
		return len(list[0].Positions) == 2
	})

	// Update replaces by id rather than appending.
	p2.Shares = 4
	st.positionHub.Publish(models.Event[models.Position]{Kind: models.EventUpdate, Entity: p2})

	waitFor(t, "position updated", func() bool {
		list := r.Snapshot()
		return len(list[0].Positions) == 2 && list[0].TotalShares == 14
	})

	if getAfter, _ := asm.calls(); getAfter != getBefore {
		t.Errorf("assembler called for leaf-level position changes")
	}
}

func TestReconciler_HoldingInsertTriggersForceRefresh(t *testing.T) {
	st := newEventStore()
	asm := &mockAssembler{list: portfolio.PortfolioStockList{holdingStock(7, "AAA")}}
	r, _ := startReconciler(t, st, asm)

	getBefore, invBefore := asm.calls()

	h := models.Holding{ID: 8, Symbol: models.NewSymbol("BBB"), Class: models.ClassStock}
	st.holdingHub.Publish(models.Event[models.Holding]{Kind: models.EventInsert, Entity: h})

	waitFor(t, "refresh triggered", func() bool {
		get, inv := asm.calls()
		return get == getBefore+1 && inv == invBefore+1
	})
	_ = r
}

func TestReconciler_SplitChangeTriggersPlainRefresh(t *testing.T) {
	st := newEventStore()
	asm := &mockAssembler{list: portfolio.PortfolioStockList{holdingStock(7, "AAA")}}
	_, _ = startReconciler(t, st, asm)

	getBefore, invBefore := asm.calls()

	sp := models.Split{ID: 1, HoldingID: 7, Ratio: 2, Date: time.Now()}
	st.splitHub.Publish(models.Event[models.Split]{Kind: models.EventInsert, Entity: sp})

	waitFor(t, "plain refresh triggered", func() bool {
		get, _ := asm.calls()
		return get == getBefore+1
	})
	if _, inv := asm.calls(); inv != invBefore {
		t.Errorf("split refresh must not invalidate caches (force=false)")
	}
}

func TestReconciler_HoldingDeleteDropsAndRetainsForUndo(t *testing.T) {
	st := newEventStore()
	stockA := holdingStock(7, "AAA")
	stockB := holdingStock(8, "BBB")
	asm := &mockAssembler{list: portfolio.PortfolioStockList{stockA, stockB}}
	r, _ := startReconciler(t, st, asm)

	getBefore, _ := asm.calls()

	st.holdingHub.Publish(models.Event[models.Holding]{
		Kind:      models.EventDelete,
		Entity:    stockA.Holding,
		OfferUndo: true,
	})

	waitFor(t, "holding dropped from snapshot", func() bool {
		list := r.Snapshot()
		return len(list) == 1 && list[0].Holding.ID == 8
	})
	if getAfter, _ := asm.calls(); getAfter != getBefore {
		t.Errorf("holding delete must not refetch")
	}

	retained := r.RecentlyDeleted()
	if retained == nil || retained.ID != 7 {
		t.Fatalf("RecentlyDeleted = %+v, want holding 7", retained)
	}

	// Restore re-inserts through the store.
	restored, err := r.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.ID != 7 {
		t.Errorf("restored holding %d, want 7", restored.ID)
	}
	if len(st.inserted) != 1 || st.inserted[0].ID != 7 {
		t.Errorf("store inserts = %+v, want holding 7", st.inserted)
	}
	if r.RecentlyDeleted() != nil {
		t.Error("undo slot not cleared after restore")
	}
}

func TestReconciler_HoldingDeleteWithoutUndoKeepsSlotEmpty(t *testing.T) {
	st := newEventStore()
	stockA := holdingStock(7, "AAA")
	asm := &mockAssembler{list: portfolio.PortfolioStockList{stockA}}
	r, _ := startReconciler(t, st, asm)

	st.holdingHub.Publish(models.Event[models.Holding]{
		Kind:   models.EventDelete,
		Entity: stockA.Holding,
	})

	waitFor(t, "holding dropped", func() bool { return len(r.Snapshot()) == 0 })

	if r.RecentlyDeleted() != nil {
		t.Error("undo slot populated without OfferUndo")
	}
	if _, err := r.Restore(context.Background()); !errors.Is(err, apperrors.ErrNothingToRestore) {
		t.Errorf("Restore err = %v, want ErrNothingToRestore", err)
	}
}

func TestReconciler_RestoreFailureKeepsSlot(t *testing.T) {
	st := newEventStore()
	stockA := holdingStock(7, "AAA")
	asm := &mockAssembler{list: portfolio.PortfolioStockList{stockA}}
	r, _ := startReconciler(t, st, asm)

	st.holdingHub.Publish(models.Event[models.Holding]{
		Kind:      models.EventDelete,
		Entity:    stockA.Holding,
		OfferUndo: true,
	})
	waitFor(t, "undo slot populated", func() bool { return r.RecentlyDeleted() != nil })

	st.mu.Lock()
	st.insertErr = errors.New("database locked")
	st.mu.Unlock()

	if _, err := r.Restore(context.Background()); err == nil {
		t.Fatal("expected restore failure")
	}
	if r.RecentlyDeleted() == nil {
		t.Error("undo slot lost after failed restore; retry impossible")
	}
}

func TestReconciler_RefreshRequestsAreSingleFlight(t *testing.T) {
	st := newEventStore()
	asm := &mockAssembler{list: portfolio.PortfolioStockList{holdingStock(7, "AAA")}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewReconciler(st, asm, zerolog.Nop())

	// Block the first refresh, pile up more requests behind it.
	block := make(chan struct{})
	asm.mu.Lock()
	asm.block = block
	asm.mu.Unlock()

	r.requestRefresh(ctx, false)
	waitFor(t, "first refresh started", func() bool {
		get, _ := asm.calls()
		return get == 1
	})

	r.requestRefresh(ctx, false)
	r.requestRefresh(ctx, true)
	r.requestRefresh(ctx, false)

	asm.mu.Lock()
	asm.block = nil
	asm.mu.Unlock()
	close(block)

	// The three queued requests coalesce into one forced follow-up.
	waitFor(t, "coalesced follow-up", func() bool {
		get, inv := asm.calls()
		return get == 2 && inv == 1
	})

	// Settle and confirm no further runs happen.
	time.Sleep(50 * time.Millisecond)
	if get, _ := asm.calls(); get != 2 {
		t.Errorf("assembler ran %d times, want 2", get)
	}
}
