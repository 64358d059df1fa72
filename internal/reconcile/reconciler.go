// Package reconcile keeps an in-memory portfolio snapshot aligned with the
// local store's change-event streams without unnecessary network refetches.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/logging"
	"stockfolio/internal/models"
	"stockfolio/internal/portfolio"
	"stockfolio/internal/store"
)

// PortfolioAssembler is the subset of the assembler the reconciler drives.
type PortfolioAssembler interface {
	GetPortfolio(ctx context.Context) (portfolio.PortfolioStockList, error)
	InvalidatePortfolio(ctx context.Context)
}

// Reconciler subscribes to the store's per-entity change streams and
// maintains the current portfolio list as an atomically swapped snapshot.
// Leaf-level changes (positions) are patched in place with no network;
// structural changes (holdings, splits) trigger a full assemble.
//
// Readers call Snapshot and never block; the snapshot is replaced whole,
// never mutated in place.
type Reconciler struct {
	store     store.Store
	assembler PortfolioAssembler
	logger    zerolog.Logger

	snapshot atomic.Pointer[portfolio.PortfolioStockList]

	// Single-flight refresh state. A request arriving while a refresh is
	// in flight is coalesced into one follow-up run; force wins.
	mu           sync.Mutex
	inflight     bool
	pending      bool
	pendingForce bool

	// One-slot cell holding the most recently deleted holding while its
	// undo window is open.
	recentlyDeleted atomic.Pointer[models.Holding]

	holdingCh  <-chan models.Event[models.Holding]
	positionCh <-chan models.Event[models.Position]
	splitCh    <-chan models.Event[models.Split]
	stopped    chan struct{}
}

// NewReconciler creates a reconciler over the given store and assembler.
func NewReconciler(st store.Store, assembler PortfolioAssembler, logger zerolog.Logger) *Reconciler {
	r := &Reconciler{
		store:     st,
		assembler: assembler,
		logger:    logger.With().Str("component", "reconcile").Logger(),
		stopped:   make(chan struct{}),
	}
	empty := portfolio.PortfolioStockList{}
	r.snapshot.Store(&empty)
	return r
}

// Start subscribes to all three entity streams, performs an initial
// assemble, and runs the event loop until ctx is cancelled or Stop is
// called.
func (r *Reconciler) Start(ctx context.Context) {
	r.holdingCh = r.store.Holdings().Events().Subscribe()
	r.positionCh = r.store.Positions().Events().Subscribe()
	r.splitCh = r.store.Splits().Events().Subscribe()

	r.requestRefresh(ctx, false)
	go r.loop(ctx)
}

// Stop unsubscribes from the entity streams and ends the event loop.
func (r *Reconciler) Stop() {
	select {
	case <-r.stopped:
		return
	default:
	}
	r.store.Holdings().Events().Unsubscribe(r.holdingCh)
	r.store.Positions().Events().Unsubscribe(r.positionCh)
	r.store.Splits().Events().Unsubscribe(r.splitCh)
	close(r.stopped)
}

// Snapshot returns the current portfolio list. The returned list is a
// consistent snapshot and must not be mutated.
func (r *Reconciler) Snapshot() portfolio.PortfolioStockList {
	return *r.snapshot.Load()
}

// RecentlyDeleted returns the holding held in the undo slot, if any.
func (r *Reconciler) RecentlyDeleted() *models.Holding {
	return r.recentlyDeleted.Load()
}

// Restore re-inserts the most recently deleted holding through the store.
// The holding re-enters the snapshot via the resulting change event. A
// failed restore is reported, not retried; the undo slot is kept so the
// caller may try again.
func (r *Reconciler) Restore(ctx context.Context) (*models.Holding, error) {
	h := r.recentlyDeleted.Load()
	if h == nil {
		return nil, apperrors.ErrNothingToRestore
	}

	restored := *h
	if _, err := r.store.Holdings().Insert(ctx, &restored); err != nil {
		return nil, apperrors.Wrap(err, "restoring holding")
	}

	r.recentlyDeleted.Store(nil)
	r.logger.Info().
		Int64("id", restored.ID).
		Str("symbol", restored.Symbol.String()).
		Msg("Holding restored")
	return &restored, nil
}

func (r *Reconciler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopped:
			return
		case ev, ok := <-r.holdingCh:
			if !ok {
				return
			}
			r.onHoldingEvent(ctx, ev)
		case ev, ok := <-r.positionCh:
			if !ok {
				return
			}
			r.onPositionEvent(ctx, ev)
		case ev, ok := <-r.splitCh:
			if !ok {
				return
			}
			// Split effects on historical cost basis are not locally
			// recomputable from the event payload alone.
			r.logger.Debug().Int64("holding_id", ev.Entity.HoldingID).Msg("Split change, refreshing")
			r.requestRefresh(ctx, false)
		}
	}
}

func (r *Reconciler) onHoldingEvent(ctx context.Context, ev models.Event[models.Holding]) {
	switch ev.Kind {
	case models.EventInsert, models.EventUpdate:
		// A new or changed holding may need a quote we never fetched.
		r.requestRefresh(ctx, true)
	case models.EventDelete:
		r.dropHolding(ev.Entity)
		if ev.OfferUndo {
			h := ev.Entity
			r.recentlyDeleted.Store(&h)
		}
	}
}

func (r *Reconciler) onPositionEvent(ctx context.Context, ev models.Event[models.Position]) {
	switch ev.Kind {
	case models.EventInsert, models.EventUpdate:
		r.patchPosition(ctx, ev.Entity)
	case models.EventDelete:
		r.removePosition(ev.Entity)
	}
}

// patchPosition replaces or appends the position in its owning stock's lot
// list and rebuilds that one stock. No network.
func (r *Reconciler) patchPosition(ctx context.Context, p models.Position) {
	patched := r.swapStock(p.HoldingID, func(ps portfolio.PortfolioStock) portfolio.PortfolioStock {
		positions := make([]models.Position, 0, len(ps.Positions)+1)
		replaced := false
		for _, existing := range ps.Positions {
			if existing.ID == p.ID {
				positions = append(positions, p)
				replaced = true
				continue
			}
			positions = append(positions, existing)
		}
		if !replaced {
			positions = append(positions, p)
		}
		return portfolio.NewPortfolioStock(ps.Holding, positions, ps.Splits, ps.Quote)
	})
	if !patched {
		// Position for a holding we do not have; resync.
		r.logger.Debug().Int64("holding_id", p.HoldingID).Msg("Position for unknown holding, refreshing")
		r.requestRefresh(ctx, false)
	}
}

// removePosition drops the position by id from its owning stock. No network.
func (r *Reconciler) removePosition(p models.Position) {
	r.swapStock(p.HoldingID, func(ps portfolio.PortfolioStock) portfolio.PortfolioStock {
		positions := make([]models.Position, 0, len(ps.Positions))
		for _, existing := range ps.Positions {
			if existing.ID != p.ID {
				positions = append(positions, existing)
			}
		}
		return portfolio.NewPortfolioStock(ps.Holding, positions, ps.Splits, ps.Quote)
	})
}

// swapStock publishes a new snapshot with the stock owning holdingID
// replaced by rebuild's result. Reports whether the stock was found.
func (r *Reconciler) swapStock(holdingID int64, rebuild func(portfolio.PortfolioStock) portfolio.PortfolioStock) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	for i, ps := range current {
		if ps.Holding.ID != holdingID {
			continue
		}
		next := make(portfolio.PortfolioStockList, len(current))
		copy(next, current)
		next[i] = rebuild(ps)
		r.snapshot.Store(&next)
		return true
	}
	return false
}

// dropHolding publishes a new snapshot without the deleted holding.
func (r *Reconciler) dropHolding(h models.Holding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	next := make(portfolio.PortfolioStockList, 0, len(current))
	for _, ps := range current {
		if ps.Holding.ID != h.ID {
			next = append(next, ps)
		}
	}
	r.snapshot.Store(&next)
}

// requestRefresh schedules a full assemble. At most one assemble runs at a
// time; requests arriving meanwhile are coalesced into a single follow-up,
// and a force request supersedes a pending plain one.
func (r *Reconciler) requestRefresh(ctx context.Context, force bool) {
	r.mu.Lock()
	if r.inflight {
		r.pending = true
		r.pendingForce = r.pendingForce || force
		r.mu.Unlock()
		return
	}
	r.inflight = true
	r.mu.Unlock()

	go r.refresh(ctx, force)
}

func (r *Reconciler) refresh(ctx context.Context, force bool) {
	for {
		start := time.Now()
		if force {
			r.assembler.InvalidatePortfolio(ctx)
		}

		list, err := r.assembler.GetPortfolio(ctx)
		switch {
		case err == nil:
			r.mu.Lock()
			r.snapshot.Store(&list)
			r.mu.Unlock()
			logging.LogRefresh(r.logger, len(list), force, time.Since(start))
		case apperrors.IsCancellation(err):
			// Unwinds silently; the stale snapshot stays in place.
		default:
			r.logger.Error().Err(err).Bool("force", force).Msg("Portfolio refresh failed")
		}

		r.mu.Lock()
		if r.pending && ctx.Err() == nil {
			force = r.pendingForce
			r.pending = false
			r.pendingForce = false
			r.mu.Unlock()
			continue
		}
		r.inflight = false
		r.mu.Unlock()
		return
	}
}
