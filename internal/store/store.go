// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"stockfolio/internal/models"
)

// InsertOutcome reports whether an insert created a new row or replaced an
// existing one.
type InsertOutcome string

const (
	OutcomeInserted InsertOutcome = "INSERT"
	OutcomeUpdated  InsertOutcome = "UPDATE"
)

// HoldingRepository persists holdings and publishes their change events.
type HoldingRepository interface {
	QueryAll(ctx context.Context) ([]models.Holding, error)
	QueryByID(ctx context.Context, id int64) (*models.Holding, error)
	Insert(ctx context.Context, h *models.Holding) (InsertOutcome, error)
	Delete(ctx context.Context, h models.Holding, offerUndo bool) (bool, error)
	InvalidateCache()
	Events() *Hub[models.Holding]
}

// PositionRepository persists positions and publishes their change events.
type PositionRepository interface {
	QueryAll(ctx context.Context) ([]models.Position, error)
	QueryByID(ctx context.Context, id int64) (*models.Position, error)
	QueryByHolding(ctx context.Context, holdingID int64) ([]models.Position, error)
	Insert(ctx context.Context, p *models.Position) (InsertOutcome, error)
	Delete(ctx context.Context, p models.Position, offerUndo bool) (bool, error)
	InvalidateCache()
	Events() *Hub[models.Position]
}

// SplitRepository persists splits and publishes their change events.
type SplitRepository interface {
	QueryAll(ctx context.Context) ([]models.Split, error)
	QueryByID(ctx context.Context, id int64) (*models.Split, error)
	Insert(ctx context.Context, s *models.Split) (InsertOutcome, error)
	Delete(ctx context.Context, s models.Split, offerUndo bool) (bool, error)
	InvalidateCache()
	Events() *Hub[models.Split]
}

// WatchlistRepository persists watched symbols.
type WatchlistRepository interface {
	QueryAll(ctx context.Context) ([]models.WatchlistEntry, error)
	Add(ctx context.Context, symbol models.Symbol) error
	Remove(ctx context.Context, symbol models.Symbol) error
	InvalidateCache()
}

// Store aggregates the per-entity repositories backed by one database.
type Store interface {
	Holdings() HoldingRepository
	Positions() PositionRepository
	Splits() SplitRepository
	Watchlist() WatchlistRepository
	Close() error
}
