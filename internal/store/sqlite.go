package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stockfolio/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	undoWindow time.Duration

	holdings  *holdingRepo
	positions *positionRepo
	splits    *splitRepo
	watchlist *watchlistRepo
}

// NewSQLiteStore creates a new SQLite-backed store. Deleted rows are kept
// for undoWindow before being purged, so deletes remain restorable.
func NewSQLiteStore(dbPath string, undoWindow time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if undoWindow <= 0 {
		undoWindow = 30 * time.Second
	}

	s := &SQLiteStore{
		db:         db,
		undoWindow: undoWindow,
	}
	s.holdings = &holdingRepo{store: s, hub: NewHub[models.Holding]()}
	s.positions = &positionRepo{store: s, hub: NewHub[models.Position]()}
	s.splits = &splitRepo{store: s, hub: NewHub[models.Split]()}
	s.watchlist = &watchlistRepo{store: s}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Holdings: one row per tracked instrument
	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		class TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		deleted_at DATETIME
	);

	-- Positions: purchase lots under a holding
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		holding_id INTEGER NOT NULL,
		shares REAL NOT NULL,
		price REAL NOT NULL,
		purchase_date DATETIME NOT NULL,
		deleted_at DATETIME,
		FOREIGN KEY (holding_id) REFERENCES holdings(id)
	);

	-- Splits: corporate action records under a holding
	CREATE TABLE IF NOT EXISTS splits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		holding_id INTEGER NOT NULL,
		ratio REAL NOT NULL,
		date DATETIME NOT NULL,
		deleted_at DATETIME,
		FOREIGN KEY (holding_id) REFERENCES holdings(id)
	);

	-- Watchlist
	CREATE TABLE IF NOT EXISTS watchlist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL UNIQUE,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_symbol ON holdings(symbol);
	CREATE INDEX IF NOT EXISTS idx_positions_holding ON positions(holding_id);
	CREATE INDEX IF NOT EXISTS idx_splits_holding ON splits(holding_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Holdings returns the holding repository.
func (s *SQLiteStore) Holdings() HoldingRepository { return s.holdings }

// Positions returns the position repository.
func (s *SQLiteStore) Positions() PositionRepository { return s.positions }

// Splits returns the split repository.
func (s *SQLiteStore) Splits() SplitRepository { return s.splits }

// Watchlist returns the watchlist repository.
func (s *SQLiteStore) Watchlist() WatchlistRepository { return s.watchlist }

// Close closes the event hubs and the database connection.
func (s *SQLiteStore) Close() error {
	s.holdings.hub.Close()
	s.positions.hub.Close()
	s.splits.hub.Close()
	return s.db.Close()
}

// purgeExpired removes soft-deleted rows whose undo window has elapsed.
func (s *SQLiteStore) purgeExpired(ctx context.Context, table string) {
	cutoff := time.Now().Add(-s.undoWindow)
	s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
}

// ============================================================================
// Holdings
// ============================================================================

type holdingRepo struct {
	store *SQLiteStore
	hub   *Hub[models.Holding]

	mu    sync.RWMutex
	cache []models.Holding
}

func (r *holdingRepo) Events() *Hub[models.Holding] { return r.hub }

func (r *holdingRepo) InvalidateCache() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

func (r *holdingRepo) QueryAll(ctx context.Context) ([]models.Holding, error) {
	r.mu.RLock()
	if r.cache != nil {
		cached := make([]models.Holding, len(r.cache))
		copy(cached, r.cache)
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.store.purgeExpired(ctx, "holdings")

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, symbol, class, created_at
		FROM holdings
		WHERE deleted_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		var symbol, class string
		if err := rows.Scan(&h.ID, &symbol, &class, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		h.Symbol = models.Symbol(symbol)
		h.Class = models.InstrumentClass(class)
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}

	r.mu.Lock()
	r.cache = make([]models.Holding, len(holdings))
	copy(r.cache, holdings)
	r.mu.Unlock()

	return holdings, nil
}

func (r *holdingRepo) QueryByID(ctx context.Context, id int64) (*models.Holding, error) {
	var h models.Holding
	var symbol, class string
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, symbol, class, created_at
		FROM holdings
		WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&h.ID, &symbol, &class, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query holding %d: %w", id, err)
	}
	h.Symbol = models.Symbol(symbol)
	h.Class = models.InstrumentClass(class)
	return &h, nil
}

func (r *holdingRepo) Insert(ctx context.Context, h *models.Holding) (InsertOutcome, error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	outcome := OutcomeInserted
	if h.ID == 0 {
		res, err := r.store.db.ExecContext(ctx, `
			INSERT INTO holdings (symbol, class, created_at) VALUES (?, ?, ?)
		`, string(h.Symbol), string(h.Class), h.CreatedAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert holding: %w", err)
		}
		h.ID, _ = res.LastInsertId()
	} else {
		existing, err := r.QueryByID(ctx, h.ID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			outcome = OutcomeUpdated
		}
		_, err = r.store.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO holdings (id, symbol, class, created_at, deleted_at)
			VALUES (?, ?, ?, ?, NULL)
		`, h.ID, string(h.Symbol), string(h.Class), h.CreatedAt)
		if err != nil {
			return "", fmt.Errorf("failed to upsert holding: %w", err)
		}
	}

	r.InvalidateCache()

	kind := models.EventInsert
	if outcome == OutcomeUpdated {
		kind = models.EventUpdate
	}
	r.hub.Publish(models.Event[models.Holding]{Kind: kind, Entity: *h})

	return outcome, nil
}

func (r *holdingRepo) Delete(ctx context.Context, h models.Holding, offerUndo bool) (bool, error) {
	var res sql.Result
	var err error
	if offerUndo {
		res, err = r.store.db.ExecContext(ctx,
			"UPDATE holdings SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
			time.Now(), h.ID)
	} else {
		res, err = r.store.db.ExecContext(ctx, "DELETE FROM holdings WHERE id = ?", h.ID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete holding %d: %w", h.ID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	r.InvalidateCache()
	r.hub.Publish(models.Event[models.Holding]{Kind: models.EventDelete, Entity: h, OfferUndo: offerUndo})
	return true, nil
}

// ============================================================================
// Positions
// ============================================================================

type positionRepo struct {
	store *SQLiteStore
	hub   *Hub[models.Position]

	mu    sync.RWMutex
	cache []models.Position
}

func (r *positionRepo) Events() *Hub[models.Position] { return r.hub }

func (r *positionRepo) InvalidateCache() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

func (r *positionRepo) QueryAll(ctx context.Context) ([]models.Position, error) {
	r.mu.RLock()
	if r.cache != nil {
		cached := make([]models.Position, len(r.cache))
		copy(cached, r.cache)
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.store.purgeExpired(ctx, "positions")

	positions, err := r.query(ctx, `
		SELECT id, holding_id, shares, price, purchase_date
		FROM positions
		WHERE deleted_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache = make([]models.Position, len(positions))
	copy(r.cache, positions)
	r.mu.Unlock()

	return positions, nil
}

func (r *positionRepo) QueryByHolding(ctx context.Context, holdingID int64) ([]models.Position, error) {
	return r.query(ctx, `
		SELECT id, holding_id, shares, price, purchase_date
		FROM positions
		WHERE holding_id = ? AND deleted_at IS NULL
		ORDER BY id ASC
	`, holdingID)
}

func (r *positionRepo) query(ctx context.Context, q string, args ...interface{}) ([]models.Position, error) {
	rows, err := r.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.ID, &p.HoldingID, &p.Shares, &p.Price, &p.PurchaseDate); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

func (r *positionRepo) QueryByID(ctx context.Context, id int64) (*models.Position, error) {
	var p models.Position
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, holding_id, shares, price, purchase_date
		FROM positions
		WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&p.ID, &p.HoldingID, &p.Shares, &p.Price, &p.PurchaseDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query position %d: %w", id, err)
	}
	return &p, nil
}

func (r *positionRepo) Insert(ctx context.Context, p *models.Position) (InsertOutcome, error) {
	outcome := OutcomeInserted
	if p.ID == 0 {
		res, err := r.store.db.ExecContext(ctx, `
			INSERT INTO positions (holding_id, shares, price, purchase_date) VALUES (?, ?, ?, ?)
		`, p.HoldingID, p.Shares, p.Price, p.PurchaseDate)
		if err != nil {
			return "", fmt.Errorf("failed to insert position: %w", err)
		}
		p.ID, _ = res.LastInsertId()
	} else {
		existing, err := r.QueryByID(ctx, p.ID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			outcome = OutcomeUpdated
		}
		_, err = r.store.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO positions (id, holding_id, shares, price, purchase_date, deleted_at)
			VALUES (?, ?, ?, ?, ?, NULL)
		`, p.ID, p.HoldingID, p.Shares, p.Price, p.PurchaseDate)
		if err != nil {
			return "", fmt.Errorf("failed to upsert position: %w", err)
		}
	}

	r.InvalidateCache()

	kind := models.EventInsert
	if outcome == OutcomeUpdated {
		kind = models.EventUpdate
	}
	r.hub.Publish(models.Event[models.Position]{Kind: kind, Entity: *p})

	return outcome, nil
}

func (r *positionRepo) Delete(ctx context.Context, p models.Position, offerUndo bool) (bool, error) {
	var res sql.Result
	var err error
	if offerUndo {
		res, err = r.store.db.ExecContext(ctx,
			"UPDATE positions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
			time.Now(), p.ID)
	} else {
		res, err = r.store.db.ExecContext(ctx, "DELETE FROM positions WHERE id = ?", p.ID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete position %d: %w", p.ID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	r.InvalidateCache()
	r.hub.Publish(models.Event[models.Position]{Kind: models.EventDelete, Entity: p, OfferUndo: offerUndo})
	return true, nil
}

// ============================================================================
// Splits
// ============================================================================

type splitRepo struct {
	store *SQLiteStore
	hub   *Hub[models.Split]

	mu    sync.RWMutex
	cache []models.Split
}

func (r *splitRepo) Events() *Hub[models.Split] { return r.hub }

func (r *splitRepo) InvalidateCache() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

func (r *splitRepo) QueryAll(ctx context.Context) ([]models.Split, error) {
	r.mu.RLock()
	if r.cache != nil {
		cached := make([]models.Split, len(r.cache))
		copy(cached, r.cache)
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.store.purgeExpired(ctx, "splits")

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, holding_id, ratio, date
		FROM splits
		WHERE deleted_at IS NULL
		ORDER BY date ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query splits: %w", err)
	}
	defer rows.Close()

	var splits []models.Split
	for rows.Next() {
		var sp models.Split
		if err := rows.Scan(&sp.ID, &sp.HoldingID, &sp.Ratio, &sp.Date); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		splits = append(splits, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating splits: %w", err)
	}

	r.mu.Lock()
	r.cache = make([]models.Split, len(splits))
	copy(r.cache, splits)
	r.mu.Unlock()

	return splits, nil
}

func (r *splitRepo) QueryByID(ctx context.Context, id int64) (*models.Split, error) {
	var sp models.Split
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, holding_id, ratio, date
		FROM splits
		WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&sp.ID, &sp.HoldingID, &sp.Ratio, &sp.Date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query split %d: %w", id, err)
	}
	return &sp, nil
}

func (r *splitRepo) Insert(ctx context.Context, sp *models.Split) (InsertOutcome, error) {
	outcome := OutcomeInserted
	if sp.ID == 0 {
		res, err := r.store.db.ExecContext(ctx, `
			INSERT INTO splits (holding_id, ratio, date) VALUES (?, ?, ?)
		`, sp.HoldingID, sp.Ratio, sp.Date)
		if err != nil {
			return "", fmt.Errorf("failed to insert split: %w", err)
		}
		sp.ID, _ = res.LastInsertId()
	} else {
		existing, err := r.QueryByID(ctx, sp.ID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			outcome = OutcomeUpdated
		}
		_, err = r.store.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO splits (id, holding_id, ratio, date, deleted_at)
			VALUES (?, ?, ?, ?, NULL)
		`, sp.ID, sp.HoldingID, sp.Ratio, sp.Date)
		if err != nil {
			return "", fmt.Errorf("failed to upsert split: %w", err)
		}
	}

	r.InvalidateCache()

	kind := models.EventInsert
	if outcome == OutcomeUpdated {
		kind = models.EventUpdate
	}
	r.hub.Publish(models.Event[models.Split]{Kind: kind, Entity: *sp})

	return outcome, nil
}

func (r *splitRepo) Delete(ctx context.Context, sp models.Split, offerUndo bool) (bool, error) {
	var res sql.Result
	var err error
	if offerUndo {
		res, err = r.store.db.ExecContext(ctx,
			"UPDATE splits SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
			time.Now(), sp.ID)
	} else {
		res, err = r.store.db.ExecContext(ctx, "DELETE FROM splits WHERE id = ?", sp.ID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete split %d: %w", sp.ID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	r.InvalidateCache()
	r.hub.Publish(models.Event[models.Split]{Kind: models.EventDelete, Entity: sp, OfferUndo: offerUndo})
	return true, nil
}

// ============================================================================
// Watchlist
// ============================================================================

type watchlistRepo struct {
	store *SQLiteStore

	mu    sync.RWMutex
	cache []models.WatchlistEntry
}

func (r *watchlistRepo) InvalidateCache() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

func (r *watchlistRepo) QueryAll(ctx context.Context) ([]models.WatchlistEntry, error) {
	r.mu.RLock()
	if r.cache != nil {
		cached := make([]models.WatchlistEntry, len(r.cache))
		copy(cached, r.cache)
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, symbol, added_at FROM watchlist ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var entries []models.WatchlistEntry
	for rows.Next() {
		var e models.WatchlistEntry
		var symbol string
		if err := rows.Scan(&e.ID, &symbol, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		e.Symbol = models.Symbol(symbol)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlist: %w", err)
	}

	r.mu.Lock()
	r.cache = make([]models.WatchlistEntry, len(entries))
	copy(r.cache, entries)
	r.mu.Unlock()

	return entries, nil
}

func (r *watchlistRepo) Add(ctx context.Context, symbol models.Symbol) error {
	_, err := r.store.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO watchlist (symbol) VALUES (?)", string(symbol))
	if err != nil {
		return fmt.Errorf("failed to add %s to watchlist: %w", symbol, err)
	}
	r.InvalidateCache()
	return nil
}

func (r *watchlistRepo) Remove(ctx context.Context, symbol models.Symbol) error {
	_, err := r.store.db.ExecContext(ctx,
		"DELETE FROM watchlist WHERE symbol = ?", string(symbol))
	if err != nil {
		return fmt.Errorf("failed to remove %s from watchlist: %w", symbol, err)
	}
	r.InvalidateCache()
	return nil
}
