package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository using SQLite: the audit
// journal of finished trades.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/perpbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the journal writer and
	// ad-hoc audit reads.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Trade journal database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		units REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		fees REAL NOT NULL,
		returns REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL,
		close_reason TEXT NOT NULL DEFAULT '',
		UNIQUE (symbol, opened_at)
	);
	CREATE INDEX IF NOT EXISTS idx_trade_journal_symbol_opened_at ON trade_journal (symbol, opened_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing trade journal database")
		return r.db.Close()
	}
	return nil
}

// CreateTrade saves a new trade record and returns its assigned ID.
// Re-journaling the same ⟨symbol, opened_at⟩ key reports
// ports.ErrDuplicateEntry, which keeps recovery replays idempotent.
func (r *Repository) CreateTrade(ctx context.Context, rec *ports.TradeRecord) (int64, error) {
	const query = `
	INSERT INTO trade_journal (symbol, side, entry_price, exit_price, units, leverage,
	                           pnl, fees, returns, opened_at, closed_at, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		rec.Symbol, rec.Side, rec.EntryPrice, rec.ExitPrice, rec.Units, rec.Leverage,
		rec.PnL, rec.Fees, rec.Returns, rec.OpenedAt, rec.ClosedAt, rec.CloseReason)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("trade %s@%d already journaled: %w", rec.Symbol, rec.OpenedAt.UnixMilli(), ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert trade journal row for %s: %w", rec.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade journal %s: %w", rec.Symbol, err)
	}
	rec.ID = id
	r.logger.Debug(ctx, "Trade journaled", map[string]interface{}{"tradeID": id, "symbol": rec.Symbol, "pnl": rec.PnL})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*ports.TradeRecord, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, units, leverage,
	       pnl, fees, returns, opened_at, closed_at, close_reason
	FROM trade_journal
	WHERE symbol = ? ORDER BY opened_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade journal for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	records := make([]*ports.TradeRecord, 0)
	for rows.Next() {
		rec := &ports.TradeRecord{}
		var side, reason string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExitPrice, &rec.Units,
			&rec.Leverage, &rec.PnL, &rec.Fees, &rec.Returns, &rec.OpenedAt, &rec.ClosedAt, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade journal row: %w", err)
		}
		rec.Side = domain.Side(side)
		rec.CloseReason = domain.StopReason(reason)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade journal rows: %w", err)
	}
	return records, nil
}

// TotalPnL sums the PnL of all recorded trades for a symbol.
func (r *Repository) TotalPnL(ctx context.Context, symbol string) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_journal WHERE symbol = ?`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, symbol).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum journaled PnL for %s: %w", symbol, err)
	}
	return total, nil
}

// isUniqueViolation detects the driver's UNIQUE constraint error without
// depending on its error type directly.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
