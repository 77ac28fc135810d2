package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements ports.TickProvider and ports.RunRepository over SQLite.
// Prices are stored as decimal strings, never as floats, so replayed runs
// balance to the cent.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore opens (or creates) the tick database and initializes its schema.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/ticks.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, logger: cfg.Logger}
	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite tick store ready", map[string]interface{}{"path": dbPath})
	return store, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initializeSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			symbol    TEXT    NOT NULL,
			date      TEXT    NOT NULL,
			ts_ms     INTEGER NOT NULL,
			price     TEXT    NOT NULL,
			volume    INTEGER NOT NULL DEFAULT 0,
			amount    TEXT    NOT NULL DEFAULT '0',
			bid_price TEXT    NOT NULL DEFAULT '0',
			ask_price TEXT    NOT NULL DEFAULT '0',
			bid_size  INTEGER NOT NULL DEFAULT 0,
			ask_size  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_symbol_date_ts ON ticks(symbol, date, ts_ms)`,
		`CREATE TABLE IF NOT EXISTS daily_closes (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			close  TEXT NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id          TEXT PRIMARY KEY,
			strategy        TEXT NOT NULL,
			symbols         TEXT NOT NULL,
			start_date      TEXT NOT NULL,
			end_date        TEXT NOT NULL,
			initial_capital TEXT NOT NULL,
			final_cash      TEXT NOT NULL,
			final_equity    TEXT NOT NULL,
			total_pnl       TEXT NOT NULL,
			total_trades    INTEGER NOT NULL,
			winning_trades  INTEGER NOT NULL,
			losing_trades   INTEGER NOT NULL,
			win_rate        REAL NOT NULL,
			max_drawdown    REAL NOT NULL,
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			quantity    INTEGER NOT NULL,
			entry_date  TEXT NOT NULL,
			entry_time  TIMESTAMP NOT NULL,
			entry_price TEXT NOT NULL,
			exit_date   TEXT,
			exit_time   TIMESTAMP,
			exit_price  TEXT,
			exit_reason TEXT,
			pnl         TEXT NOT NULL DEFAULT '0',
			pnl_pct     TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_trades_run ON run_trades(run_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
		}
	}
	return nil
}

// TradingDates lists the dates with tick data inside [startDate, endDate].
func (s *Store) TradingDates(ctx context.Context, startDate, endDate string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT date FROM ticks WHERE date >= ? AND date <= ? ORDER BY date`,
		startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("%w: listing trading dates: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("%w: scanning date: %v", ports.ErrQueryFailed, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Ticks returns the symbol-day stream ordered by timestamp.
func (s *Store) Ticks(ctx context.Context, symbol, date string) ([]*domain.Tick, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, price, volume, amount, bid_price, ask_price, bid_size, ask_size
		 FROM ticks WHERE symbol = ? AND date = ? ORDER BY ts_ms`,
		symbol, date)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ticks for %s %s: %v", ports.ErrQueryFailed, symbol, date, err)
	}
	defer rows.Close()

	var ticks []*domain.Tick
	for rows.Next() {
		var (
			tsMs, volume, bidSize, askSize    int64
			price, amount, bidPrice, askPrice string
		)
		if err := rows.Scan(&tsMs, &price, &volume, &amount, &bidPrice, &askPrice, &bidSize, &askSize); err != nil {
			return nil, fmt.Errorf("%w: scanning tick: %v", ports.ErrQueryFailed, err)
		}
		tick, err := tickFromRow(symbol, tsMs, price, volume, amount, bidPrice, askPrice, bidSize, askSize)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}

func tickFromRow(symbol string, tsMs int64, price string, volume int64, amount, bidPrice, askPrice string, bidSize, askSize int64) (*domain.Tick, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("corrupt price %q for %s: %w", price, symbol, err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q for %s: %w", amount, symbol, err)
	}
	bid, err := decimal.NewFromString(bidPrice)
	if err != nil {
		return nil, fmt.Errorf("corrupt bid %q for %s: %w", bidPrice, symbol, err)
	}
	ask, err := decimal.NewFromString(askPrice)
	if err != nil {
		return nil, fmt.Errorf("corrupt ask %q for %s: %w", askPrice, symbol, err)
	}
	tick := domain.NewTickFromMillis(symbol, tsMs, p)
	tick.Volume = volume
	tick.Amount = amt
	tick.BidPrice = bid
	tick.AskPrice = ask
	tick.BidSize = bidSize
	tick.AskSize = askSize
	return tick, nil
}

// PrevClose returns the latest daily close strictly before date, or a zero
// decimal when none is recorded (the limit gate fails open on zero).
func (s *Store) PrevClose(ctx context.Context, symbol, date string) (decimal.Decimal, error) {
	var closeStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT close FROM daily_closes WHERE symbol = ? AND date < ? ORDER BY date DESC LIMIT 1`,
		symbol, date).Scan(&closeStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: querying prev close for %s %s: %v", ports.ErrQueryFailed, symbol, date, err)
	}
	d, err := decimal.NewFromString(closeStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt close %q for %s: %w", closeStr, symbol, err)
	}
	return d, nil
}

// InsertTicks bulk-loads a symbol's ticks inside one transaction and
// upserts the daily close from each day's last tick.
func (s *Store) InsertTicks(ctx context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting tick import: %v", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ticks (symbol, date, ts_ms, price, volume, amount, bid_price, ask_price, bid_size, ask_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: preparing tick insert: %v", ports.ErrQueryFailed, err)
	}
	defer stmt.Close()

	// key: symbol|date → last seen price, used for daily_closes
	closes := make(map[string]*domain.Tick)
	for _, t := range ticks {
		if _, err := stmt.ExecContext(ctx,
			t.Symbol, t.Date(), t.Time.UnixMilli(), t.Price.String(), t.Volume,
			t.Amount.String(), t.BidPrice.String(), t.AskPrice.String(), t.BidSize, t.AskSize); err != nil {
			return fmt.Errorf("%w: inserting tick %s %s: %v", ports.ErrQueryFailed, t.Symbol, t.Time, err)
		}
		closes[t.Symbol+"|"+t.Date()] = t
	}

	for key, t := range closes {
		symbol, date, _ := strings.Cut(key, "|")
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO daily_closes (symbol, date, close) VALUES (?, ?, ?)
			 ON CONFLICT(symbol, date) DO UPDATE SET close = excluded.close`,
			symbol, date, t.Price.String()); err != nil {
			return fmt.Errorf("%w: upserting daily close %s %s: %v", ports.ErrQueryFailed, symbol, date, err)
		}
	}
	return tx.Commit()
}

// SaveRun persists a run summary with its trade log.
func (s *Store) SaveRun(ctx context.Context, run *domain.RunSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting run save: %v", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, strategy, symbols, start_date, end_date, initial_capital,
		                   final_cash, final_equity, total_pnl, total_trades, winning_trades,
		                   losing_trades, win_rate, max_drawdown, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Strategy, strings.Join(run.Symbols, ","), run.StartDate, run.EndDate,
		run.InitialCapital.String(), run.FinalCash.String(), run.FinalEquity.String(),
		run.TotalPnL.String(), run.TotalTrades, run.WinningTrades, run.LosingTrades,
		run.WinRate, run.MaxDrawdown, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: inserting run %s: %v", ports.ErrQueryFailed, run.RunID, err)
	}

	for _, t := range run.Trades {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_trades (run_id, symbol, quantity, entry_date, entry_time, entry_price,
			                         exit_date, exit_time, exit_price, exit_reason, pnl, pnl_pct)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, t.Symbol, t.Quantity, t.EntryDate, t.EntryTime, t.EntryPrice.String(),
			t.ExitDate, t.ExitTime, t.ExitPrice.String(), string(t.ExitReason),
			t.PnL.String(), t.PnLPct.String())
		if err != nil {
			return fmt.Errorf("%w: inserting trade for run %s: %v", ports.ErrQueryFailed, run.RunID, err)
		}
	}
	return tx.Commit()
}

// FindRun retrieves a persisted run by ID. Returns nil, nil when not found.
func (s *Store) FindRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	var (
		run                              domain.RunSummary
		symbols, initialCapital          string
		finalCash, finalEquity, totalPnL string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, strategy, symbols, start_date, end_date, initial_capital, final_cash,
		        final_equity, total_pnl, total_trades, winning_trades, losing_trades,
		        win_rate, max_drawdown, created_at
		 FROM runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.Strategy, &symbols, &run.StartDate, &run.EndDate, &initialCapital,
		&finalCash, &finalEquity, &totalPnL, &run.TotalTrades, &run.WinningTrades,
		&run.LosingTrades, &run.WinRate, &run.MaxDrawdown, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying run %s: %v", ports.ErrQueryFailed, runID, err)
	}

	run.Symbols = strings.Split(symbols, ",")
	if run.InitialCapital, err = decimal.NewFromString(initialCapital); err != nil {
		return nil, fmt.Errorf("corrupt initial capital for run %s: %w", runID, err)
	}
	if run.FinalCash, err = decimal.NewFromString(finalCash); err != nil {
		return nil, fmt.Errorf("corrupt final cash for run %s: %w", runID, err)
	}
	if run.FinalEquity, err = decimal.NewFromString(finalEquity); err != nil {
		return nil, fmt.Errorf("corrupt final equity for run %s: %w", runID, err)
	}
	if run.TotalPnL, err = decimal.NewFromString(totalPnL); err != nil {
		return nil, fmt.Errorf("corrupt total pnl for run %s: %w", runID, err)
	}
	return &run, nil
}
