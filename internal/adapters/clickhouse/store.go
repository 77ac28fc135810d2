package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"
)

// Store implements ports.TickProvider over a ClickHouse tick warehouse.
// SQLite is fine for a few symbol-months; ClickHouse is the provider for
// bulk tick history.
//
// Expected schema (EnsureSchema creates it):
//
//	ticks(symbol LowCardinality(String), date Date, ts DateTime64(3),
//	      price Decimal64(4), volume Int64, amount Decimal64(4),
//	      bid_price Decimal64(4), ask_price Decimal64(4),
//	      bid_size Int64, ask_size Int64)
//	  ENGINE = MergeTree ORDER BY (symbol, date, ts)
//	daily_closes(symbol LowCardinality(String), date Date, close Decimal64(4))
//	  ENGINE = ReplacingMergeTree ORDER BY (symbol, date)
type Store struct {
	conn     driver.Conn
	database string
	logger   ports.Logger
}

// Config holds the ClickHouse connection settings.
type Config struct {
	Addr     []string // host:port endpoints
	Database string
	Username string
	Password string
	Logger   ports.Logger
}

// NewStore connects and pings the warehouse.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ClickHouse store")
	}
	if len(cfg.Addr) == 0 {
		return nil, fmt.Errorf("%w: at least one ClickHouse address is required", ports.ErrConfigurationError)
	}
	if cfg.Database == "" {
		cfg.Database = "ticks"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening clickhouse: %v", ports.ErrDBConnection, err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: clickhouse ping: %v", ports.ErrDBConnection, err)
	}
	cfg.Logger.Info(ctx, "ClickHouse tick store ready", map[string]interface{}{
		"addr":     cfg.Addr,
		"database": cfg.Database,
	})
	return &Store{conn: conn, database: cfg.Database, logger: cfg.Logger}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the tick tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddls := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.ticks (
			symbol    LowCardinality(String),
			date      Date,
			ts        DateTime64(3),
			price     Decimal64(4),
			volume    Int64,
			amount    Decimal64(4),
			bid_price Decimal64(4),
			ask_price Decimal64(4),
			bid_size  Int64,
			ask_size  Int64
		) ENGINE = MergeTree ORDER BY (symbol, date, ts)`, s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.daily_closes (
			symbol LowCardinality(String),
			date   Date,
			close  Decimal64(4)
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, date)`, s.database),
	}
	for _, ddl := range ddls {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("%w: creating schema: %v", ports.ErrQueryFailed, err)
		}
	}
	return nil
}

// TradingDates lists dates with tick data inside [startDate, endDate].
func (s *Store) TradingDates(ctx context.Context, startDate, endDate string) ([]string, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(
		`SELECT DISTINCT toString(date) FROM %s.ticks
		 WHERE date >= toDate(?) AND date <= toDate(?) ORDER BY date`, s.database),
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
	rows, err := s.conn.Query(ctx, fmt.Sprintf(
		`SELECT toUnixTimestamp64Milli(ts), price, volume, amount,
		        bid_price, ask_price, bid_size, ask_size
		 FROM %s.ticks WHERE symbol = ? AND date = toDate(?) ORDER BY ts`, s.database),
		symbol, date)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ticks for %s %s: %v", ports.ErrQueryFailed, symbol, date, err)
	}
	defer rows.Close()

	var ticks []*domain.Tick
	for rows.Next() {
		var (
			tsMs, volume, bidSize, askSize int64
			price, amount, bid, ask        decimal.Decimal
		)
		if err := rows.Scan(&tsMs, &price, &volume, &amount, &bid, &ask, &bidSize, &askSize); err != nil {
			return nil, fmt.Errorf("%w: scanning tick: %v", ports.ErrQueryFailed, err)
		}
		tick := domain.NewTickFromMillis(symbol, tsMs, price)
		tick.Volume = volume
		tick.Amount = amount
		tick.BidPrice = bid
		tick.AskPrice = ask
		tick.BidSize = bidSize
		tick.AskSize = askSize
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}

// PrevClose returns the latest daily close strictly before date, or zero
// when the warehouse has none (the limit gate fails open on zero).
func (s *Store) PrevClose(ctx context.Context, symbol, date string) (decimal.Decimal, error) {
	var prevClose decimal.Decimal
	row := s.conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT close FROM %s.daily_closes
		 WHERE symbol = ? AND date < toDate(?) ORDER BY date DESC LIMIT 1`, s.database),
		symbol, date)
	if err := row.Scan(&prevClose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("%w: querying prev close for %s %s: %v", ports.ErrQueryFailed, symbol, date, err)
	}
	return prevClose, nil
}
