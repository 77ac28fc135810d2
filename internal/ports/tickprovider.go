package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
)

// TickProvider delivers historical tick data to the replay loop.
//
// Ticks must be ordered by timestamp (monotonically non-decreasing) within a
// day; the engine does not re-sort. A symbol-day with no data returns an
// empty slice, not an error.
type TickProvider interface {
	// TradingDates lists the trading dates with data for any configured
	// symbol inside [startDate, endDate], ascending, canonical layout.
	TradingDates(ctx context.Context, startDate, endDate string) ([]string, error)

	// Ticks returns the ordered tick stream for one symbol on one date.
	Ticks(ctx context.Context, symbol, date string) ([]*domain.Tick, error)

	// PrevClose returns the most recent daily close strictly before date.
	// A zero decimal with a nil error means "unknown"; the price-limit gate
	// decides how to treat that.
	PrevClose(ctx context.Context, symbol, date string) (decimal.Decimal, error)
}

// RunRepository stores finished backtest runs and their trade logs.
type RunRepository interface {
	// SaveRun persists a run summary together with its executed trades.
	SaveRun(ctx context.Context, run *domain.RunSummary) error
	// FindRun retrieves a persisted run by its ID. Returns nil, nil when
	// the run does not exist.
	FindRun(ctx context.Context, runID string) (*domain.RunSummary, error)
}
