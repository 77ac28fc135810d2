package ports

import (
	"context"

	"tickreplay/internal/domain"
)

// SignalGenerator decides when the strategy wants to open a position.
//
// Implementations see every tick of the replay and may accumulate arbitrary
// intraday state; they know nothing about positions, cash, or exchange
// constraints — the funnel applies those afterwards. ResetDaily is invoked
// once at end-of-day settlement so per-day state starts clean.
type SignalGenerator interface {
	// Name returns the strategy's name for logs and persisted runs.
	Name() string

	// ShouldOpen observes the tick and reports whether the strategy wants
	// to open a position at its price.
	ShouldOpen(ctx context.Context, tick *domain.Tick) bool

	// ResetDaily clears any per-day state at end-of-day settlement.
	ResetDaily()
}
