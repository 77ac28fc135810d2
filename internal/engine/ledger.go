package engine

import (
	"fmt"

	"tickreplay/internal/domain"
)

// Ledger tracks the engine's open positions, keyed by symbol.
//
// The engine runs a strict single-holding policy: at most one position may
// be open across all symbols at any time. The funnel checks HasOpen before
// opening, so Open returning an error indicates a funnel bug, not a
// rejected trade.
type Ledger struct {
	positions map[string]*domain.Position
}

// NewLedger returns an empty position ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*domain.Position)}
}

// HasOpen reports whether any position is open, for the single-holding check.
func (l *Ledger) HasOpen() bool {
	return len(l.positions) > 0
}

// Get returns the open position for a symbol, or nil.
func (l *Ledger) Get(symbol string) *domain.Position {
	return l.positions[symbol]
}

// Open registers a freshly executed position.
func (l *Ledger) Open(pos *domain.Position) error {
	if l.HasOpen() {
		return fmt.Errorf("single-holding violation: position already open while opening %s", pos.Symbol)
	}
	l.positions[pos.Symbol] = pos
	return nil
}

// Close removes the position for a symbol once its sell has been booked.
func (l *Ledger) Close(symbol string) {
	delete(l.positions, symbol)
}

// SettleAll folds today's lot into the carry lot for every open position.
// Called exactly once per trading day, at end-of-day settlement.
func (l *Ledger) SettleAll() {
	for _, pos := range l.positions {
		pos.Settle()
	}
}

// Each visits every open position. The engine uses it for mark-to-market.
func (l *Ledger) Each(fn func(pos *domain.Position)) {
	for _, pos := range l.positions {
		fn(pos)
	}
}
