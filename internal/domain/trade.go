package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one row of the trade log. Signal-only records capture
// strategy intent that never executed (funnel stages raw/executable);
// executed records carry the full entry and, once closed, exit bookkeeping.
// Records are immutable once finalized and appended to a result list.
type TradeRecord struct {
	Symbol     string          `json:"symbol"`
	Stage      FunnelStage     `json:"stage"`
	SignalOnly bool            `json:"signal_only"`
	Quantity   int64           `json:"quantity"`
	EntryDate  string          `json:"entry_date"`
	EntryTime  time.Time       `json:"entry_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitDate   string          `json:"exit_date,omitempty"`
	ExitTime   time.Time       `json:"exit_time,omitempty"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ExitReason ExitReason      `json:"exit_reason,omitempty"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPct     decimal.Decimal `json:"pnl_pct"`
}

// IsWin reports whether the closed trade ended with a positive PnL.
func (t *TradeRecord) IsWin() bool {
	return t.PnL.IsPositive()
}
