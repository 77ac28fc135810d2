package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents the single open holding of the engine.
//
// Shares are split into two lots for T+1 accounting: CarryShares may be sold
// today, TodayShares were bought today and are locked until the next
// session's settlement. CarryShares + TodayShares is always the total held.
type Position struct {
	Symbol      string
	CarryShares int64           // sellable today
	TodayShares int64           // bought today, locked by T+1
	EntryPrice  decimal.Decimal // execution price of the open
	EntryCost   decimal.Decimal // total cash debited including fees
	EntryTime   time.Time
}

// TotalShares returns the full holding regardless of settlement status.
func (p *Position) TotalShares() int64 {
	return p.CarryShares + p.TodayShares
}

// SellableShares returns the shares that T+1 permits selling today.
func (p *Position) SellableShares() int64 {
	return p.CarryShares
}

// EntryDate returns the trading date the position was opened on.
func (p *Position) EntryDate() string {
	return p.EntryTime.Format(TradeDate)
}

// Settle folds today's lot into the carry lot. Called exactly once per
// position at end-of-day settlement; calling it again is a no-op because
// TodayShares is already zero.
func (p *Position) Settle() {
	p.CarryShares += p.TodayShares
	p.TodayShares = 0
}

// HoldingTime reports how long the position has been open as of now.
func (p *Position) HoldingTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
