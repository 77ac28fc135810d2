package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunSummary is the persistable digest of one finished backtest run.
type RunSummary struct {
	RunID          string
	Strategy       string
	Symbols        []string
	StartDate      string
	EndDate        string
	InitialCapital decimal.Decimal
	FinalCash      decimal.Decimal
	FinalEquity    decimal.Decimal
	TotalPnL       decimal.Decimal
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	MaxDrawdown    float64
	CreatedAt      time.Time
	Trades         []*TradeRecord
}
