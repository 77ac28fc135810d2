package engine

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
)

// StageCounts are the per-funnel-stage audit counters.
// Blocked counts candidates that reached this stage's check and failed to
// advance into it, so for opens-only runs:
//
//	executable.opens + executable.blocked == raw.opens
type StageCounts struct {
	Total   int `json:"total"`
	Opens   int `json:"opens"`
	Closes  int `json:"closes"`
	Blocked int `json:"blocked"`
}

// ThreeLayerStats groups the funnel counters under their stable output keys.
type ThreeLayerStats struct {
	RawSignals        StageCounts `json:"raw_signals"`
	ExecutableSignals StageCounts `json:"executable_signals"`
	ExecutedTrades    StageCounts `json:"executed_trades"`
}

// BlockedStats breaks rejections down by cause.
type BlockedStats struct {
	ByLimitUp   int `json:"by_limit_up"`
	ByLimitDown int `json:"by_limit_down"`
	ByT1Rule    int `json:"by_t1_rule"`
	ByHolding   int `json:"by_holding"`
	ByCash      int `json:"by_cash"`
}

// TradeLayer summarizes the executed, closed trades.
type TradeLayer struct {
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	LosingTrades   int             `json:"losing_trades"`
	WinRate        float64         `json:"win_rate"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCash      decimal.Decimal `json:"final_cash"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	MaxDrawdown    float64         `json:"max_drawdown"`
}

// EquityCurvePoint is one end-of-day snapshot of account value.
// Points are append-only and never mutated after insertion.
type EquityCurvePoint struct {
	Date   string          `json:"date"`
	Cash   decimal.Decimal `json:"cash"`
	Equity decimal.Decimal `json:"equity"`
}

// DayError records one symbol-day the loop skipped instead of failing.
type DayError struct {
	Date   string `json:"date"`
	Symbol string `json:"symbol"`
	Err    string `json:"error"`
}

// BacktestResult accumulates counters, cash and trade lists during one run.
// Exactly one owner (the replay loop) mutates it; Finalize derives the
// report once at the end.
type BacktestResult struct {
	RunID string

	Raw        StageCounts
	Executable StageCounts
	Executed   StageCounts
	Blocked    BlockedStats

	InitialCapital decimal.Decimal
	Cash           decimal.Decimal

	// SignalTrades holds the signal-only records (stages raw/executable);
	// Trades holds executed records, finalized in place on close.
	SignalTrades []*domain.TradeRecord
	Trades       []*domain.TradeRecord

	EquityCurve        []EquityCurvePoint
	DayErrors          []DayError
	LimitChecksSkipped int
}

// NewResult starts an empty result with the full capital as cash.
func NewResult(initialCapital decimal.Decimal) *BacktestResult {
	return &BacktestResult{
		RunID:          ulid.Make().String(),
		InitialCapital: initialCapital,
		Cash:           initialCapital,
	}
}

// Report is the stable, JSON-serializable output schema of one run.
type Report struct {
	RunID              string                `json:"run_id"`
	Strategy           string                `json:"strategy"`
	EnforceTPlus1      bool                  `json:"enforce_t_plus_1"`
	SingleHolding      bool                  `json:"single_holding"`
	ThreeLayerStats    ThreeLayerStats       `json:"three_layer_stats"`
	TradeLayer         TradeLayer            `json:"trade_layer"`
	T1Trades           []*domain.TradeRecord `json:"t1_trades"`
	BlockedStats       BlockedStats          `json:"blocked_stats"`
	CostAssumptions    map[string]string     `json:"cost_assumptions"`
	EquityCurve        []EquityCurvePoint    `json:"equity_curve"`
	DayErrors          []DayError            `json:"day_errors,omitempty"`
	LimitChecksSkipped int                   `json:"limit_checks_skipped"`
}

// Finalize derives the report. openValue is the mark-to-market value of
// positions still open at the end of the run; final equity is cash plus
// that value.
func (r *BacktestResult) Finalize(strategy string, costs *CostModel, openValue decimal.Decimal) *Report {
	layer := TradeLayer{
		InitialCapital: r.InitialCapital,
		FinalCash:      r.Cash,
		FinalEquity:    r.Cash.Add(openValue),
		TotalPnL:       decimal.Zero,
	}
	for _, t := range r.Trades {
		if t.ExitReason == "" {
			continue // still open, valued via openValue
		}
		layer.TotalTrades++
		layer.TotalPnL = layer.TotalPnL.Add(t.PnL)
		if t.IsWin() {
			layer.WinningTrades++
		} else {
			layer.LosingTrades++
		}
	}
	if layer.TotalTrades > 0 {
		layer.WinRate = float64(layer.WinningTrades) / float64(layer.TotalTrades)
	}
	layer.MaxDrawdown = maxDrawdown(r.EquityCurve)

	return &Report{
		RunID:         r.RunID,
		Strategy:      strategy,
		EnforceTPlus1: true,
		SingleHolding: true,
		ThreeLayerStats: ThreeLayerStats{
			RawSignals:        r.Raw,
			ExecutableSignals: r.Executable,
			ExecutedTrades:    r.Executed,
		},
		TradeLayer:         layer,
		T1Trades:           r.Trades,
		BlockedStats:       r.Blocked,
		CostAssumptions:    costs.Assumptions(),
		EquityCurve:        r.EquityCurve,
		DayErrors:          r.DayErrors,
		LimitChecksSkipped: r.LimitChecksSkipped,
	}
}

// maxDrawdown computes the running peak-to-trough loss on the equity curve,
// expressed as a fraction of the peak.
func maxDrawdown(curve []EquityCurvePoint) float64 {
	var peak, maxDD decimal.Decimal
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(p.Equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.InexactFloat64()
}

// Summary converts a finalized report into the persistable run digest.
func (rep *Report) Summary(symbols []string, startDate, endDate string, createdAt time.Time) *domain.RunSummary {
	return &domain.RunSummary{
		RunID:          rep.RunID,
		Strategy:       rep.Strategy,
		Symbols:        symbols,
		StartDate:      startDate,
		EndDate:        endDate,
		InitialCapital: rep.TradeLayer.InitialCapital,
		FinalCash:      rep.TradeLayer.FinalCash,
		FinalEquity:    rep.TradeLayer.FinalEquity,
		TotalPnL:       rep.TradeLayer.TotalPnL,
		TotalTrades:    rep.TradeLayer.TotalTrades,
		WinningTrades:  rep.TradeLayer.WinningTrades,
		LosingTrades:   rep.TradeLayer.LosingTrades,
		WinRate:        rep.TradeLayer.WinRate,
		MaxDrawdown:    rep.TradeLayer.MaxDrawdown,
		CreatedAt:      createdAt,
		Trades:         rep.T1Trades,
	}
}
