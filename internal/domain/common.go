package domain

// FunnelStage classifies how far a trading signal made it through the
// engine: strategy intent, constraint-checked feasibility, booked execution.
type FunnelStage string

const (
	StageRaw        FunnelStage = "raw"
	StageExecutable FunnelStage = "executable"
	StageExecuted   FunnelStage = "executed"
)

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTimeLimit  ExitReason = "time_exit"
	ExitEndOfDay   ExitReason = "end_of_day"
)

// BoardClass identifies the exchange board a symbol trades on, which
// determines its daily price-limit percentage.
type BoardClass string

const (
	BoardMain    BoardClass = "main"    // Shanghai/Shenzhen main board, 10%
	BoardChiNext BoardClass = "chinext" // 30x prefixes, 20%
	BoardSTAR    BoardClass = "star"    // 68x prefixes, 20%
	BoardBeijing BoardClass = "beijing" // .BJ suffix, 30%
)

// TradeDate is the canonical trading-date layout used throughout the engine.
const TradeDate = "2006-01-02"
