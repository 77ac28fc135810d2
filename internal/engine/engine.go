package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"
)

// Config holds everything one replay run needs. Validation happens in New,
// before any tick is processed.
type Config struct {
	Symbols          []string
	StartDate        string // canonical layout, inclusive
	EndDate          string // canonical layout, inclusive
	InitialCapital   decimal.Decimal
	PositionFraction decimal.Decimal
	StopLossPct      decimal.Decimal
	TakeProfitPct    decimal.Decimal
	MaxHolding       time.Duration // 0 disables the time exit
	Costs            CostConfig

	// LiquidateAtEnd closes any position still open after the final
	// settlement at its last known price with the end_of_day reason.
	LiquidateAtEnd bool
}

func (c Config) validate() error {
	var errs []string
	if len(c.Symbols) == 0 {
		errs = append(errs, "at least one symbol is required")
	}
	if !c.InitialCapital.IsPositive() {
		errs = append(errs, "initial capital must be positive")
	}
	if !c.PositionFraction.IsPositive() || c.PositionFraction.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "position fraction must be in (0, 1]")
	}
	if c.StopLossPct.IsNegative() || c.TakeProfitPct.IsNegative() {
		errs = append(errs, "stop-loss and take-profit percentages cannot be negative")
	}
	start, err := time.Parse(domain.TradeDate, c.StartDate)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid start date %q", c.StartDate))
	}
	end, err := time.Parse(domain.TradeDate, c.EndDate)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid end date %q", c.EndDate))
	} else if c.StartDate != "" && end.Before(start) {
		errs = append(errs, "end date before start date")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return nil
}

// Engine replays historical ticks through the signal funnel, day by day,
// and produces one finalized report per run.
//
// The engine is strictly single-threaded: each tick is fully processed
// before the next is read, so no state needs locking. All provider I/O
// happens at stream acquisition, outside the per-tick path.
type Engine struct {
	cfg      Config
	costs    *CostModel
	provider ports.TickProvider
	signals  ports.SignalGenerator
	logger   ports.Logger
}

// New validates the configuration and builds an engine. Invalid cost rates
// or a non-positive capital fail here, not mid-replay.
func New(cfg Config, provider ports.TickProvider, signals ports.SignalGenerator, logger ports.Logger) (*Engine, error) {
	if provider == nil || signals == nil || logger == nil {
		return nil, fmt.Errorf("%w: provider, signal generator and logger are required", ports.ErrConfigurationError)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	costs, err := NewCostModel(cfg.Costs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
	}
	return &Engine{cfg: cfg, costs: costs, provider: provider, signals: signals, logger: logger}, nil
}

// Run replays every trading day in range. Symbol-day failures are recorded
// and skipped; the run always completes and returns a report, even if every
// individual day failed. Cancellation stops reading at the next day
// boundary — a partially replayed day's trades remain valid history.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	result := NewResult(e.cfg.InitialCapital)
	gate := NewLimitGate(e.logger)
	ledger := NewLedger()
	funnel := NewFunnel(FunnelConfig{
		PositionFraction: e.cfg.PositionFraction,
		StopLossPct:      e.cfg.StopLossPct,
		TakeProfitPct:    e.cfg.TakeProfitPct,
		MaxHolding:       e.cfg.MaxHolding,
	}, e.costs, gate, ledger, e.signals, result, e.logger)

	dates, err := e.provider.TradingDates(ctx, e.cfg.StartDate, e.cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("listing trading dates: %w", err)
	}
	e.logger.Info(ctx, "replay starting", map[string]interface{}{
		"run_id":  result.RunID,
		"symbols": strings.Join(e.cfg.Symbols, ","),
		"days":    len(dates),
	})

	lastPrices := make(map[string]decimal.Decimal)
	lastTimes := make(map[string]time.Time)

	for _, date := range dates {
		if ctx.Err() != nil {
			e.logger.Warn(ctx, "replay cancelled", map[string]interface{}{"date": date})
			break
		}
		for _, sym := range e.cfg.Symbols {
			e.replaySymbolDay(ctx, funnel, result, sym, date, lastPrices, lastTimes)
		}

		// End-of-day settlement: today's lots become sellable tomorrow.
		ledger.SettleAll()
		e.signals.ResetDaily()

		equity := result.Cash.Add(markToMarket(ledger, lastPrices))
		result.EquityCurve = append(result.EquityCurve, EquityCurvePoint{
			Date:   date,
			Cash:   result.Cash,
			Equity: equity,
		})
	}

	if e.cfg.LiquidateAtEnd {
		funnel.CloseAtEnd(ctx, lastPrices, lastTimes)
	}
	result.LimitChecksSkipped = gate.FailOpenCount()

	report := result.Finalize(e.signals.Name(), e.costs, markToMarket(ledger, lastPrices))
	e.logger.Info(ctx, "replay finished", map[string]interface{}{
		"run_id":       report.RunID,
		"trades":       report.TradeLayer.TotalTrades,
		"final_equity": report.TradeLayer.FinalEquity.String(),
	})
	return report, nil
}

// replaySymbolDay pulls one symbol-day stream and feeds it through the
// funnel. Any failure is demoted to a DayError so the run keeps going.
func (e *Engine) replaySymbolDay(ctx context.Context, funnel *Funnel, result *BacktestResult,
	symbol, date string, lastPrices map[string]decimal.Decimal, lastTimes map[string]time.Time) {

	ticks, err := e.provider.Ticks(ctx, symbol, date)
	if err != nil {
		e.logger.Error(ctx, err, "tick stream unavailable, skipping symbol-day",
			map[string]interface{}{"symbol": symbol, "date": date})
		result.DayErrors = append(result.DayErrors, DayError{Date: date, Symbol: symbol, Err: err.Error()})
		return
	}
	if len(ticks) == 0 {
		e.logger.Debug(ctx, "no ticks for symbol-day", map[string]interface{}{"symbol": symbol, "date": date})
		return
	}

	// The provider contract is a time-ordered stream; a violation means the
	// data is corrupt, so the whole day is dropped rather than re-sorted.
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Time.Before(ticks[i-1].Time) {
			err := fmt.Errorf("%w: %s %s", ports.ErrUnorderedData, symbol, date)
			e.logger.Error(ctx, err, "dropping symbol-day", nil)
			result.DayErrors = append(result.DayErrors, DayError{Date: date, Symbol: symbol, Err: err.Error()})
			return
		}
	}

	prevClose, err := e.provider.PrevClose(ctx, symbol, date)
	if err != nil {
		// The gate fails open on a zero prev-close and counts the skip.
		e.logger.Warn(ctx, "previous close unavailable", map[string]interface{}{"symbol": symbol, "date": date})
		prevClose = decimal.Zero
	}

	for _, tick := range ticks {
		if ctx.Err() != nil {
			return
		}
		funnel.OnTick(ctx, tick, prevClose)
		lastPrices[symbol] = tick.Price
		lastTimes[symbol] = tick.Time
	}
}

// markToMarket values all open positions at their last known prices.
func markToMarket(ledger *Ledger, lastPrices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	ledger.Each(func(pos *domain.Position) {
		price, ok := lastPrices[pos.Symbol]
		if !ok || !price.IsPositive() {
			price = pos.EntryPrice
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.TotalShares())))
	})
	return total
}
