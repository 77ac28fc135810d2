package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"
)

// FunnelConfig carries the per-run trading parameters the funnel needs.
type FunnelConfig struct {
	PositionFraction decimal.Decimal // fraction of cash committed per open
	StopLossPct      decimal.Decimal // e.g. 0.02 for -2%
	TakeProfitPct    decimal.Decimal // e.g. 0.05 for +5%
	MaxHolding       time.Duration   // 0 disables the time exit
}

// Funnel classifies every candidate trade through three stages:
// raw (strategy intent), executable (constraint-checked), executed (booked).
//
// Nothing in here ever returns an error for "cannot trade right now" —
// every rejection increments its counter and the tick moves on, so a broken
// constraint shows up in the aggregate statistics instead of crashing a
// multi-day replay.
type Funnel struct {
	cfg     FunnelConfig
	costs   *CostModel
	gate    *LimitGate
	ledger  *Ledger
	signals ports.SignalGenerator
	result  *BacktestResult
	logger  ports.Logger

	// executed entry records awaiting their exit leg, keyed by symbol
	openTrades map[string]*domain.TradeRecord
}

// NewFunnel wires the funnel to the run's shared state.
func NewFunnel(cfg FunnelConfig, costs *CostModel, gate *LimitGate, ledger *Ledger,
	signals ports.SignalGenerator, result *BacktestResult, logger ports.Logger) *Funnel {
	return &Funnel{
		cfg:        cfg,
		costs:      costs,
		gate:       gate,
		ledger:     ledger,
		signals:    signals,
		result:     result,
		logger:     logger,
		openTrades: make(map[string]*domain.TradeRecord),
	}
}

// OnTick runs the close path, then the open path, for one tick.
// prevClose is the symbol's previous daily close (zero when unknown).
func (f *Funnel) OnTick(ctx context.Context, tick *domain.Tick, prevClose decimal.Decimal) {
	f.checkClose(ctx, tick, prevClose)
	f.checkOpen(ctx, tick, prevClose)
}

// checkOpen is the open path: raw intent, then constraints in fixed order
// (price limit, single holding, lot-rounded affordability), then execution.
func (f *Funnel) checkOpen(ctx context.Context, tick *domain.Tick, prevClose decimal.Decimal) {
	if !f.signals.ShouldOpen(ctx, tick) {
		return
	}
	f.result.Raw.Opens++
	f.result.Raw.Total++
	f.result.SignalTrades = append(f.result.SignalTrades, &domain.TradeRecord{
		Symbol:     tick.Symbol,
		Stage:      domain.StageRaw,
		SignalOnly: true,
		EntryDate:  tick.Date(),
		EntryTime:  tick.Time,
		EntryPrice: tick.Price,
	})

	if !f.gate.AllowBuy(ctx, tick.Symbol, tick.Price, prevClose) {
		f.result.Blocked.ByLimitUp++
		f.result.Executable.Blocked++
		return
	}
	if f.ledger.HasOpen() {
		f.result.Blocked.ByHolding++
		f.result.Executable.Blocked++
		return
	}
	budget := f.result.Cash.Mul(f.cfg.PositionFraction)
	qty := f.costs.MaxBuyableShares(budget, tick.Price)
	if qty <= 0 {
		f.result.Blocked.ByCash++
		f.result.Executable.Blocked++
		return
	}
	f.result.Executable.Opens++
	f.result.Executable.Total++

	total, _ := f.costs.BuyCost(qty, tick.Price)
	if total.GreaterThan(f.result.Cash) {
		f.result.Blocked.ByCash++
		f.result.Executed.Blocked++
		return
	}

	pos := &domain.Position{
		Symbol:      tick.Symbol,
		TodayShares: qty, // locked until end-of-day settlement
		EntryPrice:  tick.Price,
		EntryCost:   total,
		EntryTime:   tick.Time,
	}
	if err := f.ledger.Open(pos); err != nil {
		// Guarded above by HasOpen; reaching this is a funnel bug.
		f.logger.Error(ctx, err, "open rejected by ledger", map[string]interface{}{"symbol": tick.Symbol})
		return
	}
	f.result.Cash = f.result.Cash.Sub(total)

	rec := &domain.TradeRecord{
		Symbol:     tick.Symbol,
		Stage:      domain.StageExecuted,
		Quantity:   qty,
		EntryDate:  tick.Date(),
		EntryTime:  tick.Time,
		EntryPrice: tick.Price,
	}
	f.result.Trades = append(f.result.Trades, rec)
	f.openTrades[tick.Symbol] = rec
	f.result.Executed.Opens++
	f.result.Executed.Total++

	f.logger.Debug(ctx, "position opened", map[string]interface{}{
		"symbol": tick.Symbol,
		"qty":    qty,
		"price":  tick.Price.String(),
		"cost":   total.String(),
	})
}

// checkClose is the close path: pick an exit reason by fixed priority, then
// apply the T+1 rule and the sell-side limit gate, then book the exit.
func (f *Funnel) checkClose(ctx context.Context, tick *domain.Tick, prevClose decimal.Decimal) {
	pos := f.ledger.Get(tick.Symbol)
	if pos == nil {
		return
	}
	reason, ok := f.exitReason(pos, tick)
	if !ok {
		return
	}
	f.result.Raw.Closes++
	f.result.Raw.Total++

	// T+1: shares bought today are never sellable today.
	if pos.SellableShares() == 0 {
		f.result.Blocked.ByT1Rule++
		f.result.Executable.Blocked++
		return
	}
	if !f.gate.AllowSell(ctx, tick.Symbol, tick.Price, prevClose) {
		f.result.Blocked.ByLimitDown++
		f.result.Executable.Blocked++
		return
	}
	f.result.Executable.Closes++
	f.result.Executable.Total++

	f.executeClose(ctx, pos, tick.Price, tick.Time, reason)
}

// exitReason selects the close trigger. Priority take_profit > stop_loss >
// time_exit is a deliberate tie-break: the first condition met wins.
func (f *Funnel) exitReason(pos *domain.Position, tick *domain.Tick) (domain.ExitReason, bool) {
	pnlPct := tick.Price.Sub(pos.EntryPrice).Div(pos.EntryPrice)
	switch {
	case pnlPct.GreaterThanOrEqual(f.cfg.TakeProfitPct):
		return domain.ExitTakeProfit, true
	case pnlPct.LessThanOrEqual(f.cfg.StopLossPct.Neg()):
		return domain.ExitStopLoss, true
	case f.cfg.MaxHolding > 0 && pos.HoldingTime(tick.Time) >= f.cfg.MaxHolding:
		return domain.ExitTimeLimit, true
	default:
		return "", false
	}
}

// executeClose books the sell: both fee legs are already in the numbers
// (entry cost carried the buy fees, SellProceeds nets the sell fees).
func (f *Funnel) executeClose(ctx context.Context, pos *domain.Position, price decimal.Decimal, at time.Time, reason domain.ExitReason) {
	net, _ := f.costs.SellProceeds(pos.TotalShares(), price)
	f.result.Cash = f.result.Cash.Add(net)

	pnl := net.Sub(pos.EntryCost)
	rec := f.openTrades[pos.Symbol]
	if rec != nil {
		rec.ExitDate = at.Format(domain.TradeDate)
		rec.ExitTime = at
		rec.ExitPrice = price
		rec.ExitReason = reason
		rec.PnL = pnl
		rec.PnLPct = pnl.Div(pos.EntryCost)
		delete(f.openTrades, pos.Symbol)
	}
	f.ledger.Close(pos.Symbol)
	f.result.Executed.Closes++
	f.result.Executed.Total++

	f.logger.Debug(ctx, "position closed", map[string]interface{}{
		"symbol": pos.Symbol,
		"reason": string(reason),
		"pnl":    pnl.String(),
	})
}

// CloseAtEnd liquidates any still-open position at its last known price
// with the end_of_day reason. The engine calls it after the final
// settlement, so every remaining lot is sellable; the sell-side limit gate
// is not consulted because this is bookkeeping, not a trade decision.
func (f *Funnel) CloseAtEnd(ctx context.Context, lastPrices map[string]decimal.Decimal, lastTimes map[string]time.Time) {
	var symbols []string
	f.ledger.Each(func(pos *domain.Position) { symbols = append(symbols, pos.Symbol) })
	for _, sym := range symbols {
		pos := f.ledger.Get(sym)
		price, ok := lastPrices[sym]
		if !ok || !price.IsPositive() {
			price = pos.EntryPrice
		}
		at, ok := lastTimes[sym]
		if !ok {
			at = pos.EntryTime
		}
		f.result.Raw.Closes++
		f.result.Raw.Total++
		f.result.Executable.Closes++
		f.result.Executable.Total++
		f.executeClose(ctx, pos, price, at, domain.ExitEndOfDay)
	}
}
