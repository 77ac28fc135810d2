package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickreplay/internal/domain"
)

// mockSignal implements ports.SignalGenerator for funnel and engine tests.
type mockSignal struct {
	openFn func(tick *domain.Tick) bool
	resets int
}

func (m *mockSignal) Name() string { return "mock" }

func (m *mockSignal) ShouldOpen(_ context.Context, tick *domain.Tick) bool {
	if m.openFn == nil {
		return false
	}
	return m.openFn(tick)
}

func (m *mockSignal) ResetDaily() { m.resets++ }

func tickAt(t *testing.T, symbol, ts, price string) *domain.Tick {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04:05", ts)
	require.NoError(t, err)
	return &domain.Tick{Symbol: symbol, Time: parsed.UTC(), Price: d(price)}
}

func newTestFunnel(t *testing.T, capital string, cfg FunnelConfig, signal *mockSignal) (*Funnel, *BacktestResult, *Ledger) {
	t.Helper()
	costs, err := NewCostModel(DefaultCostConfig())
	require.NoError(t, err)
	result := NewResult(d(capital))
	ledger := NewLedger()
	gate := NewLimitGate(mockLogger{})
	funnel := NewFunnel(cfg, costs, gate, ledger, signal, result, mockLogger{})
	return funnel, result, ledger
}

func defaultFunnelConfig() FunnelConfig {
	return FunnelConfig{
		PositionFraction: d("0.5"),
		StopLossPct:      d("0.02"),
		TakeProfitPct:    d("0.05"),
	}
}

func TestFunnel_OpenLotRounding(t *testing.T) {
	ctx := context.Background()
	signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}
	funnel, result, ledger := newTestFunnel(t, "100000", defaultFunnelConfig(), signal)

	// 100000 * 0.5 = 50000 budget at 20.00 → exactly 2500 shares.
	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "20"), d("19.80"))

	pos := ledger.Get("000001.SZ")
	require.NotNil(t, pos)
	assert.Equal(t, int64(2500), pos.TodayShares)
	assert.Equal(t, int64(0), pos.CarryShares)

	assert.Equal(t, 1, result.Raw.Opens)
	assert.Equal(t, 1, result.Executable.Opens)
	assert.Equal(t, 1, result.Executed.Opens)
	assert.True(t, result.Cash.Equal(d("49974")), "cash = %s", result.Cash)

	require.Len(t, result.Trades, 1)
	rec := result.Trades[0]
	assert.Equal(t, domain.StageExecuted, rec.Stage)
	assert.Equal(t, int64(2500), rec.Quantity)
	assert.Equal(t, "2024-01-02", rec.EntryDate)
	assert.Empty(t, rec.ExitReason)
}

func TestFunnel_TPlusOneBlocksSameDayExit(t *testing.T) {
	ctx := context.Background()
	initial := d("2100")
	opened := false
	signal := &mockSignal{openFn: func(*domain.Tick) bool {
		if opened {
			return false
		}
		opened = true
		return true
	}}
	funnel, result, ledger := newTestFunnel(t, "2100", defaultFunnelConfig(), signal)

	// Day D: open 100 shares at 10.00, then hit take-profit intraday.
	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"), d("9.90"))
	require.NotNil(t, ledger.Get("000001.SZ"))

	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 10:00:00", "11"), d("9.90"))
	assert.Equal(t, 1, result.Blocked.ByT1Rule, "same-day close must be blocked by T+1")
	assert.Equal(t, 1, result.Raw.Closes)
	assert.Equal(t, 0, result.Executed.Closes)
	require.NotNil(t, ledger.Get("000001.SZ"), "position must survive the blocked close")

	// End-of-day settlement makes the lot sellable.
	ledger.SettleAll()
	assert.Equal(t, int64(100), ledger.Get("000001.SZ").CarryShares)

	// Day D+1: the same take-profit close executes.
	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-03 09:31:00", "11"), d("10.50"))
	assert.Equal(t, 1, result.Executed.Closes)
	assert.Nil(t, ledger.Get("000001.SZ"))

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, domain.ExitTakeProfit, trade.ExitReason)
	assert.Equal(t, "2024-01-02", trade.EntryDate)
	assert.Equal(t, "2024-01-03", trade.ExitDate)
	assert.NotEqual(t, trade.EntryDate, trade.ExitDate, "non-end_of_day exits happen strictly after the entry date")

	// Cash conservation, exact to the cent: final cash == initial + PnL.
	assert.True(t, result.Cash.Equal(initial.Add(trade.PnL)),
		"cash %s != initial %s + pnl %s", result.Cash, initial, trade.PnL)
}

func TestFunnel_SingleHoldingBlocksSecondOpen(t *testing.T) {
	ctx := context.Background()
	signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}
	funnel, result, _ := newTestFunnel(t, "100000", defaultFunnelConfig(), signal)

	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "20"), d("19.80"))
	funnel.OnTick(ctx, tickAt(t, "600519.SH", "2024-01-02 09:30:03", "30"), d("29.70"))

	assert.Equal(t, 2, result.Raw.Opens)
	assert.Equal(t, 1, result.Executed.Opens)
	assert.Equal(t, 1, result.Blocked.ByHolding)

	// Funnel conservation on the open path.
	assert.Equal(t, result.Raw.Opens, result.Executable.Opens+result.Executable.Blocked)
	assert.LessOrEqual(t, result.Executed.Opens, result.Executable.Opens)
}

func TestFunnel_LimitUpBlocksOpen(t *testing.T) {
	ctx := context.Background()
	signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}
	funnel, result, ledger := newTestFunnel(t, "100000", defaultFunnelConfig(), signal)

	// Prev close 10.00 → buy ceiling 10.945; 10.95 is inside the band.
	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10.95"), d("10.00"))

	assert.Equal(t, 1, result.Raw.Opens)
	assert.Equal(t, 1, result.Blocked.ByLimitUp)
	assert.Equal(t, 1, result.Executable.Blocked)
	assert.Equal(t, 0, result.Executed.Opens)
	assert.False(t, ledger.HasOpen())

	// The raw intent is still recorded as a signal-only trade.
	require.Len(t, result.SignalTrades, 1)
	assert.True(t, result.SignalTrades[0].SignalOnly)
	assert.Equal(t, domain.StageRaw, result.SignalTrades[0].Stage)
}

func TestFunnel_InsufficientCashBlocks(t *testing.T) {
	ctx := context.Background()

	t.Run("budget below one lot", func(t *testing.T) {
		signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}
		cfg := defaultFunnelConfig()
		cfg.PositionFraction = d("1")
		funnel, result, _ := newTestFunnel(t, "500", cfg, signal)

		// 500 / 10.00 = 50 shares, floors below the 100-share lot.
		funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"), d("9.90"))
		assert.Equal(t, 1, result.Blocked.ByCash)
		assert.Equal(t, 1, result.Executable.Blocked)
		assert.Equal(t, 0, result.Executable.Opens)
	})

	t.Run("fees push cost past cash", func(t *testing.T) {
		signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}
		cfg := defaultFunnelConfig()
		cfg.PositionFraction = d("1")
		funnel, result, _ := newTestFunnel(t, "1000", cfg, signal)

		// 1000 buys exactly 100 shares at 10.00, but fees take the total
		// to 1005.22 — executable, yet unaffordable.
		funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"), d("9.90"))
		assert.Equal(t, 1, result.Executable.Opens)
		assert.Equal(t, 1, result.Blocked.ByCash)
		assert.Equal(t, 1, result.Executed.Blocked)
		assert.Equal(t, 0, result.Executed.Opens)
		assert.True(t, result.Cash.Equal(d("1000")), "blocked open must not touch cash")
	})
}

func TestFunnel_ExitReasonPriority(t *testing.T) {
	ctx := context.Background()
	opened := false
	signal := &mockSignal{openFn: func(*domain.Tick) bool {
		if opened {
			return false
		}
		opened = true
		return true
	}}
	// Zero thresholds make every tick satisfy both take-profit and
	// stop-loss; take-profit must win the tie.
	cfg := FunnelConfig{PositionFraction: d("0.5"), StopLossPct: decimal.Zero, TakeProfitPct: decimal.Zero}
	funnel, result, ledger := newTestFunnel(t, "2100", cfg, signal)

	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"), d("9.90"))
	ledger.SettleAll()
	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-03 09:31:00", "10"), d("10.00"))

	require.Len(t, result.Trades, 1)
	assert.Equal(t, domain.ExitTakeProfit, result.Trades[0].ExitReason)
}

func TestFunnel_StopLossExit(t *testing.T) {
	ctx := context.Background()
	opened := false
	signal := &mockSignal{openFn: func(*domain.Tick) bool {
		if opened {
			return false
		}
		opened = true
		return true
	}}
	funnel, result, ledger := newTestFunnel(t, "2100", defaultFunnelConfig(), signal)

	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"), d("9.90"))
	ledger.SettleAll()

	// -3% breaches the 2% stop.
	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-03 09:31:00", "9.70"), d("10.00"))

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, domain.ExitStopLoss, trade.ExitReason)
	assert.True(t, trade.PnL.IsNegative())
}

func TestFunnel_TimeExit(t *testing.T) {
	ctx := context.Background()
	opened := false
	signal := &mockSignal{openFn: func(*domain.Tick) bool {
		if opened {
			return false
		}
		opened = true
		return true
	}}
	cfg := defaultFunnelConfig()
	cfg.MaxHolding = 30 * time.Minute
	funnel, result, ledger := newTestFunnel(t, "2100", cfg, signal)

	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"), d("9.90"))
	ledger.SettleAll()

	// Flat price: neither profit target nor stop fires, but the holding
	// clock has long expired by the next session.
	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-03 09:31:00", "10"), d("10.00"))

	require.Len(t, result.Trades, 1)
	assert.Equal(t, domain.ExitTimeLimit, result.Trades[0].ExitReason)
}

func TestFunnel_CloseAtEnd(t *testing.T) {
	ctx := context.Background()
	signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}
	funnel, result, ledger := newTestFunnel(t, "2100", defaultFunnelConfig(), signal)

	funnel.OnTick(ctx, tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"), d("9.90"))
	ledger.SettleAll()

	lastPrices := map[string]decimal.Decimal{"000001.SZ": d("10.20")}
	lastTimes := map[string]time.Time{"000001.SZ": tickAt(t, "000001.SZ", "2024-01-02 15:00:00", "10.20").Time}
	funnel.CloseAtEnd(ctx, lastPrices, lastTimes)

	assert.False(t, ledger.HasOpen())
	require.Len(t, result.Trades, 1)
	assert.Equal(t, domain.ExitEndOfDay, result.Trades[0].ExitReason)
	assert.True(t, result.Trades[0].ExitPrice.Equal(d("10.20")))
}
