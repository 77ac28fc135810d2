package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"
)

// stubProvider implements ports.TickProvider over in-memory fixtures,
// keyed by "symbol|date".
type stubProvider struct {
	dates      []string
	ticks      map[string][]*domain.Tick
	prevCloses map[string]decimal.Decimal
	ticksErr   map[string]error
}

func (s *stubProvider) TradingDates(_ context.Context, _, _ string) ([]string, error) {
	return s.dates, nil
}

func (s *stubProvider) Ticks(_ context.Context, symbol, date string) ([]*domain.Tick, error) {
	key := symbol + "|" + date
	if err := s.ticksErr[key]; err != nil {
		return nil, err
	}
	return s.ticks[key], nil
}

func (s *stubProvider) PrevClose(_ context.Context, symbol, date string) (decimal.Decimal, error) {
	return s.prevCloses[symbol+"|"+date], nil
}

func baseConfig() Config {
	return Config{
		Symbols:          []string{"000001.SZ"},
		StartDate:        "2024-01-02",
		EndDate:          "2024-01-03",
		InitialCapital:   d("2100"),
		PositionFraction: d("0.5"),
		StopLossPct:      d("0.02"),
		TakeProfitPct:    d("0.05"),
		Costs:            DefaultCostConfig(),
	}
}

func TestNew_Validation(t *testing.T) {
	provider := &stubProvider{}
	signal := &mockSignal{}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero capital", func(c *Config) { c.InitialCapital = decimal.Zero }},
		{"fraction above one", func(c *Config) { c.PositionFraction = d("1.5") }},
		{"negative stop loss", func(c *Config) { c.StopLossPct = d("-0.02") }},
		{"bad start date", func(c *Config) { c.StartDate = "02/01/2024" }},
		{"end before start", func(c *Config) { c.EndDate = "2023-12-29" }},
		{"bad cost rate", func(c *Config) { c.Costs.CommissionRate = d("2") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, provider, signal, mockLogger{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}

	t.Run("nil provider", func(t *testing.T) {
		_, err := New(baseConfig(), nil, signal, mockLogger{})
		assert.ErrorIs(t, err, ports.ErrConfigurationError)
	})
}

func TestEngine_Run_TwoDayRoundTrip(t *testing.T) {
	provider := &stubProvider{
		dates: []string{"2024-01-02", "2024-01-03"},
		ticks: map[string][]*domain.Tick{
			"000001.SZ|2024-01-02": {
				tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"),
				tickAt(t, "000001.SZ", "2024-01-02 14:55:00", "11"),
			},
			"000001.SZ|2024-01-03": {
				tickAt(t, "000001.SZ", "2024-01-03 09:31:00", "11"),
			},
		},
		prevCloses: map[string]decimal.Decimal{
			"000001.SZ|2024-01-02": d("9.90"),
			"000001.SZ|2024-01-03": d("11"),
		},
	}
	opened := false
	signal := &mockSignal{openFn: func(*domain.Tick) bool {
		if opened {
			return false
		}
		opened = true
		return true
	}}

	eng, err := New(baseConfig(), provider, signal, mockLogger{})
	require.NoError(t, err)
	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	// Open on day one (100 shares at 10.00, cost 1005.22), blocked same-day
	// by T+1, closed at take-profit on day two.
	assert.True(t, report.EnforceTPlus1)
	assert.True(t, report.SingleHolding)
	assert.Equal(t, 1, report.ThreeLayerStats.ExecutedTrades.Opens)
	assert.Equal(t, 1, report.ThreeLayerStats.ExecutedTrades.Closes)
	assert.Equal(t, 1, report.BlockedStats.ByT1Rule)

	assert.Equal(t, 1, report.TradeLayer.TotalTrades)
	assert.Equal(t, 1, report.TradeLayer.WinningTrades)
	assert.True(t, report.TradeLayer.TotalPnL.Equal(d("88.438")), "pnl = %s", report.TradeLayer.TotalPnL)
	assert.True(t, report.TradeLayer.FinalCash.Equal(d("2188.438")), "cash = %s", report.TradeLayer.FinalCash)
	assert.True(t, report.TradeLayer.FinalEquity.Equal(d("2188.438")))

	// Day one ends holding 100 shares marked at the 11.00 close.
	require.Len(t, report.EquityCurve, 2)
	assert.Equal(t, "2024-01-02", report.EquityCurve[0].Date)
	assert.True(t, report.EquityCurve[0].Equity.Equal(d("2194.78")), "day1 equity = %s", report.EquityCurve[0].Equity)
	assert.True(t, report.EquityCurve[1].Equity.Equal(d("2188.438")))

	assert.Equal(t, 2, signal.resets, "signals reset once per day")

	require.Len(t, report.T1Trades, 1)
	assert.Equal(t, domain.ExitTakeProfit, report.T1Trades[0].ExitReason)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "mock", report.Strategy)
	assert.Empty(t, report.DayErrors)
}

func TestEngine_Run_SymbolDayErrorsAreSkipped(t *testing.T) {
	provider := &stubProvider{
		dates: []string{"2024-01-02", "2024-01-03"},
		ticks: map[string][]*domain.Tick{
			"000001.SZ|2024-01-03": {
				tickAt(t, "000001.SZ", "2024-01-03 09:30:00", "10"),
			},
		},
		ticksErr: map[string]error{
			"000001.SZ|2024-01-02": ports.ErrQueryFailed,
		},
		prevCloses: map[string]decimal.Decimal{
			"000001.SZ|2024-01-03": d("9.90"),
		},
	}
	signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}

	eng, err := New(baseConfig(), provider, signal, mockLogger{})
	require.NoError(t, err)
	report, err := eng.Run(context.Background())
	require.NoError(t, err, "a failed symbol-day must not fail the run")

	require.Len(t, report.DayErrors, 1)
	assert.Equal(t, "2024-01-02", report.DayErrors[0].Date)
	assert.Equal(t, "000001.SZ", report.DayErrors[0].Symbol)

	// Day two still replays normally.
	assert.Equal(t, 1, report.ThreeLayerStats.RawSignals.Opens)
}

func TestEngine_Run_UnorderedDayIsDropped(t *testing.T) {
	provider := &stubProvider{
		dates: []string{"2024-01-02"},
		ticks: map[string][]*domain.Tick{
			"000001.SZ|2024-01-02": {
				tickAt(t, "000001.SZ", "2024-01-02 10:00:00", "10"),
				tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10.05"),
			},
		},
		prevCloses: map[string]decimal.Decimal{
			"000001.SZ|2024-01-02": d("9.90"),
		},
	}
	signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}

	eng, err := New(baseConfig(), provider, signal, mockLogger{})
	require.NoError(t, err)
	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.DayErrors, 1)
	assert.Contains(t, report.DayErrors[0].Err, ports.ErrUnorderedData.Error())
	assert.Equal(t, 0, report.ThreeLayerStats.RawSignals.Opens, "no tick from a corrupt day may reach the funnel")
}

func TestEngine_Run_LiquidateAtEnd(t *testing.T) {
	provider := &stubProvider{
		dates: []string{"2024-01-02"},
		ticks: map[string][]*domain.Tick{
			"000001.SZ|2024-01-02": {
				tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10"),
				tickAt(t, "000001.SZ", "2024-01-02 15:00:00", "10.20"),
			},
		},
		prevCloses: map[string]decimal.Decimal{
			"000001.SZ|2024-01-02": d("9.90"),
		},
	}

	t.Run("enabled", func(t *testing.T) {
		opened := false
		signal := &mockSignal{openFn: func(*domain.Tick) bool {
			if opened {
				return false
			}
			opened = true
			return true
		}}
		cfg := baseConfig()
		cfg.EndDate = "2024-01-02"
		cfg.LiquidateAtEnd = true
		eng, err := New(cfg, provider, signal, mockLogger{})
		require.NoError(t, err)

		report, err := eng.Run(context.Background())
		require.NoError(t, err)

		require.Len(t, report.T1Trades, 1)
		assert.Equal(t, domain.ExitEndOfDay, report.T1Trades[0].ExitReason)
		assert.True(t, report.T1Trades[0].ExitPrice.Equal(d("10.20")))
		assert.True(t, report.TradeLayer.FinalCash.Equal(report.TradeLayer.FinalEquity),
			"after liquidation nothing is left to mark to market")
	})

	t.Run("disabled keeps the position open", func(t *testing.T) {
		opened := false
		signal := &mockSignal{openFn: func(*domain.Tick) bool {
			if opened {
				return false
			}
			opened = true
			return true
		}}
		cfg := baseConfig()
		cfg.EndDate = "2024-01-02"
		cfg.LiquidateAtEnd = false
		eng, err := New(cfg, provider, signal, mockLogger{})
		require.NoError(t, err)

		report, err := eng.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, report.TradeLayer.TotalTrades, "open trades do not count as closed")
		require.Len(t, report.T1Trades, 1)
		assert.Empty(t, report.T1Trades[0].ExitReason)
		// 100 shares at the 10.20 close on top of remaining cash.
		assert.True(t, report.TradeLayer.FinalEquity.Equal(report.TradeLayer.FinalCash.Add(d("1020"))))
	})
}

func TestEngine_Run_Cancellation(t *testing.T) {
	provider := &stubProvider{
		dates: []string{"2024-01-02", "2024-01-03"},
		ticks: map[string][]*domain.Tick{
			"000001.SZ|2024-01-02": {tickAt(t, "000001.SZ", "2024-01-02 09:30:00", "10")},
			"000001.SZ|2024-01-03": {tickAt(t, "000001.SZ", "2024-01-03 09:30:00", "10")},
		},
	}
	signal := &mockSignal{openFn: func(*domain.Tick) bool { return true }}

	eng, err := New(baseConfig(), provider, signal, mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := eng.Run(ctx)
	require.NoError(t, err, "cancellation still yields a report")
	assert.Equal(t, 0, report.ThreeLayerStats.RawSignals.Opens)
	assert.Empty(t, report.EquityCurve)
}
