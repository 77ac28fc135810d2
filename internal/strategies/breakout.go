package strategies

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"
)

// orState is the per-symbol intraday state of the breakout strategy.
type orState struct {
	seen  int
	high  decimal.Decimal
	fired bool
}

// OpeningRangeBreakout signals an open when price breaks above the high of
// the day's first N ticks by a configured margin, at most once per symbol
// per day. It sees only prices — positions, cash and exchange constraints
// are the funnel's business.
type OpeningRangeBreakout struct {
	logger      ports.Logger
	rangeTicks  int
	breakoutPct decimal.Decimal
	state       map[string]*orState
}

// NewOpeningRangeBreakout builds the strategy from run-config parameters:
// range_ticks (default 60) and breakout_pct (default 0.005).
func NewOpeningRangeBreakout(params Params, logger ports.Logger) (*OpeningRangeBreakout, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	rangeTicks, err := params.intOr("range_ticks", 60)
	if err != nil {
		return nil, err
	}
	if rangeTicks <= 0 {
		return nil, fmt.Errorf("range_ticks must be positive, got %d", rangeTicks)
	}
	breakoutPct, err := params.decimalOr("breakout_pct", "0.005")
	if err != nil {
		return nil, err
	}
	if breakoutPct.IsNegative() {
		return nil, fmt.Errorf("breakout_pct cannot be negative")
	}
	return &OpeningRangeBreakout{
		logger:      logger,
		rangeTicks:  rangeTicks,
		breakoutPct: breakoutPct,
		state:       make(map[string]*orState),
	}, nil
}

func (s *OpeningRangeBreakout) Name() string { return "opening_range_breakout" }

// ShouldOpen accumulates the opening range, then fires once on the first
// tick that clears range high * (1 + breakout_pct).
func (s *OpeningRangeBreakout) ShouldOpen(ctx context.Context, tick *domain.Tick) bool {
	st, ok := s.state[tick.Symbol]
	if !ok {
		st = &orState{}
		s.state[tick.Symbol] = st
	}
	if st.seen < s.rangeTicks {
		st.seen++
		if tick.Price.GreaterThan(st.high) {
			st.high = tick.Price
		}
		return false
	}
	if st.fired || !st.high.IsPositive() {
		return false
	}
	trigger := st.high.Mul(decimal.NewFromInt(1).Add(s.breakoutPct))
	if tick.Price.GreaterThan(trigger) {
		st.fired = true
		s.logger.Debug(ctx, "opening range breakout", map[string]interface{}{
			"symbol":  tick.Symbol,
			"price":   tick.Price.String(),
			"trigger": trigger.String(),
		})
		return true
	}
	return false
}

// ResetDaily discards the opening ranges at end-of-day settlement.
func (s *OpeningRangeBreakout) ResetDaily() {
	s.state = make(map[string]*orState)
}
