package strategies

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"
)

// rollingMean is a fixed-window simple moving average over tick prices.
type rollingMean struct {
	window []decimal.Decimal
	size   int
	next   int
	filled bool
	sum    decimal.Decimal
}

func newRollingMean(size int) *rollingMean {
	return &rollingMean{window: make([]decimal.Decimal, size), size: size}
}

func (r *rollingMean) push(price decimal.Decimal) {
	if r.filled {
		r.sum = r.sum.Sub(r.window[r.next])
	}
	r.window[r.next] = price
	r.sum = r.sum.Add(price)
	r.next++
	if r.next == r.size {
		r.next = 0
		r.filled = true
	}
}

func (r *rollingMean) mean() (decimal.Decimal, bool) {
	if !r.filled {
		return decimal.Zero, false
	}
	return r.sum.Div(decimal.NewFromInt(int64(r.size))), true
}

// DipBuyer signals an open when price drops a configured fraction below its
// rolling intraday mean — a simple mean-reversion entry.
type DipBuyer struct {
	logger ports.Logger
	window int
	dipPct decimal.Decimal
	means  map[string]*rollingMean
	fired  map[string]bool
}

// NewDipBuyer builds the strategy from run-config parameters:
// window (default 120 ticks) and dip_pct (default 0.01).
func NewDipBuyer(params Params, logger ports.Logger) (*DipBuyer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	window, err := params.intOr("window", 120)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}
	dipPct, err := params.decimalOr("dip_pct", "0.01")
	if err != nil {
		return nil, err
	}
	if !dipPct.IsPositive() {
		return nil, fmt.Errorf("dip_pct must be positive")
	}
	return &DipBuyer{
		logger: logger,
		window: window,
		dipPct: dipPct,
		means:  make(map[string]*rollingMean),
		fired:  make(map[string]bool),
	}, nil
}

func (s *DipBuyer) Name() string { return "dip_buyer" }

// ShouldOpen fires at most once per symbol-day, on the first tick trading
// below mean * (1 - dip_pct) once the rolling window has filled.
func (s *DipBuyer) ShouldOpen(ctx context.Context, tick *domain.Tick) bool {
	rm, ok := s.means[tick.Symbol]
	if !ok {
		rm = newRollingMean(s.window)
		s.means[tick.Symbol] = rm
	}
	rm.push(tick.Price)
	if s.fired[tick.Symbol] {
		return false
	}
	mean, ready := rm.mean()
	if !ready {
		return false
	}
	trigger := mean.Mul(decimal.NewFromInt(1).Sub(s.dipPct))
	if tick.Price.LessThan(trigger) {
		s.fired[tick.Symbol] = true
		s.logger.Debug(ctx, "dip entry", map[string]interface{}{
			"symbol":  tick.Symbol,
			"price":   tick.Price.String(),
			"trigger": trigger.String(),
		})
		return true
	}
	return false
}

// ResetDaily clears the rolling windows and the once-per-day latches.
func (s *DipBuyer) ResetDaily() {
	s.means = make(map[string]*rollingMean)
	s.fired = make(map[string]bool)
}
