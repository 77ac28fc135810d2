package strategies

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"tickreplay/internal/ports"
)

// Params is the loose parameter bag carried by the run config. Each
// strategy constructor pulls and validates the keys it cares about.
type Params map[string]string

func (p Params) decimalOr(key string, def string) (decimal.Decimal, error) {
	v, ok := p[key]
	if !ok || v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parameter %s: %w", key, err)
	}
	return d, nil
}

func (p Params) intOr(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return n, nil
}

// New builds a signal generator by name. Unknown names fail fast so a
// mistyped strategy never replays silently as a no-op.
func New(name string, params Params, logger ports.Logger) (ports.SignalGenerator, error) {
	switch name {
	case "opening_range_breakout":
		return NewOpeningRangeBreakout(params, logger)
	case "dip_buyer":
		return NewDipBuyer(params, logger)
	case "noop":
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ports.ErrConfigurationError, name)
	}
}
