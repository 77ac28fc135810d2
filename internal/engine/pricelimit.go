package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
	"tickreplay/internal/ports"
)

var (
	one = decimal.NewFromInt(1)

	limitMain    = decimal.RequireFromString("0.10")
	limitGrowth  = decimal.RequireFromString("0.20")
	limitBeijing = decimal.RequireFromString("0.30")

	// Conservative buffers: treat "near the band" as at the band, since a
	// fill that close to the limit is unrealistic in replay.
	buyBuffer  = decimal.RequireFromString("0.995")
	sellBuffer = decimal.RequireFromString("1.005")
)

// ClassifyBoard maps a symbol to its exchange board.
// Codes starting 30x trade on ChiNext, 68x on STAR, and the .BJ suffix marks
// the Beijing exchange; everything else is main board.
func ClassifyBoard(symbol string) domain.BoardClass {
	code, _, _ := strings.Cut(symbol, ".")
	if strings.HasSuffix(strings.ToUpper(symbol), ".BJ") {
		return domain.BoardBeijing
	}
	switch {
	case strings.HasPrefix(code, "30"):
		return domain.BoardChiNext
	case strings.HasPrefix(code, "68"):
		return domain.BoardSTAR
	default:
		return domain.BoardMain
	}
}

// LimitPercent returns the daily price-limit fraction for a symbol.
func LimitPercent(symbol string) decimal.Decimal {
	switch ClassifyBoard(symbol) {
	case domain.BoardChiNext, domain.BoardSTAR:
		return limitGrowth
	case domain.BoardBeijing:
		return limitBeijing
	default:
		return limitMain
	}
}

// LimitGate rejects orders that would cross a symbol's daily price-limit
// band. It never returns an error: the funnel counts the rejection and
// moves on.
//
// When the previous close is unknown the gate fails open (allows the trade).
// Each fail-open pass is counted and logged so the policy is visible in the
// run output rather than silently admitting trades near market open.
type LimitGate struct {
	logger   ports.Logger
	failOpen int
}

// NewLimitGate creates a gate for one backtest run.
func NewLimitGate(logger ports.Logger) *LimitGate {
	return &LimitGate{logger: logger}
}

// AllowBuy reports whether a buy at price is clear of the limit-up band.
func (g *LimitGate) AllowBuy(ctx context.Context, symbol string, price, prevClose decimal.Decimal) bool {
	if !prevClose.IsPositive() {
		g.recordFailOpen(ctx, symbol)
		return true
	}
	limitUp := prevClose.Mul(one.Add(LimitPercent(symbol)))
	return price.LessThan(limitUp.Mul(buyBuffer))
}

// AllowSell reports whether a sell at price is clear of the limit-down band.
func (g *LimitGate) AllowSell(ctx context.Context, symbol string, price, prevClose decimal.Decimal) bool {
	if !prevClose.IsPositive() {
		g.recordFailOpen(ctx, symbol)
		return true
	}
	limitDown := prevClose.Mul(one.Sub(LimitPercent(symbol)))
	return price.GreaterThan(limitDown.Mul(sellBuffer))
}

func (g *LimitGate) recordFailOpen(ctx context.Context, symbol string) {
	g.failOpen++
	g.logger.Warn(ctx, "price-limit check skipped: previous close unknown",
		map[string]interface{}{"symbol": symbol})
}

// FailOpenCount reports how many limit checks were skipped for lack of a
// previous close.
func (g *LimitGate) FailOpenCount() int {
	return g.failOpen
}
