package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LotSize is the minimum tradable unit; executable share counts are always
// rounded down to a multiple of it.
const LotSize = 100

var bpsDivisor = decimal.NewFromInt(10000)

// CostConfig holds the immutable fee schedule for one backtest run.
// All rates are fractions (0.0003 == 3 bps) except SlippageBps, which is
// quoted in basis points to match broker conventions.
type CostConfig struct {
	CommissionRate  decimal.Decimal // per-side commission, e.g. 0.0003
	MinCommission   decimal.Decimal // commission floor per order, e.g. 5.00
	StampDutyRate   decimal.Decimal // sell side only, e.g. 0.001
	TransferFeeRate decimal.Decimal // per-side transfer fee, e.g. 0.00002
	SlippageBps     decimal.Decimal // assumed slippage in basis points
}

// DefaultCostConfig returns the standard A-share retail fee schedule.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		CommissionRate:  decimal.RequireFromString("0.0003"),
		MinCommission:   decimal.RequireFromString("5"),
		StampDutyRate:   decimal.RequireFromString("0.001"),
		TransferFeeRate: decimal.RequireFromString("0.00002"),
		SlippageBps:     decimal.RequireFromString("2"),
	}
}

// CostModel converts (quantity, price, side) into total cash cost or net
// proceeds. Pure and deterministic: identical inputs always produce
// identical outputs, all arithmetic in decimal so runs balance to the cent.
type CostModel struct {
	cfg CostConfig
}

// NewCostModel validates the fee schedule and returns a cost model.
// Nonsensical rates fail here, before any tick is processed.
func NewCostModel(cfg CostConfig) (*CostModel, error) {
	one := decimal.NewFromInt(1)
	switch {
	case cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThanOrEqual(one):
		return nil, fmt.Errorf("commission rate %s must be in [0, 1)", cfg.CommissionRate)
	case cfg.MinCommission.IsNegative():
		return nil, fmt.Errorf("minimum commission %s cannot be negative", cfg.MinCommission)
	case cfg.StampDutyRate.IsNegative() || cfg.StampDutyRate.GreaterThanOrEqual(one):
		return nil, fmt.Errorf("stamp duty rate %s must be in [0, 1)", cfg.StampDutyRate)
	case cfg.TransferFeeRate.IsNegative() || cfg.TransferFeeRate.GreaterThanOrEqual(one):
		return nil, fmt.Errorf("transfer fee rate %s must be in [0, 1)", cfg.TransferFeeRate)
	case cfg.SlippageBps.IsNegative() || cfg.SlippageBps.GreaterThanOrEqual(bpsDivisor):
		return nil, fmt.Errorf("slippage %s bps must be in [0, 10000)", cfg.SlippageBps)
	}
	return &CostModel{cfg: cfg}, nil
}

// commonFees returns commission + transfer fee + slippage on a notional.
func (m *CostModel) commonFees(notional decimal.Decimal) decimal.Decimal {
	commission := decimal.Max(notional.Mul(m.cfg.CommissionRate), m.cfg.MinCommission)
	transfer := notional.Mul(m.cfg.TransferFeeRate)
	slippage := notional.Mul(m.cfg.SlippageBps).Div(bpsDivisor)
	return commission.Add(transfer).Add(slippage)
}

// BuyCost returns the total cash debited for buying qty shares at price,
// and the fee portion of it. No stamp duty on buys.
func (m *CostModel) BuyCost(qty int64, price decimal.Decimal) (total, fees decimal.Decimal) {
	notional := price.Mul(decimal.NewFromInt(qty))
	fees = m.commonFees(notional)
	return notional.Add(fees), fees
}

// SellProceeds returns the net cash credited for selling qty shares at
// price, and the total fees deducted (including sell-side stamp duty).
func (m *CostModel) SellProceeds(qty int64, price decimal.Decimal) (net, fees decimal.Decimal) {
	notional := price.Mul(decimal.NewFromInt(qty))
	fees = m.commonFees(notional).Add(notional.Mul(m.cfg.StampDutyRate))
	return notional.Sub(fees), fees
}

// RoundLot rounds a share count down to the nearest lot. This is a hard
// exchange rule, not an approximation.
func RoundLot(shares int64) int64 {
	if shares < 0 {
		return 0
	}
	return shares - shares%LotSize
}

// MaxBuyableShares returns the largest lot-rounded quantity whose notional
// fits the budget. Fees may still push the final cost past the budget; the
// funnel checks affordability against full cash after calling BuyCost.
func (m *CostModel) MaxBuyableShares(budget, price decimal.Decimal) int64 {
	if !price.IsPositive() || !budget.IsPositive() {
		return 0
	}
	return RoundLot(budget.Div(price).IntPart())
}

// Assumptions renders the fee schedule for the result's cost_assumptions block.
func (m *CostModel) Assumptions() map[string]string {
	return map[string]string{
		"commission_rate":   m.cfg.CommissionRate.String(),
		"min_commission":    m.cfg.MinCommission.String(),
		"stamp_duty_rate":   m.cfg.StampDutyRate.String(),
		"transfer_fee_rate": m.cfg.TransferFeeRate.String(),
		"slippage_bps":      m.cfg.SlippageBps.String(),
		"lot_size":          fmt.Sprintf("%d", LotSize),
	}
}
