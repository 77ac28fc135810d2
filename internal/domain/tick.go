package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single trade tick as delivered by a historical provider.
// Volume and Amount are cumulative for the day, matching the upstream feed.
type Tick struct {
	Symbol   string          // e.g. "000001.SZ"
	Time     time.Time       // exchange timestamp
	Price    decimal.Decimal // last trade price
	Volume   int64           // cumulative shares traded today
	Amount   decimal.Decimal // cumulative turnover today
	BidPrice decimal.Decimal // best bid
	AskPrice decimal.Decimal // best ask
	BidSize  int64
	AskSize  int64
}

// Date returns the tick's trading date in the canonical layout.
func (t *Tick) Date() string {
	return t.Time.Format(TradeDate)
}

// NewTickFromMillis builds a Tick from an epoch-milliseconds timestamp,
// the wire format used by tick stores.
func NewTickFromMillis(symbol string, millis int64, price decimal.Decimal) *Tick {
	return &Tick{
		Symbol: symbol,
		Time:   time.UnixMilli(millis).UTC(),
		Price:  price,
	}
}
