package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"tickreplay/internal/domain"
)

var tickHeader = []string{"symbol", "ts_ms", "price", "volume", "amount", "bid_price", "ask_price", "bid_size", "ask_size"}

// WriteTicksToCSV dumps ticks in the import file format.
func WriteTicksToCSV(ticks []*domain.Tick, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write(tickHeader)
	for _, t := range ticks {
		writer.Write([]string{
			t.Symbol,
			strconv.FormatInt(t.Time.UnixMilli(), 10),
			t.Price.String(),
			strconv.FormatInt(t.Volume, 10),
			t.Amount.String(),
			t.BidPrice.String(),
			t.AskPrice.String(),
			strconv.FormatInt(t.BidSize, 10),
			strconv.FormatInt(t.AskSize, 10),
		})
	}
	return writer.Error()
}

// ReadTicksFromCSV loads a tick file written in the import format.
// The header row is required; prices parse as decimals, never floats.
func ReadTicksFromCSV(filename string) ([]*domain.Tick, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	ticks := make([]*domain.Tick, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(tickHeader) {
			return nil, fmt.Errorf("%s row %d: expected %d columns, got %d", filename, i+2, len(tickHeader), len(rec))
		}
		tick, err := tickFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filename, i+2, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

func tickFromRecord(rec []string) (*domain.Tick, error) {
	tsMs, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	price, err := decimal.NewFromString(rec[2])
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	volume, err := strconv.ParseInt(rec[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	amount, err := decimal.NewFromString(rec[4])
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	bidPrice, err := decimal.NewFromString(rec[5])
	if err != nil {
		return nil, fmt.Errorf("bid price: %w", err)
	}
	askPrice, err := decimal.NewFromString(rec[6])
	if err != nil {
		return nil, fmt.Errorf("ask price: %w", err)
	}
	bidSize, err := strconv.ParseInt(rec[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bid size: %w", err)
	}
	askSize, err := strconv.ParseInt(rec[8], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ask size: %w", err)
	}

	tick := domain.NewTickFromMillis(rec[0], tsMs, price)
	tick.Volume = volume
	tick.Amount = amount
	tick.BidPrice = bidPrice
	tick.AskPrice = askPrice
	tick.BidSize = bidSize
	tick.AskSize = askSize
	return tick, nil
}
