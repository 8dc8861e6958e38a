// Package datastore provides the sequential price cursor and the stores it reads from.
package datastore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one immutable entry of the historical series, ordered by Index.
type PricePoint struct {
	Index     uint64
	Timestamp time.Time // zero when the source carries no usable timestamp
	Price     decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Volume    decimal.Decimal
}

// Candle is the record stored per index: {open,high,low,close,volume,timestamp}.
type Candle struct {
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Timestamp string  `json:"timestamp"`
}

// ToPoint validates the candle and converts it into a PricePoint at index.
func (c Candle) ToPoint(index uint64) (PricePoint, error) {
	if c.Close <= 0 {
		return PricePoint{}, fmt.Errorf("record %d has non-positive close %v", index, c.Close)
	}
	ts, _ := parseTimestamp(c.Timestamp)
	return PricePoint{
		Index:     index,
		Timestamp: ts,
		Price:     decimal.NewFromFloat(c.Close),
		Open:      decimal.NewFromFloat(c.Open),
		High:      decimal.NewFromFloat(c.High),
		Low:       decimal.NewFromFloat(c.Low),
		Volume:    decimal.NewFromFloat(c.Volume),
	}, nil
}

// parseTimestamp accepts unix seconds (integer or fractional), RFC3339 and
// "2006-01-02 15:04:05". Anything else yields the zero time.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * 1e9)
		return time.Unix(whole, nanos).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse time '%s' with any known format", s)
}
