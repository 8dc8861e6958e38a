// Package benchmark computes the buy-and-hold baseline a run is judged against.
package benchmark

import (
	"errors"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Result is the outcome of putting the whole initial balance into the asset
// at the first price and holding it to the last.
type Result struct {
	FirstPrice decimal.Decimal `json:"first_price"`
	LastPrice  decimal.Decimal `json:"last_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	FinalValue decimal.Decimal `json:"final_value"`
	Profit     decimal.Decimal `json:"profit"`
	ReturnPct  decimal.Decimal `json:"return_pct"`
}

// ErrNoPrice is returned when the first price is unknown.
var ErrNoPrice = errors.New("benchmark: first price must be positive")

// BuyAndHold values initial held from first to last.
func BuyAndHold(initial, first, last decimal.Decimal) (Result, error) {
	if !first.IsPositive() {
		return Result{}, ErrNoPrice
	}
	qty := initial.Div(first)
	final := qty.Mul(last)
	res := Result{
		FirstPrice: first,
		LastPrice:  last,
		Quantity:   qty,
		FinalValue: final,
		Profit:     final.Sub(initial),
	}
	if initial.IsPositive() {
		res.ReturnPct = res.Profit.Div(initial).Mul(hundred)
	}
	return res, nil
}

// Excess is strategyReturnPct minus the buy-and-hold return, in percentage points.
func (r Result) Excess(strategyReturnPct decimal.Decimal) decimal.Decimal {
	return strategyReturnPct.Sub(r.ReturnPct)
}
