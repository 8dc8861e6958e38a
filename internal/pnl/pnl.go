// Package pnl computes equity, realized and unrealized profit and the running
// maximum drawdown of a simulated account.
package pnl

import (
	"github.com/shopspring/decimal"
	"github.com/your-org/dca-drawdown-sim/internal/position"
)

// Calculator accumulates realized PnL and tracks the equity high-water mark.
type Calculator struct {
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	PeakEquity     decimal.Decimal `json:"peak_equity"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
}

// NewCalculator creates a new PnL Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// UpdateRealizedPnL adds the profit (or loss, when negative) of a closed trade.
func (c *Calculator) UpdateRealizedPnL(pnl decimal.Decimal) {
	c.RealizedPnL = c.RealizedPnL.Add(pnl)
}

// ObserveEquity records an equity sample and returns the current drawdown
// from the high-water mark as a fraction. MaxDrawdownPct only ever grows.
func (c *Calculator) ObserveEquity(equity decimal.Decimal) decimal.Decimal {
	if equity.GreaterThan(c.PeakEquity) {
		c.PeakEquity = equity
	}
	if !c.PeakEquity.IsPositive() {
		return decimal.Zero
	}
	dd := c.PeakEquity.Sub(equity).Div(c.PeakEquity)
	if dd.GreaterThan(c.MaxDrawdownPct) {
		c.MaxDrawdownPct = dd
	}
	return dd
}

// Equity is fiat plus crypto marked at price.
func Equity(fiat, crypto, price decimal.Decimal) decimal.Decimal {
	return fiat.Add(crypto.Mul(price))
}

// CalculateUnrealizedPnL marks open orders at price against their cost.
func CalculateUnrealizedPnL(open []position.BuyOrder, price decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range open {
		sum = sum.Add(o.Quantity.Mul(price).Sub(o.InvestedAmount))
	}
	return sum
}
