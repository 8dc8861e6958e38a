// Copyright (c) 2024 OBI-Scalp-Bot
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package indicator

import "math"

// VolatilityCalculator tracks the exponentially weighted mean and variance of
// simple price returns. alpha is the weight given to the newest return.
type VolatilityCalculator struct {
	alpha       float64
	prevPrice   float64
	ewmaReturn  float64
	ewmVariance float64
	initialized bool
}

// NewVolatilityCalculator creates a calculator with the given weight.
func NewVolatilityCalculator(alpha float64) *VolatilityCalculator {
	return &VolatilityCalculator{alpha: alpha}
}

// Update feeds the next price and returns the EWMA of returns and the EWM
// standard deviation. The first price only seeds the calculator.
func (vc *VolatilityCalculator) Update(price float64) (ewma float64, stdDev float64) {
	if !vc.initialized || vc.prevPrice == 0 {
		vc.prevPrice = price
		vc.initialized = true
		return vc.ewmaReturn, math.Sqrt(vc.ewmVariance)
	}

	ret := (price - vc.prevPrice) / vc.prevPrice
	vc.ewmaReturn = vc.alpha*ret + (1-vc.alpha)*vc.ewmaReturn
	// Zero-mean variance, RiskMetrics style.
	vc.ewmVariance = (1-vc.alpha)*vc.ewmVariance + vc.alpha*ret*ret
	vc.prevPrice = price

	return vc.ewmaReturn, math.Sqrt(vc.ewmVariance)
}

// VolatilityState is the persisted form of a VolatilityCalculator.
type VolatilityState struct {
	PrevPrice   float64 `json:"prev_price"`
	EWMAReturn  float64 `json:"ewma_return"`
	EWMVariance float64 `json:"ewm_variance"`
	Initialized bool    `json:"initialized"`
}

// State returns the calculator's running values.
func (vc *VolatilityCalculator) State() VolatilityState {
	return VolatilityState{
		PrevPrice:   vc.prevPrice,
		EWMAReturn:  vc.ewmaReturn,
		EWMVariance: vc.ewmVariance,
		Initialized: vc.initialized,
	}
}

// Restore continues from s. The weight is not part of the state.
func (vc *VolatilityCalculator) Restore(s VolatilityState) {
	vc.prevPrice = s.PrevPrice
	vc.ewmaReturn = s.EWMAReturn
	vc.ewmVariance = s.EWMVariance
	vc.initialized = s.Initialized
}

// EWMAReturn returns the current weighted mean return.
func (vc *VolatilityCalculator) EWMAReturn() float64 {
	return vc.ewmaReturn
}

// StdDev returns the current weighted standard deviation of returns.
func (vc *VolatilityCalculator) StdDev() float64 {
	if !vc.initialized || vc.ewmVariance < 0 {
		return 0
	}
	return math.Sqrt(vc.ewmVariance)
}
