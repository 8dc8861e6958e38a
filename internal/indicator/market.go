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

import (
	"math"
	"time"
)

// Bar is one OHLCV sample as the indicators see it.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Range is the high-low spread of the bar relative to its close.
func (b Bar) Range() float64 {
	if b.Close == 0 {
		return 0
	}
	return (b.High - b.Low) / b.Close
}

// Closes extracts closing prices, oldest first.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation around the mean.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stdDevAround(xs, Mean(xs))
}

func stdDevAround(xs []float64, center float64) float64 {
	variance := 0.0
	for _, x := range xs {
		variance += (x - center) * (x - center)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

// tail returns the last n elements, or all of them when fewer.
func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// SMA averages the last period prices, falling back to every price when
// fewer are available.
func SMA(prices []float64, period int) float64 {
	return Mean(tail(prices, period))
}

// RSI is a simple-average relative strength index over the last period
// changes. It is neutral (50) until period prices exist.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period {
		return 50
	}
	var gains, losses float64
	n := period
	if n > len(prices)-1 {
		n = len(prices) - 1
	}
	for i := 1; i <= n; i++ {
		change := prices[len(prices)-i] - prices[len(prices)-i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// Bollinger returns the bands at two standard deviations around sma over the
// last period prices, or sma +/- 2% when fewer are available.
func Bollinger(prices []float64, sma float64, period int) (upper, lower float64) {
	if len(prices) < period {
		return sma * 1.02, sma * 0.98
	}
	sd := stdDevAround(tail(prices, period), sma)
	return sma + 2*sd, sma - 2*sd
}

// EMA runs an exponential average across every price, seeded with the first.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	k := 2 / (float64(period) + 1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

// MACD is EMA12 minus EMA26, zero until 26 prices exist.
func MACD(prices []float64) float64 {
	if len(prices) < 26 {
		return 0
	}
	return EMA(prices, 12) - EMA(prices, 26)
}

// SupportResistance returns the min and max of the last period prices.
func SupportResistance(prices []float64, period int) (support, resistance float64) {
	recent := tail(prices, period)
	if len(recent) == 0 {
		return 0, 0
	}
	support, resistance = recent[0], recent[0]
	for _, p := range recent[1:] {
		support = math.Min(support, p)
		resistance = math.Max(resistance, p)
	}
	return support, resistance
}

// CalculateRealizedVolatility is the standard deviation of log returns.
func CalculateRealizedVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	return StdDev(returns)
}

// Indicators is the classic indicator set computed over a close series.
type Indicators struct {
	SMA20          float64 `json:"sma_20"`
	RSI14          float64 `json:"rsi_14"`
	BollingerUpper float64 `json:"bollinger_upper"`
	BollingerLower float64 `json:"bollinger_lower"`
	MACD           float64 `json:"macd"`
	Support        float64 `json:"support"`
	Resistance     float64 `json:"resistance"`
	RealizedVol    float64 `json:"realized_volatility"`
	EWMAVol        float64 `json:"ewma_volatility"`
}

// Calculate computes Indicators over prices, oldest first.
func Calculate(prices []float64) Indicators {
	ind := Indicators{
		SMA20:       SMA(prices, 20),
		RSI14:       RSI(prices, 14),
		MACD:        MACD(prices),
		RealizedVol: CalculateRealizedVolatility(tail(prices, 20)),
	}
	ind.BollingerUpper, ind.BollingerLower = Bollinger(prices, ind.SMA20, 20)
	ind.Support, ind.Resistance = SupportResistance(prices, 50)
	return ind
}

// MarketContext summarizes the recent market around the current bar.
type MarketContext struct {
	CurrentPrice   float64    `json:"current_price"`
	PreviousPrices []float64  `json:"previous_prices"` // newest first
	Volume         float64    `json:"volume"`
	Timestamp      time.Time  `json:"timestamp"`
	Change         float64    `json:"change"`
	ChangePct      float64    `json:"change_pct"`
	RecentHigh     float64    `json:"recent_high"`
	RecentLow      float64    `json:"recent_low"`
	Volatility     float64    `json:"volatility"`
	Indicators     Indicators `json:"indicators"`
}

const contextDepth = 20

// NewMarketContext builds a context from the current bar and its history,
// oldest first. The history does not include current.
func NewMarketContext(current Bar, history []Bar) MarketContext {
	mc := MarketContext{
		CurrentPrice: current.Close,
		Volume:       current.Volume,
		Timestamp:    current.Timestamp,
		RecentHigh:   current.High,
		RecentLow:    current.Low,
	}

	for i := len(history) - 1; i >= 0 && len(mc.PreviousPrices) < contextDepth; i-- {
		mc.PreviousPrices = append(mc.PreviousPrices, history[i].Close)
	}
	if len(history) > 0 {
		prev := history[len(history)-1].Close
		mc.Change = current.Close - prev
		if prev != 0 {
			mc.ChangePct = mc.Change / prev * 100
		}
	}
	for _, b := range history {
		mc.RecentHigh = math.Max(mc.RecentHigh, b.High)
		mc.RecentLow = math.Min(mc.RecentLow, b.Low)
	}
	mc.Volatility = StdDev(mc.PreviousPrices)
	mc.Indicators = Calculate(append(Closes(history), current.Close))
	return mc
}

// DistanceFromHighPct is how far below the recent high the price sits.
func (mc MarketContext) DistanceFromHighPct() float64 {
	if mc.RecentHigh == 0 {
		return 0
	}
	return (mc.RecentHigh - mc.CurrentPrice) / mc.RecentHigh * 100
}

// DistanceFromLowPct is how far above the recent low the price sits.
func (mc MarketContext) DistanceFromLowPct() float64 {
	if mc.RecentLow == 0 {
		return 0
	}
	return (mc.CurrentPrice - mc.RecentLow) / mc.RecentLow * 100
}

// RangePositionPct places the price inside the recent range, 0 at the low
// and 100 at the high.
func (mc MarketContext) RangePositionPct() float64 {
	span := mc.RecentHigh - mc.RecentLow
	if span <= 0 {
		return 50
	}
	return (mc.CurrentPrice - mc.RecentLow) / span * 100
}
