package advisory

import (
	"fmt"
	"strings"

	"github.com/your-org/dca-drawdown-sim/internal/indicator"
)

// TrendLabel classifies the last price change.
func TrendLabel(changePct float64) string {
	switch {
	case changePct > 2:
		return "STRONG UPTREND"
	case changePct > 0.5:
		return "UPTREND"
	case changePct < -2:
		return "STRONG DOWNTREND"
	case changePct < -0.5:
		return "DOWNTREND"
	}
	return "SIDEWAYS"
}

// VolatilityLabel classifies the absolute price standard deviation.
func VolatilityLabel(stdDev float64) string {
	switch {
	case stdDev > 2000:
		return "VERY HIGH"
	case stdDev > 1000:
		return "HIGH"
	case stdDev > 500:
		return "MEDIUM"
	}
	return "LOW"
}

func rsiLabel(rsi float64) string {
	switch {
	case rsi > 70:
		return "OVERBOUGHT"
	case rsi < 30:
		return "OVERSOLD"
	}
	return "NEUTRAL"
}

func macdLabel(macd float64) string {
	if macd > 0 {
		return "BULLISH"
	}
	return "BEARISH"
}

const instructions = `Reply with exactly one JSON object and nothing else:
{
  "action": "BUY|SELL|HOLD|STRONG_BUY|STRONG_SELL",
  "confidence": 0.0-1.0,
  "reasoning": "short explanation",
  "risk_level": "LOW|MEDIUM|HIGH|VERY_HIGH",
  "price_prediction": 45000.50
}`

// BuildPrompt renders mc as the oracle prompt.
func BuildPrompt(mc indicator.MarketContext) string {
	history := make([]string, len(mc.PreviousPrices))
	for i, p := range mc.PreviousPrices {
		history[i] = fmt.Sprintf("%d. $%.2f", i+1, p)
	}
	ind := mc.Indicators

	var b strings.Builder
	b.WriteString("You are a Bitcoin trading analyst. Evaluate the market below and recommend one action.\n\n")
	fmt.Fprintf(&b, "PRICE: $%.2f\n", mc.CurrentPrice)
	fmt.Fprintf(&b, "CHANGE: $%.2f (%.2f%%)\n", mc.Change, mc.ChangePct)
	fmt.Fprintf(&b, "TREND: %s\n\n", TrendLabel(mc.ChangePct))
	fmt.Fprintf(&b, "Recent high: $%.2f\nRecent low: $%.2f\n", mc.RecentHigh, mc.RecentLow)
	fmt.Fprintf(&b, "Volume: %.2f\n", mc.Volume)
	fmt.Fprintf(&b, "Volatility: %.2f (%s)\n\n", mc.Volatility, VolatilityLabel(mc.Volatility))
	fmt.Fprintf(&b, "PRICE HISTORY (newest first): %s\n\n", strings.Join(history, ", "))
	fmt.Fprintf(&b, "Distance from high: %.2f%%\nDistance from low: %.2f%%\nPosition in range: %.1f%%\n\n",
		mc.DistanceFromHighPct(), mc.DistanceFromLowPct(), mc.RangePositionPct())
	fmt.Fprintf(&b, "INDICATORS:\n- SMA 20: $%.2f\n- RSI 14: %.1f (%s)\n- Bollinger: $%.2f / $%.2f\n- MACD: %.2f (%s)\n- Support: $%.2f\n- Resistance: $%.2f\n- Realized volatility: %.4f\n- EWMA volatility: %.4f\n\n",
		ind.SMA20, ind.RSI14, rsiLabel(ind.RSI14), ind.BollingerUpper, ind.BollingerLower,
		ind.MACD, macdLabel(ind.MACD), ind.Support, ind.Resistance, ind.RealizedVol, ind.EWMAVol)
	if !mc.Timestamp.IsZero() {
		fmt.Fprintf(&b, "TIME: %s\n\n", mc.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	b.WriteString(instructions)
	return b.String()
}
