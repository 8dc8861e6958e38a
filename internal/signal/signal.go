// Package signal derives the technical trading signal from a rolling window
// of price bars.
package signal

import (
	"fmt"
	"strings"

	"github.com/your-org/dca-drawdown-sim/internal/datastore"
	"github.com/your-org/dca-drawdown-sim/internal/indicator"
	"github.com/your-org/dca-drawdown-sim/pkg/ring"
)

// Action is a trading recommendation.
type Action int

const (
	// Hold recommends doing nothing.
	Hold Action = iota
	// Buy recommends a purchase.
	Buy
	// StrongBuy recommends a purchase with conviction.
	StrongBuy
	// Sell recommends closing exposure.
	Sell
	// StrongSell recommends closing exposure with conviction.
	StrongSell
)

// String returns the string representation of the Action.
func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case StrongBuy:
		return "STRONG_BUY"
	case Sell:
		return "SELL"
	case StrongSell:
		return "STRONG_SELL"
	default:
		return "HOLD"
	}
}

// ParseAction accepts the upper-case names produced by String, in any case.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HOLD":
		return Hold, nil
	case "BUY":
		return Buy, nil
	case "STRONG_BUY":
		return StrongBuy, nil
	case "SELL":
		return Sell, nil
	case "STRONG_SELL":
		return StrongSell, nil
	}
	return Hold, fmt.Errorf("unknown action %q", s)
}

// Direction collapses an action to buy (1), sell (-1) or hold (0).
func (a Action) Direction() int {
	switch a {
	case Buy, StrongBuy:
		return 1
	case Sell, StrongSell:
		return -1
	default:
		return 0
	}
}

// Strong reports whether the action is a strong variant.
func (a Action) Strong() bool {
	return a == StrongBuy || a == StrongSell
}

// Score maps the action onto -2..2.
func (a Action) Score() int {
	switch a {
	case StrongBuy:
		return 2
	case Buy:
		return 1
	case Sell:
		return -1
	case StrongSell:
		return -2
	default:
		return 0
	}
}

// Signal is one side's recommendation with its confidence in [0,1].
type Signal struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Trend compares the recent average close with the one before it.
type Trend int

const (
	TrendNeutral Trend = iota
	TrendBullish
	TrendStrongBullish
	TrendBearish
	TrendStrongBearish
)

func (t Trend) String() string {
	return [...]string{"neutral", "bullish", "strong_bullish", "bearish", "strong_bearish"}[t]
}

// Momentum counts up and down closes over the last few bars.
type Momentum int

const (
	MomentumNeutral Momentum = iota
	MomentumPositive
	MomentumStrongPositive
	MomentumNegative
	MomentumStrongNegative
)

func (m Momentum) String() string {
	return [...]string{"neutral", "positive", "strong_positive", "negative", "strong_negative"}[m]
}

// VolumeLevel compares the current volume with its recent average.
type VolumeLevel int

const (
	VolumeNormal VolumeLevel = iota
	VolumeHigh
	VolumeLow
)

func (v VolumeLevel) String() string {
	return [...]string{"normal", "high", "low"}[v]
}

// VolatilityLevel compares the current bar range with recent ranges.
type VolatilityLevel int

const (
	VolatilityNormal VolatilityLevel = iota
	VolatilityLow
	VolatilityHigh
	VolatilityVeryHigh
)

func (v VolatilityLevel) String() string {
	return [...]string{"normal", "low", "high", "very_high"}[v]
}

// Technical is the technical signal together with the readings behind it.
type Technical struct {
	Signal
	Trend      Trend
	Momentum   Momentum
	Volume     VolumeLevel
	Volatility VolatilityLevel
}

const (
	trendBars      = 10
	momentumBars   = 3
	volumeBars     = 20
	volatilityBars = 10
	ewmaAlpha      = 0.06
)

// SignalEngine keeps the bar history and evaluates each new bar against it.
// It is owned by the engine loop and not safe for concurrent use.
type SignalEngine struct {
	history *ring.RingBuffer[indicator.Bar]
	vol     *indicator.VolatilityCalculator
}

// NewSignalEngine creates an engine that remembers window bars.
func NewSignalEngine(window int) *SignalEngine {
	if window < trendBars {
		window = trendBars
	}
	return &SignalEngine{
		history: ring.NewRingBuffer[indicator.Bar](window),
		vol:     indicator.NewVolatilityCalculator(ewmaAlpha),
	}
}

// Volatility returns the state of the EWMA volatility estimate.
func (e *SignalEngine) Volatility() indicator.VolatilityState {
	return e.vol.State()
}

// RestoreVolatility replaces the EWMA volatility estimate with s.
func (e *SignalEngine) RestoreVolatility(s indicator.VolatilityState) {
	e.vol.Restore(s)
}

// BarFromPoint converts a price point, filling missing OHLC fields with the close.
func BarFromPoint(p datastore.PricePoint) indicator.Bar {
	c := p.Price.InexactFloat64()
	b := indicator.Bar{
		Timestamp: p.Timestamp,
		Open:      p.Open.InexactFloat64(),
		High:      p.High.InexactFloat64(),
		Low:       p.Low.InexactFloat64(),
		Close:     c,
		Volume:    p.Volume.InexactFloat64(),
	}
	if b.Open <= 0 {
		b.Open = c
	}
	if b.High < c {
		b.High = c
	}
	if b.Low <= 0 || b.Low > c {
		b.Low = c
	}
	return b
}

// Evaluate scores bar against the history accumulated so far and returns
// the technical signal plus the market context for the advisory oracle.
// The bar is appended to the history afterwards.
func (e *SignalEngine) Evaluate(bar indicator.Bar) (Technical, indicator.MarketContext) {
	history := e.history.Chronological()
	tech := Classify(bar, history)
	mc := indicator.NewMarketContext(bar, history)
	_, mc.Indicators.EWMAVol = e.vol.Update(bar.Close)

	e.history.Add(bar)
	return tech, mc
}

// HistoryLen returns the number of bars remembered.
func (e *SignalEngine) HistoryLen() int {
	return e.history.Len()
}

// Classify computes the technical signal for current given history, oldest first.
func Classify(current indicator.Bar, history []indicator.Bar) Technical {
	t := Technical{
		Trend:      trendOf(history),
		Momentum:   momentumOf(current, history),
		Volume:     volumeOf(current, history),
		Volatility: volatilityOf(current, history),
	}

	buy, sell := 0, 0
	switch t.Trend {
	case TrendStrongBullish:
		buy += 3
	case TrendBullish:
		buy++
	case TrendStrongBearish:
		sell += 3
	case TrendBearish:
		sell++
	}
	switch t.Momentum {
	case MomentumStrongPositive:
		buy += 2
	case MomentumPositive:
		buy++
	case MomentumStrongNegative:
		sell += 2
	case MomentumNegative:
		sell++
	}
	// High volume confirms whichever side leads.
	if t.Volume == VolumeHigh {
		if buy > sell {
			buy++
		} else if sell > buy {
			sell++
		}
	}

	switch score := buy - sell; {
	case score >= 3:
		t.Action = StrongBuy
	case score >= 1:
		t.Action = Buy
	case score <= -3:
		t.Action = StrongSell
	case score <= -1:
		t.Action = Sell
	default:
		t.Action = Hold
	}

	conf := 0.5
	switch t.Trend {
	case TrendStrongBullish, TrendStrongBearish:
		conf += 0.2
	case TrendBullish, TrendBearish:
		conf += 0.1
	}
	switch t.Momentum {
	case MomentumStrongPositive, MomentumStrongNegative:
		conf += 0.15
	case MomentumPositive, MomentumNegative:
		conf += 0.1
	}
	if t.Volume == VolumeHigh {
		conf += 0.1
	}
	if conf > 1 {
		conf = 1
	}
	t.Confidence = conf
	t.Rationale = fmt.Sprintf("trend=%s momentum=%s volume=%s volatility=%s score=%d", t.Trend, t.Momentum, t.Volume, t.Volatility, buy-sell)
	return t
}

func trendOf(history []indicator.Bar) Trend {
	if len(history) < trendBars {
		return TrendNeutral
	}
	recent := history[len(history)-trendBars:]
	older := indicator.Mean(indicator.Closes(recent[:trendBars/2]))
	newer := indicator.Mean(indicator.Closes(recent[trendBars/2:]))
	if older == 0 {
		return TrendNeutral
	}
	change := (newer - older) / older * 100
	switch {
	case change > 3:
		return TrendStrongBullish
	case change > 1:
		return TrendBullish
	case change < -3:
		return TrendStrongBearish
	case change < -1:
		return TrendBearish
	}
	return TrendNeutral
}

func momentumOf(current indicator.Bar, history []indicator.Bar) Momentum {
	if len(history) < momentumBars {
		return MomentumNeutral
	}
	closes := append(indicator.Closes(history[len(history)-momentumBars:]), current.Close)
	m := 0
	for i := 1; i < len(closes); i++ {
		if closes[i] > closes[i-1] {
			m++
		} else {
			m--
		}
	}
	switch {
	case m >= 2:
		return MomentumStrongPositive
	case m >= 1:
		return MomentumPositive
	case m <= -2:
		return MomentumStrongNegative
	case m <= -1:
		return MomentumNegative
	}
	return MomentumNeutral
}

func volumeOf(current indicator.Bar, history []indicator.Bar) VolumeLevel {
	if len(history) == 0 {
		return VolumeNormal
	}
	n := volumeBars
	if len(history) < n {
		n = len(history)
	}
	var vols []float64
	for _, b := range history[len(history)-n:] {
		vols = append(vols, b.Volume)
	}
	avg := indicator.Mean(vols)
	if avg <= 0 {
		return VolumeNormal
	}
	switch ratio := current.Volume / avg; {
	case ratio > 1.5:
		return VolumeHigh
	case ratio < 0.7:
		return VolumeLow
	}
	return VolumeNormal
}

func volatilityOf(current indicator.Bar, history []indicator.Bar) VolatilityLevel {
	if len(history) < volatilityBars {
		return VolatilityNormal
	}
	var ranges []float64
	for _, b := range history[len(history)-volatilityBars:] {
		ranges = append(ranges, b.Range())
	}
	avg := indicator.Mean(ranges)
	cur := current.Range()
	switch {
	case cur > avg*2:
		return VolatilityVeryHigh
	case cur > avg*1.5:
		return VolatilityHigh
	case cur < avg*0.5:
		return VolatilityLow
	}
	return VolatilityNormal
}
