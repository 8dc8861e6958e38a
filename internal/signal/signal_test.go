package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/dca-drawdown-sim/internal/datastore"
	"github.com/your-org/dca-drawdown-sim/internal/indicator"
)

func bars(volume float64, closes ...float64) []indicator.Bar {
	out := make([]indicator.Bar, len(closes))
	for i, c := range closes {
		out[i] = indicator.Bar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: volume}
	}
	return out
}

func bar(c, volume float64) indicator.Bar {
	return indicator.Bar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: volume}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		history  []indicator.Bar
		current  indicator.Bar
		want     Action
		wantConf float64
		trend    Trend
		momentum Momentum
	}{
		{
			name:     "steady rise is a strong buy",
			history:  bars(1, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109),
			current:  bar(110, 1),
			want:     StrongBuy,
			wantConf: 0.85,
			trend:    TrendStrongBullish,
			momentum: MomentumStrongPositive,
		},
		{
			name:     "steady fall is a strong sell",
			history:  bars(1, 109, 108, 107, 106, 105, 104, 103, 102, 101, 100),
			current:  bar(99, 1),
			want:     StrongSell,
			wantConf: 0.85,
			trend:    TrendStrongBearish,
			momentum: MomentumStrongNegative,
		},
		{
			name:     "weak bearish trend against positive momentum holds",
			history:  bars(1, 102, 102, 102, 102, 102, 100.5, 100, 100, 100, 100.5),
			current:  bar(101, 1),
			want:     Hold,
			wantConf: 0.7,
			trend:    TrendBearish,
			momentum: MomentumPositive,
		},
		{
			name:     "weak trend confirmed by volume",
			history:  bars(1, 100, 100, 100, 100, 100, 101, 101.5, 102, 102.5, 103),
			current:  bar(103.5, 2),
			want:     StrongBuy,
			wantConf: 0.85,
			trend:    TrendBullish,
			momentum: MomentumStrongPositive,
		},
		{
			name:     "short history holds at base confidence",
			history:  bars(1, 100, 101),
			current:  bar(102, 1),
			want:     Hold,
			wantConf: 0.5,
			trend:    TrendNeutral,
			momentum: MomentumNeutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.current, tt.history)
			assert.Equal(t, tt.want, got.Action, got.Rationale)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.trend, got.Trend)
			assert.Equal(t, tt.momentum, got.Momentum)
		})
	}
}

func TestClassify_Volatility(t *testing.T) {
	history := bars(1, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)
	wide := indicator.Bar{Open: 100, High: 103, Low: 97, Close: 100, Volume: 1}
	narrow := indicator.Bar{Open: 100, High: 100.2, Low: 99.8, Close: 100, Volume: 1}

	assert.Equal(t, VolatilityVeryHigh, Classify(wide, history).Volatility)
	assert.Equal(t, VolatilityLow, Classify(narrow, history).Volatility)
	assert.Equal(t, VolatilityNormal, Classify(bar(100, 1), history).Volatility)
}

func TestClassify_VolumeLevels(t *testing.T) {
	history := bars(10, 100, 100, 100)
	assert.Equal(t, VolumeHigh, Classify(bar(100, 16), history).Volume)
	assert.Equal(t, VolumeLow, Classify(bar(100, 6), history).Volume)
	assert.Equal(t, VolumeNormal, Classify(bar(100, 10), history).Volume)
	assert.Equal(t, VolumeNormal, Classify(bar(100, 10), nil).Volume)
}

func TestSignalEngine_Evaluate(t *testing.T) {
	e := NewSignalEngine(10)
	var tech Technical
	var mc indicator.MarketContext
	for i := 0; i < 15; i++ {
		tech, mc = e.Evaluate(bar(100+float64(i), 1))
	}
	assert.Equal(t, 10, e.HistoryLen())
	assert.Equal(t, StrongBuy, tech.Action)
	assert.Equal(t, 114.0, mc.CurrentPrice)
	assert.Len(t, mc.PreviousPrices, 10)
	assert.Equal(t, 113.0, mc.PreviousPrices[0])
	assert.Greater(t, mc.Indicators.EWMAVol, 0.0)
}

func TestBarFromPoint(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := datastore.PricePoint{Timestamp: ts, Price: decimal.NewFromInt(50000), Volume: decimal.NewFromInt(3)}
	b := BarFromPoint(p)
	assert.Equal(t, indicator.Bar{Timestamp: ts, Open: 50000, High: 50000, Low: 50000, Close: 50000, Volume: 3}, b)
}

func TestAction(t *testing.T) {
	tests := []struct {
		action    Action
		direction int
		score     int
	}{
		{StrongBuy, 1, 2},
		{Buy, 1, 1},
		{Hold, 0, 0},
		{Sell, -1, -1},
		{StrongSell, -1, -2},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			parsed, err := ParseAction(tt.action.String())
			require.NoError(t, err)
			assert.Equal(t, tt.action, parsed)
			assert.Equal(t, tt.direction, tt.action.Direction())
			assert.Equal(t, tt.score, tt.action.Score())
		})
	}

	a, err := ParseAction(" strong_buy ")
	require.NoError(t, err)
	assert.True(t, a.Strong())

	_, err = ParseAction("MAYBE")
	assert.Error(t, err)
}
