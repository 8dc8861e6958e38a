package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/signal"
)

func combiner(tieBreak string) Combiner {
	return NewCombiner(config.DecisionConf{
		MinConfidence:      0.6,
		TieBreak:           tieBreak,
		DisagreementMargin: 0.1,
	}, 0.7)
}

func sig(a signal.Action, conf float64) signal.Signal {
	return signal.Signal{Action: a, Confidence: conf, Rationale: "r"}
}

func adv(a signal.Action, conf float64) *signal.Signal {
	s := sig(a, conf)
	return &s
}

func TestCombiner_Fallback(t *testing.T) {
	c := combiner(config.TieBreakTechnical)

	tests := []struct {
		name string
		tech signal.Signal
		want signal.Action
	}{
		{"confident technical passes through", sig(signal.Buy, 0.75), signal.Buy},
		{"weak technical holds", sig(signal.StrongSell, 0.5), signal.Hold},
		{"technical hold stays hold", sig(signal.Hold, 0.9), signal.Hold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Decide(tt.tech, nil)
			assert.Equal(t, SourceFallbackTechnical, d.Source)
			assert.Equal(t, tt.want, d.Action)
			assert.Equal(t, tt.tech.Confidence, d.Confidence)
		})
	}
}

// The fallback decision equals the decision the technical side alone yields.
func TestCombiner_OracleFallbackMatchesTechnicalOnly(t *testing.T) {
	technicalOnly := NewCombiner(config.DecisionConf{MinConfidence: 0.6, TieBreak: config.TieBreakTechnical, DisagreementMargin: 0.1}, 0)
	c := combiner(config.TieBreakTechnical)
	for _, tech := range []signal.Signal{sig(signal.Buy, 0.8), sig(signal.Sell, 0.55), sig(signal.StrongBuy, 0.95)} {
		want := technicalOnly.Decide(tech, nil)
		got := c.Decide(tech, nil)
		assert.Equal(t, want.Action.Direction(), got.Action.Direction())
		assert.Equal(t, want.Confidence, got.Confidence)
		assert.Equal(t, SourceFallbackTechnical, got.Source)
	}
}

func TestCombiner_Agreement(t *testing.T) {
	c := combiner(config.TieBreakTechnical)

	tests := []struct {
		name     string
		tech     signal.Signal
		adv      *signal.Signal
		want     signal.Action
		wantConf float64
	}{
		{"strong side is kept", sig(signal.Buy, 0.7), adv(signal.StrongBuy, 0.8), signal.StrongBuy, 0.77},
		{"plain sells", sig(signal.Sell, 0.9), adv(signal.Sell, 0.7), signal.Sell, 0.76},
		{"below floor holds", sig(signal.Sell, 0.5), adv(signal.StrongSell, 0.5), signal.Hold, 0.5},
		{"both hold", sig(signal.Hold, 0.9), adv(signal.Hold, 0.9), signal.Hold, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Decide(tt.tech, tt.adv)
			assert.Equal(t, SourceHybrid, d.Source)
			assert.Equal(t, tt.want, d.Action)
			assert.InDelta(t, tt.wantConf, d.Confidence, 1e-9)
		})
	}
}

func TestCombiner_Disagreement(t *testing.T) {
	tests := []struct {
		name       string
		tieBreak   string
		tech       signal.Signal
		adv        *signal.Signal
		want       signal.Action
		wantSource Source
		wantConf   float64
	}{
		{"technical policy keeps confident technical", config.TieBreakTechnical, sig(signal.Buy, 0.75), adv(signal.Sell, 0.9), signal.Buy, SourceTechnical, 0.75},
		{"higher confidence prefers the advisory", config.TieBreakHigherConfidence, sig(signal.Buy, 0.75), adv(signal.Sell, 0.9), signal.Sell, SourceAdvisory, 0.9},
		{"technical policy falls to advisory when technical is weak", config.TieBreakTechnical, sig(signal.Buy, 0.65), adv(signal.StrongSell, 0.8), signal.StrongSell, SourceAdvisory, 0.8},
		{"higher confidence with weak technical", config.TieBreakHigherConfidence, sig(signal.Buy, 0.65), adv(signal.StrongSell, 0.8), signal.StrongSell, SourceAdvisory, 0.8},
		{"technical policy, neither clears the margin", config.TieBreakTechnical, sig(signal.Buy, 0.65), adv(signal.Sell, 0.68), signal.Hold, SourceHybrid, 0.671},
		{"higher confidence, neither clears the margin", config.TieBreakHigherConfidence, sig(signal.Buy, 0.65), adv(signal.Sell, 0.68), signal.Hold, SourceHybrid, 0.671},
		{"higher confidence ties go to technical", config.TieBreakHigherConfidence, sig(signal.Sell, 0.8), adv(signal.Buy, 0.8), signal.Sell, SourceTechnical, 0.8},
		{"technical hold overrides advisory buy", config.TieBreakTechnical, sig(signal.Hold, 0.8), adv(signal.Buy, 0.95), signal.Hold, SourceTechnical, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := combiner(tt.tieBreak).Decide(tt.tech, tt.adv)
			assert.Equal(t, tt.want, d.Action, d.Rationale)
			assert.Equal(t, tt.wantSource, d.Source)
			assert.InDelta(t, tt.wantConf, d.Confidence, 1e-9)
		})
	}
}

func TestSource_String(t *testing.T) {
	assert.Equal(t, "fallback_technical", SourceFallbackTechnical.String())
	assert.Equal(t, "hybrid", SourceHybrid.String())
}
