// Package decision merges the technical signal with the optional advisory
// signal into one recommendation per tick.
package decision

import (
	"fmt"

	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/signal"
)

// Source tags where a Decision came from.
type Source int

const (
	SourceTechnical Source = iota
	SourceAdvisory
	SourceHybrid
	SourceFallbackTechnical
)

// String returns the string representation of the Source.
func (s Source) String() string {
	switch s {
	case SourceTechnical:
		return "technical"
	case SourceAdvisory:
		return "advisory"
	case SourceHybrid:
		return "hybrid"
	case SourceFallbackTechnical:
		return "fallback_technical"
	default:
		return "unknown"
	}
}

// Decision is the recommendation for one tick. It is never persisted.
type Decision struct {
	Action     signal.Action
	Confidence float64
	Rationale  string
	Source     Source
}

// Combiner is a pure function of its configuration.
type Combiner struct {
	weight        float64
	minConfidence float64
	margin        float64
	tieBreak      string
}

// NewCombiner builds a combiner. weight is the share given to the advisory side.
func NewCombiner(cfg config.DecisionConf, weight float64) Combiner {
	return Combiner{
		weight:        weight,
		minConfidence: cfg.MinConfidence,
		margin:        cfg.DisagreementMargin,
		tieBreak:      cfg.TieBreak,
	}
}

// Decide combines technical with advisory. A nil advisory yields the
// technical decision tagged FallbackTechnical.
func (c Combiner) Decide(technical signal.Signal, advisory *signal.Signal) Decision {
	if advisory == nil {
		return c.gate(Decision{
			Action:     technical.Action,
			Confidence: technical.Confidence,
			Rationale:  technical.Rationale,
			Source:     SourceFallbackTechnical,
		})
	}

	combined := c.weight*advisory.Confidence + (1-c.weight)*technical.Confidence

	if technical.Action.Direction() == advisory.Action.Direction() {
		return c.gate(Decision{
			Action:     agreed(technical.Action, advisory.Action),
			Confidence: combined,
			Rationale:  fmt.Sprintf("agree: technical %s (%.2f), advisory %s (%.2f): %s", technical.Action, technical.Confidence, advisory.Action, advisory.Confidence, advisory.Rationale),
			Source:     SourceHybrid,
		})
	}

	bar := c.minConfidence + c.margin
	techClears := technical.Confidence >= bar
	advClears := advisory.Confidence >= bar

	pickTechnical := func() Decision {
		return Decision{
			Action:     technical.Action,
			Confidence: technical.Confidence,
			Rationale:  fmt.Sprintf("disagree: technical %s (%.2f) overrides advisory %s (%.2f)", technical.Action, technical.Confidence, advisory.Action, advisory.Confidence),
			Source:     SourceTechnical,
		}
	}
	pickAdvisory := func() Decision {
		return Decision{
			Action:     advisory.Action,
			Confidence: advisory.Confidence,
			Rationale:  fmt.Sprintf("disagree: advisory %s (%.2f) overrides technical %s (%.2f): %s", advisory.Action, advisory.Confidence, technical.Action, technical.Confidence, advisory.Rationale),
			Source:     SourceAdvisory,
		}
	}

	switch c.tieBreak {
	case config.TieBreakHigherConfidence:
		if technical.Confidence >= advisory.Confidence {
			if techClears {
				return pickTechnical()
			}
		} else if advClears {
			return pickAdvisory()
		}
	default:
		if techClears {
			return pickTechnical()
		}
		if advClears {
			return pickAdvisory()
		}
	}

	return Decision{
		Action:     signal.Hold,
		Confidence: combined,
		Rationale:  fmt.Sprintf("disagree: technical %s (%.2f) vs advisory %s (%.2f), neither clears %.2f", technical.Action, technical.Confidence, advisory.Action, advisory.Confidence, bar),
		Source:     SourceHybrid,
	}
}

// gate turns any action below the confidence floor into Hold.
func (c Combiner) gate(d Decision) Decision {
	if d.Confidence < c.minConfidence && d.Action != signal.Hold {
		d.Rationale = fmt.Sprintf("%s action held: confidence %.2f below %.2f (%s)", d.Action, d.Confidence, c.minConfidence, d.Rationale)
		d.Action = signal.Hold
	}
	return d
}

// agreed keeps the strong variant when either side is strong.
func agreed(a, b signal.Action) signal.Action {
	switch a.Direction() {
	case 1:
		if a.Strong() || b.Strong() {
			return signal.StrongBuy
		}
		return signal.Buy
	case -1:
		if a.Strong() || b.Strong() {
			return signal.StrongSell
		}
		return signal.Sell
	}
	return signal.Hold
}
