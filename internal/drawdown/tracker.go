// Package drawdown tracks the running price peak and counts threshold drops
// from it, emitting buy triggers.
package drawdown

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerKind is the outcome of observing one price.
type TriggerKind int

const (
	// None means no buy trigger.
	None TriggerKind = iota
	// Threshold fires after drops_required consecutive threshold drops.
	Threshold
	// Emergency fires on a single drop of at least twice the threshold.
	Emergency
)

// String returns the string representation of the TriggerKind.
func (k TriggerKind) String() string {
	switch k {
	case Threshold:
		return "THRESHOLD"
	case Emergency:
		return "EMERGENCY"
	default:
		return "NONE"
	}
}

// dropPrecision is the number of fractional digits a drop is rounded to before
// it is compared with the threshold. At 4 digits (one basis point) a drop up
// to half a basis point short of the threshold still counts: 2.995% reaches
// 3%, 2.994% does not.
const dropPrecision = 4

// Peak is the highest price observed since the last reset.
type Peak struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// DropCounter counts consecutive threshold drops. Each counted drop moves the
// reference to the new local low.
type DropCounter struct {
	ConsecutiveDrops uint32          `json:"consecutive_drops"`
	ReferencePrice   decimal.Decimal `json:"reference_price"`
}

// State is the persisted form of a Tracker.
type State struct {
	Peak    Peak        `json:"peak"`
	Counter DropCounter `json:"drop_counter"`
	Armed   bool        `json:"armed"`
}

// Tracker is the peak/drop state machine. It is not safe for concurrent use;
// the engine loop is its only owner.
type Tracker struct {
	threshold     decimal.Decimal // fraction, e.g. 0.03
	emergency     decimal.Decimal // 2 x threshold
	dropsRequired uint32
	state         State
}

// NewTracker creates a tracker. thresholdPct is in percent units (3 means 3%).
func NewTracker(thresholdPct float64, dropsRequired int) *Tracker {
	th := decimal.NewFromFloat(thresholdPct).Div(decimal.NewFromInt(100))
	return &Tracker{
		threshold:     th,
		emergency:     th.Mul(decimal.NewFromInt(2)),
		dropsRequired: uint32(dropsRequired),
	}
}

// Restore replaces the tracker state with a persisted one.
func (t *Tracker) Restore(s State) {
	t.state = s
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	return t.state
}

// Peak returns the current peak.
func (t *Tracker) Peak() Peak {
	return t.state.Peak
}

// Counter returns the current drop counter.
func (t *Tracker) Counter() DropCounter {
	return t.state.Counter
}

// Armed reports whether a trigger fired and has not been consumed yet.
func (t *Tracker) Armed() bool {
	return t.state.Armed
}

// Observe feeds one price into the state machine.
func (t *Tracker) Observe(price decimal.Decimal, ts time.Time) TriggerKind {
	if t.state.Peak.Price.IsZero() || price.GreaterThan(t.state.Peak.Price) {
		t.Reset(price, ts)
		return None
	}

	ref := t.state.Counter.ReferencePrice
	if !ref.IsPositive() {
		return None
	}
	// Drops are compared at basis-point precision, the resolution they are reported at.
	dropPct := ref.Sub(price).Div(ref).Round(dropPrecision)

	switch {
	case dropPct.GreaterThanOrEqual(t.emergency):
		t.state.Armed = true
		return Emergency
	case dropPct.GreaterThanOrEqual(t.threshold):
		t.state.Counter.ConsecutiveDrops++
		t.state.Counter.ReferencePrice = price
		if t.state.Counter.ConsecutiveDrops >= t.dropsRequired {
			t.state.Armed = true
			return Threshold
		}
	}
	return None
}

// Reset sets the peak to price and clears the drop counter. The executor calls
// it whenever it consumes a trigger, accepted or rejected, and after any buy.
func (t *Tracker) Reset(price decimal.Decimal, ts time.Time) {
	t.state = State{
		Peak:    Peak{Price: price, Timestamp: ts},
		Counter: DropCounter{ReferencePrice: price},
	}
}
