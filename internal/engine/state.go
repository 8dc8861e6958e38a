package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/drawdown"
	"github.com/your-org/dca-drawdown-sim/internal/indicator"
	"github.com/your-org/dca-drawdown-sim/internal/pnl"
	"github.com/your-org/dca-drawdown-sim/internal/position"
)

// Stats are the cumulative counters of a run.
type Stats struct {
	TotalTrades    int             `json:"total_trades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	TotalLoss      decimal.Decimal `json:"total_loss"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	Buys           int             `json:"buys"`
	Rejected       int             `json:"rejected"`
	Triggers       int             `json:"triggers"`
	Emergencies    int             `json:"emergencies"`
	OracleCalls    int             `json:"oracle_calls"`
	OracleFailures int             `json:"oracle_failures"`
}

// State is the single mutable aggregate of a run. The engine loop is its
// only writer; everything else sees Snapshot copies.
type State struct {
	RunID          string
	StartedAt      time.Time
	CursorIndex    uint64 // next index to read
	CurrentTime    time.Time
	Ticks          uint64
	InitialBalance decimal.Decimal
	FiatBalance    decimal.Decimal
	CryptoBalance  decimal.Decimal
	FirstPrice     decimal.Decimal
	LastPrice      decimal.Decimal
	Book           *position.Book
	Tracker        *drawdown.Tracker
	PnL            pnl.Calculator
	Stats          Stats

	// Volatility carries the EWMA estimate across resumes; the bar window is
	// rebuilt from the store instead.
	Volatility indicator.VolatilityState
}

// NewState builds the state of a fresh run.
func NewState(cfg config.StrategyConf, runID string, startedAt time.Time) *State {
	initial := decimal.NewFromFloat(cfg.InitialBalance)
	s := &State{
		RunID:          runID,
		StartedAt:      startedAt,
		InitialBalance: initial,
		FiatBalance:    initial,
		Book:           position.NewBook(position.NewThresholds(cfg.TakeProfitPct, cfg.MinAccumulatedProfitPct, cfg.MaxAccumulatedOrders)),
		Tracker:        drawdown.NewTracker(cfg.DropThresholdPct, cfg.DropsRequired),
	}
	s.PnL.PeakEquity = initial
	return s
}

// NextOrderID is the id the next buy will get.
func (s *State) NextOrderID() uint64 {
	return s.Book.LastID() + 1
}

// Equity marks the account at price.
func (s *State) Equity(price decimal.Decimal) decimal.Decimal {
	return pnl.Equity(s.FiatBalance, s.CryptoBalance, price)
}

// CheckInvariants panics when the state breaks one of its invariants. A
// violation is a programming error, never a data condition.
func (s *State) CheckInvariants(capitalLimit decimal.Decimal, dropsRequired int) {
	if s.FiatBalance.IsNegative() {
		panic(fmt.Sprintf("invariant: fiat balance %s is negative", s.FiatBalance))
	}
	if s.CryptoBalance.IsNegative() {
		panic(fmt.Sprintf("invariant: crypto balance %s is negative", s.CryptoBalance))
	}
	invested := decimal.Zero
	prev := uint64(0)
	for _, o := range s.Book.OpenOrders() {
		if !o.Quantity.IsPositive() || !o.PurchasePrice.IsPositive() || !o.InvestedAmount.IsPositive() {
			panic(fmt.Sprintf("invariant: order %d has a non-positive field", o.ID))
		}
		if o.ID <= prev {
			panic(fmt.Sprintf("invariant: order ids not increasing at %d", o.ID))
		}
		prev = o.ID
		invested = invested.Add(o.InvestedAmount)
	}
	if invested.GreaterThan(capitalLimit) {
		panic(fmt.Sprintf("invariant: open invested %s exceeds capital limit %s", invested, capitalLimit))
	}
	if !s.LastPrice.IsZero() && s.Tracker.Peak().Price.LessThan(s.LastPrice) {
		panic(fmt.Sprintf("invariant: peak %s below observed price %s", s.Tracker.Peak().Price, s.LastPrice))
	}
	if !s.Tracker.Armed() && int(s.Tracker.Counter().ConsecutiveDrops) >= dropsRequired {
		panic(fmt.Sprintf("invariant: %d consecutive drops without a trigger", s.Tracker.Counter().ConsecutiveDrops))
	}
}

// Snapshot is an immutable deep copy of State taken at a tick boundary.
type Snapshot struct {
	RunID          string                    `json:"run_id"`
	StartedAt      time.Time                 `json:"started_at"`
	CursorIndex    uint64                    `json:"cursor_index"`
	CurrentTime    time.Time                 `json:"current_time"`
	Ticks          uint64                    `json:"ticks"`
	InitialBalance decimal.Decimal           `json:"initial_balance"`
	FiatBalance    decimal.Decimal           `json:"fiat_balance"`
	CryptoBalance  decimal.Decimal           `json:"crypto_balance"`
	FirstPrice     decimal.Decimal           `json:"first_price"`
	LastPrice      decimal.Decimal           `json:"last_price"`
	OpenOrders     []position.BuyOrder       `json:"open_orders"`
	ClosedOrders   []position.BuyOrder       `json:"closed_orders"`
	Transactions   []position.Transaction    `json:"transactions"`
	NextOrderID    uint64                    `json:"next_order_id"`
	LastTxID       uint64                    `json:"last_tx_id"`
	Drawdown       drawdown.State            `json:"drawdown"`
	PnL            pnl.Calculator            `json:"pnl"`
	Stats          Stats                     `json:"stats"`
	Volatility     indicator.VolatilityState `json:"volatility"`
}

// Snapshot copies the state. Slices are fresh, so the copy can cross goroutines.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		RunID:          s.RunID,
		StartedAt:      s.StartedAt,
		CursorIndex:    s.CursorIndex,
		CurrentTime:    s.CurrentTime,
		Ticks:          s.Ticks,
		InitialBalance: s.InitialBalance,
		FiatBalance:    s.FiatBalance,
		CryptoBalance:  s.CryptoBalance,
		FirstPrice:     s.FirstPrice,
		LastPrice:      s.LastPrice,
		OpenOrders:     s.Book.OpenOrders(),
		ClosedOrders:   s.Book.ClosedOrders(),
		Transactions:   s.Book.Transactions(),
		NextOrderID:    s.NextOrderID(),
		LastTxID:       s.Book.LastTxID(),
		Drawdown:       s.Tracker.State(),
		PnL:            s.PnL,
		Stats:          s.Stats,
		Volatility:     s.Volatility,
	}
}

// Equity marks the snapshot at its last price.
func (sn Snapshot) Equity() decimal.Decimal {
	return pnl.Equity(sn.FiatBalance, sn.CryptoBalance, sn.LastPrice)
}

// Restore rebuilds a State from a snapshot under the given strategy.
func Restore(sn Snapshot, cfg config.StrategyConf) (*State, error) {
	if sn.NextOrderID == 0 {
		return nil, fmt.Errorf("snapshot has no next order id")
	}
	s := NewState(cfg, sn.RunID, sn.StartedAt)
	if err := s.Book.Restore(sn.OpenOrders, sn.ClosedOrders, sn.Transactions, sn.NextOrderID-1, sn.LastTxID); err != nil {
		return nil, fmt.Errorf("restore book: %w", err)
	}
	s.Tracker.Restore(sn.Drawdown)
	s.CursorIndex = sn.CursorIndex
	s.CurrentTime = sn.CurrentTime
	s.Ticks = sn.Ticks
	s.InitialBalance = sn.InitialBalance
	s.FiatBalance = sn.FiatBalance
	s.CryptoBalance = sn.CryptoBalance
	s.FirstPrice = sn.FirstPrice
	s.LastPrice = sn.LastPrice
	s.PnL = sn.PnL
	s.Stats = sn.Stats
	s.Volatility = sn.Volatility
	return s, nil
}
