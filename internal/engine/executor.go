package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/decision"
	"github.com/your-org/dca-drawdown-sim/internal/drawdown"
	"github.com/your-org/dca-drawdown-sim/internal/position"
)

// ActionKind is the outcome of one executor step.
type ActionKind int

const (
	NoOp ActionKind = iota
	Bought
	Sold
	Rejected
)

// String returns the string representation of the ActionKind.
func (k ActionKind) String() string {
	switch k {
	case Bought:
		return "BOUGHT"
	case Sold:
		return "SOLD"
	case Rejected:
		return "REJECTED"
	default:
		return "NOOP"
	}
}

// Action reports what the executor did in a tick. Order is set when a buy
// executed; Trades holds the orders closed in the same tick.
type Action struct {
	Kind    ActionKind
	Trigger drawdown.TriggerKind
	Order   *position.BuyOrder
	SoldIDs []uint64
	Trades  []position.BuyOrder
	Reason  string
}

// Rejection reasons.
const (
	ReasonNonPositiveAmount = "non-positive trade amount"
	ReasonInsufficientFiat  = "insufficient fiat balance"
	ReasonCapitalLimit      = "capital limit exceeded"
)

// Executor applies triggers and decisions to the state. It never returns
// errors; broken invariants panic in State.CheckInvariants.
type Executor struct {
	tradeFraction   decimal.Decimal
	capitalFraction decimal.Decimal
	sizeOnInitial   bool
	dropsRequired   int
}

// NewExecutor creates an executor for the given strategy.
func NewExecutor(cfg config.StrategyConf) *Executor {
	hundred := decimal.NewFromInt(100)
	return &Executor{
		tradeFraction:   decimal.NewFromFloat(cfg.TradePercentage).Div(hundred),
		capitalFraction: decimal.NewFromFloat(cfg.CapitalLimitPct).Div(hundred),
		sizeOnInitial:   cfg.SizingBasis == config.SizingInitial,
		dropsRequired:   cfg.DropsRequired,
	}
}

// CapitalLimit is the most that may be invested in open orders at once.
func (x *Executor) CapitalLimit(s *State) decimal.Decimal {
	return x.capitalFraction.Mul(s.InitialBalance)
}

// Apply runs the sell path and then the buy path for one tick.
func (x *Executor) Apply(s *State, trigger drawdown.TriggerKind, d decision.Decision, price decimal.Decimal, now time.Time) Action {
	act := Action{Kind: NoOp, Trigger: trigger}

	for _, id := range s.Book.EvaluateSells(price) {
		closed, err := s.Book.Close(id, price, now)
		if err != nil {
			// EvaluateSells only returns open ids.
			panic(err)
		}
		s.FiatBalance = s.FiatBalance.Add(closed.Quantity.Mul(price))
		s.CryptoBalance = s.CryptoBalance.Sub(closed.Quantity)
		s.PnL.UpdateRealizedPnL(closed.RealizedProfit)
		s.Stats.TotalTrades++
		if closed.RealizedProfit.IsPositive() {
			s.Stats.Wins++
			s.Stats.TotalProfit = s.Stats.TotalProfit.Add(closed.RealizedProfit)
		} else {
			s.Stats.Losses++
			s.Stats.TotalLoss = s.Stats.TotalLoss.Add(closed.RealizedProfit.Abs())
		}
		act.SoldIDs = append(act.SoldIDs, id)
		act.Trades = append(act.Trades, closed)
	}
	if len(act.SoldIDs) > 0 {
		act.Kind = Sold
	}

	firstTick := s.Ticks == 0 && s.Book.LastID() == 0
	if trigger != drawdown.None || d.Action.Direction() > 0 || firstTick {
		if trigger != drawdown.None {
			s.Stats.Triggers++
			if trigger == drawdown.Emergency {
				s.Stats.Emergencies++
			}
		}
		order, reason := x.buy(s, price, now)
		switch {
		case order != nil:
			act.Kind = Bought
			act.Order = order
		case act.Kind == NoOp:
			act.Kind = Rejected
			act.Reason = reason
		default:
			act.Reason = reason
		}
		if reason != "" {
			s.Stats.Rejected++
		}
		// A trigger is consumed whether or not the buy went through.
		if trigger != drawdown.None || order != nil {
			s.Tracker.Reset(price, now)
		}
	}

	s.PnL.ObserveEquity(s.Equity(price))
	s.Stats.MaxDrawdownPct = s.PnL.MaxDrawdownPct
	return act
}

func (x *Executor) buy(s *State, price decimal.Decimal, now time.Time) (*position.BuyOrder, string) {
	basis := s.FiatBalance
	if x.sizeOnInitial {
		basis = s.InitialBalance
	}
	amount := x.tradeFraction.Mul(basis)

	switch {
	case !amount.IsPositive():
		return nil, ReasonNonPositiveAmount
	case amount.GreaterThan(s.FiatBalance):
		return nil, ReasonInsufficientFiat
	case s.Book.OpenInvested().Add(amount).GreaterThan(x.CapitalLimit(s)):
		return nil, ReasonCapitalLimit
	}

	qty := amount.Div(price)
	if !qty.IsPositive() {
		return nil, ReasonNonPositiveAmount
	}

	order := position.BuyOrder{
		ID:             s.NextOrderID(),
		PurchasedAt:    now,
		PurchasePrice:  price,
		Quantity:       qty,
		InvestedAmount: amount,
	}
	if err := s.Book.Open(order); err != nil {
		panic(err)
	}
	s.FiatBalance = s.FiatBalance.Sub(amount)
	s.CryptoBalance = s.CryptoBalance.Add(order.Quantity)
	s.Stats.Buys++
	order.Status = position.StatusOpen
	return &order, ""
}
