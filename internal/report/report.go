// Package report summarizes a run from its snapshot.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/dca-drawdown-sim/internal/benchmark"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/pnl"
	"github.com/your-org/dca-drawdown-sim/internal/position"
)

var hundred = decimal.NewFromInt(100)

// Report holds the performance figures of a run.
type Report struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CurrentTime time.Time `json:"current_time"`
	Ticks       uint64    `json:"ticks"`
	CursorIndex uint64    `json:"cursor_index"`

	InitialBalance decimal.Decimal `json:"initial_balance"`
	FiatBalance    decimal.Decimal `json:"fiat_balance"`
	CryptoBalance  decimal.Decimal `json:"crypto_balance"`
	LastPrice      decimal.Decimal `json:"last_price"`
	Equity         decimal.Decimal `json:"equity"`
	NetProfit      decimal.Decimal `json:"net_profit"`
	ROIPct         decimal.Decimal `json:"roi_pct"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`

	TotalTrades          int             `json:"total_trades"`
	WinningTrades        int             `json:"winning_trades"`
	LosingTrades         int             `json:"losing_trades"`
	WinRate              float64         `json:"win_rate"`
	AverageProfit        decimal.Decimal `json:"average_profit"`
	AverageLoss          decimal.Decimal `json:"average_loss"`
	RiskRewardRatio      float64         `json:"risk_reward_ratio"`
	ProfitFactor         float64         `json:"profit_factor"`
	SharpeRatio          float64         `json:"sharpe_ratio"`
	SortinoRatio         float64         `json:"sortino_ratio"`
	MaxConsecutiveWins   int             `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"`

	AverageHoldingPeriodSeconds float64 `json:"average_holding_period_seconds"`

	OpenOrders     int `json:"open_orders"`
	Buys           int `json:"buys"`
	Rejected       int `json:"rejected"`
	Triggers       int `json:"triggers"`
	Emergencies    int `json:"emergencies"`
	OracleCalls    int `json:"oracle_calls"`
	OracleFailures int `json:"oracle_failures"`

	BuyAndHold         *benchmark.Result `json:"buy_and_hold,omitempty"`
	ReturnVsBuyAndHold decimal.Decimal   `json:"return_vs_buy_and_hold"`
}

// Build computes the report of snap. Trade counts and profit totals come from
// the running stats; ratios that need individual trades use the closed
// orders present in the snapshot.
func Build(snap engine.Snapshot) Report {
	st := snap.Stats
	equity := snap.Equity()
	r := Report{
		RunID:          snap.RunID,
		StartedAt:      snap.StartedAt,
		CurrentTime:    snap.CurrentTime,
		Ticks:          snap.Ticks,
		CursorIndex:    snap.CursorIndex,
		InitialBalance: snap.InitialBalance,
		FiatBalance:    snap.FiatBalance,
		CryptoBalance:  snap.CryptoBalance,
		LastPrice:      snap.LastPrice,
		Equity:         equity,
		NetProfit:      equity.Sub(snap.InitialBalance),
		RealizedPnL:    snap.PnL.RealizedPnL,
		UnrealizedPnL:  pnl.CalculateUnrealizedPnL(snap.OpenOrders, snap.LastPrice),
		MaxDrawdownPct: st.MaxDrawdownPct.Mul(hundred),
		TotalTrades:    st.TotalTrades,
		WinningTrades:  st.Wins,
		LosingTrades:   st.Losses,
		OpenOrders:     len(snap.OpenOrders),
		Buys:           st.Buys,
		Rejected:       st.Rejected,
		Triggers:       st.Triggers,
		Emergencies:    st.Emergencies,
		OracleCalls:    st.OracleCalls,
		OracleFailures: st.OracleFailures,
	}
	if snap.InitialBalance.IsPositive() {
		r.ROIPct = r.NetProfit.Div(snap.InitialBalance).Mul(hundred)
	}

	if decided := st.Wins + st.Losses; decided > 0 {
		r.WinRate = float64(st.Wins) / float64(decided) * 100
	}
	if st.Wins > 0 {
		r.AverageProfit = st.TotalProfit.Div(decimal.NewFromInt(int64(st.Wins)))
	}
	if st.Losses > 0 {
		r.AverageLoss = st.TotalLoss.Abs().Neg().Div(decimal.NewFromInt(int64(st.Losses)))
	}
	if !r.AverageLoss.IsZero() {
		r.RiskRewardRatio = r.AverageProfit.Div(r.AverageLoss.Abs()).InexactFloat64()
	}
	if !st.TotalLoss.IsZero() {
		r.ProfitFactor = st.TotalProfit.Div(st.TotalLoss.Abs()).InexactFloat64()
	}

	r.applyTradeSeries(snap.ClosedOrders)

	if bh, err := benchmark.BuyAndHold(snap.InitialBalance, snap.FirstPrice, snap.LastPrice); err == nil {
		r.BuyAndHold = &bh
		r.ReturnVsBuyAndHold = bh.Excess(r.ROIPct)
	}
	return r
}

// applyTradeSeries fills the figures that depend on the order of closed trades.
func (r *Report) applyTradeSeries(closed []position.BuyOrder) {
	if len(closed) == 0 {
		return
	}
	returns := make([]float64, 0, len(closed))
	var holding float64
	var wins, losses int
	for _, o := range closed {
		if o.InvestedAmount.IsPositive() {
			returns = append(returns, o.RealizedProfit.Div(o.InvestedAmount).InexactFloat64())
		}
		holding += o.ClosedAt.Sub(o.PurchasedAt).Seconds()

		switch {
		case o.RealizedProfit.IsPositive():
			wins++
			losses = 0
		case o.RealizedProfit.IsNegative():
			losses++
			wins = 0
		}
		r.MaxConsecutiveWins = max(r.MaxConsecutiveWins, wins)
		r.MaxConsecutiveLosses = max(r.MaxConsecutiveLosses, losses)
	}
	r.AverageHoldingPeriodSeconds = holding / float64(len(closed))
	r.SharpeRatio = calculateSharpeRatio(returns, 0)
	r.SortinoRatio = calculateSortinoRatio(returns, 0)
}

// WriteText renders r as an aligned two-column table.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

	row("Run", r.RunID)
	row("Started", r.StartedAt.Format(time.RFC3339))
	row("Current time", r.CurrentTime.Format(time.RFC3339))
	row("Ticks", r.Ticks)
	row("Cursor index", r.CursorIndex)
	row("Initial balance", r.InitialBalance.StringFixed(2))
	row("Fiat balance", r.FiatBalance.StringFixed(2))
	row("Crypto balance", r.CryptoBalance.StringFixed(8))
	row("Last price", r.LastPrice.StringFixed(2))
	row("Equity", r.Equity.StringFixed(2))
	row("Net profit", r.NetProfit.StringFixed(2))
	row("ROI", r.ROIPct.StringFixed(2)+"%")
	row("Realized PnL", r.RealizedPnL.StringFixed(2))
	row("Unrealized PnL", r.UnrealizedPnL.StringFixed(2))
	row("Max drawdown", r.MaxDrawdownPct.StringFixed(2)+"%")
	row("Trades", fmt.Sprintf("%d (%d won, %d lost)", r.TotalTrades, r.WinningTrades, r.LosingTrades))
	row("Win rate", fmt.Sprintf("%.2f%%", r.WinRate))
	row("Average profit", r.AverageProfit.StringFixed(4))
	row("Average loss", r.AverageLoss.StringFixed(4))
	row("Profit factor", formatRatio(r.ProfitFactor))
	row("Sharpe ratio", formatRatio(r.SharpeRatio))
	row("Sortino ratio", formatRatio(r.SortinoRatio))
	row("Open orders", r.OpenOrders)
	row("Buys", fmt.Sprintf("%d (%d rejected)", r.Buys, r.Rejected))
	row("Drop triggers", fmt.Sprintf("%d (%d emergency)", r.Triggers, r.Emergencies))
	row("Oracle calls", fmt.Sprintf("%d (%d failed)", r.OracleCalls, r.OracleFailures))
	if r.BuyAndHold != nil {
		row("Buy and hold", fmt.Sprintf("%s (%s%%)", r.BuyAndHold.FinalValue.StringFixed(2), r.BuyAndHold.ReturnPct.StringFixed(2)))
		row("Vs buy and hold", r.ReturnVsBuyAndHold.StringFixed(2)+" pp")
	}
	return tw.Flush()
}

func formatRatio(v float64) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}

// calculateStandardDeviation is the population standard deviation.
func calculateStandardDeviation(returns []float64, mean float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	variance := 0.0
	for _, r := range returns {
		variance += math.Pow(r-mean, 2)
	}
	return math.Sqrt(variance / float64(len(returns)))
}

func calculateDownsideDeviation(returns []float64, target float64) float64 {
	downsideVariance := 0.0
	downsideCount := 0
	for _, r := range returns {
		if r < target {
			downsideVariance += math.Pow(r-target, 2)
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0.0
	}
	return math.Sqrt(downsideVariance / float64(downsideCount))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func calculateSharpeRatio(returns []float64, riskFreeRate float64) float64 {
	m := mean(returns)
	stdDev := calculateStandardDeviation(returns, m)
	if stdDev == 0 {
		return 0.0
	}
	return (m - riskFreeRate) / stdDev
}

func calculateSortinoRatio(returns []float64, riskFreeRate float64) float64 {
	downsideDev := calculateDownsideDeviation(returns, 0)
	if downsideDev == 0 {
		return 0.0
	}
	return (mean(returns) - riskFreeRate) / downsideDev
}
