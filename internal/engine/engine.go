// Package engine runs the simulation: it owns the run state, applies each
// price tick and publishes snapshots for persistence.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/dca-drawdown-sim/internal/advisory"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/datastore"
	"github.com/your-org/dca-drawdown-sim/internal/decision"
	"github.com/your-org/dca-drawdown-sim/internal/drawdown"
	"github.com/your-org/dca-drawdown-sim/internal/indicator"
	"github.com/your-org/dca-drawdown-sim/internal/position"
	"github.com/your-org/dca-drawdown-sim/internal/signal"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// LedgerSink receives the ledger entries produced by each tick. Record must
// not block the loop.
type LedgerSink interface {
	Record(runID string, txs []position.Transaction)
}

// Option configures an Engine.
type Option func(*Engine)

// WithOracle enables the advisory oracle.
func WithOracle(o advisory.Oracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithSnapshots publishes snapshots on each channel. Channels should have a
// buffer of one; a pending snapshot is replaced by a newer one.
func WithSnapshots(chs ...chan Snapshot) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, chs...) }
}

// WithLedger forwards ledger entries to sink.
func WithLedger(sink LedgerSink) Option {
	return func(e *Engine) { e.ledger = sink }
}

// WithPublishInterval sets the minimum wall-clock gap between snapshots.
func WithPublishInterval(d time.Duration) Option {
	return func(e *Engine) { e.publishEvery = d }
}

// Engine drives the tick loop. It is single-threaded; only Run's goroutine
// may touch the state.
type Engine struct {
	state         *State
	cursor        *datastore.Cursor
	signals       *signal.SignalEngine
	combiner      decision.Combiner
	exec          *Executor
	oracle        advisory.Oracle
	ledger        LedgerSink
	sinks         []chan Snapshot
	window        int
	dropsRequired int
	maxTicks      int
	publishEvery  time.Duration
	lastPublish   time.Time
	lastTx        uint64
	logger        *zap.Logger
}

// New wires an engine around state and cursor.
func New(cfg *config.Config, state *State, cursor *datastore.Cursor, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		state:         state,
		cursor:        cursor,
		signals:       signal.NewSignalEngine(cfg.Decision.Window),
		combiner:      decision.NewCombiner(cfg.Decision, cfg.Advisory.Weight),
		exec:          NewExecutor(cfg.Strategy),
		window:        cfg.Decision.Window,
		dropsRequired: cfg.Strategy.DropsRequired,
		maxTicks:      cfg.Store.MaxTicks,
		publishEvery:  time.Second,
		lastTx:        state.Book.LastTxID(),
		logger:        logger.With(zap.String("component", "engine"), zap.String("run_id", state.RunID)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the live state. Callers must not use it while Run is active.
func (e *Engine) State() *State {
	return e.state
}

// Prime replays the bars stored before the cursor into the signal window so
// a resumed run sees the same technical context it had before stopping. The
// EWMA volatility comes from the state, since it spans the whole run.
func (e *Engine) Prime(ctx context.Context) int {
	if e.cursor == nil {
		return 0
	}
	points := e.cursor.Lookback(ctx, e.window)
	for _, p := range points {
		e.signals.Evaluate(signal.BarFromPoint(p))
	}
	if e.state.Volatility.Initialized {
		e.signals.RestoreVolatility(e.state.Volatility)
	}
	return len(points)
}

// Run processes ticks until the stream ends, ctx is cancelled or the store
// fails for good. It returns nil at end of stream, ctx.Err() on cancellation
// and an error wrapping simerr.ErrDataSource on store failure. Cancellation
// is only observed between ticks.
func (e *Engine) Run(ctx context.Context) error {
	defer e.publish(true)

	for ticks := 0; ; ticks++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.maxTicks > 0 && ticks >= e.maxTicks {
			e.logger.Info("Tick limit reached", zap.Int("max_ticks", e.maxTicks))
			return nil
		}

		p, err := e.cursor.Next(ctx)
		switch {
		case errors.Is(err, datastore.ErrEndOfStream):
			return nil
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		e.Step(ctx, p)
	}
}

// Step applies one price point to the state.
func (e *Engine) Step(ctx context.Context, p datastore.PricePoint) Action {
	s := e.state
	now := p.Timestamp
	if now.IsZero() {
		// Simulated clock: one minute per tick from the run start.
		now = s.StartedAt
		if !s.CurrentTime.IsZero() {
			now = s.CurrentTime.Add(time.Minute)
		}
	}

	trigger := s.Tracker.Observe(p.Price, now)
	tech, mc := e.signals.Evaluate(signal.BarFromPoint(p))
	s.Volatility = e.signals.Volatility()
	d := e.combiner.Decide(tech.Signal, e.consult(ctx, mc))
	act := e.exec.Apply(s, trigger, d, p.Price, now)

	if s.Ticks == 0 {
		s.FirstPrice = p.Price
	}
	s.CursorIndex = p.Index + 1
	s.CurrentTime = now
	s.LastPrice = p.Price
	s.Ticks++
	s.CheckInvariants(e.exec.CapitalLimit(s), e.dropsRequired)

	e.logAction(act, d, p)
	e.flushLedger()
	e.publish(false)
	return act
}

func (e *Engine) consult(ctx context.Context, mc indicator.MarketContext) *signal.Signal {
	if e.oracle == nil {
		return nil
	}
	e.state.Stats.OracleCalls++
	adv, err := e.oracle.Evaluate(ctx, mc)
	if err != nil {
		e.state.Stats.OracleFailures++
		e.logger.Warn("Advisory oracle unavailable, using technical signal",
			logger.Event(logger.EventAdvisoryOracle),
			zap.Error(err),
		)
		return nil
	}
	return &adv.Signal
}

func (e *Engine) logAction(act Action, d decision.Decision, p datastore.PricePoint) {
	if act.Trigger != drawdown.None {
		e.logger.Info("Drawdown trigger",
			logger.Event(logger.EventTrigger),
			zap.Stringer("trigger", act.Trigger),
			zap.Uint64("index", p.Index),
			zap.String("price", p.Price.String()),
		)
	}
	if len(act.Trades) > 0 {
		realized := decimal.Zero
		for _, t := range act.Trades {
			realized = realized.Add(t.RealizedProfit)
		}
		e.logger.Info("Orders sold",
			logger.Event(logger.EventSellExecuted),
			zap.Uint64s("order_ids", act.SoldIDs),
			zap.String("price", p.Price.String()),
			zap.String("realized", realized.StringFixed(8)),
			zap.Int("open_orders", e.state.Book.OpenCount()),
		)
	}
	switch {
	case act.Order != nil:
		e.logger.Info("Order bought",
			logger.Event(logger.EventBuyExecuted),
			zap.Uint64("order_id", act.Order.ID),
			zap.String("price", act.Order.PurchasePrice.String()),
			zap.String("amount", act.Order.InvestedAmount.StringFixed(8)),
			zap.Stringer("trigger", act.Trigger),
			zap.Stringer("action", d.Action),
			zap.Stringer("source", d.Source),
			zap.Float64("confidence", d.Confidence),
		)
	case act.Reason != "":
		e.logger.Warn("Buy rejected",
			logger.Event(logger.EventBuyRejected),
			zap.String("reason", act.Reason),
			zap.String("price", p.Price.String()),
			zap.String("open_invested", e.state.Book.OpenInvested().StringFixed(8)),
			zap.String("fiat", e.state.FiatBalance.StringFixed(8)),
		)
	}
}

func (e *Engine) flushLedger() {
	if e.ledger == nil {
		return
	}
	txs := e.state.Book.TransactionsSince(e.lastTx)
	if len(txs) == 0 {
		return
	}
	e.ledger.Record(e.state.RunID, txs)
	e.lastTx = txs[len(txs)-1].ID
}

func (e *Engine) publish(force bool) {
	if len(e.sinks) == 0 {
		return
	}
	if !force && time.Since(e.lastPublish) < e.publishEvery {
		return
	}
	e.lastPublish = time.Now()
	snap := e.state.Snapshot()
	for _, ch := range e.sinks {
		Offer(ch, snap)
	}
}

// Offer puts snap on ch, replacing a snapshot still waiting there. It
// assumes a single sender.
func Offer(ch chan Snapshot, snap Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
