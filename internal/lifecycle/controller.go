// Package lifecycle starts, stops and inspects simulation runs. It owns the
// liveness marker that keeps two instances from sharing a checkpoint.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/your-org/dca-drawdown-sim/internal/advisory"
	"github.com/your-org/dca-drawdown-sim/internal/alert"
	"github.com/your-org/dca-drawdown-sim/internal/checkpoint"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/datastore"
	"github.com/your-org/dca-drawdown-sim/internal/dbwriter"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/report"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// Phase is the state of the controller's run.
type Phase int32

const (
	Stopped Phase = iota
	Starting
	Running
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// SourceFactory opens the price source of a run.
type SourceFactory func(ctx context.Context) (datastore.PriceSource, error)

// Option configures a Controller.
type Option func(*Controller)

// WithSource replaces the configured price store.
func WithSource(f SourceFactory) Option {
	return func(c *Controller) { c.source = f }
}

// WithOracle enables the advisory oracle for runs.
func WithOracle(o advisory.Oracle) Option {
	return func(c *Controller) { c.oracle = o }
}

// WithLedger mirrors the ledger and the final summary of runs to w. The
// caller keeps ownership of w.
func WithLedger(w dbwriter.LedgerWriter) Option {
	return func(c *Controller) { c.ledger = w }
}

// WithNotifier sends run alerts through n.
func WithNotifier(n alert.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithSnapshotSink publishes engine snapshots on ch as well, for example to
// the status server. The controller never closes ch.
func WithSnapshotSink(ch chan engine.Snapshot) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, ch) }
}

// Controller drives one run at a time and manages background instances.
type Controller struct {
	cfg      *config.Config
	logger   *zap.Logger
	marker   *MarkerFile
	ckpt     *checkpoint.Manager
	source   SourceFactory
	oracle   advisory.Oracle
	ledger   dbwriter.LedgerWriter
	notifier alert.Notifier
	sinks    []chan engine.Snapshot
	phase    atomic.Int32

	now       func() time.Time
	spawn     func(args []string) (*exec.Cmd, error)
	terminate func(pid int) error
	pollEvery time.Duration
}

// New creates a controller for cfg.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Controller, error) {
	ckpt, err := checkpoint.NewManager(cfg.CheckpointPath(), cfg.Checkpoint, logger)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "lifecycle")),
		marker:    NewMarkerFile(cfg.PIDPath()),
		ckpt:      ckpt,
		notifier:  alert.NewNoOpNotifier(),
		now:       time.Now,
		spawn:     spawnSelf,
		terminate: terminate,
		pollEvery: 100 * time.Millisecond,
	}
	c.source = func(ctx context.Context) (datastore.PriceSource, error) {
		return datastore.Open(ctx, cfg.Store, logger)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Phase returns the current phase of this controller's run.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// Checkpoint exposes the checkpoint manager for read-only commands.
func (c *Controller) Checkpoint() *checkpoint.Manager {
	return c.ckpt
}

func (c *Controller) transition(to Phase) {
	from := Phase(c.phase.Swap(int32(to)))
	if from == to {
		return
	}
	c.logger.Info("Lifecycle transition",
		logger.Event(logger.EventStateTransition),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// Run executes a simulation in the foreground. It resumes from the
// checkpoint unless fresh is set, and returns nil when the stream ends or
// ctx is cancelled. A price store failure halts the run with an error after
// the final checkpoint.
func (c *Controller) Run(ctx context.Context, fresh bool) error {
	c.transition(Starting)
	defer c.transition(Stopped)

	instance := Marker{
		PID:        os.Getpid(),
		InstanceID: uuid.NewString(),
		StartedAt:  c.now().UTC(),
		Host:       hostname(),
	}
	stale, err := c.marker.Acquire(instance)
	if err != nil {
		c.logger.Error("Cannot acquire liveness marker",
			logger.Event(simerr.EventKind(err)),
			zap.String("path", c.marker.Path()),
			zap.Error(err),
		)
		return err
	}
	if stale != nil {
		c.logger.Warn("Replaced stale liveness marker",
			logger.Event(logger.EventStaleMarker),
			zap.Int("stale_pid", stale.PID),
			zap.String("stale_instance", stale.InstanceID),
		)
	}
	defer func() {
		if err := c.marker.Release(instance.InstanceID); err != nil {
			c.logger.Warn("Failed to release liveness marker", zap.Error(err))
		}
	}()

	if fresh {
		if err := c.ckpt.Remove(); err != nil {
			return err
		}
		c.logger.Info("Discarded previous checkpoint", zap.String("path", c.ckpt.Path()))
	}

	state := c.ckpt.Load(c.cfg.Strategy)
	resumed := state != nil
	if !resumed {
		state = engine.NewState(c.cfg.Strategy, uuid.NewString(), instance.StartedAt)
	}
	instance.RunID = state.RunID
	if err := c.marker.Update(instance); err != nil {
		c.logger.Warn("Failed to record run id in liveness marker", zap.Error(err))
	}
	log := c.logger.With(zap.String("run_id", state.RunID))

	src, err := c.source(ctx)
	if err != nil {
		log.Error("Cannot open price source", logger.Event(simerr.EventKind(err)), zap.Error(err))
		return err
	}
	defer src.Close()

	cursor := datastore.NewCursor(src, state.CursorIndex, c.cfg.Store, c.logger)
	if err := cursor.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("Run cancelled before the first tick")
			return nil
		}
		log.Error("Cannot connect to price source", logger.Event(logger.EventDataSource), zap.Error(err))
		return err
	}

	ckptCh := make(chan engine.Snapshot, 1)
	opts := []engine.Option{engine.WithSnapshots(append([]chan engine.Snapshot{ckptCh}, c.sinks...)...)}
	if c.oracle != nil {
		opts = append(opts, engine.WithOracle(c.oracle))
	}
	if c.ledger != nil {
		opts = append(opts, engine.WithLedger(c.ledger))
	}
	eng := engine.New(c.cfg, state, cursor, c.logger, opts...)

	if resumed {
		primed := eng.Prime(ctx)
		log.Info("Resuming run",
			logger.Event(logger.EventRunResumed),
			zap.Uint64("cursor_index", state.CursorIndex),
			zap.Uint64("ticks", state.Ticks),
			zap.Int("primed_bars", primed),
		)
	} else {
		log.Info("Starting new run",
			logger.Event(logger.EventRunStarted),
			zap.String("initial_balance", state.InitialBalance.String()),
		)
	}

	saved := make(chan struct{})
	go func() {
		defer close(saved)
		// The final save must happen even after ctx is cancelled.
		c.ckpt.Run(context.WithoutCancel(ctx), ckptCh)
	}()

	c.transition(Running)
	verb := "started"
	if resumed {
		verb = "resumed"
	}
	c.alert(fmt.Sprintf("Run %s %s at index %d", state.RunID, verb, state.CursorIndex))

	runErr := eng.Run(ctx)

	c.transition(Stopping)
	close(ckptCh)
	<-saved

	snap := eng.State().Snapshot()
	fields := []zap.Field{
		zap.Uint64("ticks", snap.Ticks),
		zap.Uint64("cursor_index", snap.CursorIndex),
		zap.String("equity", snap.Equity().StringFixed(2)),
		zap.String("realized_pnl", snap.PnL.RealizedPnL.StringFixed(2)),
		zap.Int("open_orders", len(snap.OpenOrders)),
		zap.Int("total_trades", snap.Stats.TotalTrades),
		zap.String("max_drawdown_pct", snap.Stats.MaxDrawdownPct.Shift(2).StringFixed(2)),
	}

	status := "halted"
	switch {
	case runErr == nil:
		status = "finished"
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		status = "stopped"
	}
	c.saveSummary(context.WithoutCancel(ctx), snap, status)

	switch status {
	case "finished":
		log.Info("Run finished", append(fields, logger.Event(logger.EventRunFinished))...)
		c.alert(fmt.Sprintf("Run %s reached the end of the price stream, equity %s", state.RunID, snap.Equity().StringFixed(2)))
		return nil
	case "stopped":
		log.Info("Run stopped", append(fields, logger.Event(logger.EventRunFinished))...)
		return nil
	default:
		log.Error("Run halted", append(fields, logger.Event(logger.EventRunHalted), zap.Error(runErr))...)
		c.alert(fmt.Sprintf("Run %s halted at index %d: %v", state.RunID, snap.CursorIndex, runErr))
		return runErr
	}
}

func (c *Controller) saveSummary(ctx context.Context, snap engine.Snapshot, status string) {
	if c.ledger == nil {
		return
	}
	summary := dbwriter.NewRunSummary(report.Build(snap), status, c.now().UTC())
	if err := c.ledger.SaveRunSummary(ctx, summary); err != nil {
		c.logger.Error("Failed to save run summary", logger.Event(logger.EventLedgerWrite), zap.Error(err))
	}
}

func (c *Controller) alert(msg string) {
	if err := c.notifier.Send(msg); err != nil {
		c.logger.Warn("Failed to queue alert", logger.Event(logger.EventAlert), zap.Error(err))
	}
}

// Start launches a background instance running `simulate` with args and
// returns its pid. Output goes to daemon.out in the log directory.
func (c *Controller) Start(args []string) (int, error) {
	if live := c.marker.Live(); live != nil {
		return 0, fmt.Errorf("%w: pid %d", simerr.ErrConcurrentInstance, live.PID)
	}

	logDir := c.cfg.LogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(filepath.Join(logDir, "daemon.out"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	cmd, err := c.spawn(args)
	if err != nil {
		return 0, err
	}
	cmd.Stdout, cmd.Stderr = out, out
	cmd.SysProcAttr = detached()
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start background instance: %w", err)
	}
	pid := cmd.Process.Pid
	c.logger.Info("Background instance started", zap.Int("pid", pid), zap.Strings("args", args))
	if err := cmd.Process.Release(); err != nil {
		c.logger.Warn("Failed to release child process", zap.Error(err))
	}
	return pid, nil
}

func spawnSelf(args []string) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate executable: %w", err)
	}
	return exec.Command(exe, append([]string{"simulate"}, args...)...), nil
}

// Stop sends SIGTERM to the instance recorded in the marker and waits until
// it exits or ctx is done. A stale marker is removed and reported as
// simerr.ErrNotRunning.
func (c *Controller) Stop(ctx context.Context) (int, error) {
	m, err := c.marker.Read()
	if errors.Is(err, os.ErrNotExist) {
		return 0, simerr.ErrNotRunning
	}
	if err != nil || m.PID <= 0 || !c.marker.alive(m.PID) {
		if rerr := c.marker.Remove(); rerr != nil {
			return 0, rerr
		}
		c.logger.Warn("Removed stale liveness marker", logger.Event(logger.EventStaleMarker))
		return 0, fmt.Errorf("%w: stale marker removed", simerr.ErrNotRunning)
	}

	if err := c.terminate(m.PID); err != nil {
		return m.PID, fmt.Errorf("failed to signal pid %d: %w", m.PID, err)
	}
	c.logger.Info("Sent SIGTERM", zap.Int("pid", m.PID), zap.String("run_id", m.RunID))

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for c.marker.alive(m.PID) {
		select {
		case <-ctx.Done():
			return m.PID, fmt.Errorf("pid %d still running: %w", m.PID, ctx.Err())
		case <-ticker.C:
		}
	}
	return m.PID, nil
}

// Status describes the recorded instance and the persisted checkpoint. It
// only reads files and never contacts the running instance.
type Status struct {
	Phase         Phase
	Marker        *Marker
	StaleMarker   bool
	Checkpoint    *checkpoint.Record
	CheckpointErr error
}

// Status reports whether an instance is live and what it last saved.
func (c *Controller) Status() Status {
	st := Status{Phase: Stopped}
	if m, err := c.marker.Read(); err == nil {
		st.Marker = m
		if m.PID > 0 && c.marker.alive(m.PID) {
			st.Phase = Running
		} else {
			st.StaleMarker = true
		}
	}
	rec, err := c.ckpt.Read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		st.CheckpointErr = err
	}
	st.Checkpoint = rec
	return st
}

// Clear deletes the checkpoint and any stale marker. It refuses while an
// instance is running.
func (c *Controller) Clear() error {
	if live := c.marker.Live(); live != nil {
		return fmt.Errorf("%w: stop pid %d first", simerr.ErrConcurrentInstance, live.PID)
	}
	if err := c.marker.Remove(); err != nil {
		return err
	}
	if err := c.ckpt.Remove(); err != nil {
		return err
	}
	c.logger.Info("Checkpoint cleared", zap.String("path", c.ckpt.Path()))
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
