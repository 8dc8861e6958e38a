package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/your-org/dca-drawdown-sim/internal/advisory"
	"github.com/your-org/dca-drawdown-sim/internal/alert"
	"github.com/your-org/dca-drawdown-sim/internal/dbwriter"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/http/handler"
	"github.com/your-org/dca-drawdown-sim/internal/lifecycle"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulation in the foreground, resuming from the checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts, false)
		},
	}
}

func newFreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fresh",
		Short: "Discard the checkpoint and run a new simulation in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts, true)
		},
	}
}

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Start the simulation in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := opts.controller(opts.consoleLogger())
			if err != nil {
				return err
			}
			pid, err := ctrl.Start(opts.passthrough())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Simulation started in the background (pid %d)\n", pid)
			return nil
		},
	}
}

// runSimulation wires the optional sinks around a controller and runs it
// until the stream ends or SIGINT/SIGTERM arrives.
func runSimulation(parent context.Context, opts *rootOptions, fresh bool) error {
	cfg := opts.cfg
	zl, closeLog, err := logger.NewZap(cfg.LogLevel, cfg.LogDir())
	if err != nil {
		return err
	}
	defer closeLog()
	logger.SetGlobal(zl)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := alert.New(cfg.Discord, zl)
	defer notifier.Close()

	ledger, err := dbwriter.Open(ctx, cfg.Database, zl)
	if err != nil {
		zl.Error("Ledger database unavailable", logger.Event(logger.EventLedgerWrite), zap.Error(err))
		return err
	}
	defer ledger.Close()

	ctrlOpts := []lifecycle.Option{
		lifecycle.WithNotifier(notifier),
		lifecycle.WithLedger(ledger),
	}

	if cfg.Advisory.Enabled {
		client := advisory.NewOllamaClient(cfg.Advisory)
		if err := client.Ping(ctx); err != nil {
			zl.Warn("Advisory oracle unreachable at startup, calls will fall back to technical signals",
				logger.Event(logger.EventAdvisoryOracle), zap.Error(err))
		}
		ctrlOpts = append(ctrlOpts, lifecycle.WithOracle(advisory.Bounded{Oracle: client, Timeout: cfg.Advisory.Timeout.Std()}))
	}

	if cfg.Status.Addr != "" {
		store := handler.NewSnapshotStore()
		snapshots := make(chan engine.Snapshot, 1)
		ctrlOpts = append(ctrlOpts, lifecycle.WithSnapshotSink(snapshots))

		serveCtx, cancelServe := context.WithCancel(context.Background())
		defer cancelServe()
		go store.Consume(serveCtx, snapshots)
		router := handler.NewRouter(handler.NewStatusHandler(store, cfg.Status.StreamInterval.Std(), zl))
		go func() {
			if err := handler.Serve(serveCtx, cfg.Status.Addr, router, zl); err != nil {
				zl.Error("Status server stopped", logger.Event(logger.EventStatusServer), zap.Error(err))
			}
		}()
	}

	ctrl, err := opts.controller(zl, ctrlOpts...)
	if err != nil {
		return err
	}
	return ctrl.Run(ctx, fresh)
}
