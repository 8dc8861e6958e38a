// Command dcasim runs and manages DCA drawdown backtest simulations.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/lifecycle"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// rootOptions carries the global flags and the configuration loaded from them.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string

	cfg *config.Config
}

// passthrough returns the global flags a spawned instance must inherit.
func (o *rootOptions) passthrough() []string {
	var args []string
	if o.configPath != "" {
		args = append(args, "--config", o.configPath)
	}
	if o.dataDir != "" {
		args = append(args, "--data-dir", o.dataDir)
	}
	if o.logLevel != "" {
		args = append(args, "--log-level", o.logLevel)
	}
	return args
}

func (o *rootOptions) load() error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	o.cfg = cfg
	return nil
}

// consoleLogger is the logger of the short-lived management commands.
func (o *rootOptions) consoleLogger() *zap.Logger {
	z, _, err := logger.NewZap(o.cfg.LogLevel, "")
	if err != nil {
		return zap.NewNop()
	}
	return z
}

func (o *rootOptions) controller(l *zap.Logger, opts ...lifecycle.Option) (*lifecycle.Controller, error) {
	return lifecycle.New(o.cfg, l, opts...)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "dcasim",
		Short: "DCA drawdown backtest simulator",
		Long: `Replays a historical price series through a drawdown-triggered DCA strategy
with tiered take-profit exits, optionally consulting an LLM advisory oracle.

A run checkpoints its state and resumes where it stopped. Only one instance
may run per data directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("DCASIM_CONFIG"), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding the checkpoint, liveness marker and logs")
	root.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newSimulateCmd(opts),
		newFreshCmd(opts),
		newDaemonCmd(opts),
		newStatusCmd(opts),
		newStopCmd(opts),
		newClearCmd(opts),
		newLogsCmd(opts),
		newReportCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
