package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/your-org/dca-drawdown-sim/internal/lifecycle"
	"github.com/your-org/dca-drawdown-sim/internal/report"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
)

type statusView struct {
	Phase          string         `json:"phase"`
	PID            int            `json:"pid,omitempty"`
	InstanceID     string         `json:"instance_id,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	StaleMarker    bool           `json:"stale_marker"`
	Checkpoint     *report.Report `json:"checkpoint,omitempty"`
	CheckpointErr  string         `json:"checkpoint_error,omitempty"`
	CheckpointFile string         `json:"checkpoint_file"`
}

func newStatusView(st lifecycle.Status, path string) statusView {
	v := statusView{Phase: st.Phase.String(), StaleMarker: st.StaleMarker, CheckpointFile: path}
	if st.Marker != nil {
		v.PID = st.Marker.PID
		v.InstanceID = st.Marker.InstanceID
		v.StartedAt = &st.Marker.StartedAt
	}
	if st.Checkpoint != nil {
		r := report.Build(st.Checkpoint.Snapshot)
		v.Checkpoint = &r
	}
	if st.CheckpointErr != nil {
		v.CheckpointErr = st.CheckpointErr.Error()
	}
	return v
}

func (v statusView) writeText(w io.Writer) {
	switch {
	case v.Phase == lifecycle.Running.String():
		fmt.Fprintf(w, "Status: running (pid %d, since %s)\n", v.PID, v.StartedAt.Format(time.RFC3339))
	case v.StaleMarker:
		fmt.Fprintf(w, "Status: stopped (stale marker for pid %d)\n", v.PID)
	default:
		fmt.Fprintln(w, "Status: stopped")
	}
	switch {
	case v.CheckpointErr != "":
		fmt.Fprintf(w, "Checkpoint: unusable (%s)\n", v.CheckpointErr)
	case v.Checkpoint == nil:
		fmt.Fprintln(w, "Checkpoint: none")
	default:
		r := v.Checkpoint
		fmt.Fprintf(w, "Checkpoint: %s\n", v.CheckpointFile)
		fmt.Fprintf(w, "  Run %s, %d ticks, index %d, at %s\n", r.RunID, r.Ticks, r.CursorIndex, r.CurrentTime.Format(time.RFC3339))
		fmt.Fprintf(w, "  Equity %s (%s%%), %d open orders, %d trades, win rate %.2f%%\n",
			r.Equity.StringFixed(2), r.ROIPct.StringFixed(2), r.OpenOrders, r.TotalTrades, r.WinRate)
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether an instance is running and what it last checkpointed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := opts.controller(opts.consoleLogger())
			if err != nil {
				return err
			}
			v := newStatusView(ctrl.Status(), ctrl.Checkpoint().Path())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			v.writeText(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running instance and wait for its final checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := opts.controller(opts.consoleLogger())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			pid, err := ctrl.Stop(ctx)
			if errors.Is(err, simerr.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "No simulation is running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Simulation stopped (pid %d)\n", pid)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the instance to exit")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the checkpoint so the next run starts fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := opts.controller(opts.consoleLogger())
			if err != nil {
				return err
			}
			if err := ctrl.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Checkpoint cleared")
			return nil
		},
	}
}
