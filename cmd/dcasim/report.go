package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/your-org/dca-drawdown-sim/internal/checkpoint"
	"github.com/your-org/dca-drawdown-sim/internal/csvwriter"
	"github.com/your-org/dca-drawdown-sim/internal/position"
	"github.com/your-org/dca-drawdown-sim/internal/report"
)

func (o *rootOptions) readCheckpoint() (*checkpoint.Record, error) {
	ctrl, err := o.controller(o.consoleLogger())
	if err != nil {
		return nil, err
	}
	rec, err := ctrl.Checkpoint().Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no checkpoint at %s", ctrl.Checkpoint().Path())
	}
	return rec, err
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the performance report of the checkpointed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := opts.readCheckpoint()
			if err != nil {
				return err
			}
			r := report.Build(rec.Snapshot)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			return r.WriteText(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var what, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the checkpointed ledger or orders as CSV",
		Long: `Writes the transactions kept in the checkpoint, or its open and closed buy
orders, as CSV. With checkpoint.ledger_tail set the checkpoint keeps only the
most recent entries; the complete ledger lives in the database when one is
configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := opts.readCheckpoint()
			if err != nil {
				return err
			}

			var w *csvwriter.Writer
			if out == "-" {
				w = csvwriter.NewStreamWriter(cmd.OutOrStdout(), opts.consoleLogger())
			} else {
				w, err = csvwriter.NewWriter(out, opts.consoleLogger())
				if err != nil {
					return err
				}
			}

			switch what {
			case "transactions":
				err = w.WriteTransactions(rec.Transactions)
			case "orders":
				orders := make([]position.BuyOrder, 0, len(rec.ClosedOrders)+len(rec.OpenOrders))
				orders = append(orders, rec.ClosedOrders...)
				orders = append(orders, rec.OpenOrders...)
				err = w.WriteOrders(orders)
			default:
				err = fmt.Errorf("unknown export %q, want transactions or orders", what)
			}
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&what, "what", "transactions", "What to export: transactions or orders")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file, - for stdout")
	return cmd
}
