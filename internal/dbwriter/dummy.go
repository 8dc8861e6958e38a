package dbwriter

import (
	"context"

	"github.com/your-org/dca-drawdown-sim/internal/position"
	"go.uber.org/zap"
)

// dummyWriter is a no-op LedgerWriter used when no database is configured.
type dummyWriter struct {
	logger *zap.Logger
}

// NewDummyWriter creates a new dummy writer.
func NewDummyWriter(l *zap.Logger) LedgerWriter {
	l.Info("DATABASE_URL not set, ledger will not be mirrored to Postgres.")
	return &dummyWriter{logger: l}
}

func (d *dummyWriter) Record(string, []position.Transaction) {}

func (d *dummyWriter) SaveRunSummary(_ context.Context, s RunSummary) error {
	d.logger.Debug("Dummy writer: SaveRunSummary called", zap.String("run_id", s.RunID))
	return nil
}

func (d *dummyWriter) Close() {}
