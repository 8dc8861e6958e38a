package dbwriter

import (
	"context"

	"github.com/your-org/dca-drawdown-sim/internal/position"
)

// LedgerWriter mirrors a run's ledger into the database.
// Record is called from the engine loop and must not block it.
type LedgerWriter interface {
	Record(runID string, txs []position.Transaction)
	SaveRunSummary(ctx context.Context, summary RunSummary) error
	Close()
}
