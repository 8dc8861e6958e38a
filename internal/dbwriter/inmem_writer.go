package dbwriter

import (
	"context"
	"sync"

	"github.com/your-org/dca-drawdown-sim/internal/position"
)

// InMemWriter is an in-memory LedgerWriter for tests.
type InMemWriter struct {
	mu           sync.RWMutex
	Transactions map[string][]position.Transaction
	Summaries    []RunSummary
	IsClosed     bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{Transactions: make(map[string][]position.Transaction)}
}

// Record appends txs under runID.
func (w *InMemWriter) Record(runID string, txs []position.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Transactions[runID] = append(w.Transactions[runID], txs...)
}

// SaveRunSummary appends the summary.
func (w *InMemWriter) SaveRunSummary(_ context.Context, s RunSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Summaries = append(w.Summaries, s)
	return nil
}

// Ledger returns a copy of the entries recorded for runID.
func (w *InMemWriter) Ledger(runID string) []position.Transaction {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]position.Transaction(nil), w.Transactions[runID]...)
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}
