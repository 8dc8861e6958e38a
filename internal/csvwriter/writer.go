// Package csvwriter exports a run's ledger as CSV.
package csvwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/your-org/dca-drawdown-sim/internal/position"
	"go.uber.org/zap"
)

// TransactionHeader is the header row of a transaction export.
var TransactionHeader = []string{"id", "type", "time", "price", "quantity", "amount", "profit_loss", "buy_order_id"}

// OrderHeader is the header row of a buy-order export.
var OrderHeader = []string{
	"id", "status", "purchased_at", "purchase_price", "quantity", "invested_amount",
	"closed_at", "closing_price", "realized_profit",
}

// Writer is a CSV writer over a file or any io.Writer.
type Writer struct {
	closer io.Closer
	writer *csv.Writer
	logger *zap.Logger
	mu     sync.Mutex
}

// NewWriter creates a new CSV writer at filePath. "-" writes to stdout.
func NewWriter(filePath string, logger *zap.Logger) (*Writer, error) {
	if filePath == "-" {
		return NewStreamWriter(os.Stdout, logger), nil
	}
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}
	w := NewStreamWriter(file, logger)
	w.closer = file
	return w, nil
}

// NewStreamWriter writes CSV to out. Close flushes but does not close out.
func NewStreamWriter(out io.Writer, logger *zap.Logger) *Writer {
	return &Writer{writer: csv.NewWriter(out), logger: logger}
}

// Write writes a record to the CSV file.
func (w *Writer) Write(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record to CSV: %w", err)
	}
	return nil
}

// WriteTransactions writes the header followed by one row per transaction.
func (w *Writer) WriteTransactions(txs []position.Transaction) error {
	if err := w.Write(TransactionHeader); err != nil {
		return err
	}
	for _, tx := range txs {
		if err := w.Write(TransactionRecord(tx)); err != nil {
			return err
		}
	}
	return nil
}

// WriteOrders writes the header followed by one row per order.
func (w *Writer) WriteOrders(orders []position.BuyOrder) error {
	if err := w.Write(OrderHeader); err != nil {
		return err
	}
	for _, o := range orders {
		if err := w.Write(OrderRecord(o)); err != nil {
			return err
		}
	}
	return nil
}

// TransactionRecord renders tx as a CSV row. Decimals keep full precision.
func TransactionRecord(tx position.Transaction) []string {
	return []string{
		strconv.FormatUint(tx.ID, 10),
		string(tx.Type),
		tx.Time.UTC().Format(time.RFC3339),
		tx.Price.String(),
		tx.Quantity.String(),
		tx.Amount.String(),
		tx.ProfitLoss.String(),
		strconv.FormatUint(tx.BuyOrderID, 10),
	}
}

// OrderRecord renders o as a CSV row. Open orders leave the closing columns empty.
func OrderRecord(o position.BuyOrder) []string {
	closedAt, closingPrice, profit := "", "", ""
	if o.Status == position.StatusClosed {
		closedAt = o.ClosedAt.UTC().Format(time.RFC3339)
		closingPrice = o.ClosingPrice.String()
		profit = o.RealizedProfit.String()
	}
	return []string{
		strconv.FormatUint(o.ID, 10),
		string(o.Status),
		o.PurchasedAt.UTC().Format(time.RFC3339),
		o.PurchasePrice.String(),
		o.Quantity.String(),
		o.InvestedAmount.String(),
		closedAt,
		closingPrice,
		profit,
	}
}

// Flush flushes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.logger.Error("Failed to flush CSV", zap.Error(err))
		if w.closer != nil {
			w.closer.Close()
		}
		return err
	}
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
