// Package dbwriter mirrors simulation ledgers and run summaries into Postgres.
package dbwriter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/position"
	"github.com/your-org/dca-drawdown-sim/internal/report"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
)

// RunSummary is the per-run row in sim_runs.
type RunSummary struct {
	RunID          string    `db:"run_id"`
	StartedAt      time.Time `db:"started_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	Status         string    `db:"status"`
	Ticks          uint64    `db:"ticks"`
	CursorIndex    uint64    `db:"cursor_index"`
	InitialBalance float64   `db:"initial_balance"`
	FinalEquity    float64   `db:"final_equity"`
	NetProfit      float64   `db:"net_profit"`
	ROIPct         float64   `db:"roi_pct"`
	MaxDrawdownPct float64   `db:"max_drawdown_pct"`
	WinRate        float64   `db:"win_rate"`
	TotalTrades    int       `db:"total_trades"`
	Buys           int       `db:"buys"`
	Rejected       int       `db:"rejected"`
}

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Close()
}

var transactionColumns = []string{
	"run_id", "tx_id", "type", "buy_order_id", "quantity", "price", "amount", "profit_loss", "time",
}

type ledgerRow struct {
	runID string
	tx    position.Transaction
}

// PostgresWriter buffers ledger entries and copies them into sim_transactions
// in batches, either when the batch is full or on every write interval.
type PostgresWriter struct {
	pool      Pool
	logger    *zap.Logger
	batchSize int

	bufferMutex sync.Mutex
	buffer      []ledgerRow

	flushTicker  *time.Ticker
	flushNow     chan struct{}
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// Open connects to cfg.URL, applies migrations when enabled and returns a
// writer. An empty URL yields a no-op writer.
func Open(ctx context.Context, cfg config.DatabaseConf, logger *zap.Logger) (LedgerWriter, error) {
	if cfg.URL == "" {
		return NewDummyWriter(logger), nil
	}
	if cfg.Migrate {
		if err := Migrate(cfg.URL, logger); err != nil {
			return nil, err
		}
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewPostgresWriter(pool, cfg, logger), nil
}

// NewPostgresWriter starts a batch writer on pool.
func NewPostgresWriter(pool Pool, cfg config.DatabaseConf, l *zap.Logger) *PostgresWriter {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		l.Warn("BatchSize is zero or negative, defaulting to 100.", zap.Int("originalValue", batchSize))
		batchSize = 100
	}
	interval := cfg.WriteInterval.Std()
	if interval <= 0 {
		l.Warn("WriteInterval is zero or negative, defaulting to 1s.", zap.Duration("originalValue", interval))
		interval = time.Second
	}

	w := &PostgresWriter{
		pool:         pool,
		logger:       l.With(zap.String("component", "dbwriter")),
		batchSize:    batchSize,
		buffer:       make([]ledgerRow, 0, batchSize),
		flushTicker:  time.NewTicker(interval),
		flushNow:     make(chan struct{}, 1),
		shutdownChan: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	w.logger.Info("Started ledger batch writer", zap.Int("batch_size", batchSize), zap.Duration("interval", interval))
	return w
}

func (w *PostgresWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.flushTicker.C:
			w.flush(context.Background())
		case <-w.flushNow:
			w.flush(context.Background())
		case <-w.shutdownChan:
			return
		}
	}
}

// Record queues txs for the next batch. A full batch wakes the writer
// goroutine; Record itself never touches the database.
func (w *PostgresWriter) Record(runID string, txs []position.Transaction) {
	if len(txs) == 0 {
		return
	}
	w.bufferMutex.Lock()
	for _, tx := range txs {
		w.buffer = append(w.buffer, ledgerRow{runID: runID, tx: tx})
	}
	full := len(w.buffer) >= w.batchSize
	w.bufferMutex.Unlock()

	if full {
		select {
		case w.flushNow <- struct{}{}:
		default:
		}
	}
}

func (w *PostgresWriter) flush(ctx context.Context) {
	w.bufferMutex.Lock()
	if len(w.buffer) == 0 {
		w.bufferMutex.Unlock()
		return
	}
	rows := w.buffer
	w.buffer = make([]ledgerRow, 0, w.batchSize)
	w.bufferMutex.Unlock()

	w.logger.Debug("Flushing ledger transactions", zap.Int("count", len(rows)))
	if _, err := w.pool.CopyFrom(ctx, pgx.Identifier{"sim_transactions"}, transactionColumns, pgx.CopyFromRows(toTransactionRows(rows))); err != nil {
		w.logger.Error("Failed to batch insert ledger transactions",
			logger.Event(logger.EventLedgerWrite),
			zap.Int("count", len(rows)),
			zap.Error(err),
		)
	}
}

func toTransactionRows(rows []ledgerRow) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = []interface{}{
			r.runID,
			int64(r.tx.ID),
			string(r.tx.Type),
			int64(r.tx.BuyOrderID),
			r.tx.Quantity.InexactFloat64(),
			r.tx.Price.InexactFloat64(),
			r.tx.Amount.InexactFloat64(),
			r.tx.ProfitLoss.InexactFloat64(),
			r.tx.Time,
		}
	}
	return out
}

// SaveRunSummary upserts the run's summary row.
func (w *PostgresWriter) SaveRunSummary(ctx context.Context, s RunSummary) error {
	const query = `
		INSERT INTO sim_runs (
			run_id, started_at, updated_at, status, ticks, cursor_index,
			initial_balance, final_equity, net_profit, roi_pct, max_drawdown_pct,
			win_rate, total_trades, buys, rejected
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			status = EXCLUDED.status,
			ticks = EXCLUDED.ticks,
			cursor_index = EXCLUDED.cursor_index,
			final_equity = EXCLUDED.final_equity,
			net_profit = EXCLUDED.net_profit,
			roi_pct = EXCLUDED.roi_pct,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			win_rate = EXCLUDED.win_rate,
			total_trades = EXCLUDED.total_trades,
			buys = EXCLUDED.buys,
			rejected = EXCLUDED.rejected;
	`
	_, err := w.pool.Exec(ctx, query,
		s.RunID, s.StartedAt, s.UpdatedAt, s.Status, int64(s.Ticks), int64(s.CursorIndex),
		s.InitialBalance, s.FinalEquity, s.NetProfit, s.ROIPct, s.MaxDrawdownPct,
		s.WinRate, s.TotalTrades, s.Buys, s.Rejected,
	)
	if err != nil {
		return fmt.Errorf("failed to save run summary %s: %w", s.RunID, err)
	}
	return nil
}

// Close stops the batch loop, flushes what is left and closes the pool.
func (w *PostgresWriter) Close() {
	w.closeOnce.Do(func() {
		w.logger.Info("Closing ledger writer...")
		close(w.shutdownChan)
		w.wg.Wait()
		w.flushTicker.Stop()
		w.flush(context.Background())
		w.pool.Close()
		w.logger.Info("Ledger writer closed")
	})
}

// NewRunSummary maps a run report onto its sim_runs row.
func NewRunSummary(r report.Report, status string, at time.Time) RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		StartedAt:      r.StartedAt,
		UpdatedAt:      at,
		Status:         status,
		Ticks:          r.Ticks,
		CursorIndex:    r.CursorIndex,
		InitialBalance: r.InitialBalance.InexactFloat64(),
		FinalEquity:    r.Equity.InexactFloat64(),
		NetProfit:      r.NetProfit.InexactFloat64(),
		ROIPct:         r.ROIPct.InexactFloat64(),
		MaxDrawdownPct: r.MaxDrawdownPct.InexactFloat64(),
		WinRate:        r.WinRate,
		TotalTrades:    r.TotalTrades,
		Buys:           r.Buys,
		Rejected:       r.Rejected,
	}
}
