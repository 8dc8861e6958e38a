package dbwriter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/position"
	"github.com/your-org/dca-drawdown-sim/internal/report"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writerConfig(batch int) config.DatabaseConf {
	return config.DatabaseConf{BatchSize: batch, WriteInterval: config.Duration(time.Hour)}
}

func sampleTxs() []position.Transaction {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []position.Transaction{
		{ID: 1, Type: position.TxBuy, Quantity: decimal.RequireFromString("0.0001"), Price: decimal.NewFromInt(50000),
			Time: ts, Amount: decimal.NewFromInt(5), BuyOrderID: 1},
		{ID: 2, Type: position.TxSell, Quantity: decimal.RequireFromString("0.0001"), Price: decimal.NewFromInt(53000),
			Time: ts.Add(time.Minute), Amount: decimal.RequireFromString("5.3"), ProfitLoss: decimal.RequireFromString("0.3"), BuyOrderID: 1},
	}
}

func TestPostgresWriter_ImplementsLedgerWriter(t *testing.T) {
	assert.Implements(t, (*LedgerWriter)(nil), new(PostgresWriter))
	assert.Implements(t, (*LedgerWriter)(nil), new(InMemWriter))
}

func TestPostgresWriter_CloseFlushesBuffer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	writer := NewPostgresWriter(mock, writerConfig(100), zap.NewNop())

	mock.ExpectCopyFrom(pgx.Identifier{"sim_transactions"}, transactionColumns).WillReturnResult(2)

	writer.Record("run-1", sampleTxs())
	writer.Close()
	writer.Close()

	require.NoError(t, mock.ExpectationsWereMet(), "there were unfulfilled expectations")
}

func TestPostgresWriter_FullBatchFlushesEarly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	writer := NewPostgresWriter(mock, writerConfig(2), zap.NewNop())
	defer writer.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"sim_transactions"}, transactionColumns).WillReturnResult(2)

	writer.Record("run-1", sampleTxs())
	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestPostgresWriter_RecordEmptyIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	writer := NewPostgresWriter(mock, writerConfig(1), zap.NewNop())
	writer.Record("run-1", nil)
	writer.Close()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_CopyFailureIsLogged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	core, logs := observer.New(zapcore.ErrorLevel)

	writer := NewPostgresWriter(mock, writerConfig(100), zap.New(core))
	mock.ExpectCopyFrom(pgx.Identifier{"sim_transactions"}, transactionColumns).WillReturnError(errors.New("connection reset"))

	writer.Record("run-1", sampleTxs())
	writer.Close()

	require.NoError(t, mock.ExpectationsWereMet())
	entries := logs.FilterField(logger.Event(logger.EventLedgerWrite)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["count"])
}

func TestPostgresWriter_SaveRunSummary(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	writer := NewPostgresWriter(mock, writerConfig(100), zap.NewNop())
	defer writer.Close()

	s := RunSummary{
		RunID:          "run-1",
		StartedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Status:         "finished",
		Ticks:          120,
		CursorIndex:    120,
		InitialBalance: 100,
		FinalEquity:    104.5,
		NetProfit:      4.5,
		ROIPct:         4.5,
		MaxDrawdownPct: 2.1,
		WinRate:        75,
		TotalTrades:    4,
		Buys:           6,
		Rejected:       1,
	}

	mock.ExpectExec("INSERT INTO sim_runs").
		WithArgs(s.RunID, s.StartedAt, s.UpdatedAt, s.Status, int64(120), int64(120),
			100.0, 104.5, 4.5, 4.5, 2.1, 75.0, 4, 6, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, writer.SaveRunSummary(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("INSERT INTO sim_runs").WillReturnError(errors.New("relation does not exist"))
	err = writer.SaveRunSummary(context.Background(), s)
	assert.ErrorContains(t, err, "run-1")
}

func TestToTransactionRows(t *testing.T) {
	rows := toTransactionRows([]ledgerRow{{runID: "run-1", tx: sampleTxs()[1]}})
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(transactionColumns))
	assert.Equal(t, "run-1", rows[0][0])
	assert.Equal(t, int64(2), rows[0][1])
	assert.Equal(t, "SELL", rows[0][2])
	assert.Equal(t, int64(1), rows[0][3])
	assert.InDelta(t, 0.3, rows[0][7], 1e-12)
}

func TestOpen_NoURLReturnsDummy(t *testing.T) {
	w, err := Open(context.Background(), config.DatabaseConf{}, zap.NewNop())
	require.NoError(t, err)
	_, ok := w.(*dummyWriter)
	assert.True(t, ok)
	w.Record("run-1", sampleTxs())
	assert.NoError(t, w.SaveRunSummary(context.Background(), RunSummary{RunID: "run-1"}))
	w.Close()
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/sim?sslmode=disable", "pgx5://u:p@localhost:5432/sim?sslmode=disable"},
		{"postgresql://localhost/sim", "pgx5://localhost/sim"},
		{"pgx5://localhost/sim", "pgx5://localhost/sim"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, migrateURL(tt.in))
		})
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in migrations: %s", name)
		}
	}
	assert.NotEmpty(t, ups)
	assert.Equal(t, ups, downs, "every up migration needs a down migration")
}

func TestNewRunSummary(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	r := report.Report{
		RunID:          "run-1",
		Ticks:          10,
		CursorIndex:    12,
		InitialBalance: decimal.NewFromInt(100),
		Equity:         decimal.RequireFromString("103.5"),
		NetProfit:      decimal.RequireFromString("3.5"),
		ROIPct:         decimal.RequireFromString("3.5"),
		WinRate:        50,
		TotalTrades:    2,
		Buys:           4,
	}
	s := NewRunSummary(r, "finished", at)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, at, s.UpdatedAt)
	assert.Equal(t, "finished", s.Status)
	assert.Equal(t, uint64(12), s.CursorIndex)
	assert.InDelta(t, 103.5, s.FinalEquity, 1e-9)
	assert.Equal(t, 4, s.Buys)
}
