package csvwriter

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/dca-drawdown-sim/internal/position"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWriter_WriteTransactions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	w, err := NewWriter(path, zap.NewNop())
	require.NoError(t, err)

	txs := []position.Transaction{
		{ID: 1, Type: position.TxBuy, Quantity: d("0.0001"), Price: d("50000"), Time: t0, Amount: d("5"), BuyOrderID: 1},
		{ID: 2, Type: position.TxSell, Quantity: d("0.0001"), Price: d("53000.5"), Time: t0.Add(time.Minute),
			Amount: d("5.30005"), ProfitLoss: d("0.30005"), BuyOrderID: 1},
	}
	require.NoError(t, w.WriteTransactions(txs))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, TransactionHeader, rows[0])
	assert.Equal(t, []string{"1", "BUY", "2024-01-01T00:00:00Z", "50000", "0.0001", "5", "0", "1"}, rows[1])
	assert.Equal(t, []string{"2", "SELL", "2024-01-01T00:01:00Z", "53000.5", "0.0001", "5.30005", "0.30005", "1"}, rows[2])
}

func TestWriter_WriteOrders(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf, zap.NewNop())

	orders := []position.BuyOrder{
		{ID: 1, PurchasedAt: t0, PurchasePrice: d("50000"), Quantity: d("0.0001"), InvestedAmount: d("5"),
			Status: position.StatusClosed, ClosedAt: t0.Add(time.Hour), ClosingPrice: d("53000"), RealizedProfit: d("0.3")},
		{ID: 2, PurchasedAt: t0, PurchasePrice: d("48500"), Quantity: d("0.0001"), InvestedAmount: d("4.85"),
			Status: position.StatusOpen},
	}
	require.NoError(t, w.WriteOrders(orders))
	require.NoError(t, w.Close())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, OrderHeader, rows[0])
	assert.Equal(t, "2024-01-01T01:00:00Z", rows[1][6])
	assert.Equal(t, "0.3", rows[1][8])
	assert.Equal(t, []string{"", "", ""}, rows[2][6:])
}

func TestNewWriter_BadPath(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "missing", "ledger.csv"), zap.NewNop())
	assert.Error(t, err)
}
