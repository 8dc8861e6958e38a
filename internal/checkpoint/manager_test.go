package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/datastore"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
	"go.uber.org/zap"
)

var (
	t0           = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
)

func newManager(t *testing.T, tailLen int) *Manager {
	t.Helper()
	cfg := config.Default().Checkpoint
	cfg.LedgerTail = tailLen
	cfg.Interval = config.Duration(10 * time.Millisecond)
	m, err := NewManager(filepath.Join(t.TempDir(), "state.json"), cfg, zap.NewNop())
	require.NoError(t, err)
	return m
}

// runSnapshot replays closes through a fresh engine and returns its state.
func runSnapshot(t *testing.T, closes ...float64) (*config.Config, engine.Snapshot) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.MaxGap = 1
	src := datastore.NewMemorySource()
	src.SeedCloses(closes...)
	state := engine.NewState(cfg.Strategy, "run-ckpt", t0)
	e := engine.New(cfg, state, datastore.NewCursor(src, 0, cfg.Store, zap.NewNop()), zap.NewNop())
	require.NoError(t, e.Run(context.Background()))
	return cfg, e.State().Snapshot()
}

var swing = []float64{100, 97, 94, 91, 95, 99, 103, 98, 94.5, 91, 88, 96, 104, 110}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	cfg, snap := runSnapshot(t, swing...)
	require.NotEmpty(t, snap.ClosedOrders, "the swing should close at least one order")

	m := newManager(t, 0)
	require.NoError(t, m.Save(snap))

	state := m.Load(cfg.Strategy)
	require.NotNil(t, state)
	got := state.Snapshot()
	assert.Empty(t, cmp.Diff(snap, got, decimalEqual, cmpopts.EquateEmpty()))
	assert.Equal(t, snap.FiatBalance.String(), got.FiatBalance.String(), "decimals must survive bit-identically")
	assert.Equal(t, snap.Equity().String(), got.Equity().String())

	entries, err := os.ReadDir(filepath.Dir(m.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestManager_ResumeMatchesUninterruptedRun(t *testing.T) {
	cfg, full := runSnapshot(t, swing...)

	// First half, checkpoint, then resume on the remaining points.
	src := datastore.NewMemorySource()
	src.SeedCloses(swing...)
	cfg.Store.MaxTicks = 6
	first := engine.New(cfg, engine.NewState(cfg.Strategy, "run-ckpt", t0),
		datastore.NewCursor(src, 0, cfg.Store, zap.NewNop()), zap.NewNop())
	require.NoError(t, first.Run(context.Background()))

	m := newManager(t, 0)
	require.NoError(t, m.Save(first.State().Snapshot()))

	state := m.Load(cfg.Strategy)
	require.NotNil(t, state)
	cfg.Store.MaxTicks = 0
	second := engine.New(cfg, state, datastore.NewCursor(src, state.CursorIndex, cfg.Store, zap.NewNop()), zap.NewNop())
	assert.Equal(t, 6, second.Prime(context.Background()))
	require.NoError(t, second.Run(context.Background()))

	assert.Empty(t, cmp.Diff(full, second.State().Snapshot(), decimalEqual, cmpopts.EquateEmpty()))
}

func TestManager_LedgerTail(t *testing.T) {
	_, snap := runSnapshot(t, swing...)
	require.Greater(t, len(snap.Transactions), 2)

	m := newManager(t, 2)
	require.NoError(t, m.Save(snap))

	rec, err := m.Read()
	require.NoError(t, err)
	assert.Len(t, rec.Transactions, 2)
	assert.Equal(t, snap.Transactions[len(snap.Transactions)-1].ID, rec.Transactions[1].ID)
	assert.Equal(t, snap.NextOrderID, rec.NextOrderID)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)
}

func TestManager_LoadUnusable(t *testing.T) {
	_, snap := runSnapshot(t, 100, 101)
	base := newManager(t, 0)
	require.NoError(t, base.Save(snap))
	valid, err := os.ReadFile(base.Path())
	require.NoError(t, err)
	_, err = base.Read()
	require.NoError(t, err, "baseline record must validate")

	rewrite := func(fn func(map[string]any)) []byte {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(valid, &doc))
		fn(doc)
		out, err := json.Marshal(doc)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"corrupt json", []byte(`{"schema_version": 1, "run_id": `)},
		{"wrong schema version", rewrite(func(d map[string]any) { d["schema_version"] = 99 })},
		{"missing next order id", rewrite(func(d map[string]any) { delete(d, "next_order_id") })},
		{"numeric balance", rewrite(func(d map[string]any) { d["fiat_balance"] = 95.0 })},
		{"zero next order id", rewrite(func(d map[string]any) { d["next_order_id"] = 0 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, 0)
			require.NoError(t, os.WriteFile(m.Path(), tt.data, 0o644))

			assert.Nil(t, m.Load(config.Default().Strategy))
			_, err := m.Read()
			assert.ErrorIs(t, err, simerr.ErrCheckpoint)
		})
	}
}

func TestManager_LoadMissing(t *testing.T) {
	m := newManager(t, 0)
	assert.Nil(t, m.Load(config.Default().Strategy))
	_, err := m.Read()
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoError(t, m.Remove())
}

func TestManager_Remove(t *testing.T) {
	_, snap := runSnapshot(t, 100)
	m := newManager(t, 0)
	require.NoError(t, m.Save(snap))
	require.NoError(t, m.Remove())
	_, err := os.Stat(m.Path())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestManager_RunSavesLatestAndFinal(t *testing.T) {
	m := newManager(t, 0)
	ch := make(chan engine.Snapshot, 1)
	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), ch)
		close(done)
	}()

	_, snap := runSnapshot(t, 100, 101, 102)
	ch <- snap
	require.Eventually(t, func() bool {
		rec, err := m.Read()
		return err == nil && rec.CursorIndex == 3
	}, time.Second, 5*time.Millisecond)

	snap.CursorIndex = 42
	ch <- snap
	close(ch)
	<-done

	rec, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rec.CursorIndex)
}

func TestManager_RunFinalSaveOnCancel(t *testing.T) {
	m := newManager(t, 0)
	m.interval = time.Hour
	ch := make(chan engine.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())

	_, snap := runSnapshot(t, 100)
	ch <- snap
	cancel()
	m.Run(ctx, ch)

	rec, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, rec.RunID)
}

func TestManager_SaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	cfg := config.Default().Checkpoint
	m, err := NewManager(filepath.Join(blocker, "state.json"), cfg, zap.NewNop())
	require.NoError(t, err)

	_, snap := runSnapshot(t, 100)
	err = m.Save(snap)
	assert.ErrorIs(t, err, simerr.ErrCheckpoint)
}
