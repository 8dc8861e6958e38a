package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/datastore"
	"github.com/your-org/dca-drawdown-sim/internal/dbwriter"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Store.MaxGap = 1
	cfg.Store.Retries = 0
	cfg.Checkpoint.Interval = config.Duration(10 * time.Millisecond)
	return cfg
}

func newController(t *testing.T, cfg *config.Config, src datastore.PriceSource, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithSource(func(context.Context) (datastore.PriceSource, error) { return src, nil })}, opts...)
	c, err := New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	c.pollEvery = 5 * time.Millisecond
	return c
}

func TestController_RunToEndOfStream(t *testing.T) {
	cfg := testConfig(t)
	src := datastore.NewMemorySource()
	src.SeedCloses(100, 97, 94, 91, 99, 104)
	sink := make(chan engine.Snapshot, 1)
	c := newController(t, cfg, src, WithSnapshotSink(sink))

	require.NoError(t, c.Run(context.Background(), false))
	assert.Equal(t, Stopped, c.Phase())

	select {
	case snap := <-sink:
		assert.Equal(t, uint64(6), snap.CursorIndex)
	default:
		t.Fatal("extra sink did not receive the final snapshot")
	}

	rec, err := c.Checkpoint().Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), rec.CursorIndex)
	assert.Equal(t, uint64(6), rec.Ticks)

	_, err = os.Stat(cfg.PIDPath())
	assert.ErrorIs(t, err, os.ErrNotExist, "marker released")
}

func TestController_ResumeAndFresh(t *testing.T) {
	cfg := testConfig(t)
	src := datastore.NewMemorySource()
	src.SeedCloses(100, 101, 102, 103, 104)
	c := newController(t, cfg, src)

	require.NoError(t, c.Run(context.Background(), false))
	first, err := c.Checkpoint().Read()
	require.NoError(t, err)

	src.SeedCloses(105, 106, 107)
	require.NoError(t, c.Run(context.Background(), false))
	resumed, err := c.Checkpoint().Read()
	require.NoError(t, err)
	assert.Equal(t, first.RunID, resumed.RunID)
	assert.Equal(t, uint64(8), resumed.CursorIndex)
	assert.Equal(t, uint64(8), resumed.Ticks)
	assert.True(t, resumed.CurrentTime.After(first.CurrentTime))

	require.NoError(t, c.Run(context.Background(), true))
	fresh, err := c.Checkpoint().Read()
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, fresh.RunID)
	assert.Equal(t, uint64(8), fresh.Ticks)
}

func TestController_RunRefusesConcurrentInstance(t *testing.T) {
	cfg := testConfig(t)
	c := newController(t, cfg, datastore.NewMemorySource())

	_, err := c.marker.Acquire(Marker{PID: os.Getpid(), InstanceID: "other"})
	require.NoError(t, err)

	err = c.Run(context.Background(), false)
	assert.ErrorIs(t, err, simerr.ErrConcurrentInstance)
	m, err := c.marker.Read()
	require.NoError(t, err)
	assert.Equal(t, "other", m.InstanceID, "the other instance keeps its marker")
}

func TestController_RunHaltsOnDataSourceError(t *testing.T) {
	cfg := testConfig(t)
	src := datastore.NewMemorySource()
	src.SeedCloses(100, 101, 102)
	src.FailNext(errors.New("connection refused"))
	c := newController(t, cfg, src)

	err := c.Run(context.Background(), false)
	assert.ErrorIs(t, err, simerr.ErrDataSource)

	rec, rerr := c.Checkpoint().Read()
	require.NoError(t, rerr, "final checkpoint written before halting")
	assert.Zero(t, rec.CursorIndex)
	assert.Nil(t, c.marker.Live())
}

func TestController_RunCancelled(t *testing.T) {
	cfg := testConfig(t)
	src := datastore.NewMemorySource()
	src.SeedCloses(100, 101)
	c := newController(t, cfg, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx, false), "cancellation is a clean stop")
	assert.Equal(t, Stopped, c.Phase())
	assert.Nil(t, c.marker.Live())
}

func TestController_StatusAndClear(t *testing.T) {
	cfg := testConfig(t)
	src := datastore.NewMemorySource()
	src.SeedCloses(100, 101)
	c := newController(t, cfg, src)

	st := c.Status()
	assert.Equal(t, Stopped, st.Phase)
	assert.Nil(t, st.Marker)
	assert.Nil(t, st.Checkpoint)
	assert.NoError(t, st.CheckpointErr)

	require.NoError(t, c.Run(context.Background(), false))
	_, err := c.marker.Acquire(Marker{PID: os.Getpid(), InstanceID: "live", RunID: "run-x"})
	require.NoError(t, err)

	st = c.Status()
	assert.Equal(t, Running, st.Phase)
	require.NotNil(t, st.Checkpoint)
	assert.Equal(t, uint64(2), st.Checkpoint.CursorIndex)
	assert.ErrorIs(t, c.Clear(), simerr.ErrConcurrentInstance)

	c.marker.alive = func(int) bool { return false }
	st = c.Status()
	assert.Equal(t, Stopped, st.Phase)
	assert.True(t, st.StaleMarker)

	require.NoError(t, c.Clear())
	st = c.Status()
	assert.Nil(t, st.Checkpoint)
	assert.Nil(t, st.Marker)
}

func TestController_StopNotRunning(t *testing.T) {
	cfg := testConfig(t)
	c := newController(t, cfg, datastore.NewMemorySource())

	_, err := c.Stop(context.Background())
	assert.ErrorIs(t, err, simerr.ErrNotRunning)

	_, err = c.marker.Acquire(Marker{PID: 999999, InstanceID: "gone"})
	require.NoError(t, err)
	c.marker.alive = func(int) bool { return false }
	_, err = c.Stop(context.Background())
	assert.ErrorIs(t, err, simerr.ErrNotRunning)
	_, err = os.Stat(cfg.PIDPath())
	assert.ErrorIs(t, err, os.ErrNotExist, "stale marker removed")
}

func TestController_StopSignalsProcess(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cfg := testConfig(t)
	c := newController(t, cfg, datastore.NewMemorySource())

	cmd := exec.Command(sleepPath, "30")
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	_, err = c.marker.Acquire(Marker{PID: cmd.Process.Pid, InstanceID: "child"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pid, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pid)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit after SIGTERM")
	}
}

func TestController_Start(t *testing.T) {
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	cfg := testConfig(t)
	c := newController(t, cfg, datastore.NewMemorySource())

	var gotArgs []string
	c.spawn = func(args []string) (*exec.Cmd, error) {
		gotArgs = args
		return exec.Command(truePath), nil
	}

	pid, err := c.Start([]string{"--config", "sim.yaml"})
	require.NoError(t, err)
	assert.Positive(t, pid)
	assert.Equal(t, []string{"--config", "sim.yaml"}, gotArgs)
	assert.FileExists(t, filepath.Join(cfg.LogDir(), "daemon.out"))

	_, err = c.marker.Acquire(Marker{PID: os.Getpid(), InstanceID: "live"})
	require.NoError(t, err)
	_, err = c.Start(nil)
	assert.ErrorIs(t, err, simerr.ErrConcurrentInstance)
}

func TestController_RunMirrorsLedger(t *testing.T) {
	cfg := testConfig(t)
	src := datastore.NewMemorySource()
	src.SeedCloses(100, 97, 94, 91, 95, 99, 103, 98)
	ledger := dbwriter.NewInMemWriter()
	c := newController(t, cfg, src, WithLedger(ledger))

	require.NoError(t, c.Run(context.Background(), false))

	rec, err := c.Checkpoint().Read()
	require.NoError(t, err)
	txs := ledger.Ledger(rec.RunID)
	require.NotEmpty(t, txs)
	assert.Equal(t, rec.LastTxID, txs[len(txs)-1].ID)

	require.Len(t, ledger.Summaries, 1)
	s := ledger.Summaries[0]
	assert.Equal(t, rec.RunID, s.RunID)
	assert.Equal(t, "finished", s.Status)
	assert.Equal(t, uint64(8), s.Ticks)
	assert.False(t, ledger.IsClosed, "the controller does not own the writer")
}
