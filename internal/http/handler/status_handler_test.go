package handler

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/report"
	"go.uber.org/zap"
)

func snapshot(ticks uint64, price string) engine.Snapshot {
	return engine.Snapshot{
		RunID:          "run-http",
		CursorIndex:    ticks,
		Ticks:          ticks,
		InitialBalance: decimal.NewFromInt(100),
		FiatBalance:    decimal.NewFromInt(95),
		CryptoBalance:  decimal.RequireFromString("0.0001"),
		FirstPrice:     decimal.NewFromInt(50000),
		LastPrice:      decimal.RequireFromString(price),
		NextOrderID:    2,
	}
}

func newTestServer(t *testing.T) (*SnapshotStore, *httptest.Server) {
	t.Helper()
	store := NewSnapshotStore()
	srv := httptest.NewServer(NewRouter(NewStatusHandler(store, 10*time.Millisecond, zap.NewNop())))
	t.Cleanup(srv.Close)
	return store, srv
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatusHandler_NoSnapshot(t *testing.T) {
	_, srv := newTestServer(t)
	for _, path := range []string{"/status", "/report"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		})
	}
}

func TestStatusHandler_GetStatus(t *testing.T) {
	store, srv := newTestServer(t)
	store.Set(snapshot(7, "50000"))

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "run-http", got.RunID)
	assert.Equal(t, uint64(7), got.CursorIndex)
	assert.Equal(t, "100", got.Equity.String())
}

func TestStatusHandler_GetReport(t *testing.T) {
	store, srv := newTestServer(t)
	store.Set(snapshot(3, "55000"))

	resp, err := http.Get(srv.URL + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got report.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "100.5", got.Equity.String())
	require.NotNil(t, got.BuyAndHold)
	assert.Equal(t, "10", got.BuyAndHold.ReturnPct.String())
}

func TestStatusHandler_Stream(t *testing.T) {
	store, srv := newTestServer(t)
	store.Set(snapshot(1, "50000"))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Summary
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, uint64(1), first.Ticks)

	store.Set(snapshot(2, "51000"))
	var second Summary
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, uint64(2), second.Ticks)
	assert.Equal(t, "51000", second.LastPrice.String())
}

func TestSnapshotStore_Consume(t *testing.T) {
	store := NewSnapshotStore()
	ch := make(chan engine.Snapshot, 2)
	ch <- snapshot(1, "100")
	ch <- snapshot(2, "101")
	close(ch)

	store.Consume(context.Background(), ch)
	got, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Ticks)
}

func TestServeListener_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveListener(ctx, ln, NewRouter(NewStatusHandler(NewSnapshotStore(), 0, zap.NewNop())), zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "OK"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
