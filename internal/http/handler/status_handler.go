// Package handler serves the read-only status API of a running simulation.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/report"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// Summary is the compact view of a snapshot served by /status and /stream.
type Summary struct {
	RunID          string          `json:"run_id"`
	CursorIndex    uint64          `json:"cursor_index"`
	Ticks          uint64          `json:"ticks"`
	CurrentTime    time.Time       `json:"current_time"`
	LastPrice      decimal.Decimal `json:"last_price"`
	FiatBalance    decimal.Decimal `json:"fiat_balance"`
	CryptoBalance  decimal.Decimal `json:"crypto_balance"`
	Equity         decimal.Decimal `json:"equity"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	OpenOrders     int             `json:"open_orders"`
	DropCounter    uint32          `json:"drop_counter"`
	PeakPrice      decimal.Decimal `json:"peak_price"`
	Stats          engine.Stats    `json:"stats"`
}

// Summarize builds the Summary of snap.
func Summarize(snap engine.Snapshot) Summary {
	return Summary{
		RunID:         snap.RunID,
		CursorIndex:   snap.CursorIndex,
		Ticks:         snap.Ticks,
		CurrentTime:   snap.CurrentTime,
		LastPrice:     snap.LastPrice,
		FiatBalance:   snap.FiatBalance,
		CryptoBalance: snap.CryptoBalance,
		Equity:        snap.Equity(),
		RealizedPnL:   snap.PnL.RealizedPnL,
		OpenOrders:    len(snap.OpenOrders),
		DropCounter:   snap.Drawdown.Counter.ConsecutiveDrops,
		PeakPrice:     snap.Drawdown.Peak.Price,
		Stats:         snap.Stats,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StatusHandler handles the status routes.
type StatusHandler struct {
	store          *SnapshotStore
	streamInterval time.Duration
	logger         *zap.Logger
}

// NewStatusHandler creates a StatusHandler reading from store.
func NewStatusHandler(store *SnapshotStore, streamInterval time.Duration, logger *zap.Logger) *StatusHandler {
	if streamInterval <= 0 {
		streamInterval = 2 * time.Second
	}
	return &StatusHandler{store: store, streamInterval: streamInterval, logger: logger}
}

// RegisterRoutes registers the status routes on r.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/report", h.GetReport)
	r.Get("/stream", h.Stream)
}

// NewRouter returns the full status API.
func NewRouter(h *StatusHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", HealthCheckHandler)
	h.RegisterRoutes(r)
	return r
}

// GetStatus returns the summary of the latest snapshot.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.store.Latest()
	if !ok {
		http.Error(w, "No snapshot published yet", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, Summarize(snap))
}

// GetReport returns the performance report of the latest snapshot.
func (h *StatusHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.store.Latest()
	if !ok {
		http.Error(w, "No snapshot published yet", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, report.Build(snap))
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode status response", logger.Event(logger.EventStatusServer), zap.Error(err))
	}
}

// Stream upgrades to a websocket and pushes a Summary every stream interval
// whenever the cursor has moved. It returns when the client goes away.
func (h *StatusHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", logger.Event(logger.EventStatusServer), zap.Error(err))
		return
	}
	defer conn.Close()

	// The reader only exists to notice the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	var sent uint64
	first := true
	push := func() bool {
		snap, ok := h.store.Latest()
		if !ok || (!first && snap.Ticks == sent) {
			return true
		}
		if err := conn.WriteJSON(Summarize(snap)); err != nil {
			return false
		}
		sent, first = snap.Ticks, false
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-ticker.C:
			if !push() {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
