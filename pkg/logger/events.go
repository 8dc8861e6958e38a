package logger

import "go.uber.org/zap"

// Stable event kinds attached to structured log entries under the "event" key.
// Downstream tooling filters on these values, so they must not change.
const (
	EventRunStarted      = "run_started"
	EventRunResumed      = "run_resumed"
	EventRunFinished     = "run_finished"
	EventRunHalted       = "run_halted"
	EventStateTransition = "lifecycle_transition"
	EventBuyExecuted     = "buy_executed"
	EventBuyRejected     = "buy_rejected"
	EventSellExecuted    = "sell_executed"
	EventTrigger         = "drawdown_trigger"
	EventCheckpointSaved = "checkpoint_saved"
	EventEndOfStream     = "end_of_stream"
	EventDataSource      = "data_source_error"
	EventAdvisoryOracle  = "advisory_oracle_error"
	EventCheckpoint      = "checkpoint_error"
	EventConfig          = "config_error"
	EventConcurrent      = "concurrent_instance"
	EventLedgerWrite     = "ledger_write_error"
	EventAlert           = "alert_error"
	EventInvariantBreach = "invariant_violation"
	EventStaleMarker     = "stale_liveness_marker"
	EventStatusServer    = "status_server"
)

// Event returns the zap field tagging an entry with a stable event kind.
func Event(kind string) zap.Field {
	return zap.String("event", kind)
}
