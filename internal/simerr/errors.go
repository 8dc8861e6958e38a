// Package simerr defines the error kinds surfaced by the simulator.
// Callers match them with errors.Is and map them to stable log event kinds.
package simerr

import (
	"errors"

	"github.com/your-org/dca-drawdown-sim/pkg/logger"
)

var (
	// ErrDataSource means the price store could not be read after all retries.
	ErrDataSource = errors.New("data source error")
	// ErrAdvisoryOracle covers oracle timeouts, transport failures and malformed replies.
	ErrAdvisoryOracle = errors.New("advisory oracle error")
	// ErrCheckpoint covers checkpoint write failures and unreadable records.
	ErrCheckpoint = errors.New("checkpoint error")
	// ErrConfig is returned for out-of-range or inconsistent configuration.
	ErrConfig = errors.New("config error")
	// ErrConcurrentInstance is returned when another live instance holds the liveness marker.
	ErrConcurrentInstance = errors.New("another instance is already running")
	// ErrNotRunning is returned by stop when no live instance is recorded.
	ErrNotRunning = errors.New("no running instance")
)

// EventKind maps an error to its stable log event kind.
func EventKind(err error) string {
	switch {
	case errors.Is(err, ErrDataSource):
		return logger.EventDataSource
	case errors.Is(err, ErrAdvisoryOracle):
		return logger.EventAdvisoryOracle
	case errors.Is(err, ErrCheckpoint):
		return logger.EventCheckpoint
	case errors.Is(err, ErrConfig):
		return logger.EventConfig
	case errors.Is(err, ErrConcurrentInstance):
		return logger.EventConcurrent
	default:
		return "error"
	}
}
