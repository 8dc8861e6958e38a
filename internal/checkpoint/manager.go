// Package checkpoint persists engine snapshots so a stopped run can resume
// exactly where it left off.
package checkpoint

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/engine"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// SchemaVersion is bumped whenever the record layout changes incompatibly.
const SchemaVersion = 1

//go:embed schema.json
var schemaJSON []byte

// Record is the on-disk checkpoint.
type Record struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	engine.Snapshot
}

// Manager reads and writes the checkpoint file.
type Manager struct {
	path       string
	ledgerTail int
	interval   time.Duration
	schema     *gojsonschema.Schema
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates a manager for the checkpoint at path.
func NewManager(path string, cfg config.CheckpointConf, logger *zap.Logger) (*Manager, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile checkpoint schema: %w", err)
	}
	return &Manager{
		path:       path,
		ledgerTail: cfg.LedgerTail,
		interval:   cfg.Interval.Std(),
		schema:     schema,
		logger:     logger.With(zap.String("component", "checkpoint")),
		now:        time.Now,
	}, nil
}

// Path returns the checkpoint file location.
func (m *Manager) Path() string {
	return m.path
}

// Save writes snap atomically: the record goes to a temp file in the same
// directory, is synced and then renamed over the previous checkpoint.
func (m *Manager) Save(snap engine.Snapshot) error {
	rec := Record{
		SchemaVersion: SchemaVersion,
		SavedAt:       m.now().UTC(),
		Snapshot:      snap,
	}
	rec.ClosedOrders = tail(nonNil(rec.ClosedOrders), m.ledgerTail)
	rec.Transactions = tail(nonNil(rec.Transactions), m.ledgerTail)
	rec.OpenOrders = nonNil(rec.OpenOrders)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", simerr.ErrCheckpoint, err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrCheckpoint, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", simerr.ErrCheckpoint, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %v", simerr.ErrCheckpoint, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %v", simerr.ErrCheckpoint, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", simerr.ErrCheckpoint, err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("%w: rename: %v", simerr.ErrCheckpoint, err)
	}
	return nil
}

// Read loads and validates the checkpoint record. A missing file yields an
// error matching os.ErrNotExist; anything unusable wraps simerr.ErrCheckpoint.
func (m *Manager) Read() (*Record, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", simerr.ErrCheckpoint, err)
	}

	result, err := m.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable record: %v", simerr.ErrCheckpoint, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: schema validation failed: %s", simerr.ErrCheckpoint, strings.Join(msgs, "; "))
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", simerr.ErrCheckpoint, err)
	}
	if rec.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", simerr.ErrCheckpoint, rec.SchemaVersion, SchemaVersion)
	}
	return &rec, nil
}

// Load restores the persisted state under strategy. It returns nil when
// there is nothing usable to resume from; the reason is logged.
func (m *Manager) Load(strategy config.StrategyConf) *engine.State {
	rec, err := m.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Info("No checkpoint found, starting fresh", zap.String("path", m.path))
			return nil
		}
		m.logger.Warn("Ignoring unusable checkpoint",
			logger.Event(logger.EventCheckpoint),
			zap.String("path", m.path),
			zap.Error(err),
		)
		return nil
	}

	state, err := engine.Restore(rec.Snapshot, strategy)
	if err != nil {
		m.logger.Warn("Ignoring inconsistent checkpoint",
			logger.Event(logger.EventCheckpoint),
			zap.String("path", m.path),
			zap.Error(err),
		)
		return nil
	}
	m.logger.Info("Checkpoint loaded",
		zap.String("run_id", state.RunID),
		zap.Uint64("cursor_index", state.CursorIndex),
		zap.Time("saved_at", rec.SavedAt),
	)
	return state
}

// Remove deletes the checkpoint. A missing file is not an error.
func (m *Manager) Remove() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", simerr.ErrCheckpoint, err)
	}
	return nil
}

// Run saves the most recent snapshot received on snapshots every interval.
// It returns after a final save once snapshots is closed or ctx is done.
// Failed saves are logged and retried on the next tick.
func (m *Manager) Run(ctx context.Context, snapshots <-chan engine.Snapshot) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var latest *engine.Snapshot
	dirty := false
	flush := func() {
		if !dirty || latest == nil {
			return
		}
		if err := m.Save(*latest); err != nil {
			m.logger.Error("Checkpoint save failed",
				logger.Event(logger.EventCheckpoint),
				zap.Error(err),
			)
			return
		}
		dirty = false
		m.logger.Debug("Checkpoint saved",
			logger.Event(logger.EventCheckpointSaved),
			zap.Uint64("cursor_index", latest.CursorIndex),
		)
	}

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				flush()
				return
			}
			latest, dirty = &snap, true
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Take whatever the engine published last before the final save.
			select {
			case snap, ok := <-snapshots:
				if ok {
					latest, dirty = &snap, true
				}
			default:
			}
			flush()
			return
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// tail keeps the last n entries; n <= 0 keeps everything.
func tail[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return append([]T(nil), s[len(s)-n:]...)
}
