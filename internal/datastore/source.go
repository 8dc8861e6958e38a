package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means the store holds no record at the requested index (a gap).
	ErrNotFound = errors.New("price point not found")
	// ErrEndOfStream is returned by the cursor once the series is exhausted.
	ErrEndOfStream = errors.New("end of price stream")
)

// PriceSource is the keyed price store consumed by the cursor.
// Read returns ErrNotFound for a missing index and any other error for transient failures.
type PriceSource interface {
	Read(ctx context.Context, index uint64) (PricePoint, error)
	Reconnect(ctx context.Context) error
	Close() error
}

// Open builds the price source selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConf, logger *zap.Logger) (PriceSource, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return NewRedisSource(cfg, logger)
	case config.BackendCSV:
		src, err := LoadMemorySourceFromCSV(ctx, cfg.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", simerr.ErrDataSource, cfg.CSVPath, err)
		}
		logger.Info("Loaded price series from CSV", zap.String("path", cfg.CSVPath), zap.Uint64("points", src.Len()))
		return src, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", simerr.ErrConfig, cfg.Backend)
	}
}
