package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// Cursor reads a PriceSource sequentially. It skips gaps, retries transient
// failures with exponential backoff and never advances past an index it
// failed to read.
type Cursor struct {
	src     PriceSource
	index   uint64
	retries int
	maxGap  int
	backoff *backoff.Backoff
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewCursor creates a cursor positioned at start.
func NewCursor(src PriceSource, start uint64, cfg config.StoreConf, logger *zap.Logger) *Cursor {
	minDelay := cfg.RetryDelay.Std()
	if minDelay <= 0 {
		minDelay = 100 * time.Millisecond
	}
	maxGap := cfg.MaxGap
	if maxGap <= 0 {
		maxGap = 1000
	}
	return &Cursor{
		src:     src,
		index:   start,
		retries: cfg.Retries,
		maxGap:  maxGap,
		backoff: &backoff.Backoff{Min: minDelay, Max: 32 * minDelay, Factor: 2, Jitter: true},
		logger:  logger.With(zap.String("component", "cursor")),
		sleep:   sleepCtx,
	}
}

// Index returns the index the next call to Next will read first.
func (c *Cursor) Index() uint64 {
	return c.index
}

// Connect verifies the store is reachable, retrying with backoff.
// Exhausted retries yield an error wrapping simerr.ErrDataSource.
func (c *Cursor) Connect(ctx context.Context) error {
	return c.withRetry(ctx, "connect", func() error {
		return c.src.Reconnect(ctx)
	})
}

// Next returns the next available price point. Missing and corrupt records
// count as gaps; after maxGap consecutive gaps it returns ErrEndOfStream and
// stays positioned at the first gap so a later run can pick up appended data.
func (c *Cursor) Next(ctx context.Context) (PricePoint, error) {
	gapStart := c.index
	for gaps := 0; gaps < c.maxGap; gaps++ {
		idx := gapStart + uint64(gaps)

		var p PricePoint
		var readErr error
		err := c.withRetry(ctx, "read", func() error {
			p, readErr = c.src.Read(ctx, idx)
			if readErr == nil || errors.Is(readErr, ErrNotFound) || errors.Is(readErr, ErrCorruptRecord) {
				return nil
			}
			return readErr
		})
		if err != nil {
			return PricePoint{}, err
		}

		switch {
		case readErr == nil:
			c.index = idx + 1
			return p, nil
		case errors.Is(readErr, ErrCorruptRecord):
			c.logger.Warn("Skipping corrupt price record", zap.Uint64("index", idx), zap.Error(readErr))
		}
	}

	c.index = gapStart
	c.logger.Info("Price stream exhausted",
		logger.Event(logger.EventEndOfStream),
		zap.Uint64("index", gapStart),
		zap.Int("max_gap", c.maxGap),
	)
	return PricePoint{}, ErrEndOfStream
}

// Lookback returns up to n points stored before the cursor position, oldest
// first. It makes one read attempt per index and skips anything unreadable.
func (c *Cursor) Lookback(ctx context.Context, n int) []PricePoint {
	from := uint64(0)
	if c.index > uint64(n) {
		from = c.index - uint64(n)
	}
	var out []PricePoint
	for i := from; i < c.index; i++ {
		if ctx.Err() != nil {
			break
		}
		p, err := c.src.Read(ctx, i)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// withRetry runs op until it succeeds or retries are exhausted, reconnecting
// between attempts.
func (c *Cursor) withRetry(ctx context.Context, what string, op func() error) error {
	c.backoff.Reset()
	var err error
	for attempt := 0; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= c.retries {
			break
		}

		wait := c.backoff.Duration()
		c.logger.Warn("Price store operation failed, retrying",
			zap.String("op", what),
			zap.Uint64("index", c.index),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sErr := c.sleep(ctx, wait); sErr != nil {
			return sErr
		}
		if what != "connect" {
			if rErr := c.src.Reconnect(ctx); rErr != nil {
				err = rErr
			}
		}
	}

	c.logger.Error("Price store retries exhausted",
		logger.Event(logger.EventDataSource),
		zap.String("op", what),
		zap.Uint64("index", c.index),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s at index %d after %d retries: %v", simerr.ErrDataSource, what, c.index, c.retries, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
