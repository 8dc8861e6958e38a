package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/your-org/dca-drawdown-sim/internal/config"
	"go.uber.org/zap"
)

// ErrCorruptRecord marks a stored record that exists but cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt price record")

// RedisSource reads candles stored as JSON under "<prefix><index>".
type RedisSource struct {
	mu     sync.RWMutex
	client *redis.Client
	opts   *redis.Options
	prefix string
	logger *zap.Logger
}

// NewRedisSource builds a source for the configured Redis URL. It does not
// contact the server; the cursor connects through Reconnect with backoff.
func NewRedisSource(cfg config.StoreConf, logger *zap.Logger) (*RedisSource, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if t := cfg.Timeout.Std(); t > 0 {
		opts.DialTimeout = t
		opts.ReadTimeout = t
		opts.WriteTimeout = t
	}
	// Retries are owned by the cursor so the index is never lost mid-retry.
	opts.MaxRetries = -1

	return &RedisSource{
		client: redis.NewClient(opts),
		opts:   opts,
		prefix: cfg.KeyPrefix,
		logger: logger.With(zap.String("component", "redis_source")),
	}, nil
}

// Key returns the storage key of index.
func (s *RedisSource) Key(index uint64) string {
	return fmt.Sprintf("%s%d", s.prefix, index)
}

// Read implements PriceSource.
func (s *RedisSource) Read(ctx context.Context, index uint64) (PricePoint, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	raw, err := client.Get(ctx, s.Key(index)).Bytes()
	if err == redis.Nil {
		return PricePoint{}, ErrNotFound
	}
	if err != nil {
		return PricePoint{}, fmt.Errorf("failed to get %s: %w", s.Key(index), err)
	}

	var c Candle
	if err := json.Unmarshal(raw, &c); err != nil {
		return PricePoint{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, s.Key(index), err)
	}
	p, err := c.ToPoint(index)
	if err != nil {
		return PricePoint{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return p, nil
}

// Reconnect pings the server and replaces the client when the ping fails.
func (s *RedisSource) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.Ping(ctx).Err(); err == nil {
		return nil
	}
	_ = s.client.Close()
	s.client = redis.NewClient(s.opts)
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis at %s: %w", s.opts.Addr, err)
	}
	s.logger.Info("Reconnected to Redis", zap.String("addr", s.opts.Addr))
	return nil
}

// Close releases the connection pool.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}
