package datastore

import (
	"context"
	"fmt"
	"sync"
)

// MemorySource is an in-memory PriceSource, used for CSV-backed runs and tests.
type MemorySource struct {
	mu      sync.RWMutex
	candles map[uint64]Candle
	next    uint64
	// failures makes the next Read calls return the given errors, in order.
	failures []error
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{candles: make(map[uint64]Candle)}
}

// Append stores c at the next free index.
func (m *MemorySource) Append(c Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[m.next] = c
	m.next++
}

// Seed stores c at an explicit index, leaving gaps where nothing is seeded.
func (m *MemorySource) Seed(index uint64, c Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[index] = c
	if index >= m.next {
		m.next = index + 1
	}
}

// SeedCloses appends one candle per close price.
func (m *MemorySource) SeedCloses(closes ...float64) {
	for _, c := range closes {
		m.Append(Candle{Open: c, High: c, Low: c, Close: c, Volume: 1})
	}
}

// FailNext queues errors returned by the following Read calls.
func (m *MemorySource) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Len returns one past the highest stored index.
func (m *MemorySource) Len() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.next
}

// Read implements PriceSource.
func (m *MemorySource) Read(ctx context.Context, index uint64) (PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return PricePoint{}, err
	}
	m.mu.Lock()
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		m.mu.Unlock()
		return PricePoint{}, err
	}
	c, ok := m.candles[index]
	m.mu.Unlock()

	if !ok {
		return PricePoint{}, ErrNotFound
	}
	p, err := c.ToPoint(index)
	if err != nil {
		return PricePoint{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return p, nil
}

// Reconnect implements PriceSource.
func (m *MemorySource) Reconnect(ctx context.Context) error {
	return ctx.Err()
}

// Close implements PriceSource.
func (m *MemorySource) Close() error {
	return nil
}
