package handler

import (
	"context"
	"sync"

	"github.com/your-org/dca-drawdown-sim/internal/engine"
)

// SnapshotStore keeps the most recent snapshot of the running engine.
type SnapshotStore struct {
	mu     sync.RWMutex
	latest *engine.Snapshot
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Set replaces the stored snapshot.
func (s *SnapshotStore) Set(snap engine.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &snap
}

// Latest returns the stored snapshot, if any.
func (s *SnapshotStore) Latest() (engine.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return engine.Snapshot{}, false
	}
	return *s.latest, true
}

// Consume stores every snapshot received on ch until ch is closed or ctx is done.
func (s *SnapshotStore) Consume(ctx context.Context, ch <-chan engine.Snapshot) {
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			s.Set(snap)
		case <-ctx.Done():
			return
		}
	}
}
