package history

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (m *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.SessionID] = snap
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snaps[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.snaps, sessionID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
