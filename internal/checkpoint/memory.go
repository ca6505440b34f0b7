package checkpoint

import (
	"context"
	"sync"

	"quorum/internal/types"
)

// MemoryStore is the in-process checkpoint store used by tests and
// throwaway runs. Saves deep-copy so later state mutations never leak
// into a stored checkpoint.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*types.DeliberationState
	saves    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*types.DeliberationState)}
}

// Save implements types.CheckpointStore.
func (m *MemoryStore) Save(_ context.Context, st *types.DeliberationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[st.SessionID] = st.Snapshot()
	m.saves++
	return nil
}

// Load implements types.CheckpointStore.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*types.DeliberationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return st.Snapshot(), nil
}

// Saves reports how many checkpoints were written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
