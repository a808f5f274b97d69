package metadata

import (
	"context"
	"sync"

	"escrow-backend/core/escrow"
)

// MemoryStore keeps payloads in process. Used for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, payload []byte) (string, error) {
	id := ContentID(payload)
	s.mu.Lock()
	if _, ok := s.data[id]; !ok {
		s.data[id] = append([]byte(nil), payload...)
	}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[hash]
	if !ok {
		return nil, escrow.NewError(escrow.ErrNotFound, "get", hash, nil)
	}
	return append([]byte(nil), b...), nil
}
