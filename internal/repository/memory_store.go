package repository

import (
	"context"
	"sync"
)

// MemoryStore keeps items in process memory. Used by tests and the
// "memory" storage driver.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]string)}
}

func (s *MemoryStore) GetItem(_ context.Context, namespace, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[namespace][key]
	return v, ok, nil
}

func (s *MemoryStore) SetItem(_ context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.items[namespace]
	if !ok {
		ns = make(map[string]string)
		s.items[namespace] = ns
	}
	ns[key] = value
	return nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[namespace], key)
	return nil
}
