package objectstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mu: sync.RWMutex{}, objects: make(map[string][]byte)}
}

// Download implements core.ObjectStore.
func (m *MemoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, found := m.objects[key]
	if !found {
		return nil, fmt.Errorf("%w: '%s'", ErrObjectNotFound, key)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// Upload implements core.ObjectStore.
func (m *MemoryStore) Upload(_ context.Context, key string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	m.objects[key] = stored
	m.mu.Unlock()

	return nil
}

// Delete implements core.ObjectStore.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()

	return nil
}

// Has reports whether an object is stored under key.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, found := m.objects[key]

	return found
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.objects)
}
