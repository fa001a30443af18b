package store

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers []func(key string)
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Watch registers fn for changes injected with PutExternal
func (m *MemoryStore) Watch(ctx context.Context, fn func(key string)) error {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
	return nil
}

// PutExternal writes a value as if another process had written it
func (m *MemoryStore) PutExternal(key string, value []byte) {
	m.mu.Lock()
	if value == nil {
		delete(m.data, key)
	} else {
		m.data[key] = append([]byte(nil), value...)
	}
	watchers := append([]func(string){}, m.watchers...)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(key)
	}
}

func (m *MemoryStore) Close() error { return nil }
