package storage

import (
	"context"
	"sync"
)

// MemoryArchive is a simple map-backed archive used for development and tests.
type MemoryArchive struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // namespace -> key -> payload
}

// NewMemoryArchive constructs an in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{data: make(map[string]map[string][]byte)}
}

func (m *MemoryArchive) Store(ctx context.Context, namespace, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[namespace]; !ok {
		m.data[namespace] = make(map[string][]byte)
	}
	m.data[namespace][key] = append([]byte{}, data...)
	return nil
}

func (m *MemoryArchive) Fetch(ctx context.Context, namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.data[namespace][key]
	if !ok {
		return nil, archiveMiss(namespace, key)
	}
	return append([]byte{}, payload...), nil
}

func (m *MemoryArchive) Remove(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entries, ok := m.data[namespace]; ok {
		delete(entries, key)
	}
	return nil
}

func (m *MemoryArchive) Close() error { return nil }
