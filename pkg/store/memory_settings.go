package store

import (
	"context"
	"sync"
)

// MemorySettings is a process-local Settings.
type MemorySettings struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{data: make(map[string]string)}
}

func (m *MemorySettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotSet
	}
	return v, nil
}

func (m *MemorySettings) PutIfAbsent(_ context.Context, key, value string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, false, nil
	}
	m.data[key] = value
	return value, true, nil
}

func (m *MemorySettings) CompareAndSwap(_ context.Context, key, old, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; !ok || v != old {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}
