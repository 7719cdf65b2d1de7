package receipts

import (
	"context"
	"sync"
)

// MemoryStore keeps receipts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	order []*Receipt
	byID  map[string]*Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Receipt)}
}

func (m *MemoryStore) Append(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.order = append(m.order, &cp)
	m.byID[r.ReceiptID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Last(_ context.Context) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, nil
	}
	cp := *m.order[len(m.order)-1]
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Receipt, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.order[i]
		out = append(out, &cp)
	}
	return out, nil
}
