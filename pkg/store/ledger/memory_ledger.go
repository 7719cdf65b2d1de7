package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is a process-local Ledger for tests and single-process dev runs.
type MemoryLedger struct {
	mu    sync.Mutex
	data  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		data:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (m *MemoryLedger) IsConsumed(_ context.Context, signer string, nonce [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[recordKey(signer, nonce)]
	return ok, nil
}

func (m *MemoryLedger) Consume(_ context.Context, signer string, nonce [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(signer, nonce)
	if _, ok := m.data[key]; ok {
		return ErrAlreadyConsumed
	}
	m.data[key] = m.clock()
	return nil
}

// Len returns the number of consumed pairs.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
