package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLedger implements Ledger using a local JSON file (for air-gapped single
// nodes). Every Consume is written through before it returns.
type FileLedger struct {
	path  string
	mu    sync.Mutex
	data  map[string]Record
	clock func() time.Time // Injectable clock
}

func NewFileLedger(path string) (*FileLedger, error) {
	return NewFileLedgerWithClock(path, time.Now)
}

func NewFileLedgerWithClock(path string, clock func() time.Time) (*FileLedger, error) {
	fl := &FileLedger{
		path:  path,
		data:  make(map[string]Record),
		clock: clock,
	}
	if err := fl.load(); err != nil {
		return nil, err
	}
	return fl, nil
}

func (f *FileLedger) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil // Start empty
	}
	if err != nil {
		return fmt.Errorf("read ledger file: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parse ledger file: %w", err)
	}
	for _, rec := range records {
		var nonce [32]byte
		b, err := hex.DecodeString(rec.Nonce)
		if err != nil || len(b) != len(nonce) {
			return fmt.Errorf("ledger file: bad nonce %q for signer %q", rec.Nonce, rec.Signer)
		}
		copy(nonce[:], b)
		f.data[recordKey(rec.Signer, nonce)] = rec
	}
	return nil
}

// save writes to a temp file and renames it so a crash never leaves a
// truncated ledger behind.
func (f *FileLedger) save() error {
	records := make([]Record, 0, len(f.data))
	for _, rec := range f.data {
		records = append(records, rec)
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".ledger-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileLedger) IsConsumed(_ context.Context, signer string, nonce [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[recordKey(signer, nonce)]
	return ok, nil
}

func (f *FileLedger) Consume(_ context.Context, signer string, nonce [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := recordKey(signer, nonce)
	if _, ok := f.data[key]; ok {
		return ErrAlreadyConsumed
	}
	f.data[key] = Record{
		Signer:     signer,
		Nonce:      hex.EncodeToString(nonce[:]),
		ConsumedAt: f.clock().UTC(),
	}
	if err := f.save(); err != nil {
		delete(f.data, key)
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}
