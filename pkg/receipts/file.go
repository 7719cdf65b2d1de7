package receipts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileStore appends receipts to a JSON Lines file and serves reads from an
// index rebuilt when the file is opened.
type FileStore struct {
	mu    sync.Mutex
	f     *os.File
	index *MemoryStore
}

// NewFileStore opens or creates path. A torn final line, left by a crash
// mid-append, is truncated away; any other undecodable line is an error.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("receipts: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("receipts: open %s: %w", path, err)
	}
	s := &FileStore{f: f, index: NewMemoryStore()}
	if err := s.load(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("receipts: load %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) load() error {
	rd := bufio.NewReader(s.f)
	var offset int64
	for n := 1; ; n++ {
		line, err := rd.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				if err := s.f.Truncate(offset); err != nil {
					return err
				}
			}
			break
		}
		if err != nil {
			return err
		}
		offset += int64(len(line))
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r Receipt
		if err := json.Unmarshal(line, &r); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		_ = s.index.Append(context.Background(), &r)
	}
	_, err := s.f.Seek(offset, io.SeekStart)
	return err
}

func (s *FileStore) Append(ctx context.Context, r *Receipt) error {
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("receipts: append: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("receipts: sync: %w", err)
	}
	return s.index.Append(ctx, r)
}

func (s *FileStore) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.index.Get(ctx, id)
}

func (s *FileStore) Last(ctx context.Context) (*Receipt, error) {
	return s.index.Last(ctx)
}

func (s *FileStore) List(ctx context.Context, limit int) ([]*Receipt, error) {
	return s.index.List(ctx, limit)
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
