package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSettings persists settings in a local JSON file, for air-gapped
// nodes that run the file ledger.
type FileSettings struct {
	mu       sync.Mutex
	filePath string
	data     map[string]string
}

func NewFileSettings(storageDir string) (*FileSettings, error) {
	if err := os.MkdirAll(storageDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	s := &FileSettings{
		filePath: filepath.Join(storageDir, "settings.json"),
		data:     make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSettings) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.data)
}

func (s *FileSettings) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

func (s *FileSettings) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", ErrNotSet
	}
	return v, nil
}

func (s *FileSettings) PutIfAbsent(_ context.Context, key, value string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, false, nil
	}
	s.data[key] = value
	if err := s.save(); err != nil {
		delete(s.data, key)
		return "", false, err
	}
	return value, true, nil
}

func (s *FileSettings) CompareAndSwap(_ context.Context, key, old, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; !ok || v != old {
		return false, nil
	}
	s.data[key] = value
	if err := s.save(); err != nil {
		s.data[key] = old
		return false, err
	}
	return true, nil
}
