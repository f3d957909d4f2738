package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileKV persists entries as a single JSON object on disk.
type FileKV struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

func NewFileKV(path string) (*FileKV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("token store file path is required")
	}

	s := &FileKV{
		path:   path,
		values: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileKV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileKV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.persistLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileKV) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked()
}

// load tolerates an unreadable file body: a corrupt store reads as empty so
// the dashboard starts logged out.
func (s *FileKV) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token store file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	var decoded map[string]string
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil
	}
	for k, v := range decoded {
		if strings.TrimSpace(k) == "" {
			continue
		}
		s.values[k] = v
	}
	return nil
}

func (s *FileKV) persistLocked() error {
	b, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir token store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write token store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token store file: %w", err)
	}
	return nil
}
