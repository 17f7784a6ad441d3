package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Compile-time interface check.
var _ KV = (*FileKV)(nil)

// FileKV implements KV as an in-memory map flushed to a JSON file after every
// mutation.
type FileKV struct {
	mu       sync.RWMutex
	values   map[string]string
	filePath string
	log      *slog.Logger
}

// NewFileKV creates a FileKV, loading persisted state from filePath. A
// missing file starts empty; an unreadable one is logged and ignored.
func NewFileKV(filePath string, log *slog.Logger) *FileKV {
	s := &FileKV{
		values:   make(map[string]string),
		filePath: filePath,
		log:      log,
	}
	s.load()
	return s
}

// Get returns the value stored under key.
func (s *FileKV) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores a value and persists to disk.
func (s *FileKV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flush()
}

// Delete removes a value and persists to disk.
func (s *FileKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flush()
}

// Close is a no-op; every mutation is already on disk.
func (s *FileKV) Close() error { return nil }

// load reads the JSON file into memory.
func (s *FileKV) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // no file yet, start empty
	}
	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("loading local storage file", "path", s.filePath, "error", err)
		return
	}
	if loaded != nil {
		s.values = loaded
	}
	s.log.Info("loaded local storage", "keys", len(loaded))
}

// flush writes the in-memory state to disk via a temp file and rename. Must
// be called with mu held.
func (s *FileKV) flush() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("marshalling local storage: %w", err)
	}
	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing local storage file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("replacing local storage file: %w", err)
	}
	return nil
}
