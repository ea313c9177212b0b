package persistence

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV is a file-based implementation of KV: one file per key.
// Suitable for single-node deployments.
type FileKV struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileKV creates a new file-based key-value store under config.BaseDir
func NewFileKV(config StoreConfig) (*FileKV, error) {
	baseDir := filepath.Join(config.BaseDir, "kv")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create kv store directory: %w", err)
	}
	return &FileKV{baseDir: baseDir}, nil
}

// path maps a key to a filesystem-safe file name
func (s *FileKV) path(key string) string {
	return filepath.Join(s.baseDir, hex.EncodeToString([]byte(key))+".json")
}

// Close closes the store
func (s *FileKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *FileKV) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

// Get reads the file for key
func (s *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return data, nil
}

// Set writes value atomically: temp file then rename
func (s *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	target := s.path(key)
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, value, 0644); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return os.Rename(tempPath, target)
}

// Delete removes the file for key
func (s *FileKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
