package persistence

import (
	"context"
	"sync"
)

// MemoryKV is an in-memory implementation of KV.
// Suitable for development and testing. Data is lost on restart.
type MemoryKV struct {
	data   map[string][]byte
	mu     sync.RWMutex
	closed bool
}

// NewMemoryKV creates a new in-memory key-value store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Close closes the store
func (s *MemoryKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryKV) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns a copy of the stored value
func (s *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value
func (s *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key
func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.data, key)
	return nil
}
