package store

import (
	"errors"
	"time"
)

// LayeredStore checks memory first, then disk, promoting disk hits to memory
type LayeredStore struct {
	memory Store
	disk   Store
}

// NewLayeredStore creates a memory+disk store
func NewLayeredStore(ttl, cleanupInterval time.Duration, dir string) *LayeredStore {
	return &LayeredStore{
		memory: NewMemoryStore(ttl, cleanupInterval),
		disk:   NewDiskStore(dir, ttl),
	}
}

// Get returns the payload for key from the fastest layer that has it
func (s *LayeredStore) Get(key string) ([]byte, bool) {
	if val, found := s.memory.Get(key); found {
		return val, true
	}

	if val, found := s.disk.Get(key); found {
		_ = s.memory.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set writes both layers
func (s *LayeredStore) Set(key string, value []byte, ttl time.Duration) error {
	if err := s.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return s.disk.Set(key, value, ttl)
}

// Delete removes key from both layers
func (s *LayeredStore) Delete(key string) error {
	return errors.Join(s.memory.Delete(key), s.disk.Delete(key))
}

// Clear empties both layers
func (s *LayeredStore) Clear() error {
	return errors.Join(s.memory.Clear(), s.disk.Clear())
}
