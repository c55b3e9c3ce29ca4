package store

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps payloads in process memory. go-cache's janitor removes
// expired items every cleanupInterval.
type MemoryStore struct {
	items *gocache.Cache
}

// NewMemoryStore creates a memory store
func NewMemoryStore(defaultTTL, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		items: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns the payload for key
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	val, found := s.items.Get(key)
	if !found {
		return nil, false
	}
	data, ok := val.([]byte)
	return data, ok
}

// Set stores value. A zero ttl uses the store default.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	s.items.Set(key, value, ttl)
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(key string) error {
	s.items.Delete(key)
	return nil
}

// Clear removes everything
func (s *MemoryStore) Clear() error {
	s.items.Flush()
	return nil
}

// Len returns the number of items, including expired ones not yet swept
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}
