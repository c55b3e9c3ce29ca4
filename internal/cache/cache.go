// Package cache is the process-wide response cache that sits in front of every
// outbound weather, news, satellite and derived-data call.
//
// Entries are keyed by (kind, normalized city, normalized country) and expire
// after a per-kind TTL. Expiry is checked lazily on every read; a periodic
// sweep (StartCleanup) bounds memory between reads. Nothing here fails: a
// missing or expired entry is an ordinary miss and the caller fetches again.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/rs/zerolog"
)

// Entry is one cached payload
type Entry struct {
	Data      any
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the entry is still fresh at now
func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Stats is a point-in-time count of entries by validity
type Stats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

// Cache is an in-memory TTL cache. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]Entry
	ttls    TTLs
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Cache
type Option func(*Cache)

// WithTTLs overrides the default per-kind TTLs
func WithTTLs(ttls TTLs) Option {
	return func(c *Cache) { c.ttls = ttls }
}

// WithClock replaces time.Now (used by tests to step across expiry boundaries)
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for hit/miss/store diagnostics
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log.With().Str("component", "cache").Logger() }
}

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]Entry),
		ttls:    DefaultTTLs(),
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured TTL of a kind
func (c *Cache) TTL(kind Kind) time.Duration {
	return c.ttls.For(kind)
}

// Get returns the payload cached for kind and loc.
// An expired entry is removed and reported as a miss. Reads never extend an
// entry's lifetime.
func (c *Cache) Get(kind Kind, loc model.Location) (any, bool) {
	key := NewKey(kind, loc)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.log.Debug().Str("key", key.String()).Msg("cache miss")
		return nil, false
	}

	now := c.now()
	if !entry.Valid(now) {
		delete(c.entries, key)
		c.log.Debug().
			Str("key", key.String()).
			Time("expired_at", entry.ExpiresAt).
			Msg("cache expired")
		return nil, false
	}

	c.log.Debug().
		Str("key", key.String()).
		Dur("remaining", entry.ExpiresAt.Sub(now)).
		Msg("cache hit")
	return entry.Data, true
}

// Lookup is a typed Get. A payload of another type counts as a miss and is
// left in place.
func Lookup[T any](c *Cache, kind Kind, loc model.Location) (T, bool) {
	var zero T
	v, ok := c.Get(kind, loc)
	if !ok {
		return zero, false
	}
	data, ok := v.(T)
	if !ok {
		return zero, false
	}
	return data, true
}

// Set stores data for kind and loc, replacing any previous entry
func (c *Cache) Set(kind Kind, loc model.Location, data any) {
	key := NewKey(kind, loc)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := Entry{
		Data:      data,
		StoredAt:  now,
		ExpiresAt: now.Add(c.ttls.For(kind)),
	}
	c.entries[key] = entry

	c.log.Debug().
		Str("key", key.String()).
		Time("expires_at", entry.ExpiresAt).
		Msg("cache store")
}

// Delete drops the entry for kind and loc, if any
func (c *Cache) Delete(kind Kind, loc model.Location) {
	key := NewKey(kind, loc)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Cleanup removes every expired entry and returns how many were removed
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !entry.Valid(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[Key]Entry)
	c.log.Debug().Int("removed", n).Msg("cache cleared")
}

// Stats counts entries by validity without changing anything
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := Stats{Total: len(c.entries)}
	for _, entry := range c.entries {
		if entry.Valid(now) {
			stats.Valid++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// StartCleanup runs Cleanup every interval until ctx is done or stop is called.
// stop blocks until the sweeping goroutine has exited. A non-positive interval
// starts nothing.
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Cleanup(); n > 0 {
					c.log.Debug().Int("removed", n).Msg("cache sweep")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
