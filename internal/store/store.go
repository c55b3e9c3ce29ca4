// Package store keeps the last successful upstream payload per cache key so the
// fetch layer can serve a stale copy when an upstream is down. It is separate
// from the response cache and never feeds it.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ppiankov/ecowatch/internal/model"
)

// Store is a byte store with per-item TTLs
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// HashKey turns a response-cache key into a file-safe store key
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return "ecowatch:v1:" + hex.EncodeToString(hash[:])
}

// New builds the store described by cfg. It returns nil when the fallback is
// disabled, a memory store when no directory is set, and a layered
// memory+disk store otherwise.
func New(cfg model.FallbackConfig) Store {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Dir == "" {
		return NewMemoryStore(cfg.TTL, cfg.CleanupInterval)
	}
	return NewLayeredStore(cfg.TTL, cfg.CleanupInterval, cfg.Dir)
}
