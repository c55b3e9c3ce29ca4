package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/ecowatch/internal/cache"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/ppiankov/ecowatch/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Origin says where a read-through result came from
type Origin string

const (
	OriginCache    Origin = "cache"
	OriginUpstream Origin = "upstream"
	OriginFallback Origin = "fallback" // Last known good copy, upstream failed
)

// ReadThroughCache puts the response cache in front of upstream loads.
// Concurrent misses for the same key share one load. Successful loads are
// also copied to the fallback store, which is read only when a load fails.
type ReadThroughCache struct {
	cache       *cache.Cache
	fallback    store.Store // Optional
	fallbackTTL time.Duration
	group       singleflight.Group
	log         zerolog.Logger
}

// NewReadThroughCache wraps c. fallback may be nil.
func NewReadThroughCache(c *cache.Cache, fallback store.Store, fallbackTTL time.Duration, log zerolog.Logger) *ReadThroughCache {
	return &ReadThroughCache{
		cache:       c,
		fallback:    fallback,
		fallbackTTL: fallbackTTL,
		log:         log.With().Str("component", "readthrough").Logger(),
	}
}

type flightResult[T any] struct {
	value  T
	origin Origin
}

// ReadThrough returns the cached T for kind and loc, calling load on a miss.
// A failed load never writes the response cache.
func ReadThrough[T any](ctx context.Context, rt *ReadThroughCache, kind cache.Kind, loc model.Location, load func(context.Context) (T, error)) (T, Origin, error) {
	return ReadThroughDerived(ctx, rt, kind, loc, func(ctx context.Context) (T, bool, error) {
		v, err := load(ctx)
		return v, false, err
	})
}

// ReadThroughDerived is ReadThrough for values built from other cached kinds.
// When load reports stale, the value was built from at least one last known
// good copy: it is returned with OriginFallback and neither cached nor
// remembered.
func ReadThroughDerived[T any](ctx context.Context, rt *ReadThroughCache, kind cache.Kind, loc model.Location, load func(context.Context) (T, bool, error)) (T, Origin, error) {
	if v, ok := cache.Lookup[T](rt.cache, kind, loc); ok {
		return v, OriginCache, nil
	}

	key := cache.NewKey(kind, loc).String()
	shared, err, _ := rt.group.Do(key, func() (any, error) {
		// A flight that finished while we waited may have filled the slot
		if v, ok := cache.Lookup[T](rt.cache, kind, loc); ok {
			return flightResult[T]{value: v, origin: OriginCache}, nil
		}

		v, stale, err := load(ctx)
		if err == nil && stale {
			rt.log.Warn().Str("key", key).Msg("built from last known good data, not caching")
			return flightResult[T]{value: v, origin: OriginFallback}, nil
		}
		if err == nil {
			rt.cache.Set(kind, loc, v)
			rt.remember(key, v)
			return flightResult[T]{value: v, origin: OriginUpstream}, nil
		}

		if stale, ok := recall[T](rt, key); ok && !errors.Is(err, ErrSourceNotConfigured) {
			rt.log.Warn().
				Err(err).
				Str("key", key).
				Msg("upstream failed, serving last known good copy")
			return flightResult[T]{value: stale, origin: OriginFallback}, nil
		}

		return nil, fmt.Errorf("%s for %s: %w", kind, loc, err)
	})

	var zero T
	if err != nil {
		return zero, "", err
	}
	res := shared.(flightResult[T])
	return res.value, res.origin, nil
}

func (rt *ReadThroughCache) remember(key string, v any) {
	if rt.fallback == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		rt.log.Warn().Err(err).Str("key", key).Msg("encode fallback copy")
		return
	}
	if err := rt.fallback.Set(store.HashKey(key), data, rt.fallbackTTL); err != nil {
		rt.log.Warn().Err(err).Str("key", key).Msg("write fallback copy")
	}
}

func recall[T any](rt *ReadThroughCache, key string) (T, bool) {
	var v T
	if rt.fallback == nil {
		return v, false
	}
	data, ok := rt.fallback.Get(store.HashKey(key))
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		rt.log.Warn().Err(err).Str("key", key).Msg("decode fallback copy")
		return v, false
	}
	return v, true
}
