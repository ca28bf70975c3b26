// Package cache provides a keyed byte cache with TTL expiry and tag-based
// invalidation. Two engines implement it: an in-process Memory engine used by
// single-node deployments and tests, and a Redis engine for multi-node
// deployments. Values are opaque bytes; GetOrSetJSON layers typed access on
// top.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Tag families used by the engine. Any write to an event invalidates
// TagEvent(id), which covers event details, role availability and the
// listing page entries hydrated from it.
const (
	TagEvents    = "events"
	TagListings  = "listings"
	TagAnalytics = "analytics"
)

// TagEvent returns the per-event invalidation tag.
func TagEvent(eventID string) string { return "event:" + eventID }

type (
	// Cache is the TTL + tag cache consumed by the engine and the listing
	// read path.
	Cache interface {
		// Get returns the unexpired value for key, if any.
		Get(ctx context.Context, key string) ([]byte, bool, error)
		// Set stores value under key with the given TTL and tags.
		Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
		// GetOrSet returns the cached value or invokes loader exactly once
		// per concurrent miss, caching its result on success. Loader
		// failures are surfaced and nothing is cached.
		GetOrSet(ctx context.Context, key string, ttl time.Duration, tags []string, loader func(ctx context.Context) ([]byte, error)) ([]byte, error)
		// InvalidateTags drops every entry carrying any of the tags.
		InvalidateTags(ctx context.Context, tags ...string) error
		// Clear drops every entry.
		Clear(ctx context.Context) error
		// Stats reports cumulative hit/miss counters.
		Stats() Stats
	}

	// Stats are cumulative cache counters.
	Stats struct {
		Hits    int64
		Misses  int64
		Entries int64
	}
)

// GetOrSetJSON wraps Cache.GetOrSet with JSON encoding for typed values.
func GetOrSetJSON[T any](ctx context.Context, c Cache, key string, ttl time.Duration, tags []string, loader func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.GetOrSet(ctx, key, ttl, tags, func(ctx context.Context) ([]byte, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, err
	}
	return out, nil
}
