package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
)

// counterTTL bounds role-availability cache staleness. Reads inside the
// signup lock always bypass the cache, so staleness only affects the
// pre-lock short-circuit and the listing read path.
const counterTTL = 30 * time.Second

// CapacityCounter counts active registrations per (event, role) and per
// event. The cached variants carry the event's invalidation tag so any
// committed write refreshes them.
type CapacityCounter struct {
	store Store
	cache cache.Cache
}

// NewCapacityCounter constructs a counter. A nil cache disables caching.
func NewCapacityCounter(store Store, c cache.Cache) *CapacityCounter {
	return &CapacityCounter{store: store, cache: c}
}

// Count returns the authoritative registration count for (event, role),
// straight from the store.
func (c *CapacityCounter) Count(ctx context.Context, eventID, roleID string) (int, error) {
	return c.store.CountByEventRole(ctx, eventID, roleID)
}

// CachedCount returns the role's registration count, serving from the cache
// when fresh. Never call this inside the signup lock.
func (c *CapacityCounter) CachedCount(ctx context.Context, eventID, roleID string) (int, error) {
	if c.cache == nil {
		return c.Count(ctx, eventID, roleID)
	}
	key := "capacity:" + eventID + ":" + roleID
	return c.getOrCount(ctx, key, eventID, func(ctx context.Context) (int, error) {
		return c.Count(ctx, eventID, roleID)
	})
}

// CountForEvent returns the authoritative total registration count for the
// event.
func (c *CapacityCounter) CountForEvent(ctx context.Context, eventID string) (int, error) {
	return c.store.CountForEvent(ctx, eventID)
}

// CachedCountForEvent is the cached variant of CountForEvent.
func (c *CapacityCounter) CachedCountForEvent(ctx context.Context, eventID string) (int, error) {
	if c.cache == nil {
		return c.CountForEvent(ctx, eventID)
	}
	key := "capacity:" + eventID
	return c.getOrCount(ctx, key, eventID, func(ctx context.Context) (int, error) {
		return c.CountForEvent(ctx, eventID)
	})
}

func (c *CapacityCounter) getOrCount(ctx context.Context, key, eventID string, load func(ctx context.Context) (int, error)) (int, error) {
	raw, err := c.cache.GetOrSet(ctx, key, counterTTL, []string{cache.TagEvent(eventID)},
		func(ctx context.Context) ([]byte, error) {
			n, err := load(ctx)
			if err != nil {
				return nil, err
			}
			return []byte(strconv.Itoa(n)), nil
		})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		// A corrupt entry falls back to the store.
		return load(ctx)
	}
	return n, nil
}
