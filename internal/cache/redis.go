package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

type (
	// Redis is a Cache backed by a shared Redis instance so several nodes
	// see the same entries and invalidations. Tags are modeled as Redis
	// sets of member keys. Loader coalescing is process-local.
	Redis struct {
		client  *redis.Client
		prefix  string
		group   singleflight.Group
		metrics telemetry.Metrics

		hits   atomic.Int64
		misses atomic.Int64
	}

	// RedisOptions configures a Redis cache.
	RedisOptions struct {
		// Client is the Redis connection. Required.
		Client *redis.Client
		// Prefix namespaces every key and tag set. Defaults to "regcache".
		Prefix string
		// Metrics receives hit/miss counters. Optional.
		Metrics telemetry.Metrics
	}
)

// NewRedis constructs a Redis-backed cache.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "regcache"
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &Redis{client: opts.Client, prefix: prefix, metrics: metrics}, nil
}

func (r *Redis) key(key string) string { return r.prefix + ":v:" + key }
func (r *Redis) tag(tag string) string { return r.prefix + ":t:" + tag }

// Get returns the unexpired value for key. Redis handles TTL expiry.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		r.metrics.IncCounter("cache.miss", 1, "engine", "redis")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r.hits.Add(1)
	r.metrics.IncCounter("cache.hit", 1, "engine", "redis")
	return raw, true, nil
}

// Set stores value under key and registers it with each tag set. Tag sets
// carry a TTL slightly above the entry TTL so orphaned members age out.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(key), value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, r.tag(tag), r.key(key))
		pipe.Expire(ctx, r.tag(tag), ttl+time.Minute)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetOrSet returns the cached value or loads it, coalescing concurrent
// misses within this process.
func (r *Redis) GetOrSet(ctx context.Context, key string, ttl time.Duration, tags []string, loader func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, err := r.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		if v, ok, err := r.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.Set(ctx, key, loaded, ttl, tags); err != nil {
			return nil, err
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// InvalidateTags deletes every member of each tag set, then the sets.
func (r *Redis) InvalidateTags(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		members, err := r.client.SMembers(ctx, r.tag(tag)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		pipe := r.client.TxPipeline()
		if len(members) > 0 {
			pipe.Del(ctx, members...)
		}
		pipe.Del(ctx, r.tag(tag))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every key under the cache prefix via cursor scans.
func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+":*", 256).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Stats reports process-local hit/miss counters. Entries is unreported for
// the shared engine.
func (r *Redis) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}
