package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

type (
	// Memory is an in-process Cache. Expiry is lazy on read with a periodic
	// janitor sweep; loader calls are coalesced per key.
	Memory struct {
		mu      sync.RWMutex
		entries map[string]memoryEntry
		byTag   map[string]map[string]struct{}

		group   singleflight.Group
		clock   func() time.Time
		metrics telemetry.Metrics

		hits   atomic.Int64
		misses atomic.Int64

		stopJanitor chan struct{}
		janitorOnce sync.Once
	}

	memoryEntry struct {
		value     []byte
		expiresAt time.Time
		tags      []string
	}

	// MemoryOptions configures a Memory cache.
	MemoryOptions struct {
		// Metrics receives hit/miss counters. Optional.
		Metrics telemetry.Metrics
		// JanitorInterval is the sweep cadence for expired entries. Zero
		// disables the janitor; expiry then happens lazily on read.
		JanitorInterval time.Duration
		// now overrides the clock in tests.
		now func() time.Time
	}
)

// NewMemory constructs an in-process cache.
func NewMemory(opts MemoryOptions) *Memory {
	m := &Memory{
		entries:     make(map[string]memoryEntry),
		byTag:       make(map[string]map[string]struct{}),
		clock:       opts.now,
		metrics:     opts.Metrics,
		stopJanitor: make(chan struct{}),
	}
	if m.clock == nil {
		m.clock = func() time.Time { return time.Now() }
	}
	if m.metrics == nil {
		m.metrics = telemetry.NopMetrics{}
	}
	if opts.JanitorInterval > 0 {
		go m.janitor(opts.JanitorInterval)
	}
	return m
}

// Close stops the janitor goroutine, if any.
func (m *Memory) Close() {
	m.janitorOnce.Do(func() { close(m.stopJanitor) })
}

// Get returns the unexpired value for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.clock().After(e.expiresAt) {
		if ok {
			m.deleteKeys(key)
		}
		m.misses.Add(1)
		m.metrics.IncCounter("cache.miss", 1, "engine", "memory")
		return nil, false, nil
	}
	m.hits.Add(1)
	m.metrics.IncCounter("cache.hit", 1, "engine", "memory")
	return e.value, true, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: m.clock().Add(ttl),
		tags:      append([]string(nil), tags...),
	}
	for _, tag := range tags {
		set := m.byTag[tag]
		if set == nil {
			set = make(map[string]struct{})
			m.byTag[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// GetOrSet returns the cached value or loads it, coalescing concurrent
// misses on the same key so the loader runs once.
func (m *Memory) GetOrSet(ctx context.Context, key string, ttl time.Duration, tags []string, loader func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, _ := m.Get(ctx, key); ok {
		return v, nil
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok, _ := m.Get(ctx, key); ok {
			return v, nil
		}
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.Set(ctx, key, loaded, ttl, tags); err != nil {
			return nil, err
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// InvalidateTags drops every entry carrying any of the tags.
func (m *Memory) InvalidateTags(_ context.Context, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		for key := range m.byTag[tag] {
			m.removeLocked(key)
		}
		delete(m.byTag, tag)
	}
	return nil
}

// Clear drops every entry.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	m.byTag = make(map[string]map[string]struct{})
	return nil
}

// Stats reports cumulative counters.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	entries := int64(len(m.entries))
	m.mu.RUnlock()
	return Stats{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Entries: entries,
	}
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopJanitor:
			return
		case <-ticker.C:
			now := m.clock()
			m.mu.Lock()
			for key, e := range m.entries {
				if now.After(e.expiresAt) {
					m.removeLocked(key)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) deleteKeys(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.removeLocked(key)
	}
}

// removeLocked unlinks key from the entry map and every tag index. Callers
// hold m.mu.
func (m *Memory) removeLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, tag := range e.tags {
		if set := m.byTag[tag]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(m.byTag, tag)
			}
		}
	}
}
