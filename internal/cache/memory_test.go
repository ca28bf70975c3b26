package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute, []string{TagEvents}))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(1), stats.Entries)
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	current := now
	c := NewMemory(MemoryOptions{now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute, nil))
	_, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)

	mu.Lock()
	current = now.Add(2 * time.Minute)
	mu.Unlock()
	_, ok, _ = c.Get(ctx, "k")
	require.False(t, ok, "expired entries must never be returned")
}

func TestMemoryInvalidateTags(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "event", []byte("e"), time.Minute, []string{TagEvents, TagEvent("e-1")}))
	require.NoError(t, c.Set(ctx, "avail", []byte("a"), time.Minute, []string{TagEvent("e-1")}))
	require.NoError(t, c.Set(ctx, "other", []byte("o"), time.Minute, []string{TagEvent("e-2")}))

	require.NoError(t, c.InvalidateTags(ctx, TagEvent("e-1")))

	_, ok, _ := c.Get(ctx, "event")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "avail")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "other")
	require.True(t, ok)
}

func TestMemoryGetOrSetCoalesces(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("loaded"), nil
	}

	const concurrent = 8
	var wg sync.WaitGroup
	results := make([][]byte, concurrent)
	for i := 0; i < concurrent; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrSet(ctx, "k", time.Minute, nil, loader)
			require.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "loader must run once per miss")
	for _, v := range results {
		require.Equal(t, []byte("loaded"), v)
	}
}

func TestMemoryGetOrSetLoaderFailureNotCached(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := c.GetOrSet(ctx, "k", time.Minute, nil, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrSet(ctx, "k", time.Minute, nil, func(context.Context) ([]byte, error) {
		return []byte("second"), nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("second"), v)
}

func TestMemoryClear(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute, []string{TagEvents}))
	require.NoError(t, c.Clear(ctx))
	_, ok, _ := c.Get(ctx, "k")
	require.False(t, ok)
	require.Equal(t, int64(0), c.Stats().Entries)
}

func TestGetOrSetJSON(t *testing.T) {
	c := NewMemory(MemoryOptions{})
	ctx := context.Background()

	type view struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	got, err := GetOrSetJSON(ctx, c, "k", time.Minute, nil, func(context.Context) (view, error) {
		return view{ID: "e-1", Count: 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, view{ID: "e-1", Count: 3}, got)

	// Second call hits the cache; loader must not run.
	got, err = GetOrSetJSON(ctx, c, "k", time.Minute, nil, func(context.Context) (view, error) {
		t.Fatal("loader invoked on hit")
		return view{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, view{ID: "e-1", Count: 3}, got)
}
