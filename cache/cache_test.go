package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llxisdsh/hashtable"
	"github.com/llxisdsh/hashtable/internal/opt"
)

func TestNew_InvalidCapacity(t *testing.T) {
	for _, n := range []int{0, -1} {
		c, err := New[string, int](n)
		assert.Nil(t, c)
		assert.ErrorIs(t, err, ErrInvalidCapacity)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := New(3, WithOnEvict(func(k string, _ int) {
		evicted = append(evicted, k)
	}))
	require.NoError(t, err)

	assert.False(t, c.Set("a", 1))
	assert.False(t, c.Set("b", 2))
	assert.False(t, c.Set("c", 3))

	// Touch "a" so that "b" becomes the oldest.
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, c.Set("d", 4))
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, []string{"d", "a", "c"}, c.Keys())

	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_UpdateExisting(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.False(t, c.Set("a", 10), "update should not evict")
	c.Set("c", 3)

	v, ok := c.Peek("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Peek("b")
	assert.False(t, ok, "b was least recently used")
}

func TestCache_PeekDoesNotTouch(t *testing.T) {
	c, err := New[int, int](2)
	require.NoError(t, err)
	c.Set(1, 1)
	c.Set(2, 2)
	_, _ = c.Peek(1)
	c.Set(3, 3)
	_, ok := c.Peek(1)
	assert.False(t, ok)
	s := c.Stats()
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Misses)
}

func TestCache_Delete(t *testing.T) {
	var evicted int
	c, err := New(2, WithOnEvict(func(int, int) { evicted++ }))
	require.NoError(t, err)
	c.Set(1, 1)
	assert.True(t, c.Delete(1))
	assert.False(t, c.Delete(1))
	assert.Zero(t, c.Len())
	assert.Zero(t, evicted)
}

func TestCache_Purge(t *testing.T) {
	var evicted []int
	c, err := New(10, WithOnEvict(func(k, _ int) { evicted = append(evicted, k) }))
	require.NoError(t, err)
	for i := range 5 {
		c.Set(i, i)
	}
	c.Purge()
	assert.Zero(t, c.Len())
	assert.Len(t, evicted, 5)
	assert.Zero(t, c.Stats().Evictions, "purged entries are not evictions")
	_, ok := c.Get(3)
	assert.False(t, ok)

	c.Set(7, 7)
	v, ok := c.Get(7)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestCache_Stats(t *testing.T) {
	c, err := New[string, string](4)
	require.NoError(t, err)
	c.Set("k", "v")
	c.Get("k")
	c.Get("missing")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.Equal(t, 1, s.Len)
	assert.Equal(t, 4, s.Capacity)
	assert.InDelta(t, 1.0/3, s.HitRatio(), 1e-9)
	assert.Zero(t, Stats{}.HitRatio())
}

func TestCache_OnEvictMayReenter(t *testing.T) {
	var c *Cache[int, int]
	var err error
	c, err = New(1, WithOnEvict(func(k, _ int) {
		_ = c.Len()
	}))
	require.NoError(t, err)
	c.Set(1, 1)
	c.Set(2, 2)
	assert.Equal(t, 1, c.Len())
}

func TestCache_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	l := hashtable.NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, err := New(1, WithLogger[string, int](l))
	require.NoError(t, err)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Contains(t, buf.String(), "cache eviction")
	assert.Contains(t, buf.String(), "key=a")
}

func TestCache_WithTableOptions(t *testing.T) {
	c, err := New(100, WithTableOptions[string, int](
		hashtable.WithKeyHasher(func(string) uint64 { return 1 }),
	))
	require.NoError(t, err)
	for i := range 50 {
		c.Set(strconv.Itoa(i), i)
	}
	for i := range 50 {
		v, ok := c.Get(strconv.Itoa(i))
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	const workers = 8
	const ops = 2000
	c, err := New[int, int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ops {
				k := (w*ops + i) % 200
				c.Set(k, k)
				if v, ok := c.Get(k); ok && v != k {
					t.Errorf("values do not match for %d: %v", k, v)
					return
				}
				if i%7 == 0 {
					c.Delete(k)
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func TestGetOrLoad_CachesResult(t *testing.T) {
	c, err := New[string, int](8)
	require.NoError(t, err)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(_ context.Context, k string) (int, error) {
		calls.Add(1)
		return len(k), nil
	}
	v, shared, err := c.GetOrLoad(ctx, "abc", loader)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.False(t, shared)

	v, _, err = c.GetOrLoad(ctx, "abc", loader)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, c.Stats().Loading)
}

func TestGetOrLoad_CollapsesConcurrentLoads(t *testing.T) {
	if opt.Race_ {
		t.Skip("pb.MapOf lookups use plain loads the race detector reports")
	}
	const callers = 10
	c, err := New[string, string](8)
	require.NoError(t, err)

	release := make(chan struct{})
	var calls atomic.Int32
	loader := func(_ context.Context, k string) (string, error) {
		calls.Add(1)
		<-release
		return k + "!", nil
	}

	var wg sync.WaitGroup
	var sharedCount atomic.Int32
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, shared, err := c.GetOrLoad(context.Background(), "key", loader)
			if err != nil || v != "key!" {
				t.Errorf("unexpected result: %q %v", v, err)
			}
			if shared {
				sharedCount.Add(1)
			}
		}()
	}
	// Wait until every caller has joined the load in flight.
	require.Eventually(t, func() bool {
		l, ok := c.loads.m.Load("key")
		return ok && atomic.LoadInt32(&l.dups) == callers-1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, c.Stats().Loading)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(callers), sharedCount.Load())
	v, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "key!", v)
}

func TestGetOrLoad_ErrorNotCached(t *testing.T) {
	c, err := New[int, int](8)
	require.NoError(t, err)
	errBoom := errors.New("boom")

	_, _, err = c.GetOrLoad(context.Background(), 1, func(context.Context, int) (int, error) {
		return 0, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	_, ok := c.Get(1)
	assert.False(t, ok)

	v, _, err := c.GetOrLoad(context.Background(), 1, func(context.Context, int) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGetOrLoad_CallerCanceled(t *testing.T) {
	c, err := New[int, int](8)
	require.NoError(t, err)

	release := make(chan struct{})
	loaded := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err = c.GetOrLoad(ctx, 1, func(lctx context.Context, k int) (int, error) {
		<-release
		defer close(loaded)
		if lctx.Err() != nil {
			return 0, lctx.Err()
		}
		return k * 100, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	// The load outlives the canceled caller and is cached.
	close(release)
	<-loaded
	require.Eventually(t, func() bool {
		v, ok := c.Peek(1)
		return ok && v == 100
	}, time.Second, time.Millisecond)
}

func TestGetOrLoad_AlreadyCanceled(t *testing.T) {
	c, err := New[int, int](8)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, _, err = c.GetOrLoad(ctx, 1, func(context.Context, int) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	c.Set(1, 5)
	v, _, err := c.GetOrLoad(ctx, 1, nil)
	require.NoError(t, err, "cached values are served regardless of ctx")
	assert.Equal(t, 5, v)
}
