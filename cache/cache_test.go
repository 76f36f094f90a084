package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWatermarks(t *testing.T) {
	c := New[int, string](Options{Capacity: 100}, nil)
	assert.Equal(t, Options{Capacity: 100, HighWatermark: 95, LowWatermark: 85}, c.Options())

	tiny := New[int, string](Options{Capacity: 1}, nil)
	assert.Equal(t, Options{Capacity: 1, HighWatermark: 1, LowWatermark: 1}, tiny.Options())
}

func TestInsertLookupPromotes(t *testing.T) {
	c := New[string, int](Options{Capacity: 10}, nil)
	c.InsertOrUpdate("a", 1)
	c.InsertOrUpdate("b", 2)
	c.InsertOrUpdate("c", 3)
	assert.Equal(t, []string{"c", "b", "a"}, c.Keys())

	v, ok := c.TryLookup("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())

	c.InsertOrUpdate("b", 20)
	assert.Equal(t, []string{"b", "a", "c"}, c.Keys())
	v, _ = c.TryLookup("b")
	assert.Equal(t, 20, v)
	assert.Equal(t, 3, c.Count())

	_, ok = c.TryLookup("missing")
	assert.False(t, ok)
}

func TestEvictionTrimsToLowWatermark(t *testing.T) {
	var evicted []int
	c := New[int, int](Options{Capacity: 100}, func(k, _ int) {
		evicted = append(evicted, k)
	})
	opts := c.Options()

	for i := 0; i < opts.HighWatermark-1; i++ {
		c.InsertOrUpdate(i, i)
	}
	require.Empty(t, evicted)
	require.Equal(t, opts.HighWatermark-1, c.Count())

	// Touch key 0 so it is no longer the least recently used.
	_, ok := c.TryLookup(0)
	require.True(t, ok)

	// Crossing the high watermark evicts a batch.
	c.InsertOrUpdate(opts.HighWatermark-1, 0)
	assert.Equal(t, opts.LowWatermark, c.Count())

	expected := make([]int, 0, opts.HighWatermark-opts.LowWatermark)
	for i := 1; len(expected) < opts.HighWatermark-opts.LowWatermark; i++ {
		expected = append(expected, i)
	}
	assert.Equal(t, expected, evicted)
	_, ok = c.TryLookup(0)
	assert.True(t, ok)

	// k more inserts keep the count within bounds.
	for i := 0; i < 30; i++ {
		c.InsertOrUpdate(1000+i, i)
		assert.LessOrEqual(t, c.Count(), opts.HighWatermark)
	}
}

func TestRemoveAndReuseSlots(t *testing.T) {
	c := New[int, string](Options{Capacity: 8, HighWatermark: 6, LowWatermark: 4}, nil)
	for i := 0; i < 5; i++ {
		c.InsertOrUpdate(i, fmt.Sprint(i))
	}
	assert.True(t, c.Remove(2))
	assert.False(t, c.Remove(2))
	assert.Equal(t, []int{4, 3, 1, 0}, c.Keys())

	c.InsertOrUpdate(9, "9")
	assert.Equal(t, []int{9, 4, 3, 1, 0}, c.Keys())
	// Head and tail removal keep the list consistent.
	assert.True(t, c.Remove(9))
	assert.True(t, c.Remove(0))
	assert.Equal(t, []int{4, 3, 1}, c.Keys())

	c.Clear()
	assert.Zero(t, c.Count())
	assert.Empty(t, c.Keys())
	c.InsertOrUpdate(1, "1")
	assert.Equal(t, []int{1}, c.Keys())
}

func TestExplicitCleanup(t *testing.T) {
	c := New[int, int](Options{Capacity: 10, HighWatermark: 9, LowWatermark: 3}, nil)
	for i := 0; i < 8; i++ {
		c.InsertOrUpdate(i, i)
	}
	c.Cleanup()
	assert.Equal(t, []int{7, 6, 5}, c.Keys())
}

func TestSynchronizedConcurrentUse(t *testing.T) {
	c := NewSynchronized[int, int](Options{Capacity: 64}, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				k := (g*1000 + i) % 200
				c.InsertOrUpdate(k, i)
				c.TryLookup(k - 1)
				if i%17 == 0 {
					c.Remove(k)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Count(), c.Options().HighWatermark)
	assert.Len(t, c.Keys(), c.Count())
}
