// Package cache contains the in-process LRU cache used for pages. Entries live in an arena
// indexed by integer handle with explicit prev/next links; eviction trims in batches from a
// high watermark down to a low watermark.
package cache

// Cache is a generic LRU cache with batch eviction.
type Cache[TK comparable, TV any] interface {
	// InsertOrUpdate stores value under key as the most recently used entry. Reaching the
	// high watermark triggers Cleanup.
	InsertOrUpdate(key TK, value TV)
	// TryLookup returns the value of key and promotes it to most recently used on a hit.
	TryLookup(key TK) (TV, bool)
	// Remove drops key from the cache, reporting whether it was present.
	Remove(key TK) bool
	// Cleanup evicts least recently used entries until Count() <= LowWatermark.
	Cleanup()
	// Count returns the number of cached entries.
	Count() int
	// Clear removes all entries without invoking the eviction handler.
	Clear()
	// Keys returns the cached keys, most recently used first.
	Keys() []TK
	// Options returns the effective (defaulted) options.
	Options() Options
}

// Options sizes a cache. Zero watermarks default to 95% and 85% of Capacity.
type Options struct {
	Capacity      int
	HighWatermark int
	LowWatermark  int
}

const (
	defaultHighRatio = 0.95
	defaultLowRatio  = 0.85
	nilSlot          = -1
)

// normalize fills in default watermarks and clamps them so that 1 <= low <= high <= capacity.
func (o Options) normalize() Options {
	if o.Capacity < 1 {
		o.Capacity = 1
	}
	if o.HighWatermark <= 0 {
		o.HighWatermark = int(float64(o.Capacity) * defaultHighRatio)
	}
	if o.LowWatermark <= 0 {
		o.LowWatermark = int(float64(o.Capacity) * defaultLowRatio)
	}
	o.HighWatermark = min(max(o.HighWatermark, 1), o.Capacity)
	o.LowWatermark = min(max(o.LowWatermark, 1), o.HighWatermark)
	return o
}

type slot[TK comparable, TV any] struct {
	key   TK
	value TV
	prev  int
	next  int
}

type cache[TK comparable, TV any] struct {
	opts    Options
	lookup  map[TK]int
	slots   []slot[TK, TV]
	free    []int
	head    int
	tail    int
	onEvict func(TK, TV)
}

// New creates a cache. onEvict, when not nil, is called for every entry Cleanup evicts.
// The returned cache is not safe for concurrent use; see NewSynchronized.
func New[TK comparable, TV any](opts Options, onEvict func(TK, TV)) Cache[TK, TV] {
	opts = opts.normalize()
	return &cache[TK, TV]{
		opts:    opts,
		lookup:  make(map[TK]int, opts.HighWatermark),
		slots:   make([]slot[TK, TV], 0, opts.HighWatermark),
		head:    nilSlot,
		tail:    nilSlot,
		onEvict: onEvict,
	}
}

func (c *cache[TK, TV]) Options() Options {
	return c.opts
}

func (c *cache[TK, TV]) InsertOrUpdate(key TK, value TV) {
	if i, ok := c.lookup[key]; ok {
		c.slots[i].value = value
		c.moveToHead(i)
		return
	}
	i := c.allocate(key, value)
	c.lookup[key] = i
	c.linkHead(i)
	if len(c.lookup) >= c.opts.HighWatermark {
		c.Cleanup()
	}
}

func (c *cache[TK, TV]) TryLookup(key TK) (TV, bool) {
	i, ok := c.lookup[key]
	if !ok {
		var zero TV
		return zero, false
	}
	c.moveToHead(i)
	return c.slots[i].value, true
}

func (c *cache[TK, TV]) Remove(key TK) bool {
	i, ok := c.lookup[key]
	if !ok {
		return false
	}
	c.unlink(i)
	c.release(i)
	delete(c.lookup, key)
	return true
}

func (c *cache[TK, TV]) Cleanup() {
	for len(c.lookup) > c.opts.LowWatermark && c.tail != nilSlot {
		i := c.tail
		s := c.slots[i]
		c.unlink(i)
		c.release(i)
		delete(c.lookup, s.key)
		if c.onEvict != nil {
			c.onEvict(s.key, s.value)
		}
	}
}

func (c *cache[TK, TV]) Count() int {
	return len(c.lookup)
}

func (c *cache[TK, TV]) Clear() {
	c.lookup = make(map[TK]int, c.opts.HighWatermark)
	c.slots = c.slots[:0]
	c.free = c.free[:0]
	c.head = nilSlot
	c.tail = nilSlot
}

func (c *cache[TK, TV]) Keys() []TK {
	r := make([]TK, 0, len(c.lookup))
	for i := c.head; i != nilSlot; i = c.slots[i].next {
		r = append(r, c.slots[i].key)
	}
	return r
}

// allocate takes a slot from the free list, or grows the arena.
func (c *cache[TK, TV]) allocate(key TK, value TV) int {
	s := slot[TK, TV]{key: key, value: value, prev: nilSlot, next: nilSlot}
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		c.slots[i] = s
		return i
	}
	c.slots = append(c.slots, s)
	return len(c.slots) - 1
}

// release zeroes the slot so the arena does not pin evicted values, then frees it.
func (c *cache[TK, TV]) release(i int) {
	c.slots[i] = slot[TK, TV]{prev: nilSlot, next: nilSlot}
	c.free = append(c.free, i)
}

func (c *cache[TK, TV]) linkHead(i int) {
	c.slots[i].prev = nilSlot
	c.slots[i].next = c.head
	if c.head != nilSlot {
		c.slots[c.head].prev = i
	} else {
		c.tail = i
	}
	c.head = i
}

func (c *cache[TK, TV]) unlink(i int) {
	p, n := c.slots[i].prev, c.slots[i].next
	if p != nilSlot {
		c.slots[p].next = n
	} else {
		c.head = n
	}
	if n != nilSlot {
		c.slots[n].prev = p
	} else {
		c.tail = p
	}
	c.slots[i].prev = nilSlot
	c.slots[i].next = nilSlot
}

func (c *cache[TK, TV]) moveToHead(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.linkHead(i)
}
