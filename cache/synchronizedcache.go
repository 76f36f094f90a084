package cache

import (
	"sync"
)

// syncCache serializes every operation under one mutex. Lookups reorder the access list,
// so a reader/writer split would not let readers run concurrently anyway.
type syncCache[TK comparable, TV any] struct {
	cache  Cache[TK, TV]
	locker sync.Mutex
}

// NewSynchronized returns a Cache instance that is thread safe.
func NewSynchronized[TK comparable, TV any](opts Options, onEvict func(TK, TV)) Cache[TK, TV] {
	return &syncCache[TK, TV]{
		cache: New(opts, onEvict),
	}
}

func (sc *syncCache[TK, TV]) InsertOrUpdate(key TK, value TV) {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	sc.cache.InsertOrUpdate(key, value)
}

func (sc *syncCache[TK, TV]) TryLookup(key TK) (TV, bool) {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.cache.TryLookup(key)
}

func (sc *syncCache[TK, TV]) Remove(key TK) bool {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.cache.Remove(key)
}

func (sc *syncCache[TK, TV]) Cleanup() {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	sc.cache.Cleanup()
}

func (sc *syncCache[TK, TV]) Count() int {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.cache.Count()
}

func (sc *syncCache[TK, TV]) Clear() {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	sc.cache.Clear()
}

func (sc *syncCache[TK, TV]) Keys() []TK {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.cache.Keys()
}

func (sc *syncCache[TK, TV]) Options() Options {
	return sc.cache.Options()
}
