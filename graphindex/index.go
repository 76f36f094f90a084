// Package graphindex interns graph URIs as dense int32 ids. Ids are positions in an
// append-only entry array: deleting a graph leaves a tombstone and ids are never reused.
package graphindex

import (
	"fmt"
	"math"
	"sync"

	"github.com/sharedcode/graphstore"
)

// MaxURILength is the longest graph URI, in bytes, the index accepts.
const MaxURILength = math.MaxInt16

// Entry is one slot of the index.
type Entry struct {
	ID        int32
	URI       string
	IsDeleted bool
}

// Index is safe for concurrent use. Lookups take a read lock; only the first assertion of
// a new URI takes the write lock.
type Index struct {
	locker  sync.RWMutex
	entries []Entry
	// ids holds live entries only.
	ids map[string]int32
}

// New returns an empty index.
func New() *Index {
	return &Index{ids: make(map[string]int32)}
}

func validateURI(uri string) error {
	if uri == "" {
		return graphstore.NewError(graphstore.InvalidArgument, fmt.Errorf("graph uri is empty"), nil)
	}
	if len(uri) > MaxURILength {
		return graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("graph uri is %d bytes, the limit is %d", len(uri), MaxURILength), len(uri))
	}
	return nil
}

// AssertGraphID returns the id of uri, adding it when it is not a live entry yet.
func (idx *Index) AssertGraphID(uri string) (int32, error) {
	if err := validateURI(uri); err != nil {
		return 0, err
	}
	idx.locker.RLock()
	id, ok := idx.ids[uri]
	idx.locker.RUnlock()
	if ok {
		return id, nil
	}

	idx.locker.Lock()
	defer idx.locker.Unlock()
	if id, ok := idx.ids[uri]; ok {
		return id, nil
	}
	if len(idx.entries) >= math.MaxInt32 {
		return 0, graphstore.NewError(graphstore.InvalidArgument, fmt.Errorf("graph index is full"), uri)
	}
	id = int32(len(idx.entries))
	idx.entries = append(idx.entries, Entry{ID: id, URI: uri})
	idx.ids[uri] = id
	return id, nil
}

// TryFindGraphID returns the id of a live graph.
func (idx *Index) TryFindGraphID(uri string) (int32, bool) {
	idx.locker.RLock()
	defer idx.locker.RUnlock()
	id, ok := idx.ids[uri]
	return id, ok
}

// GraphURI returns the URI of a live graph.
func (idx *Index) GraphURI(id int32) (string, bool) {
	idx.locker.RLock()
	defer idx.locker.RUnlock()
	if id < 0 || int(id) >= len(idx.entries) || idx.entries[id].IsDeleted {
		return "", false
	}
	return idx.entries[id].URI, true
}

// DeleteGraph tombstones a live graph. It returns false if id is unknown or already deleted.
func (idx *Index) DeleteGraph(id int32) bool {
	idx.locker.Lock()
	defer idx.locker.Unlock()
	if id < 0 || int(id) >= len(idx.entries) || idx.entries[id].IsDeleted {
		return false
	}
	e := &idx.entries[id]
	e.IsDeleted = true
	delete(idx.ids, e.URI)
	return true
}

// Entries returns the live entries in id order.
func (idx *Index) Entries() []Entry {
	idx.locker.RLock()
	defer idx.locker.RUnlock()
	r := make([]Entry, 0, len(idx.ids))
	for _, e := range idx.entries {
		if !e.IsDeleted {
			r = append(r, e)
		}
	}
	return r
}

// Count returns the number of live graphs.
func (idx *Index) Count() int {
	idx.locker.RLock()
	defer idx.locker.RUnlock()
	return len(idx.ids)
}

// Len returns the number of entries including tombstones, which is also the next id.
func (idx *Index) Len() int {
	idx.locker.RLock()
	defer idx.locker.RUnlock()
	return len(idx.entries)
}

// Clone returns an independent copy, used to stage changes inside a write transaction.
func (idx *Index) Clone() *Index {
	idx.locker.RLock()
	defer idx.locker.RUnlock()
	c := &Index{
		entries: make([]Entry, len(idx.entries)),
		ids:     make(map[string]int32, len(idx.ids)),
	}
	copy(c.entries, idx.entries)
	for k, v := range idx.ids {
		c.ids[k] = v
	}
	return c
}
