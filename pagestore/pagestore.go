// Package pagestore allocates, reads, stages and commits fixed-size pages of a page file.
// Writes are staged per transaction id and only reach the file, in ascending page-id order,
// on Commit (or earlier through WriteIfModifiedSince). Committed pages are immutable.
package pagestore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/cache"
	"github.com/sharedcode/graphstore/fs"
	"github.com/sharedcode/graphstore/metrics"
)

// Options configures a page store.
type Options struct {
	PageSize   int
	Cache      cache.Options
	DirectIO   bool
	SyncWrites bool
	// CreateIfMissing creates the page file when it does not exist.
	CreateIfMissing bool
}

// Stats is a point-in-time description of a page store.
type Stats struct {
	PageSize        int
	NextPageID      uint64
	CommittedPageID uint64
	CachedPages     int
	StagedPages     int
}

// PageStore manages one page file. It is safe for concurrent readers and one writer.
type PageStore struct {
	file     *fs.File
	pageSize int
	sync     bool
	cache    cache.Cache[uint64, *Page]

	nextPageID atomic.Uint64
	// committed is the highest page id that may be referenced by a published commit point.
	committed atomic.Uint64
	modified  atomic.Uint64
	closed    atomic.Bool

	locker sync.Mutex
	staged map[uint64]map[uint64]*Page
}

// Open opens the page file at path, or creates it when opts.CreateIfMissing is set.
// Every page already in the file is treated as committed.
func Open(ctx context.Context, fio *fs.FileIO, path string, opts Options) (*PageStore, error) {
	if opts.PageSize < graphstore.MinPageSize {
		return nil, graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("page size %d is smaller than %d", opts.PageSize, graphstore.MinPageSize), opts.PageSize)
	}
	if opts.DirectIO {
		if err := fs.ValidateDirectIOPageSize(opts.PageSize); err != nil {
			return nil, err
		}
	}
	f, err := fio.OpenFile(path, opts.CreateIfMissing, opts.DirectIO)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, graphstore.NewError(graphstore.FileIOError, err, path)
	}
	ps := &PageStore{
		file:     f,
		pageSize: opts.PageSize,
		sync:     opts.SyncWrites,
		staged:   make(map[uint64]map[uint64]*Page),
	}
	ps.cache = cache.NewSynchronized(opts.Cache, func(uint64, *Page) {
		metrics.PageCacheEvictionsTotal.Inc()
	})

	pages := uint64(size) / uint64(opts.PageSize)
	if size%int64(opts.PageSize) != 0 {
		// A torn trailing page belongs to a commit that never published; skip past it.
		log.Warn("page file ends with a partial page", "file", path, "size", size)
		pages++
	}
	ps.committed.Store(pages)
	ps.nextPageID.Store(pages + 1)
	log.Debug("page store opened", "file", path, "pages", pages, "size", humanize.IBytes(uint64(size)))
	return ps, nil
}

// PageSize returns the fixed page size in bytes.
func (ps *PageStore) PageSize() int {
	return ps.pageSize
}

// ModifiedCounter returns the current modification sequence number, the value to pass
// to a later WriteIfModifiedSince.
func (ps *PageStore) ModifiedCounter() uint64 {
	return ps.modified.Load()
}

// CommittedPageID returns the highest page id covered by a completed Commit.
func (ps *PageStore) CommittedPageID() uint64 {
	return ps.committed.Load()
}

// Allocate reserves a new page id. Ids are never reused, even when the allocating
// transaction aborts.
func (ps *PageStore) Allocate() uint64 {
	return ps.nextPageID.Add(1) - 1
}

// Read returns committed page id, from the cache or else from the page file.
func (ps *PageStore) Read(ctx context.Context, id uint64) (*Page, error) {
	if ps.closed.Load() {
		return nil, graphstore.NewError(graphstore.StoreClosed, fmt.Errorf("page store is closed"), nil)
	}
	if id == 0 || id > ps.committed.Load() {
		return nil, graphstore.NewError(graphstore.PageNotFound, fmt.Errorf("page %d is not committed", id), id)
	}
	if p, ok := ps.cache.TryLookup(id); ok {
		metrics.PageCacheHitsTotal.Inc()
		return p, nil
	}
	metrics.PageCacheMissesTotal.Inc()

	data := make([]byte, ps.pageSize)
	n, err := ps.file.ReadAt(data, offset(id, ps.pageSize))
	if n < ps.pageSize {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Allocated by a committed transaction but never written.
			return nil, graphstore.NewError(graphstore.PageNotFound, err, id)
		}
		if err == nil {
			err = fmt.Errorf("short read of %d bytes", n)
		}
		return nil, graphstore.NewError(graphstore.FileIOError, err, id)
	}
	metrics.PageReadsTotal.Inc()
	p := &Page{ID: id, Data: data}
	ps.cache.InsertOrUpdate(id, p)
	return p, nil
}

// ReadForTransaction returns the page as transaction txID sees it: its own staged version
// if there is one, the committed page otherwise.
func (ps *PageStore) ReadForTransaction(ctx context.Context, txID, id uint64) (*Page, error) {
	ps.locker.Lock()
	if p, ok := ps.staged[txID][id]; ok {
		c := *p
		c.Data = slices.Clone(p.Data)
		ps.locker.Unlock()
		return &c, nil
	}
	ps.locker.Unlock()
	return ps.Read(ctx, id)
}

// Write stages data as the new contents of page id under transaction txID. The page must
// have been allocated and must not be committed yet; data shorter than a page is zero padded.
func (ps *PageStore) Write(txID, id uint64, data []byte) error {
	if ps.closed.Load() {
		return graphstore.NewError(graphstore.StoreClosed, fmt.Errorf("page store is closed"), nil)
	}
	if len(data) > ps.pageSize {
		return graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("%d bytes do not fit a %d byte page", len(data), ps.pageSize), id)
	}
	if id == 0 || id >= ps.nextPageID.Load() {
		return graphstore.NewError(graphstore.InvalidArgument, fmt.Errorf("page %d was not allocated", id), id)
	}
	if id <= ps.committed.Load() {
		return graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("page %d is committed, write a copy to a new page instead", id), id)
	}

	ps.locker.Lock()
	defer ps.locker.Unlock()
	pages, ok := ps.staged[txID]
	if !ok {
		pages = make(map[uint64]*Page)
		ps.staged[txID] = pages
	}
	p, ok := pages[id]
	if !ok {
		p = &Page{ID: id, Data: make([]byte, ps.pageSize)}
		pages[id] = p
	}
	n := copy(p.Data, data)
	clear(p.Data[n:])
	p.IsDirty = true
	p.Deleted = false
	p.ModifiedCounter = ps.modified.Add(1)
	return nil
}

// Free drops a page staged by txID, e.g. a scratch page the transaction no longer needs.
func (ps *PageStore) Free(txID, id uint64) bool {
	ps.locker.Lock()
	defer ps.locker.Unlock()
	p, ok := ps.staged[txID][id]
	if !ok {
		return false
	}
	p.Deleted = true
	delete(ps.staged[txID], id)
	return true
}

// WriteIfModifiedSince writes the dirty pages of txID whose ModifiedCounter is greater
// than since, letting a background flusher spill a large transaction early. The pages
// stay staged; Commit only rewrites them if they are modified again.
func (ps *PageStore) WriteIfModifiedSince(ctx context.Context, txID, since uint64) (int, error) {
	pages := ps.stagedPages(txID, func(p *Page) bool {
		return p.IsDirty && p.ModifiedCounter > since
	})
	if err := ps.writePages(pages); err != nil {
		return 0, err
	}
	return len(pages), nil
}

// Commit writes every dirty page staged by txID in ascending page-id order, syncs the page
// file, then makes the pages visible to readers. Only after Commit returns may a commit
// point referencing these pages be published.
func (ps *PageStore) Commit(ctx context.Context, txID uint64) error {
	if ps.closed.Load() {
		return graphstore.NewError(graphstore.StoreClosed, fmt.Errorf("page store is closed"), nil)
	}
	dirty := ps.stagedPages(txID, func(p *Page) bool { return p.IsDirty })
	if err := ps.writePages(dirty); err != nil {
		return err
	}
	if ps.sync {
		if err := ps.file.Sync(); err != nil {
			return graphstore.NewError(graphstore.StoreWriteError, err, txID)
		}
	}

	ps.locker.Lock()
	pages := ps.staged[txID]
	delete(ps.staged, txID)
	ps.locker.Unlock()

	for _, p := range pages {
		ps.cache.InsertOrUpdate(p.ID, &Page{ID: p.ID, Data: p.Data})
	}
	// Single writer: every id allocated so far belongs to this or an earlier transaction.
	high := ps.nextPageID.Load() - 1
	for {
		cur := ps.committed.Load()
		if high <= cur || ps.committed.CompareAndSwap(cur, high) {
			break
		}
	}
	log.Debug("pages committed", "tx", txID, "pages", len(pages), "written", len(dirty),
		"bytes", humanize.IBytes(uint64(len(dirty)*ps.pageSize)))
	return nil
}

// Abort discards everything staged by txID.
func (ps *PageStore) Abort(txID uint64) {
	ps.locker.Lock()
	defer ps.locker.Unlock()
	delete(ps.staged, txID)
}

// Stats describes the store.
func (ps *PageStore) Stats() Stats {
	ps.locker.Lock()
	staged := 0
	for _, pages := range ps.staged {
		staged += len(pages)
	}
	ps.locker.Unlock()
	return Stats{
		PageSize:        ps.pageSize,
		NextPageID:      ps.nextPageID.Load(),
		CommittedPageID: ps.committed.Load(),
		CachedPages:     ps.cache.Count(),
		StagedPages:     staged,
	}
}

// Close closes the page file. Staged pages are discarded.
func (ps *PageStore) Close() error {
	if !ps.closed.CompareAndSwap(false, true) {
		return nil
	}
	ps.locker.Lock()
	ps.staged = make(map[uint64]map[uint64]*Page)
	ps.locker.Unlock()
	ps.cache.Clear()
	return ps.file.Close()
}

// stagedPages returns the staged pages of txID matching filter, sorted by page id.
func (ps *PageStore) stagedPages(txID uint64, filter func(*Page) bool) []*Page {
	ps.locker.Lock()
	defer ps.locker.Unlock()
	r := make([]*Page, 0, len(ps.staged[txID]))
	for _, p := range ps.staged[txID] {
		if filter(p) {
			r = append(r, p)
		}
	}
	slices.SortFunc(r, func(a, b *Page) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return r
}

// writePages writes each page with a single positional write.
func (ps *PageStore) writePages(pages []*Page) error {
	for _, p := range pages {
		ps.locker.Lock()
		data := slices.Clone(p.Data)
		counter := p.ModifiedCounter
		ps.locker.Unlock()

		if n, err := ps.file.WriteAt(data, offset(p.ID, ps.pageSize)); err != nil || n != len(data) {
			if err == nil {
				err = fmt.Errorf("partial write of %d bytes", n)
			}
			return graphstore.NewError(graphstore.StoreWriteError, err, p.ID)
		}
		metrics.PageWritesTotal.Inc()

		ps.locker.Lock()
		// A concurrent re-stage keeps the page dirty.
		if p.ModifiedCounter == counter {
			p.IsDirty = false
		}
		ps.locker.Unlock()
	}
	return nil
}
