package graphindex

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sharedcode/graphstore"
)

// Page chain layout. Every page ends with an 8-byte little-endian pointer to the next page of
// the chain (0 on the last page). The bytes before it hold entries back to back:
//
//	marker(1) length(4, little endian) uri(length)
//
// An entry that does not fit the rest of a page moves to a fresh page, announced by
// markerLink; an entry larger than a whole page continues on the next page without a marker.
// markerLink on the last page ends the chain.
const (
	markerLive    byte = 0
	markerDeleted byte = 1
	// markerEmpty is a tombstone without a stored URI.
	markerEmpty byte = 2
	markerLink  byte = 0xff

	trailerSize = 8
	entryHeader = 1 + 4
)

// PageWriter allocates and writes the pages of a chain.
type PageWriter interface {
	PageSize() int
	AllocatePage() uint64
	WritePage(ctx context.Context, id uint64, data []byte) error
}

// PageReader reads back the pages of a chain.
type PageReader interface {
	PageSize() int
	ReadPage(ctx context.Context, id uint64) ([]byte, error)
}

// Write persists every entry, tombstones included, to freshly allocated pages and returns
// the id of the head page.
func (idx *Index) Write(ctx context.Context, w PageWriter) (uint64, error) {
	limit := w.PageSize() - trailerSize
	if limit < entryHeader+1 {
		return 0, graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("page size %d is too small for a graph index page", w.PageSize()), w.PageSize())
	}
	idx.locker.RLock()
	entries := make([]Entry, len(idx.entries))
	copy(entries, idx.entries)
	idx.locker.RUnlock()

	cw := &chainWriter{ctx: ctx, w: w, limit: limit}
	cw.start()
	for _, e := range entries {
		var err error
		switch {
		case e.IsDeleted && e.URI == "":
			err = cw.placeholder()
		case e.IsDeleted:
			err = cw.entry(markerDeleted, e.URI)
		default:
			err = cw.entry(markerLive, e.URI)
		}
		if err != nil {
			return 0, err
		}
	}
	if err := cw.finish(); err != nil {
		return 0, err
	}
	return cw.head, nil
}

type chainWriter struct {
	ctx   context.Context
	w     PageWriter
	limit int
	head  uint64
	id    uint64
	buf   []byte
	pos   int
}

func (cw *chainWriter) start() {
	cw.id = cw.w.AllocatePage()
	cw.head = cw.id
	cw.buf = make([]byte, cw.w.PageSize())
}

// advance links the current page to a newly allocated one and writes it out.
func (cw *chainWriter) advance() error {
	next := cw.w.AllocatePage()
	binary.LittleEndian.PutUint64(cw.buf[cw.limit:], next)
	if err := cw.w.WritePage(cw.ctx, cw.id, cw.buf); err != nil {
		return err
	}
	cw.id = next
	cw.buf = make([]byte, cw.w.PageSize())
	cw.pos = 0
	return nil
}

// put streams b into the chain, spilling onto new pages as needed.
func (cw *chainWriter) put(b []byte) error {
	for len(b) > 0 {
		if cw.pos == cw.limit {
			if err := cw.advance(); err != nil {
				return err
			}
		}
		n := copy(cw.buf[cw.pos:cw.limit], b)
		cw.pos += n
		b = b[n:]
	}
	return nil
}

func (cw *chainWriter) entry(marker byte, uri string) error {
	if cw.pos == cw.limit {
		if err := cw.advance(); err != nil {
			return err
		}
	}
	need := entryHeader + len(uri)
	// One byte stays free after an entry for the next marker.
	if cw.pos+need+1 > cw.limit && need+1 <= cw.limit && cw.pos > 0 {
		cw.buf[cw.pos] = markerLink
		if err := cw.advance(); err != nil {
			return err
		}
	}
	var header [entryHeader]byte
	header[0] = marker
	binary.LittleEndian.PutUint32(header[1:], uint32(len(uri)))
	if err := cw.put(header[:]); err != nil {
		return err
	}
	return cw.put([]byte(uri))
}

// placeholder writes a tombstone that has no stored URI.
func (cw *chainWriter) placeholder() error {
	if cw.pos == cw.limit {
		if err := cw.advance(); err != nil {
			return err
		}
	}
	if cw.pos+2 > cw.limit {
		cw.buf[cw.pos] = markerLink
		if err := cw.advance(); err != nil {
			return err
		}
	}
	cw.buf[cw.pos] = markerEmpty
	cw.pos++
	return nil
}

func (cw *chainWriter) finish() error {
	if cw.pos == cw.limit {
		if err := cw.advance(); err != nil {
			return err
		}
	}
	cw.buf[cw.pos] = markerLink
	return cw.w.WritePage(cw.ctx, cw.id, cw.buf)
}

// Read loads the index persisted by Write starting at head.
func Read(ctx context.Context, r PageReader, head uint64) (*Index, error) {
	limit := r.PageSize() - trailerSize
	if limit < entryHeader+1 {
		return nil, graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("page size %d is too small for a graph index page", r.PageSize()), r.PageSize())
	}
	cr := &chainReader{ctx: ctx, r: r, limit: limit, visited: make(map[uint64]struct{})}
	if err := cr.load(head); err != nil {
		return nil, err
	}
	idx := New()
	for {
		if err := cr.wrap(); err != nil {
			return nil, err
		}
		marker := cr.buf[cr.pos]
		cr.pos++
		switch marker {
		case markerLink:
			next := binary.LittleEndian.Uint64(cr.buf[cr.limit:])
			if next == 0 {
				return idx, nil
			}
			if err := cr.load(next); err != nil {
				return nil, err
			}
			continue
		case markerEmpty:
			idx.entries = append(idx.entries, Entry{ID: int32(len(idx.entries)), IsDeleted: true})
			continue
		case markerLive, markerDeleted:
		default:
			return nil, cr.corrupt("unknown entry marker %d", marker)
		}
		var length [4]byte
		if err := cr.get(length[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(length[:])
		if n == 0 || n > MaxURILength {
			return nil, cr.corrupt("entry length %d out of range", n)
		}
		uri := make([]byte, n)
		if err := cr.get(uri); err != nil {
			return nil, err
		}
		e := Entry{ID: int32(len(idx.entries)), URI: string(uri), IsDeleted: marker == markerDeleted}
		idx.entries = append(idx.entries, e)
		if !e.IsDeleted {
			idx.ids[e.URI] = e.ID
		}
	}
}

type chainReader struct {
	ctx   context.Context
	r     PageReader
	limit int
	id    uint64
	buf   []byte
	pos   int
	pages int
	// visited holds every page id of the chain read so far.
	visited map[uint64]struct{}
}

func (cr *chainReader) load(id uint64) error {
	if id == 0 {
		return cr.corrupt("bad next page %d", id)
	}
	if _, ok := cr.visited[id]; ok {
		return cr.corrupt("page %d links back into the chain", id)
	}
	cr.visited[id] = struct{}{}
	buf, err := cr.r.ReadPage(cr.ctx, id)
	if err != nil {
		return err
	}
	if len(buf) < cr.limit+trailerSize {
		return cr.corrupt("page %d is %d bytes", id, len(buf))
	}
	cr.id, cr.buf, cr.pos = id, buf, 0
	cr.pages++
	return nil
}

// wrap moves to the next page when the current one is used up to its data limit.
func (cr *chainReader) wrap() error {
	if cr.pos < cr.limit {
		return nil
	}
	return cr.load(binary.LittleEndian.Uint64(cr.buf[cr.limit:]))
}

func (cr *chainReader) get(b []byte) error {
	for len(b) > 0 {
		if err := cr.wrap(); err != nil {
			return err
		}
		n := copy(b, cr.buf[cr.pos:cr.limit])
		cr.pos += n
		b = b[n:]
	}
	return nil
}

func (cr *chainReader) corrupt(format string, args ...any) error {
	return graphstore.NewError(graphstore.InvalidGraphIndex,
		fmt.Errorf("corrupt graph index chain at page %d: "+format, append([]any{cr.id}, args...)...), cr.pages)
}
