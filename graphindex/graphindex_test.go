package graphindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/graphstore"
)

// memPages is an in-memory PageWriter and PageReader.
type memPages struct {
	pageSize int
	next     uint64
	pages    map[uint64][]byte
}

func newMemPages(pageSize int) *memPages {
	return &memPages{pageSize: pageSize, next: 1, pages: make(map[uint64][]byte)}
}

func (m *memPages) PageSize() int { return m.pageSize }

func (m *memPages) AllocatePage() uint64 {
	id := m.next
	m.next++
	return id
}

func (m *memPages) WritePage(ctx context.Context, id uint64, data []byte) error {
	if len(data) != m.pageSize {
		return fmt.Errorf("page %d is %d bytes", id, len(data))
	}
	m.pages[id] = append([]byte(nil), data...)
	return nil
}

func (m *memPages) ReadPage(ctx context.Context, id uint64) ([]byte, error) {
	p, ok := m.pages[id]
	if !ok {
		return nil, graphstore.NewError(graphstore.PageNotFound, fmt.Errorf("page %d", id), id)
	}
	return p, nil
}

func TestGraphIDScenario(t *testing.T) {
	idx := New()
	a, err := idx.AssertGraphID("http://a")
	require.NoError(t, err)
	b, err := idx.AssertGraphID("http://b")
	require.NoError(t, err)
	again, err := idx.AssertGraphID("http://a")
	require.NoError(t, err)
	assert.Equal(t, int32(0), a)
	assert.Equal(t, int32(1), b)
	assert.Equal(t, a, again)

	assert.True(t, idx.DeleteGraph(0))
	assert.False(t, idx.DeleteGraph(0))
	assert.False(t, idx.DeleteGraph(7))
	_, ok := idx.TryFindGraphID("http://a")
	assert.False(t, ok)
	uri, ok := idx.GraphURI(1)
	assert.True(t, ok)
	assert.Equal(t, "http://b", uri)
	_, ok = idx.GraphURI(0)
	assert.False(t, ok)

	// A deleted URI comes back under a new id.
	c, err := idx.AssertGraphID("http://a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), c)
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []Entry{{ID: 1, URI: "http://b"}, {ID: 2, URI: "http://a"}}, idx.Entries())
}

func TestInvalidURIs(t *testing.T) {
	idx := New()
	_, err := idx.AssertGraphID("")
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidArgument))
	_, err = idx.AssertGraphID(strings.Repeat("x", MaxURILength+1))
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidArgument))
	assert.Equal(t, 0, idx.Len())

	id, err := idx.AssertGraphID(strings.Repeat("x", MaxURILength))
	require.NoError(t, err)
	assert.Equal(t, int32(0), id)
}

func TestConcurrentAssert(t *testing.T) {
	idx := New()
	const workers, graphs = 8, 200
	results := make([][]int32, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int32, graphs)
			for i := 0; i < graphs; i++ {
				id, err := idx.AssertGraphID(fmt.Sprintf("http://example.org/graph/%d", i))
				if err != nil {
					panic(err)
				}
				ids[i] = id
			}
			results[w] = ids
		}()
	}
	wg.Wait()
	assert.Equal(t, graphs, idx.Len())
	for w := 1; w < workers; w++ {
		assert.Equal(t, results[0], results[w])
	}
	for i := 0; i < graphs; i++ {
		uri, ok := idx.GraphURI(results[0][i])
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("http://example.org/graph/%d", i), uri)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	idx := New()
	_, _ = idx.AssertGraphID("http://a")
	c := idx.Clone()
	_, _ = c.AssertGraphID("http://b")
	c.DeleteGraph(0)

	assert.Equal(t, 1, idx.Len())
	_, ok := idx.TryFindGraphID("http://a")
	assert.True(t, ok)
	_, ok = c.TryFindGraphID("http://a")
	assert.False(t, ok)
}

func TestPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, pageSize := range []int{32, 40, 64, 4096} {
		t.Run(fmt.Sprintf("page%d", pageSize), func(t *testing.T) {
			idx := New()
			// URI lengths around and beyond the page data area exercise every spill path.
			for n := 1; n <= 3*pageSize; n += 1 + pageSize/16 {
				_, err := idx.AssertGraphID(fmt.Sprintf("%d:%s", n, strings.Repeat("u", n)))
				require.NoError(t, err)
			}
			for id := int32(0); id < int32(idx.Len()); id += 5 {
				idx.DeleteGraph(id)
			}
			pages := newMemPages(pageSize)
			head, err := idx.Write(ctx, pages)
			require.NoError(t, err)

			got, err := Read(ctx, pages, head)
			require.NoError(t, err)
			assert.Equal(t, idx.Len(), got.Len())
			assert.Equal(t, idx.entries, got.entries)
			for _, e := range idx.Entries() {
				id, ok := got.TryFindGraphID(e.URI)
				assert.True(t, ok)
				assert.Equal(t, e.ID, id)
			}
			_, ok := got.GraphURI(0)
			assert.False(t, ok, "tombstone survives the round trip")
			next, err := got.AssertGraphID("http://new")
			require.NoError(t, err)
			assert.Equal(t, int32(idx.Len()), next, "ids are not reused after reload")
		})
	}
}

func TestPersistEmpty(t *testing.T) {
	ctx := context.Background()
	pages := newMemPages(32)
	head, err := New().Write(ctx, pages)
	require.NoError(t, err)
	assert.Len(t, pages.pages, 1)
	got, err := Read(ctx, pages, head)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestReadCorruptChain(t *testing.T) {
	ctx := context.Background()
	pages := newMemPages(32)
	idx := New()
	_, _ = idx.AssertGraphID("http://a")
	head, err := idx.Write(ctx, pages)
	require.NoError(t, err)

	pages.pages[head][0] = 0x42
	_, err = Read(ctx, pages, head)
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidGraphIndex))

	_, err = Read(ctx, pages, 99)
	assert.True(t, graphstore.IsErrorCode(err, graphstore.PageNotFound))
}

func TestReadCyclicChain(t *testing.T) {
	ctx := context.Background()
	pages := newMemPages(32)
	for id, next := range map[uint64]uint64{1: 2, 2: 1} {
		buf := make([]byte, pages.pageSize)
		buf[0] = markerLink
		binary.LittleEndian.PutUint64(buf[pages.pageSize-trailerSize:], next)
		pages.pages[id] = buf
	}

	_, err := Read(ctx, pages, 1)
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidGraphIndex))
}

func TestURILessTombstoneRoundTrip(t *testing.T) {
	ctx := context.Background()
	pages := newMemPages(32)
	buf := make([]byte, pages.pageSize)
	buf[0] = markerEmpty
	buf[1] = markerLive
	binary.LittleEndian.PutUint32(buf[2:], 8)
	copy(buf[6:], "http://b")
	buf[14] = markerLink
	pages.pages[1] = buf

	idx, err := Read(ctx, pages, 1)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())
	_, ok := idx.GraphURI(0)
	assert.False(t, ok)
	id, ok := idx.TryFindGraphID("http://b")
	assert.True(t, ok)
	assert.Equal(t, int32(1), id)

	out := newMemPages(32)
	head, err := idx.Write(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, byte(markerEmpty), out.pages[head][0])
	again, err := Read(ctx, out, head)
	require.NoError(t, err)
	assert.Equal(t, idx.entries, again.entries)
}

func TestURILessTombstonesAcrossPages(t *testing.T) {
	ctx := context.Background()
	idx := New()
	for i := 0; i < 40; i++ {
		if i%3 == 0 {
			idx.entries = append(idx.entries, Entry{ID: int32(i), IsDeleted: true})
			continue
		}
		uri := fmt.Sprintf("http://g/%d", i)
		idx.entries = append(idx.entries, Entry{ID: int32(i), URI: uri})
		idx.ids[uri] = int32(i)
	}

	pages := newMemPages(16)
	head, err := idx.Write(ctx, pages)
	require.NoError(t, err)
	assert.Greater(t, len(pages.pages), 1)
	got, err := Read(ctx, pages, head)
	require.NoError(t, err)
	assert.Equal(t, idx.entries, got.entries)
	id, ok := got.TryFindGraphID("http://g/38")
	assert.True(t, ok)
	assert.Equal(t, int32(38), id)
}

func TestWriteRejectsTinyPages(t *testing.T) {
	_, err := New().Write(context.Background(), newMemPages(12))
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidArgument))
}
