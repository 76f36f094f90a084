package store

import (
	"fmt"
	"slices"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/encoding"
)

// GraphIndexRoot is the named root holding the head page of the graph index chain.
const GraphIndexRoot = "graphs"

// encodeRoots lays out the named roots table of a root page: a varint count followed by
// (name, varint page id) pairs sorted by name.
func encodeRoots(roots map[string]uint64, pageSize int) ([]byte, error) {
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	slices.Sort(names)
	b := encoding.AppendVarint(make([]byte, 0, pageSize), uint64(len(names)))
	for _, name := range names {
		b = encoding.AppendString(b, name)
		b = encoding.AppendVarint(b, roots[name])
	}
	if len(b) > pageSize {
		return nil, graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("roots table of %d bytes does not fit a %d byte page", len(b), pageSize), len(roots))
	}
	return b, nil
}

func decodeRoots(b []byte) (map[string]uint64, error) {
	count, n, err := encoding.ConsumeVarint(b)
	if err != nil {
		return nil, err
	}
	b = b[n:]
	if count > uint64(len(b)) {
		return nil, fmt.Errorf("roots count %d exceeds the page", count)
	}
	roots := make(map[string]uint64, count)
	for i := uint64(0); i < count; i++ {
		name, n, err := encoding.ConsumeString(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		id, n, err := encoding.ConsumeVarint(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		roots[name] = id
	}
	return roots, nil
}
