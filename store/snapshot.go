package store

import (
	"context"
	"fmt"
	"maps"

	"github.com/pkg/errors"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/commitpoint"
	"github.com/sharedcode/graphstore/graphindex"
)

// Snapshot is a read-only view of the store as of one commit point. Pages allocated after
// that commit are invisible to it, so readers never observe a writer in progress.
type Snapshot struct {
	store     *Store
	commit    commitpoint.CommitPoint
	hasCommit bool
	rootPage  uint64
	roots     map[string]uint64
	graphs    *graphindex.Index
}

func emptySnapshot(s *Store) *Snapshot {
	return &Snapshot{store: s, roots: map[string]uint64{}, graphs: graphindex.New()}
}

// loadSnapshot reads the root page and graph index of cp.
func (s *Store) loadSnapshot(ctx context.Context, cp commitpoint.CommitPoint) (*Snapshot, error) {
	pageSize := uint64(s.pages.PageSize())
	if cp.LocationOffset%pageSize != 0 {
		return nil, graphstore.NewError(graphstore.InvalidCommitPoint,
			fmt.Errorf("location offset %d is not page aligned", cp.LocationOffset), cp.CommitNumber)
	}
	snap := &Snapshot{
		store:     s,
		commit:    cp,
		hasCommit: true,
		rootPage:  cp.LocationOffset/pageSize + 1,
	}
	root, err := s.pages.Read(ctx, snap.rootPage)
	if err != nil {
		return nil, errors.WithMessagef(err, "read root page of commit %d", cp.CommitNumber)
	}
	if snap.roots, err = decodeRoots(root.Data); err != nil {
		return nil, graphstore.NewError(graphstore.InvalidCommitPoint,
			errors.WithMessage(err, "decode roots table"), cp.CommitNumber)
	}
	snap.graphs = graphindex.New()
	if head, ok := snap.roots[GraphIndexRoot]; ok {
		if snap.graphs, err = graphindex.Read(ctx, snap, head); err != nil {
			return nil, errors.WithMessagef(err, "load graph index of commit %d", cp.CommitNumber)
		}
	}
	return snap, nil
}

// CommitPoint returns the commit the snapshot reflects, or false for a store without commits.
func (snap *Snapshot) CommitPoint() (commitpoint.CommitPoint, bool) {
	return snap.commit, snap.hasCommit
}

// PageSize returns the page size of the store.
func (snap *Snapshot) PageSize() int {
	return snap.store.pages.PageSize()
}

// ReadPage returns the contents of page id. The returned slice is shared and must not be
// modified.
func (snap *Snapshot) ReadPage(ctx context.Context, id uint64) ([]byte, error) {
	if id == 0 || id > snap.rootPage {
		return nil, graphstore.NewError(graphstore.PageNotFound,
			fmt.Errorf("page %d is not part of commit %d", id, snap.commit.CommitNumber), id)
	}
	p, err := snap.store.pages.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

// Root returns the page id registered under name.
func (snap *Snapshot) Root(name string) (uint64, bool) {
	id, ok := snap.roots[name]
	return id, ok
}

// Roots returns a copy of the named roots table.
func (snap *Snapshot) Roots() map[string]uint64 {
	return maps.Clone(snap.roots)
}

// TryFindGraphID looks up a live graph in the snapshot.
func (snap *Snapshot) TryFindGraphID(uri string) (int32, bool) {
	return snap.graphs.TryFindGraphID(uri)
}

// GraphURI returns the URI of a live graph in the snapshot.
func (snap *Snapshot) GraphURI(id int32) (string, bool) {
	return snap.graphs.GraphURI(id)
}

// GraphIndex returns a private copy of the snapshot's graph index.
func (snap *Snapshot) GraphIndex() *graphindex.Index {
	return snap.graphs.Clone()
}
