package store

import (
	"context"
	"fmt"
	log "log/slog"
	"maps"
	"time"

	"github.com/pkg/errors"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/commitpoint"
	"github.com/sharedcode/graphstore/graphindex"
	"github.com/sharedcode/graphstore/metrics"
	"github.com/sharedcode/graphstore/txlog"
)

// WriteTxn is the single write transaction of a store. It works on private copies of the
// roots table and graph index and stages pages until Commit.
type WriteTxn struct {
	store   *Store
	id      uint64
	pending *txlog.PendingTransaction
	base    *Snapshot

	roots         map[string]uint64
	graphs        *graphindex.Index
	graphsChanged bool
	done          bool
}

// Begin starts a write transaction for job, waiting for any other writer to finish. The
// job's start record is logged before Begin returns.
func (s *Store) Begin(ctx context.Context, job txlog.Job) (*WriteTxn, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}
	s.writer.Lock()
	if s.closed.Load() {
		s.writer.Unlock()
		return nil, errStoreClosed
	}
	pending, err := s.txlog.LogStartTransaction(ctx, job)
	if err != nil {
		s.writer.Unlock()
		return nil, errors.WithMessage(err, "log transaction start")
	}
	base := s.current.Load()
	return &WriteTxn{
		store:   s,
		id:      s.commits.NextCommitNumber(),
		pending: pending,
		base:    base,
		roots:   maps.Clone(base.roots),
		graphs:  base.graphs.Clone(),
	}, nil
}

// Update runs fn inside a write transaction, committing when fn succeeds and aborting when
// it fails.
func (s *Store) Update(ctx context.Context, job txlog.Job, fn func(ctx context.Context, txn *WriteTxn) error) (commitpoint.CommitPoint, error) {
	txn, err := s.Begin(ctx, job)
	if err != nil {
		return commitpoint.CommitPoint{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			if abortErr := txn.Abort(ctx, fmt.Errorf("panic: %v", r)); abortErr != nil {
				log.Warn("abort failed", "job", txn.Job().ID, "error", abortErr)
			}
			panic(r)
		}
	}()
	if err := fn(ctx, txn); err != nil {
		if abortErr := txn.Abort(ctx, err); abortErr != nil {
			log.Warn("abort failed", "job", txn.Job().ID, "error", abortErr)
		}
		return commitpoint.CommitPoint{}, err
	}
	return txn.Commit(ctx)
}

// Job returns the job the transaction runs, with its assigned id and start time.
func (txn *WriteTxn) Job() txlog.Job {
	return txn.pending.Job
}

// Base returns the snapshot the transaction started from.
func (txn *WriteTxn) Base() *Snapshot {
	return txn.base
}

// PageSize returns the page size of the store.
func (txn *WriteTxn) PageSize() int {
	return txn.store.pages.PageSize()
}

// AllocatePage reserves a new page id.
func (txn *WriteTxn) AllocatePage() uint64 {
	return txn.store.pages.Allocate()
}

// ReadPage returns page id as the transaction sees it. The returned slice must not be modified.
func (txn *WriteTxn) ReadPage(ctx context.Context, id uint64) ([]byte, error) {
	if err := txn.check(); err != nil {
		return nil, err
	}
	p, err := txn.store.pages.ReadForTransaction(ctx, txn.id, id)
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

// WritePage stages data for page id, which must have been allocated by this transaction.
func (txn *WriteTxn) WritePage(ctx context.Context, id uint64, data []byte) error {
	if err := txn.check(); err != nil {
		return err
	}
	return txn.store.pages.Write(txn.id, id, data)
}

// FreePage drops a page staged by this transaction.
func (txn *WriteTxn) FreePage(id uint64) bool {
	return txn.store.pages.Free(txn.id, id)
}

// ModifiedCounter returns the current page modification counter, for use with Flush.
func (txn *WriteTxn) ModifiedCounter() uint64 {
	return txn.store.pages.ModifiedCounter()
}

// Flush writes the pages staged since the given modification counter ahead of Commit.
func (txn *WriteTxn) Flush(ctx context.Context, since uint64) (int, error) {
	if err := txn.check(); err != nil {
		return 0, err
	}
	return txn.store.pages.WriteIfModifiedSince(ctx, txn.id, since)
}

// Root returns the page id registered under name in this transaction.
func (txn *WriteTxn) Root(name string) (uint64, bool) {
	id, ok := txn.roots[name]
	return id, ok
}

// SetRoot registers pageID under name in the roots table; a zero pageID removes the root.
func (txn *WriteTxn) SetRoot(name string, pageID uint64) error {
	if err := txn.check(); err != nil {
		return err
	}
	if name == "" || name == GraphIndexRoot {
		return graphstore.NewError(graphstore.InvalidArgument, fmt.Errorf("root name %q is reserved", name), name)
	}
	if pageID == 0 {
		delete(txn.roots, name)
		return nil
	}
	txn.roots[name] = pageID
	return nil
}

// AssertGraphID returns the id of graph uri, adding it to the graph index if needed.
func (txn *WriteTxn) AssertGraphID(uri string) (int32, error) {
	if err := txn.check(); err != nil {
		return 0, err
	}
	before := txn.graphs.Len()
	id, err := txn.graphs.AssertGraphID(uri)
	if err == nil && txn.graphs.Len() != before {
		txn.graphsChanged = true
	}
	return id, err
}

// TryFindGraphID looks up a live graph, including graphs added by this transaction.
func (txn *WriteTxn) TryFindGraphID(uri string) (int32, bool) {
	return txn.graphs.TryFindGraphID(uri)
}

// GraphURI returns the URI of a live graph.
func (txn *WriteTxn) GraphURI(id int32) (string, bool) {
	return txn.graphs.GraphURI(id)
}

// DeleteGraph tombstones graph id.
func (txn *WriteTxn) DeleteGraph(id int32) bool {
	if txn.done {
		return false
	}
	if txn.graphs.DeleteGraph(id) {
		txn.graphsChanged = true
		return true
	}
	return false
}

// Commit makes the transaction durable and publishes it. Pages reach the disk first, then
// the commit point is appended, then the outcome is logged, and only then do new snapshots
// see the changes. On failure nothing is published and a Failed outcome is logged.
func (txn *WriteTxn) Commit(ctx context.Context) (commitpoint.CommitPoint, error) {
	if err := txn.check(); err != nil {
		// A transaction of a closed store still holds the writer lock.
		if !txn.done {
			_ = txn.Abort(ctx, err)
		}
		return commitpoint.CommitPoint{}, err
	}
	started := time.Now()
	s := txn.store

	cp, err := txn.persist(ctx)
	if err != nil {
		if abortErr := txn.Abort(ctx, err); abortErr != nil {
			log.Warn("abort failed", "job", txn.Job().ID, "error", abortErr)
		}
		return commitpoint.CommitPoint{}, errors.WithMessagef(err, "commit transaction %d", txn.id)
	}

	// The commit point is durable from here on: publish even if the outcome cannot be logged.
	logErr := s.txlog.LogEndSuccessfulTransaction(ctx, txn.pending)
	s.current.Store(&Snapshot{
		store:     s,
		commit:    cp,
		hasCommit: true,
		rootPage:  cp.LocationOffset/uint64(txn.PageSize()) + 1,
		roots:     txn.roots,
		graphs:    txn.graphs,
	})
	txn.finish()
	metrics.CommitDurationSeconds.Observe(time.Since(started).Seconds())
	log.Debug("transaction committed", "commit", cp.CommitNumber, "job", cp.JobID, "type", txn.Job().Type())
	if logErr != nil {
		return cp, errors.WithMessagef(logErr, "log outcome of commit %d", cp.CommitNumber)
	}
	return cp, nil
}

// persist writes the graph index and root page, commits the pages and appends the commit point.
func (txn *WriteTxn) persist(ctx context.Context) (commitpoint.CommitPoint, error) {
	s := txn.store
	if _, ok := txn.roots[GraphIndexRoot]; txn.graphsChanged || !ok {
		head, err := txn.graphs.Write(ctx, txn)
		if err != nil {
			return commitpoint.CommitPoint{}, errors.WithMessage(err, "write graph index")
		}
		txn.roots[GraphIndexRoot] = head
	}
	rootID := txn.AllocatePage()
	root, err := encodeRoots(txn.roots, txn.PageSize())
	if err != nil {
		return commitpoint.CommitPoint{}, err
	}
	if err := s.pages.Write(txn.id, rootID, root); err != nil {
		return commitpoint.CommitPoint{}, err
	}
	if err := s.pages.Commit(ctx, txn.id); err != nil {
		return commitpoint.CommitPoint{}, err
	}
	cp := s.commits.New(uint64(rootID-1)*uint64(txn.PageSize()), txn.Job().ID)
	if err := s.commits.Append(ctx, cp); err != nil {
		return commitpoint.CommitPoint{}, err
	}
	return cp, nil
}

// Abort discards the transaction and logs it as Failed. cause is only reported in the log.
// Aborting a finished transaction does nothing.
func (txn *WriteTxn) Abort(ctx context.Context, cause error) error {
	if txn.done {
		return nil
	}
	s := txn.store
	s.pages.Abort(txn.id)
	err := s.txlog.LogEndFailedTransaction(ctx, txn.pending)
	txn.finish()
	log.Info("transaction aborted", "job", txn.Job().ID, "cause", cause)
	return err
}

func (txn *WriteTxn) finish() {
	txn.done = true
	txn.store.writer.Unlock()
}

func (txn *WriteTxn) check() error {
	if txn.done {
		return graphstore.NewError(graphstore.InvalidArgument, fmt.Errorf("transaction %d is finished", txn.id), txn.id)
	}
	if txn.store.closed.Load() {
		return errStoreClosed
	}
	return nil
}
