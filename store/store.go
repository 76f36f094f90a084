// Package store assembles the storage core of a graph store: a page file, the commit point
// master file, the transaction log and the statistics log, all under one folder.
//
// A store has a single writer at a time and any number of snapshot readers. A write
// transaction stages pages, then commits them durably before publishing a new commit point;
// readers keep seeing the snapshot they started from.
package store

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/cache"
	"github.com/sharedcode/graphstore/commitpoint"
	"github.com/sharedcode/graphstore/fs"
	"github.com/sharedcode/graphstore/pagestore"
	"github.com/sharedcode/graphstore/txlog"
)

// DataFileName is the page file of a store.
const DataFileName = "data.bs"

// Store is an open store folder.
type Store struct {
	path    string
	opts    graphstore.StoreOptions
	pages   *pagestore.PageStore
	commits *commitpoint.Manager
	txlog   *txlog.Log
	stats   *txlog.StatsLog

	// writer serializes write transactions.
	writer  sync.Mutex
	current atomic.Pointer[Snapshot]
	closed  atomic.Bool
}

// Open opens the store in folder path on the OS file system.
func Open(ctx context.Context, path string, opts graphstore.StoreOptions) (*Store, error) {
	return OpenFs(ctx, afero.NewOsFs(), path, opts)
}

// Create creates a new, empty store in folder path. It fails if a store already exists there.
func Create(ctx context.Context, path string, opts graphstore.StoreOptions) (*Store, error) {
	return CreateFs(ctx, afero.NewOsFs(), path, opts)
}

// CreateFs is Create on the given file system.
func CreateFs(ctx context.Context, fsys afero.Fs, path string, opts graphstore.StoreOptions) (*Store, error) {
	if exists, _ := afero.Exists(fsys, filepath.Join(path, commitpoint.MasterFileName)); exists {
		return nil, graphstore.NewError(graphstore.InvalidArgument, fmt.Errorf("a store already exists in %s", path), path)
	}
	opts.CreateIfMissing = true
	return OpenFs(ctx, fsys, path, opts)
}

// OpenFs opens the store in folder path on fsys. The page file, master file and logs are
// opened concurrently; the latest commit point must be readable.
func OpenFs(ctx context.Context, fsys afero.Fs, path string, opts graphstore.StoreOptions) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	capacity, err := opts.PageCacheCapacity()
	if err != nil {
		return nil, err
	}
	fio := fs.NewFileIO(fsys)
	if opts.CreateIfMissing {
		if err := fio.MkdirAll(ctx, path); err != nil {
			return nil, err
		}
	}

	s := &Store{path: path, opts: opts}
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		s.pages, err = pagestore.Open(ectx, fio, filepath.Join(path, DataFileName), pagestore.Options{
			PageSize: opts.PageSize,
			Cache: cache.Options{
				Capacity:      capacity,
				HighWatermark: int(float64(capacity) * opts.CacheHighWatermark),
				LowWatermark:  int(float64(capacity) * opts.CacheLowWatermark),
			},
			DirectIO:        opts.DirectIO,
			SyncWrites:      opts.SyncWrites,
			CreateIfMissing: opts.CreateIfMissing,
		})
		return err
	})
	eg.Go(func() error {
		var err error
		s.commits, err = commitpoint.Open(ectx, fio, filepath.Join(path, commitpoint.MasterFileName), commitpoint.Options{
			CacheSize:       opts.CommitPointCacheSize,
			SyncWrites:      opts.SyncWrites,
			CreateIfMissing: opts.CreateIfMissing,
		})
		return err
	})
	logOpts := txlog.Options{
		Compression:     opts.PayloadCompression,
		SyncWrites:      opts.SyncWrites,
		CreateIfMissing: opts.CreateIfMissing,
	}
	eg.Go(func() error {
		var err error
		s.txlog, err = txlog.Open(ectx, fio, path, logOpts)
		return err
	})
	eg.Go(func() error {
		var err error
		s.stats, err = txlog.OpenStats(ectx, fio, path, logOpts)
		return err
	})
	if err := eg.Wait(); err != nil {
		s.closeFiles()
		return nil, errors.WithMessagef(err, "open store %s", path)
	}

	snap := emptySnapshot(s)
	cp, ok, err := s.commits.Latest(ctx)
	if err == nil && ok {
		snap, err = s.loadSnapshot(ctx, cp)
	}
	if err != nil {
		s.closeFiles()
		return nil, errors.WithMessagef(err, "open store %s", path)
	}
	s.current.Store(snap)
	log.Info("store opened", "path", path, "commit", cp.CommitNumber, "graphs", snap.graphs.Count())
	return s, nil
}

// Path returns the store folder.
func (s *Store) Path() string {
	return s.path
}

// Options returns the options the store was opened with.
func (s *Store) Options() graphstore.StoreOptions {
	return s.opts
}

// Snapshot returns the most recently published snapshot.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}
	return s.current.Load(), nil
}

// SnapshotAt returns the snapshot of a historical commit point, for time-travel reads.
func (s *Store) SnapshotAt(ctx context.Context, cp commitpoint.CommitPoint) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}
	if cur := s.current.Load(); cur.hasCommit && cur.commit.CommitNumber == cp.CommitNumber {
		return cur, nil
	}
	return s.loadSnapshot(ctx, cp)
}

// CommitPoints returns every readable commit point, newest first.
func (s *Store) CommitPoints(ctx context.Context) ([]commitpoint.CommitPoint, error) {
	return s.commits.Enumerate(ctx)
}

// CommitPointsBetween returns the commit points committed within [start, end], newest first.
func (s *Store) CommitPointsBetween(ctx context.Context, start, end time.Time) ([]commitpoint.CommitPoint, error) {
	return s.commits.Between(ctx, start, end)
}

// TransactionLog returns the transaction log of the store.
func (s *Store) TransactionLog() *txlog.Log {
	return s.txlog
}

// StatsLog returns the statistics log of the store.
func (s *Store) StatsLog() *txlog.StatsLog {
	return s.stats
}

// RecordStatistics appends st to the statistics log, attributed to the latest commit when
// st carries no commit number.
func (s *Store) RecordStatistics(ctx context.Context, st txlog.Statistics) error {
	if s.closed.Load() {
		return errStoreClosed
	}
	if st.CommitNumber == 0 {
		if cp, ok := s.current.Load().CommitPoint(); ok {
			st.CommitNumber = cp.CommitNumber
		}
	}
	return s.stats.Append(ctx, st)
}

// PageStats describes the page file and cache.
func (s *Store) PageStats() pagestore.Stats {
	return s.pages.Stats()
}

// Close closes every file of the store. A write transaction still in progress fails.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.closeFiles()
	log.Info("store closed", "path", s.path)
	return err
}

func (s *Store) closeFiles() error {
	var lastErr error
	closers := []interface{ Close() error }{}
	if s.pages != nil {
		closers = append(closers, s.pages)
	}
	if s.commits != nil {
		closers = append(closers, s.commits)
	}
	if s.txlog != nil {
		closers = append(closers, s.txlog)
	}
	if s.stats != nil {
		closers = append(closers, s.stats)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var errStoreClosed = graphstore.NewError(graphstore.StoreClosed, fmt.Errorf("store is closed"), nil)
