// Package commitpoint persists the commit points of a store: an append-only master file of
// fixed-size, dual-checksummed records identifying each durable snapshot.
package commitpoint

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/fs"
	"github.com/sharedcode/graphstore/metrics"
)

// MasterFileName is the file name of the commit point master file in a store folder.
const MasterFileName = "master.bs"

// Options configures a Manager.
type Options struct {
	// CacheSize bounds the number of historical commit points kept decoded in memory.
	CacheSize int
	// SyncWrites fsyncs the master file after each append.
	SyncWrites bool
	// CreateIfMissing creates the master file when it does not exist.
	CreateIfMissing bool
	// FirstCommitNumber is the commit number of the first commit of a new store. Zero means 1.
	FirstCommitNumber uint64
}

// Manager appends and reads the commit points of one master file. Appends come from the
// single store writer; reads may run concurrently.
type Manager struct {
	file    *fs.File
	history *lru.Cache
	first   uint64

	locker sync.RWMutex
	sync   bool
	// records is the number of complete records in the file.
	records int64
	next    uint64
	latest  *CommitPoint
}

// Open opens the master file at path and loads its newest record. A corrupt newest record
// fails the open: there is no implicit fallback to an older snapshot. A trailing partial
// record left by an interrupted append is ignored and overwritten by the next Append.
func Open(ctx context.Context, fio *fs.FileIO, path string, opts Options) (*Manager, error) {
	f, err := fio.OpenFile(path, opts.CreateIfMissing, false)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, graphstore.NewError(graphstore.FileIOError, err, path)
	}
	history, err := lru.New(max(opts.CacheSize, 1))
	if err != nil {
		f.Close()
		return nil, err
	}
	m := &Manager{
		file:    f,
		history: history,
		first:   max(opts.FirstCommitNumber, 1),
		sync:    opts.SyncWrites,
		records: size / RecordSize,
	}
	if torn := size % RecordSize; torn != 0 {
		log.Warn("master file ends with a partial commit point, ignoring it", "file", path, "bytes", torn)
	}
	m.next = m.first
	if m.records > 0 {
		cp, err := m.readRecord(m.records - 1)
		if err != nil {
			f.Close()
			return nil, errors.WithMessagef(err, "load latest commit point of %s", path)
		}
		m.setLatest(cp)
		// Every appended record consumed a number, including any that are no longer readable.
		m.next = max(cp.NextCommitNumber(), m.first+uint64(m.records))
	}
	return m, nil
}

// NextCommitNumber returns the number the next appended commit point must carry at least.
func (m *Manager) NextCommitNumber() uint64 {
	m.locker.RLock()
	defer m.locker.RUnlock()
	return m.next
}

// New builds the next commit point for a snapshot rooted at locationOffset.
func (m *Manager) New(locationOffset uint64, jobID graphstore.UUID) CommitPoint {
	return CommitPoint{
		VersionNumber:  CurrentVersion,
		CommitNumber:   m.NextCommitNumber(),
		LocationOffset: locationOffset,
		CommitTime:     graphstore.Now(),
		JobID:          jobID,
	}
}

// Append writes cp after the newest record in a single write and makes it the latest
// commit point. Commit numbers must increase.
func (m *Manager) Append(ctx context.Context, cp CommitPoint) error {
	m.locker.Lock()
	defer m.locker.Unlock()
	if m.file == nil {
		return graphstore.NewError(graphstore.StoreClosed, fmt.Errorf("commit point manager is closed"), nil)
	}
	if cp.CommitNumber < m.next {
		return graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("commit number %d is below the next commit number %d", cp.CommitNumber, m.next), cp.CommitNumber)
	}
	if cp.VersionNumber == 0 {
		cp.VersionNumber = CurrentVersion
	}
	record := Marshal(cp)
	if n, err := m.file.WriteAt(record, m.records*RecordSize); err != nil || n != RecordSize {
		if err == nil {
			err = io.ErrShortWrite
		}
		return graphstore.NewError(graphstore.StoreWriteError, err, cp.CommitNumber)
	}
	if m.sync {
		if err := m.file.Sync(); err != nil {
			return graphstore.NewError(graphstore.StoreWriteError, err, cp.CommitNumber)
		}
	}
	m.records++
	m.next = cp.NextCommitNumber()
	m.setLatest(cp)
	metrics.CommitsTotal.Inc()
	log.Debug("commit point appended", "commit", cp.CommitNumber, "location", cp.LocationOffset, "job", cp.JobID)
	return nil
}

// Latest returns the newest commit point, or false for a store without commits.
func (m *Manager) Latest(ctx context.Context) (CommitPoint, bool, error) {
	m.locker.RLock()
	defer m.locker.RUnlock()
	if m.latest == nil {
		return CommitPoint{}, false, nil
	}
	return *m.latest, true, nil
}

// Count returns the number of complete records in the master file.
func (m *Manager) Count() int64 {
	m.locker.RLock()
	defer m.locker.RUnlock()
	return m.records
}

// Enumerate returns every readable commit point, newest first. Corrupt historical records
// are skipped with a warning.
func (m *Manager) Enumerate(ctx context.Context) ([]CommitPoint, error) {
	return m.scan(ctx, func(CommitPoint) (bool, bool) { return true, true })
}

// Between returns the commit points committed within [start, end], newest first.
func (m *Manager) Between(ctx context.Context, start, end time.Time) ([]CommitPoint, error) {
	return m.scan(ctx, func(cp CommitPoint) (bool, bool) {
		if cp.CommitTime.Before(start) {
			return false, false
		}
		return !cp.CommitTime.After(end), true
	})
}

// Get returns the commit point with the given commit number.
func (m *Manager) Get(ctx context.Context, commitNumber uint64) (CommitPoint, bool, error) {
	if v, ok := m.history.Get(commitNumber); ok {
		return v.(CommitPoint), true, nil
	}
	m.locker.RLock()
	records := m.records
	m.locker.RUnlock()

	// Commit numbers are normally contiguous from the first one, so try the direct position.
	if commitNumber >= m.first && int64(commitNumber-m.first) < records {
		if cp, err := m.readRecord(int64(commitNumber - m.first)); err == nil && cp.CommitNumber == commitNumber {
			return cp, true, nil
		}
	}
	var found *CommitPoint
	_, err := m.scan(ctx, func(cp CommitPoint) (bool, bool) {
		if cp.CommitNumber == commitNumber {
			found = &cp
			return false, false
		}
		return false, cp.CommitNumber > commitNumber
	})
	if err != nil || found == nil {
		return CommitPoint{}, false, err
	}
	return *found, true, nil
}

// Close closes the master file.
func (m *Manager) Close() error {
	m.locker.Lock()
	defer m.locker.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// scan visits records newest first. visit reports whether to collect the record and whether
// to continue scanning.
func (m *Manager) scan(ctx context.Context, visit func(CommitPoint) (collect bool, more bool)) ([]CommitPoint, error) {
	m.locker.RLock()
	records := m.records
	m.locker.RUnlock()

	var r []CommitPoint
	for i := records - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		cp, err := m.readRecord(i)
		if err != nil {
			if graphstore.IsErrorCode(err, graphstore.InvalidCommitPoint) || graphstore.IsErrorCode(err, graphstore.UnknownVersion) {
				log.Warn("skipping unreadable commit point", "record", i, "error", err)
				continue
			}
			return r, err
		}
		collect, more := visit(cp)
		if collect {
			r = append(r, cp)
		}
		if !more {
			break
		}
	}
	return r, nil
}

func (m *Manager) readRecord(index int64) (CommitPoint, error) {
	m.locker.RLock()
	f := m.file
	m.locker.RUnlock()
	if f == nil {
		return CommitPoint{}, graphstore.NewError(graphstore.StoreClosed, fmt.Errorf("commit point manager is closed"), nil)
	}
	record := make([]byte, RecordSize)
	if n, err := f.ReadAt(record, index*RecordSize); n != RecordSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return CommitPoint{}, graphstore.NewError(graphstore.FileIOError, err, index)
	}
	cp, err := Unmarshal(record)
	if err != nil {
		return cp, err
	}
	m.history.Add(cp.CommitNumber, cp)
	return cp, nil
}

func (m *Manager) setLatest(cp CommitPoint) {
	m.latest = &cp
	m.history.Add(cp.CommitNumber, cp)
}
