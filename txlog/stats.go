package txlog

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/encoding"
	"github.com/sharedcode/graphstore/fs"
)

const (
	StatsDataFileName   = "stats.bs"
	StatsHeaderFileName = "statsheaders.bs"
	// StatsHeaderSize is the size of a statistics header record.
	StatsHeaderSize = 36
	// StatsVersion is the statistics header format version written by this package.
	StatsVersion = 1
)

// Statistics summarizes the content of a store at one commit.
type Statistics struct {
	CommitNumber uint64
	CommitTime   time.Time
	TripleCount  uint64
	// PredicateTripleCounts maps predicate URIs to the number of triples using them.
	PredicateTripleCounts map[string]uint64
}

// StatsLog is the statistics log of one store.
type StatsLog struct {
	files *filePair
}

// OpenStats opens the statistics log files in dir.
func OpenStats(ctx context.Context, fio *fs.FileIO, dir string, opts Options) (*StatsLog, error) {
	files, err := openFilePair(fio, filepath.Join(dir, StatsDataFileName), filepath.Join(dir, StatsHeaderFileName),
		StatsHeaderSize, opts.CreateIfMissing, opts.SyncWrites)
	if err != nil {
		return nil, err
	}
	return &StatsLog{files: files}, nil
}

// Append records s. Predicates are written in sorted order.
func (sl *StatsLog) Append(ctx context.Context, s Statistics) error {
	if s.CommitTime.IsZero() {
		s.CommitTime = graphstore.Now()
	}
	payload := encoding.AppendVarint(nil, s.TripleCount)
	payload = encoding.AppendVarint(payload, uint64(len(s.PredicateTripleCounts)))
	predicates := make([]string, 0, len(s.PredicateTripleCounts))
	for p := range s.PredicateTripleCounts {
		predicates = append(predicates, p)
	}
	sort.Strings(predicates)
	for _, p := range predicates {
		payload = encoding.AppendString(payload, p)
		payload = encoding.AppendVarint(payload, s.PredicateTripleCounts[p])
	}
	start, err := sl.files.appendData(payload)
	if err != nil {
		return err
	}
	return sl.files.appendHeader(func(dataLen int64) []byte {
		b := make([]byte, StatsHeaderSize)
		w := encoding.NewFixedWriter(b)
		w.PutUint32(StatsVersion)
		w.PutUint64(s.CommitNumber)
		w.PutInt64(encoding.TimeToTicks(s.CommitTime))
		w.PutUint64(uint64(start))
		w.PutUint64(uint64(dataLen - start))
		return b
	})
}

// Count returns the number of statistics records.
func (sl *StatsLog) Count() int64 {
	return sl.files.count()
}

// Read returns the n-th most recent statistics record, 1 being the newest.
func (sl *StatsLog) Read(ctx context.Context, n int64) (Statistics, bool, error) {
	b, ok, err := sl.files.readHeader(n)
	if err != nil || !ok {
		return Statistics{}, false, err
	}
	r := encoding.NewFixedReader(b)
	if v := r.Uint32(); v != StatsVersion {
		return Statistics{}, false, graphstore.NewError(graphstore.InvalidStatisticsRecord,
			fmt.Errorf("unsupported statistics header version %d", v), v)
	}
	s := Statistics{
		CommitNumber: r.Uint64(),
		CommitTime:   encoding.TicksToTime(r.Int64()),
	}
	start, length := r.Uint64(), r.Uint64()
	payload, err := sl.files.readData(int64(start), int64(length))
	if err != nil {
		return Statistics{}, false, err
	}
	d := decoder{b: payload}
	s.TripleCount = d.varint()
	count := d.varint()
	// Each predicate takes at least two bytes, which bounds a corrupt count.
	if count > uint64(len(d.b)) {
		return Statistics{}, false, graphstore.NewError(graphstore.InvalidStatisticsRecord,
			fmt.Errorf("predicate count %d exceeds payload", count), s.CommitNumber)
	}
	s.PredicateTripleCounts = make(map[string]uint64, count)
	for i := uint64(0); i < count && d.err == nil; i++ {
		p := d.str()
		s.PredicateTripleCounts[p] = d.varint()
	}
	if d.err != nil {
		return Statistics{}, false, graphstore.NewError(graphstore.InvalidStatisticsRecord, d.err, s.CommitNumber)
	}
	return s, true, nil
}

// List returns up to maxCount of the most recent statistics, newest first, stopping at the
// first record committed before Now()-maxAge. Non-positive bounds are ignored.
func (sl *StatsLog) List(ctx context.Context, maxCount int, maxAge time.Duration) ([]Statistics, error) {
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = graphstore.Now().Add(-maxAge)
	}
	var r []Statistics
	for n := int64(1); maxCount <= 0 || len(r) < maxCount; n++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		s, ok, err := sl.Read(ctx, n)
		if err != nil {
			return r, err
		}
		if !ok || (maxAge > 0 && s.CommitTime.Before(cutoff)) {
			break
		}
		r = append(r, s)
	}
	return r, nil
}

// Close closes both files of the log.
func (sl *StatsLog) Close() error {
	return sl.files.close()
}
