// Package txlog implements the audit logs of a store: the transaction log, which records the
// payload and outcome of every attempted write job, and the statistics log.
//
// Each log is a pair of files. The data file holds raw payloads; the header file holds
// fixed-size records in append order, so the n-th most recent record is a single seek away.
package txlog

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"
	"time"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/encoding"
	"github.com/sharedcode/graphstore/fs"
	"github.com/sharedcode/graphstore/metrics"
)

const (
	// DataFileName holds the transaction payloads.
	DataFileName = "transactions.bs"
	// HeaderFileName holds one HeaderSize record per transaction outcome.
	HeaderFileName = "transactionheaders.bs"
	// HeaderSize is the size of a transaction header record.
	HeaderSize = 52
	// CurrentVersion is the header format version written by this package.
	CurrentVersion = 1
)

// TransactionStatus is the recorded outcome of a transaction.
type TransactionStatus uint32

const (
	CompletedOk TransactionStatus = iota
	Failed
)

func (s TransactionStatus) String() string {
	switch s {
	case CompletedOk:
		return "completed-ok"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("transaction-status(%d)", uint32(s))
}

// TransactionInfo is one header record of the transaction log.
type TransactionInfo struct {
	VersionNumber     int32
	JobID             graphstore.UUID
	Status            TransactionStatus
	Type              TransactionType
	DataStartPosition uint64
	DataLength        uint64
	StartTime         time.Time
}

func marshalInfo(info TransactionInfo) []byte {
	b := make([]byte, HeaderSize)
	w := encoding.NewFixedWriter(b)
	w.PutUint32(uint32(info.VersionNumber))
	w.PutBytes(info.JobID[:])
	w.PutInt64(encoding.TimeToTicks(info.StartTime))
	w.PutUint32(uint32(info.Type))
	w.PutUint32(uint32(info.Status))
	w.PutUint64(info.DataStartPosition)
	w.PutUint64(info.DataLength)
	return b
}

func unmarshalInfo(b []byte) (TransactionInfo, error) {
	r := encoding.NewFixedReader(b)
	info := TransactionInfo{VersionNumber: int32(r.Uint32())}
	if info.VersionNumber != CurrentVersion {
		return TransactionInfo{}, graphstore.NewError(graphstore.InvalidTransactionInfo,
			fmt.Errorf("unsupported transaction header version %d", info.VersionNumber), info.VersionNumber)
	}
	copy(info.JobID[:], r.Bytes(len(info.JobID)))
	info.StartTime = encoding.TicksToTime(r.Int64())
	info.Type = TransactionType(r.Uint32())
	info.Status = TransactionStatus(r.Uint32())
	info.DataStartPosition = r.Uint64()
	info.DataLength = r.Uint64()
	return info, nil
}

// Options configures a log pair.
type Options struct {
	// Compression is graphstore.CompressionNone or graphstore.CompressionZstd.
	Compression     string
	SyncWrites      bool
	CreateIfMissing bool
}

// Log is the transaction log of one store.
type Log struct {
	files       *filePair
	compression string
}

// PendingTransaction is a started transaction whose outcome is not logged yet.
type PendingTransaction struct {
	Job   Job
	start int64
}

// Open opens the transaction log files in dir.
func Open(ctx context.Context, fio *fs.FileIO, dir string, opts Options) (*Log, error) {
	files, err := openFilePair(fio, filepath.Join(dir, DataFileName), filepath.Join(dir, HeaderFileName),
		HeaderSize, opts.CreateIfMissing, opts.SyncWrites)
	if err != nil {
		return nil, err
	}
	return &Log{files: files, compression: opts.Compression}, nil
}

// LogStartTransaction reserves the current end of the data file for job and appends the job's
// payload there. It must run before the job mutates anything.
func (l *Log) LogStartTransaction(ctx context.Context, job Job) (*PendingTransaction, error) {
	if job.ID.IsNil() {
		job.ID = graphstore.NewUUID()
	}
	if job.StartTime.IsZero() {
		job.StartTime = graphstore.Now()
	}
	payload, err := frame(l.compression, MarshalJob(job))
	if err != nil {
		return nil, err
	}
	start, err := l.files.appendData(payload)
	if err != nil {
		return nil, err
	}
	log.Debug("transaction started", "job", job.ID, "type", job.Type(), "start", start)
	return &PendingTransaction{Job: job, start: start}, nil
}

// LogEndSuccessfulTransaction appends a CompletedOk header for p.
func (l *Log) LogEndSuccessfulTransaction(ctx context.Context, p *PendingTransaction) error {
	return l.logEnd(p, CompletedOk)
}

// LogEndFailedTransaction appends a Failed header for p.
func (l *Log) LogEndFailedTransaction(ctx context.Context, p *PendingTransaction) error {
	return l.logEnd(p, Failed)
}

func (l *Log) logEnd(p *PendingTransaction, status TransactionStatus) error {
	err := l.files.appendHeader(func(dataLen int64) []byte {
		return marshalInfo(TransactionInfo{
			VersionNumber:     CurrentVersion,
			JobID:             p.Job.ID,
			Status:            status,
			Type:              p.Job.Type(),
			DataStartPosition: uint64(p.start),
			DataLength:        uint64(dataLen - p.start),
			StartTime:         p.Job.StartTime,
		})
	})
	if err != nil {
		return err
	}
	label := metrics.Ok
	if status == Failed {
		label = metrics.Fail
	}
	metrics.TransactionsTotal.WithLabelValues(label).Inc()
	return nil
}

// Count returns the number of logged transaction outcomes.
func (l *Log) Count() int64 {
	return l.files.count()
}

// ReadTransactionInfo returns the n-th most recent transaction header, 1 being the newest.
// It returns false when n is below 1 or beyond the oldest record.
func (l *Log) ReadTransactionInfo(ctx context.Context, n int64) (TransactionInfo, bool, error) {
	b, ok, err := l.files.readHeader(n)
	if err != nil || !ok {
		return TransactionInfo{}, false, err
	}
	info, err := unmarshalInfo(b)
	if err != nil {
		return TransactionInfo{}, false, err
	}
	return info, true, nil
}

// GetTransactionList returns up to maxCount of the most recent transactions, newest first,
// stopping at the first one started before Now()-maxAge. A non-positive maxCount or maxAge
// removes that bound.
func (l *Log) GetTransactionList(ctx context.Context, maxCount int, maxAge time.Duration) ([]TransactionInfo, error) {
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = graphstore.Now().Add(-maxAge)
	}
	var r []TransactionInfo
	for n := int64(1); maxCount <= 0 || len(r) < maxCount; n++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		info, ok, err := l.ReadTransactionInfo(ctx, n)
		if err != nil {
			return r, err
		}
		if !ok || (maxAge > 0 && info.StartTime.Before(cutoff)) {
			break
		}
		r = append(r, info)
	}
	return r, nil
}

// ReadJob reads back the job payload a header points at.
func (l *Log) ReadJob(ctx context.Context, info TransactionInfo) (Job, error) {
	b, err := l.files.readData(int64(info.DataStartPosition), int64(info.DataLength))
	if err != nil {
		return Job{}, err
	}
	payload, err := unframe(b)
	if err != nil {
		return Job{}, graphstore.NewError(graphstore.InvalidTransactionInfo, err, info.JobID)
	}
	return UnmarshalJob(payload)
}

// Close closes both files of the log.
func (l *Log) Close() error {
	return l.files.close()
}
