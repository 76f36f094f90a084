package txlog

import (
	"fmt"
	"time"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/encoding"
)

// TransactionType tags the kind of job a transaction ran.
type TransactionType uint32

const (
	UpdateTransaction TransactionType = iota
	GuardedUpdateTransaction
	ImportTransaction
	SparqlUpdateTransaction
	SnapshotTransaction
)

func (t TransactionType) String() string {
	switch t {
	case UpdateTransaction:
		return "update"
	case GuardedUpdateTransaction:
		return "guarded-update"
	case ImportTransaction:
		return "import"
	case SparqlUpdateTransaction:
		return "sparql-update"
	case SnapshotTransaction:
		return "snapshot"
	}
	return fmt.Sprintf("transaction-type(%d)", uint32(t))
}

// Payload is the variant part of a Job. The set of variants is closed.
type Payload interface {
	TransactionType() TransactionType
	appendTo(b []byte) []byte
}

// Update inserts and deletes triple patterns.
type Update struct {
	InsertData string
	DeleteData string
}

// GuardedUpdate is an Update that only applies when every precondition pattern matches.
type GuardedUpdate struct {
	Preconditions string
	InsertData    string
	DeleteData    string
}

// Import loads the content of a file into DefaultGraphURI.
type Import struct {
	ContentFileName string
	DefaultGraphURI string
}

// SparqlUpdate runs a SPARQL update expression.
type SparqlUpdate struct {
	Expression string
}

// Snapshot copies the state at CommitNumber into TargetStore.
type Snapshot struct {
	TargetStore  string
	CommitNumber uint64
}

func (Update) TransactionType() TransactionType        { return UpdateTransaction }
func (GuardedUpdate) TransactionType() TransactionType { return GuardedUpdateTransaction }
func (Import) TransactionType() TransactionType        { return ImportTransaction }
func (SparqlUpdate) TransactionType() TransactionType  { return SparqlUpdateTransaction }
func (Snapshot) TransactionType() TransactionType      { return SnapshotTransaction }

func (p Update) appendTo(b []byte) []byte {
	b = encoding.AppendString(b, p.InsertData)
	return encoding.AppendString(b, p.DeleteData)
}

func (p GuardedUpdate) appendTo(b []byte) []byte {
	b = encoding.AppendString(b, p.Preconditions)
	b = encoding.AppendString(b, p.InsertData)
	return encoding.AppendString(b, p.DeleteData)
}

func (p Import) appendTo(b []byte) []byte {
	b = encoding.AppendString(b, p.ContentFileName)
	return encoding.AppendString(b, p.DefaultGraphURI)
}

func (p SparqlUpdate) appendTo(b []byte) []byte {
	return encoding.AppendString(b, p.Expression)
}

func (p Snapshot) appendTo(b []byte) []byte {
	b = encoding.AppendString(b, p.TargetStore)
	return encoding.AppendVarint(b, p.CommitNumber)
}

// Job is one unit of write work recorded in the transaction log.
type Job struct {
	ID        graphstore.UUID
	StartTime time.Time
	Payload   Payload
}

// NewJob returns a job with a fresh id started now.
func NewJob(p Payload) Job {
	return Job{ID: graphstore.NewUUID(), StartTime: graphstore.Now(), Payload: p}
}

// Type returns the transaction type of the job's payload.
func (j Job) Type() TransactionType {
	if j.Payload == nil {
		return UpdateTransaction
	}
	return j.Payload.TransactionType()
}

// MarshalJob encodes a job as: varint type tag, 16 id bytes, varint start ticks, then the
// variant's fields in declaration order.
func MarshalJob(j Job) []byte {
	b := encoding.AppendVarint(nil, uint64(j.Type()))
	b = append(b, j.ID[:]...)
	b = encoding.AppendVarint(b, uint64(encoding.TimeToTicks(j.StartTime)))
	if j.Payload == nil {
		return Update{}.appendTo(b)
	}
	return j.Payload.appendTo(b)
}

// UnmarshalJob decodes a job written by MarshalJob.
func UnmarshalJob(b []byte) (Job, error) {
	d := decoder{b: b}
	tag := d.varint()
	var j Job
	copy(j.ID[:], d.bytes(len(j.ID)))
	j.StartTime = encoding.TicksToTime(int64(d.varint()))
	switch TransactionType(tag) {
	case UpdateTransaction:
		j.Payload = Update{InsertData: d.str(), DeleteData: d.str()}
	case GuardedUpdateTransaction:
		j.Payload = GuardedUpdate{Preconditions: d.str(), InsertData: d.str(), DeleteData: d.str()}
	case ImportTransaction:
		j.Payload = Import{ContentFileName: d.str(), DefaultGraphURI: d.str()}
	case SparqlUpdateTransaction:
		j.Payload = SparqlUpdate{Expression: d.str()}
	case SnapshotTransaction:
		j.Payload = Snapshot{TargetStore: d.str(), CommitNumber: d.varint()}
	default:
		return Job{}, graphstore.NewError(graphstore.InvalidTransactionInfo,
			fmt.Errorf("unknown transaction type %d", tag), tag)
	}
	if d.err != nil {
		return Job{}, graphstore.NewError(graphstore.InvalidTransactionInfo, d.err, TransactionType(tag))
	}
	return j, nil
}

// decoder consumes fields from b and latches the first error.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) varint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := encoding.ConsumeVarint(d.b)
	if err != nil {
		d.err = err
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	s, n, err := encoding.ConsumeString(d.b)
	if err != nil {
		d.err = err
		return ""
	}
	d.b = d.b[n:]
	return s
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.err = encoding.ErrTruncated
		return nil
	}
	v := d.b[:n]
	d.b = d.b[n:]
	return v
}
