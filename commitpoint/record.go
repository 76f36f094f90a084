package commitpoint

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"time"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/encoding"
)

const (
	// RecordSize is the on-disk size of one commit point: two redundant halves.
	RecordSize = 2 * halfSize
	// CurrentVersion is the record format version written by this package.
	CurrentVersion = 2

	halfSize     = 128
	payloadSize  = 112
	checksumSize = md5.Size
)

// CommitPoint identifies one durable snapshot of the store. Records are immutable once written.
type CommitPoint struct {
	VersionNumber int32
	// CommitNumber strictly increases over the life of a store.
	CommitNumber uint64
	// LocationOffset is the byte offset of the snapshot's root page in the page file.
	LocationOffset uint64
	CommitTime     time.Time
	// JobID is the write job that produced the commit.
	JobID graphstore.UUID
}

// Marshal encodes cp into a RecordSize record: the payload and its MD5 are written to both halves.
func Marshal(cp CommitPoint) []byte {
	payload := make([]byte, payloadSize)
	w := encoding.NewFixedWriter(payload)
	w.PutUint32(uint32(cp.VersionNumber))
	w.PutUint64(cp.CommitNumber)
	w.PutUint64(cp.LocationOffset)
	w.PutInt64(encoding.TimeToTicks(cp.CommitTime))
	w.PutBytes(cp.JobID[:])
	sum := md5.Sum(payload)

	record := make([]byte, RecordSize)
	for half := 0; half < 2; half++ {
		start := half * halfSize
		copy(record[start:], payload)
		copy(record[start+payloadSize:], sum[:])
	}
	return record
}

// Unmarshal decodes a record, validating the first half and falling back to the second.
// If neither checksum matches the error code is InvalidCommitPoint; a valid half with a
// version other than CurrentVersion yields UnknownVersion.
func Unmarshal(record []byte) (CommitPoint, error) {
	if len(record) != RecordSize {
		return CommitPoint{}, graphstore.NewError(graphstore.InvalidCommitPoint,
			fmt.Errorf("record is %d bytes, expected %d", len(record), RecordSize), nil)
	}
	for half := 0; half < 2; half++ {
		start := half * halfSize
		payload := record[start : start+payloadSize]
		sum := md5.Sum(payload)
		if !bytes.Equal(sum[:], record[start+payloadSize:start+halfSize]) {
			continue
		}
		return decodePayload(payload)
	}
	return CommitPoint{}, graphstore.NewError(graphstore.InvalidCommitPoint,
		fmt.Errorf("checksum mismatch in both halves"), nil)
}

func decodePayload(payload []byte) (CommitPoint, error) {
	r := encoding.NewFixedReader(payload)
	cp := CommitPoint{
		VersionNumber:  int32(r.Uint32()),
		CommitNumber:   r.Uint64(),
		LocationOffset: r.Uint64(),
		CommitTime:     encoding.TicksToTime(r.Int64()),
	}
	copy(cp.JobID[:], r.Bytes(len(cp.JobID)))
	if cp.VersionNumber != CurrentVersion {
		return CommitPoint{}, graphstore.NewError(graphstore.UnknownVersion,
			fmt.Errorf("unsupported commit point version"), cp.VersionNumber)
	}
	return cp, nil
}

// NextCommitNumber is the number the commit following cp takes.
func (cp CommitPoint) NextCommitNumber() uint64 {
	return cp.CommitNumber + 1
}
