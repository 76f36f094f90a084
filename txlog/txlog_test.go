package txlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/fs"
	"github.com/sharedcode/graphstore/metrics"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// withClock pins graphstore.Now to base and returns a function advancing it.
func withClock(t *testing.T) func(time.Duration) {
	t.Helper()
	prev := graphstore.Now
	now := base
	graphstore.Now = func() time.Time { return now }
	t.Cleanup(func() { graphstore.Now = prev })
	return func(d time.Duration) { now = now.Add(d) }
}

func openLog(t *testing.T, mem afero.Fs, compression string) *Log {
	t.Helper()
	l, err := Open(context.Background(), fs.NewFileIO(mem), "/store", Options{
		Compression:     compression,
		CreateIfMissing: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestJobRoundTrip(t *testing.T) {
	payloads := []Payload{
		Update{InsertData: "<a> <b> <c> .", DeleteData: ""},
		GuardedUpdate{Preconditions: "<x> <y> <z> .", InsertData: "<a> <b> <c> .", DeleteData: "<d> <e> <f> ."},
		Import{ContentFileName: "dump.nt", DefaultGraphURI: "http://example.org/g"},
		SparqlUpdate{Expression: "DELETE WHERE { ?s ?p ?o }"},
		Snapshot{TargetStore: "backup", CommitNumber: 1 << 40},
	}
	for _, p := range payloads {
		t.Run(p.TransactionType().String(), func(t *testing.T) {
			j := Job{ID: graphstore.NewUUID(), StartTime: base, Payload: p}
			got, err := UnmarshalJob(MarshalJob(j))
			require.NoError(t, err)
			assert.Equal(t, j.ID, got.ID)
			assert.True(t, base.Equal(got.StartTime))
			assert.Equal(t, p, got.Payload)
		})
	}
}

func TestUnmarshalJobRejectsGarbage(t *testing.T) {
	_, err := UnmarshalJob([]byte{0x7f})
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidTransactionInfo))

	b := MarshalJob(NewJob(Import{ContentFileName: "a.nt", DefaultGraphURI: "http://g"}))
	_, err = UnmarshalJob(b[:len(b)-3])
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidTransactionInfo))
}

func TestTransactionOrdering(t *testing.T) {
	ctx := context.Background()
	advance := withClock(t)
	l := openLog(t, afero.NewMemMapFs(), graphstore.CompressionNone)

	var ids []graphstore.UUID
	for i := 0; i < 5; i++ {
		advance(time.Minute)
		p, err := l.LogStartTransaction(ctx, NewJob(Update{InsertData: "<s> <p> <o> ."}))
		require.NoError(t, err)
		ids = append(ids, p.Job.ID)
		require.NoError(t, l.LogEndSuccessfulTransaction(ctx, p))
	}
	assert.Equal(t, int64(5), l.Count())

	for n := int64(1); n <= 5; n++ {
		info, ok, err := l.ReadTransactionInfo(ctx, n)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ids[5-n], info.JobID, "record %d from the end", n)
		assert.Equal(t, CompletedOk, info.Status)
		assert.Equal(t, UpdateTransaction, info.Type)
		assert.Equal(t, int32(CurrentVersion), info.VersionNumber)
	}
	for _, n := range []int64{0, -1, 6} {
		_, ok, err := l.ReadTransactionInfo(ctx, n)
		require.NoError(t, err)
		assert.False(t, ok, "n=%d", n)
	}

	newest, _, _ := l.ReadTransactionInfo(ctx, 1)
	older, _, _ := l.ReadTransactionInfo(ctx, 2)
	assert.True(t, newest.StartTime.After(older.StartTime))
	assert.Equal(t, older.DataStartPosition+older.DataLength, newest.DataStartPosition)
}

func TestFailedTransactionIsLogged(t *testing.T) {
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues(metrics.Fail))
	l := openLog(t, afero.NewMemMapFs(), graphstore.CompressionNone)

	p, err := l.LogStartTransaction(ctx, NewJob(SparqlUpdate{Expression: "CLEAR ALL"}))
	require.NoError(t, err)
	require.NoError(t, l.LogEndFailedTransaction(ctx, p))

	info, ok, err := l.ReadTransactionInfo(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Failed, info.Status)
	assert.Equal(t, SparqlUpdateTransaction, info.Type)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues(metrics.Fail)))

	j, err := l.ReadJob(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, SparqlUpdate{Expression: "CLEAR ALL"}, j.Payload)
}

func TestReadJobCompressed(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	l := openLog(t, mem, graphstore.CompressionZstd)

	insert := ""
	for i := 0; i < 200; i++ {
		insert += "<http://example.org/s> <http://example.org/p> \"o\" .\n"
	}
	p, err := l.LogStartTransaction(ctx, NewJob(Update{InsertData: insert}))
	require.NoError(t, err)
	require.NoError(t, l.LogEndSuccessfulTransaction(ctx, p))
	require.NoError(t, l.Close())

	// A log reopened without compression still reads compressed payloads.
	l = openLog(t, mem, graphstore.CompressionNone)
	info, ok, err := l.ReadTransactionInfo(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, info.DataLength, uint64(len(insert)))

	j, err := l.ReadJob(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, p.Job.ID, j.ID)
	assert.Equal(t, insert, j.Payload.(Update).InsertData)
}

func TestGetTransactionList(t *testing.T) {
	ctx := context.Background()
	advance := withClock(t)
	l := openLog(t, afero.NewMemMapFs(), graphstore.CompressionNone)

	for i := 0; i < 6; i++ {
		p, err := l.LogStartTransaction(ctx, NewJob(Update{}))
		require.NoError(t, err)
		require.NoError(t, l.LogEndSuccessfulTransaction(ctx, p))
		advance(time.Hour)
	}
	// Now is 6h after the first job; jobs started at 0h..5h.
	all, err := l.GetTransactionList(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	bounded, err := l.GetTransactionList(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, bounded, 2)
	assert.Equal(t, all[0].JobID, bounded[0].JobID)

	recent, err := l.GetTransactionList(ctx, 10, 3*time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.True(t, recent[2].StartTime.Equal(base.Add(3*time.Hour)))
}

func TestUnknownHeaderVersion(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	l := openLog(t, mem, graphstore.CompressionNone)
	p, err := l.LogStartTransaction(ctx, NewJob(Update{}))
	require.NoError(t, err)
	require.NoError(t, l.LogEndSuccessfulTransaction(ctx, p))

	f, err := mem.OpenFile("/store/"+HeaderFileName, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{9, 0, 0, 0}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, _, err = l.ReadTransactionInfo(ctx, 1)
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidTransactionInfo))
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	l := openLog(t, mem, graphstore.CompressionNone)
	for i := 0; i < 3; i++ {
		p, err := l.LogStartTransaction(ctx, NewJob(Import{ContentFileName: "f.nt"}))
		require.NoError(t, err)
		require.NoError(t, l.LogEndSuccessfulTransaction(ctx, p))
	}
	require.NoError(t, l.Close())
	_, err := l.LogStartTransaction(ctx, NewJob(Update{}))
	assert.True(t, graphstore.IsErrorCode(err, graphstore.StoreClosed))

	l = openLog(t, mem, graphstore.CompressionNone)
	assert.Equal(t, int64(3), l.Count())
	p, err := l.LogStartTransaction(ctx, NewJob(Update{}))
	require.NoError(t, err)
	require.NoError(t, l.LogEndSuccessfulTransaction(ctx, p))

	info, _, err := l.ReadTransactionInfo(ctx, 1)
	require.NoError(t, err)
	prev, _, err := l.ReadTransactionInfo(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, prev.DataStartPosition+prev.DataLength, info.DataStartPosition)
}

func TestStatsLog(t *testing.T) {
	ctx := context.Background()
	advance := withClock(t)
	mem := afero.NewMemMapFs()
	sl, err := OpenStats(ctx, fs.NewFileIO(mem), "/store", Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer sl.Close()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, sl.Append(ctx, Statistics{
			CommitNumber: i,
			TripleCount:  i * 100,
			PredicateTripleCounts: map[string]uint64{
				"http://xmlns.com/foaf/0.1/name":  i * 60,
				"http://xmlns.com/foaf/0.1/knows": i * 40,
			},
		}))
		advance(time.Hour)
	}
	assert.Equal(t, int64(3), sl.Count())

	s, ok, err := sl.Read(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), s.CommitNumber)
	assert.Equal(t, uint64(300), s.TripleCount)
	assert.Equal(t, uint64(180), s.PredicateTripleCounts["http://xmlns.com/foaf/0.1/name"])
	assert.True(t, s.CommitTime.Equal(base.Add(2*time.Hour)))

	_, ok, err = sl.Read(ctx, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := sl.List(ctx, 0, 90*time.Minute)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(3), list[0].CommitNumber)

	f, err := mem.OpenFile("/store/"+StatsHeaderFileName, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{7}, StatsHeaderSize*2)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, _, err = sl.Read(ctx, 1)
	assert.True(t, graphstore.IsErrorCode(err, graphstore.InvalidStatisticsRecord))
}
