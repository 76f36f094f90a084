package txlog

import (
	"fmt"
	"io"
	log "log/slog"
	"sync"

	"github.com/sharedcode/graphstore"
	"github.com/sharedcode/graphstore/fs"
	"github.com/sharedcode/graphstore/metrics"
)

// filePair is an append-only data file plus a file of fixed-size header records that index
// it. One writer appends; readers may run concurrently.
type filePair struct {
	locker     sync.Mutex
	data       *fs.File
	headers    *fs.File
	headerSize int64
	sync       bool
	dataLen    int64
	records    int64
}

func openFilePair(fio *fs.FileIO, dataPath, headerPath string, headerSize int, create, syncWrites bool) (*filePair, error) {
	data, err := fio.OpenFile(dataPath, create, false)
	if err != nil {
		return nil, err
	}
	headers, err := fio.OpenFile(headerPath, create, false)
	if err != nil {
		data.Close()
		return nil, err
	}
	fp := &filePair{
		data:       data,
		headers:    headers,
		headerSize: int64(headerSize),
		sync:       syncWrites,
	}
	if fp.dataLen, err = data.Size(); err != nil {
		fp.close()
		return nil, graphstore.NewError(graphstore.FileIOError, err, dataPath)
	}
	size, err := headers.Size()
	if err != nil {
		fp.close()
		return nil, graphstore.NewError(graphstore.FileIOError, err, headerPath)
	}
	fp.records = size / fp.headerSize
	if torn := size % fp.headerSize; torn != 0 {
		log.Warn("header file ends with a partial record, ignoring it", "file", headerPath, "bytes", torn)
	}
	return fp, nil
}

// appendData appends payload at the end of the data file and returns its start offset.
func (fp *filePair) appendData(payload []byte) (int64, error) {
	fp.locker.Lock()
	defer fp.locker.Unlock()
	if fp.data == nil {
		return 0, errClosed
	}
	start := fp.dataLen
	if n, err := fp.data.WriteAt(payload, start); err != nil || n != len(payload) {
		if err == nil {
			err = io.ErrShortWrite
		}
		return 0, graphstore.NewError(graphstore.StoreWriteError, err, fp.data.Name())
	}
	if fp.sync {
		if err := fp.data.Sync(); err != nil {
			return 0, graphstore.NewError(graphstore.StoreWriteError, err, fp.data.Name())
		}
	}
	fp.dataLen += int64(len(payload))
	metrics.TransactionLogBytesTotal.Add(float64(len(payload)))
	return start, nil
}

// appendHeader appends the header record built by build, which receives the current data
// file length.
func (fp *filePair) appendHeader(build func(dataLen int64) []byte) error {
	fp.locker.Lock()
	defer fp.locker.Unlock()
	if fp.headers == nil {
		return errClosed
	}
	record := build(fp.dataLen)
	if n, err := fp.headers.WriteAt(record, fp.records*fp.headerSize); err != nil || n != len(record) {
		if err == nil {
			err = io.ErrShortWrite
		}
		return graphstore.NewError(graphstore.StoreWriteError, err, fp.headers.Name())
	}
	if fp.sync {
		if err := fp.headers.Sync(); err != nil {
			return graphstore.NewError(graphstore.StoreWriteError, err, fp.headers.Name())
		}
	}
	fp.records++
	return nil
}

// count returns the number of complete header records.
func (fp *filePair) count() int64 {
	fp.locker.Lock()
	defer fp.locker.Unlock()
	return fp.records
}

// readHeader reads the n-th header record counted from the end, 1 being the newest.
func (fp *filePair) readHeader(n int64) ([]byte, bool, error) {
	fp.locker.Lock()
	records, f := fp.records, fp.headers
	fp.locker.Unlock()
	if f == nil {
		return nil, false, errClosed
	}
	if n < 1 || n > records {
		return nil, false, nil
	}
	record := make([]byte, fp.headerSize)
	if read, err := f.ReadAt(record, (records-n)*fp.headerSize); read != len(record) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, false, graphstore.NewError(graphstore.FileIOError, err, n)
	}
	return record, true, nil
}

func (fp *filePair) readData(start, length int64) ([]byte, error) {
	fp.locker.Lock()
	f, end := fp.data, fp.dataLen
	fp.locker.Unlock()
	if f == nil {
		return nil, errClosed
	}
	if start < 0 || length < 0 || start+length > end {
		return nil, graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("data range [%d, %d) lies outside the data file of %d bytes", start, start+length, end), nil)
	}
	b := make([]byte, length)
	if n, err := f.ReadAt(b, start); n != len(b) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, graphstore.NewError(graphstore.FileIOError, err, start)
	}
	return b, nil
}

func (fp *filePair) close() error {
	fp.locker.Lock()
	defer fp.locker.Unlock()
	var lastErr error
	for _, f := range []**fs.File{&fp.data, &fp.headers} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil {
			lastErr = err
		}
		*f = nil
	}
	return lastErr
}

var errClosed = graphstore.NewError(graphstore.StoreClosed, fmt.Errorf("log is closed"), nil)
