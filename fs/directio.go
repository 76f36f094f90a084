package fs

import (
	"fmt"
	"io"
	"os"

	"github.com/ncw/directio"
	"github.com/spf13/afero"

	"github.com/sharedcode/graphstore"
)

// BlockSize is the alignment O_DIRECT page files require for buffers, offsets and page sizes.
const BlockSize = directio.BlockSize

// ValidateDirectIOPageSize checks that pageSize keeps every page offset block aligned.
func ValidateDirectIOPageSize(pageSize int) error {
	if pageSize%BlockSize != 0 {
		return graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("direct i/o needs a page size multiple of %d", BlockSize), pageSize)
	}
	return nil
}

func openDirect(fsys afero.Fs, name string, flag int) (*File, error) {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return nil, graphstore.NewError(graphstore.InvalidArgument,
			fmt.Errorf("direct i/o is only supported on the OS file system"), name)
	}
	f, err := directio.OpenFile(name, flag, filePermission)
	if err != nil {
		return nil, graphstore.NewError(graphstore.FileIOError, err, name)
	}
	return &File{file: f, name: name, direct: true}, nil
}

// File is a store file accessed by offset. Each ReadAt/WriteAt is one positional system
// call, so a page-sized write is never split by this layer.
type File struct {
	file   afero.File
	name   string
	direct bool
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.name
}

// ReadAt fills b from offset off. A short read at the end of the file returns io.EOF.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	if !f.direct {
		return f.file.ReadAt(b, off)
	}
	block := directio.AlignedBlock(alignedLen(len(b)))
	n, err := f.file.ReadAt(block, off)
	n = min(n, len(b))
	copy(b, block[:n])
	if err == nil && n < len(b) {
		err = io.EOF
	}
	return n, err
}

// WriteAt writes b at offset off. Direct I/O files copy b into an aligned block first.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	if !f.direct {
		return f.file.WriteAt(b, off)
	}
	block := directio.AlignedBlock(alignedLen(len(b)))
	copy(block, b)
	n, err := f.file.WriteAt(block, off)
	return min(n, len(b)), err
}

// Size returns the current file length.
func (f *File) Size() (int64, error) {
	fi, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Truncate resizes the file.
func (f *File) Truncate(size int64) error {
	return f.file.Truncate(size)
}

// Sync flushes the file to stable storage.
func (f *File) Sync() error {
	return f.file.Sync()
}

// Close closes the file handle.
func (f *File) Close() error {
	if f.file == nil {
		return os.ErrClosed
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func alignedLen(n int) int {
	if r := n % BlockSize; r != 0 {
		return n + BlockSize - r
	}
	return n
}
