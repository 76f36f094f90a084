package fs

import (
	"context"
	"os"

	retry "github.com/sethvargo/go-retry"
	"github.com/spf13/afero"

	"github.com/sharedcode/graphstore"
)

const (
	// folderRetries bounds folder preparation retries.
	folderRetries  = 3
	permission     = 0o755
	filePermission = 0o644
)

// FileIO performs the folder and file operations of a store on top of an afero file system.
// Production stores use the OS file system; tests swap in afero.NewMemMapFs.
type FileIO struct {
	fs afero.Fs
}

// NewFileIO returns a FileIO over fsys, or over the OS file system when fsys is nil.
func NewFileIO(fsys afero.Fs) *FileIO {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileIO{fs: fsys}
}

// Fs returns the underlying file system.
func (fio *FileIO) Fs() afero.Fs {
	return fio.fs
}

// Exists reports whether path exists.
func (fio *FileIO) Exists(path string) bool {
	ok, err := afero.Exists(fio.fs, path)
	return ok && err == nil
}

// MkdirAll creates path and its parents, retrying transient failures.
func (fio *FileIO) MkdirAll(ctx context.Context, path string) error {
	err := graphstore.Retry(ctx, folderRetries, func(context.Context) error {
		err := fio.fs.MkdirAll(path, permission)
		if graphstore.ShouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	}, nil)
	if err != nil {
		return graphstore.NewError(graphstore.FileIOError, err, path)
	}
	return nil
}

// OpenFile opens (creating it when create is true) a store file for positional reads and
// writes. directIO requests O_DIRECT and is only honored on the OS file system.
func (fio *FileIO) OpenFile(name string, create bool, directIO bool) (*File, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	if directIO {
		return openDirect(fio.fs, name, flag)
	}
	f, err := fio.fs.OpenFile(name, flag, filePermission)
	if err != nil {
		return nil, graphstore.NewError(graphstore.FileIOError, err, name)
	}
	return &File{file: f, name: name}, nil
}
