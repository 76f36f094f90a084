package store

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/sharedcode/graphstore"
)

// Registry hands out one open Store per folder. It is owned by the caller; there is no
// process wide instance.
type Registry struct {
	opts   graphstore.StoreOptions
	fsys   afero.Fs
	locker sync.Mutex
	stores map[string]*Store
}

// NewRegistry returns a registry opening stores on the OS file system with opts.
func NewRegistry(opts graphstore.StoreOptions) *Registry {
	return NewRegistryFs(afero.NewOsFs(), opts)
}

// NewRegistryFs returns a registry opening stores on fsys with opts.
func NewRegistryFs(fsys afero.Fs, opts graphstore.StoreOptions) *Registry {
	return &Registry{opts: opts, fsys: fsys, stores: make(map[string]*Store)}
}

// Open returns the open store for path, opening it on first use. Stores closed by their
// user are reopened.
func (r *Registry) Open(ctx context.Context, path string) (*Store, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, graphstore.NewError(graphstore.InvalidArgument, err, path)
	}
	r.locker.Lock()
	defer r.locker.Unlock()
	if s, ok := r.stores[key]; ok && !s.closed.Load() {
		return s, nil
	}
	s, err := OpenFs(ctx, r.fsys, key, r.opts)
	if err != nil {
		return nil, err
	}
	r.stores[key] = s
	return s, nil
}

// Close closes every store the registry opened and forgets them.
func (r *Registry) Close() error {
	r.locker.Lock()
	defer r.locker.Unlock()
	var lastErr error
	for key, s := range r.stores {
		if err := s.Close(); err != nil {
			lastErr = err
		}
		delete(r.stores, key)
	}
	return lastErr
}
