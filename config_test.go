package graphstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStoreOptionsAreValid(t *testing.T) {
	opts := DefaultStoreOptions()
	require.NoError(t, opts.Validate())
	c, err := opts.PageCacheCapacity()
	require.NoError(t, err)
	assert.Equal(t, 64*1024*1024/DefaultPageSize, c)
}

func TestLoadStoreOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
page_size: 8192
page_cache_size: 1 MB
payload_compression: zstd
sync_writes: false
`), 0o644))

	opts, err := LoadStoreOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, opts.PageSize)
	assert.Equal(t, CompressionZstd, opts.PayloadCompression)
	assert.False(t, opts.SyncWrites)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.95, opts.CacheHighWatermark)
	assert.Equal(t, 256, opts.CommitPointCacheSize)
	c, err := opts.PageCacheCapacity()
	require.NoError(t, err)
	assert.Equal(t, 1000*1000/8192, c)
}

func TestLoadStoreOptionsRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_sise: 8192\n"), 0o644))
	_, err := LoadStoreOptions(path)
	assert.True(t, IsErrorCode(err, InvalidArgument))

	_, err = LoadStoreOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsErrorCode(err, FileIOError))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*StoreOptions)
	}{
		{"tiny page", func(o *StoreOptions) { o.PageSize = 16 }},
		{"bad cache size", func(o *StoreOptions) { o.PageCacheSize = "lots" }},
		{"inverted watermarks", func(o *StoreOptions) { o.CacheLowWatermark, o.CacheHighWatermark = 0.9, 0.5 }},
		{"watermark above one", func(o *StoreOptions) { o.CacheHighWatermark = 1.5 }},
		{"compression", func(o *StoreOptions) { o.PayloadCompression = "lz4" }},
		{"negative history", func(o *StoreOptions) { o.CommitPointCacheSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultStoreOptions()
			tt.modify(&opts)
			assert.True(t, IsErrorCode(opts.Validate(), InvalidArgument))
		})
	}
}

func TestPageCacheCapacityHasFloor(t *testing.T) {
	opts := DefaultStoreOptions()
	opts.PageCacheSize = "10B"
	c, err := opts.PageCacheCapacity()
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}
