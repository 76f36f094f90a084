package graphstore

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"
)

// Payload compression modes of the transaction log data file.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

const (
	// DefaultPageSize is the page size of newly created stores.
	DefaultPageSize = 4096
	// MinPageSize is the smallest page able to hold a graph index chain link.
	MinPageSize = 32
)

// StoreOptions holds the configuration of a store. It is read once when the store opens;
// PageSize must match the size the store was created with.
type StoreOptions struct {
	// PageSize is the fixed size in bytes of every page in the page file.
	PageSize int `json:"page_size" yaml:"page_size"`
	// PageCacheSize is the memory budget of the page cache in human readable form, e.g. "64MiB".
	PageCacheSize string `json:"page_cache_size" yaml:"page_cache_size"`
	// CacheHighWatermark is the fraction of the cache capacity that triggers eviction.
	CacheHighWatermark float64 `json:"cache_high_watermark" yaml:"cache_high_watermark"`
	// CacheLowWatermark is the fraction of the cache capacity eviction trims down to.
	CacheLowWatermark float64 `json:"cache_low_watermark" yaml:"cache_low_watermark"`
	// DirectIO opens the page file with O_DIRECT. PageSize must then be a multiple of the
	// platform's direct I/O block size.
	DirectIO bool `json:"direct_io" yaml:"direct_io"`
	// SyncWrites fsyncs the page file, master file and logs after every commit.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`
	// PayloadCompression selects the transaction payload encoding, "none" or "zstd".
	PayloadCompression string `json:"payload_compression" yaml:"payload_compression"`
	// CommitPointCacheSize bounds the number of decoded historical commit points kept in memory.
	CommitPointCacheSize int `json:"commit_point_cache_size" yaml:"commit_point_cache_size"`
	// CreateIfMissing creates the store folder and files when they do not exist.
	CreateIfMissing bool `json:"create_if_missing" yaml:"create_if_missing"`
}

// DefaultStoreOptions returns the options used when the caller supplies none.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		PageSize:             DefaultPageSize,
		PageCacheSize:        "64MiB",
		CacheHighWatermark:   0.95,
		CacheLowWatermark:    0.85,
		SyncWrites:           true,
		PayloadCompression:   CompressionNone,
		CommitPointCacheSize: 256,
		CreateIfMissing:      true,
	}
}

// LoadStoreOptions reads YAML options from path. Fields absent from the file keep their default values.
func LoadStoreOptions(path string) (StoreOptions, error) {
	opts := DefaultStoreOptions()
	ba, err := os.ReadFile(path)
	if err != nil {
		return opts, NewError(FileIOError, err, path)
	}
	if err := yaml.UnmarshalStrict(ba, &opts); err != nil {
		return opts, NewError(InvalidArgument, err, path)
	}
	return opts, opts.Validate()
}

// Validate checks option ranges.
func (o StoreOptions) Validate() error {
	if o.PageSize < MinPageSize {
		return NewError(InvalidArgument, fmt.Errorf("page size %d is smaller than %d", o.PageSize, MinPageSize), o.PageSize)
	}
	if _, err := o.PageCacheCapacity(); err != nil {
		return err
	}
	if o.CacheLowWatermark <= 0 || o.CacheHighWatermark > 1 || o.CacheLowWatermark > o.CacheHighWatermark {
		return NewError(InvalidArgument, fmt.Errorf("cache watermarks must satisfy 0 < low(%v) <= high(%v) <= 1",
			o.CacheLowWatermark, o.CacheHighWatermark), nil)
	}
	switch o.PayloadCompression {
	case "", CompressionNone, CompressionZstd:
	default:
		return NewError(InvalidArgument, fmt.Errorf("unsupported payload compression %q", o.PayloadCompression), nil)
	}
	if o.CommitPointCacheSize < 0 {
		return NewError(InvalidArgument, fmt.Errorf("negative commit point cache size"), o.CommitPointCacheSize)
	}
	return nil
}

// PageCacheCapacity converts PageCacheSize into a number of pages. At least one page is cached.
func (o StoreOptions) PageCacheCapacity() (int, error) {
	if o.PageCacheSize == "" {
		return 1, nil
	}
	n, err := humanize.ParseBytes(o.PageCacheSize)
	if err != nil {
		return 0, NewError(InvalidArgument, err, o.PageCacheSize)
	}
	c := int(n / uint64(max(o.PageSize, 1)))
	return max(c, 1), nil
}
