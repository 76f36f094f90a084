package txlog

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/sharedcode/graphstore"
)

// Frame flags stored in the first byte of every payload in a data file.
const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// codecs returns the process wide zstd encoder and decoder. Both are safe for concurrent
// EncodeAll and DecodeAll calls.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		if zstdEncoder, zstdErr = zstd.NewWriter(nil); zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// frame prefixes payload with its frame flag, compressing it when compression is zstd.
func frame(compression string, payload []byte) ([]byte, error) {
	if compression != graphstore.CompressionZstd {
		return append([]byte{frameRaw}, payload...), nil
	}
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(payload, []byte{frameZstd}), nil
}

// unframe reverses frame. The flag, not the log's current option, decides decoding, so
// logs written with a different compression setting stay readable.
func unframe(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty payload frame")
	}
	switch b[0] {
	case frameRaw:
		return b[1:], nil
	case frameZstd:
		_, dec, err := codecs()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(b[1:], nil)
	}
	return nil, fmt.Errorf("unknown payload frame flag %d", b[0])
}
