package encoding

import (
	"encoding/binary"
)

// FixedWriter fills a fixed-size record buffer with little-endian fields, front to back.
// Writes past the end of the buffer panic: record layouts are static.
type FixedWriter struct {
	buf []byte
	pos int
}

// NewFixedWriter returns a writer positioned at the start of buf.
func NewFixedWriter(buf []byte) *FixedWriter {
	return &FixedWriter{buf: buf}
}

func (w *FixedWriter) PutUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

func (w *FixedWriter) PutUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
}

func (w *FixedWriter) PutInt64(v int64) {
	w.PutUint64(uint64(v))
}

// PutBytes copies b verbatim, e.g. the 16 raw bytes of a UUID.
func (w *FixedWriter) PutBytes(b []byte) {
	w.pos += copy(w.buf[w.pos:], b)
}

// Len returns the number of bytes written so far.
func (w *FixedWriter) Len() int {
	return w.pos
}

// FixedReader reads little-endian fields written by FixedWriter.
type FixedReader struct {
	buf []byte
	pos int
}

// NewFixedReader returns a reader positioned at the start of buf.
func NewFixedReader(buf []byte) *FixedReader {
	return &FixedReader{buf: buf}
}

func (r *FixedReader) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *FixedReader) Uint64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *FixedReader) Int64() int64 {
	return int64(r.Uint64())
}

// Bytes returns the next n bytes without copying.
func (r *FixedReader) Bytes(n int) []byte {
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}
