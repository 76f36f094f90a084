// Package encoding holds the binary primitives every on-disk structure is built from:
// base-128 varints, varint length-prefixed UTF-8 strings, .NET-style time ticks and
// fixed-width little-endian record fields.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxVarintLen is the maximum number of bytes a uint64 varint occupies.
const MaxVarintLen = binary.MaxVarintLen64

// ErrTruncated is returned when a buffer ends in the middle of a varint or string.
var ErrTruncated = errors.New("encoding: truncated input")

// AppendVarint appends v to b as a base-128 little-endian varint.
func AppendVarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

// SizeVarint returns the encoded length of v.
func SizeVarint(v uint64) int {
	return protowire.SizeVarint(v)
}

// WriteVarint writes v to w and returns the number of bytes written.
func WriteVarint(w io.Writer, v uint64) (int, error) {
	var buf [MaxVarintLen]byte
	return w.Write(AppendVarint(buf[:0], v))
}

// ConsumeVarint decodes the varint at the start of b and returns it with its encoded length.
func ConsumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("consume varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

// ReadVarint reads one varint from r. Input shorter than the varint yields io.ErrUnexpectedEOF
// (or io.EOF when nothing was read).
func ReadVarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

// AppendString appends the varint UTF-8 byte length of s followed by its bytes.
func AppendString(b []byte, s string) []byte {
	b = AppendVarint(b, uint64(len(s)))
	return append(b, s...)
}

// WriteString writes s length-prefixed to w and returns the number of bytes written.
func WriteString(w io.Writer, s string) (int, error) {
	n, err := WriteVarint(w, uint64(len(s)))
	if err != nil {
		return n, err
	}
	m, err := io.WriteString(w, s)
	return n + m, err
}

// ConsumeString decodes a length-prefixed string at the start of b.
func ConsumeString(b []byte) (string, int, error) {
	l, n, err := ConsumeVarint(b)
	if err != nil {
		return "", 0, err
	}
	if uint64(len(b)-n) < l {
		return "", 0, ErrTruncated
	}
	end := n + int(l)
	return string(b[n:end]), end, nil
}

// ByteReader is the reader ReadString needs: bulk reads for the body, byte reads for the length.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// ReadString reads one length-prefixed string from r. The body is read in chunks, so a
// corrupt length fails with io.ErrUnexpectedEOF once r runs dry instead of allocating it up
// front.
func ReadString(r ByteReader) (string, error) {
	l, err := ReadVarint(r)
	if err != nil {
		return "", err
	}
	if l > math.MaxInt64 {
		return "", fmt.Errorf("encoding: string length %d out of range", l)
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, int64(l)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return buf.String(), nil
}
