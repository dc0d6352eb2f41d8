package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/joeandaverde/nanodb/internal/dberr"
)

// PageReader wraps a page with a cursor that advances after each typed
// read. The cursor must stay in [0, pageSize] (spec.md §4.1).
type PageReader struct {
	page *DBPage
	pos  int
}

// NewPageReader returns a reader starting at offset 0.
func NewPageReader(page *DBPage) *PageReader {
	return &PageReader{page: page}
}

// Pos returns the cursor's current byte offset.
func (r *PageReader) Pos() int { return r.pos }

// Seek moves the cursor to an absolute offset.
func (r *PageReader) Seek(pos int) error {
	if pos < 0 || pos > len(r.page.Data) {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("cursor position %d out of [0, %d]", pos, len(r.page.Data)))
	}
	r.pos = pos
	return nil
}

func (r *PageReader) advance(n int) ([]byte, error) {
	if r.pos+n > len(r.page.Data) {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("read of %d bytes at %d overruns page of size %d", n, r.pos, len(r.page.Data)))
	}
	b := r.page.Data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadInt8 reads a signed 8-bit integer.
func (r *PageReader) ReadInt8() (int8, error) {
	b, err := r.advance(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// ReadUint8 reads an unsigned 8-bit integer.
func (r *PageReader) ReadUint8() (uint8, error) {
	b, err := r.advance(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt16 reads a big-endian signed 16-bit integer.
func (r *PageReader) ReadInt16() (int16, error) {
	b, err := r.advance(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

// ReadUint16 reads a big-endian unsigned 16-bit integer.
func (r *PageReader) ReadUint16() (uint16, error) {
	b, err := r.advance(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadInt32 reads a big-endian signed 32-bit integer.
func (r *PageReader) ReadInt32() (int32, error) {
	b, err := r.advance(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadUint32 reads a big-endian unsigned 32-bit integer.
func (r *PageReader) ReadUint32() (uint32, error) {
	b, err := r.advance(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadInt64 reads a big-endian signed 64-bit integer.
func (r *PageReader) ReadInt64() (int64, error) {
	b, err := r.advance(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadUint64 reads a big-endian unsigned 64-bit integer.
func (r *PageReader) ReadUint64() (uint64, error) {
	b, err := r.advance(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadFloat32 reads an IEEE-754 single-precision float, bit-reinterpreted
// through a uint32.
func (r *PageReader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads an IEEE-754 double-precision float, bit-reinterpreted
// through a uint64.
func (r *PageReader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadFixedString reads a NUL-padded fixed-length US-ASCII string,
// trimming trailing zero bytes.
func (r *PageReader) ReadFixedString(length int) (string, error) {
	b, err := r.advance(length)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// ReadVarString1 reads a length-prefixed US-ASCII string with a 1-byte
// length prefix (max 255 bytes).
func (r *PageReader) ReadVarString1() (string, error) {
	n, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	b, err := r.advance(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadVarString2 reads a length-prefixed US-ASCII string with a 2-byte
// length prefix (max 65535 bytes).
func (r *PageReader) ReadVarString2() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := r.advance(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads n raw bytes.
func (r *PageReader) ReadBytes(n int) ([]byte, error) {
	b, err := r.advance(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// PageWriter wraps a page with a cursor that advances after each typed
// write. Every write marks the page dirty.
type PageWriter struct {
	page *DBPage
	pos  int
}

// NewPageWriter returns a writer starting at offset 0.
func NewPageWriter(page *DBPage) *PageWriter {
	return &PageWriter{page: page}
}

// Pos returns the cursor's current byte offset.
func (w *PageWriter) Pos() int { return w.pos }

// Seek moves the cursor to an absolute offset.
func (w *PageWriter) Seek(pos int) error {
	if pos < 0 || pos > len(w.page.Data) {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("cursor position %d out of [0, %d]", pos, len(w.page.Data)))
	}
	w.pos = pos
	return nil
}

func (w *PageWriter) reserve(n int) ([]byte, error) {
	if w.pos+n > len(w.page.Data) {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("write of %d bytes at %d overruns page of size %d", n, w.pos, len(w.page.Data)))
	}
	b := w.page.Data[w.pos : w.pos+n]
	w.pos += n
	w.page.MarkDirty()
	return b, nil
}

// WriteInt8 writes a signed 8-bit integer.
func (w *PageWriter) WriteInt8(v int8) error { return w.WriteUint8(uint8(v)) }

// WriteUint8 writes an unsigned 8-bit integer.
func (w *PageWriter) WriteUint8(v uint8) error {
	b, err := w.reserve(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// WriteInt16 writes a big-endian signed 16-bit integer.
func (w *PageWriter) WriteInt16(v int16) error { return w.WriteUint16(uint16(v)) }

// WriteUint16 writes a big-endian unsigned 16-bit integer.
func (w *PageWriter) WriteUint16(v uint16) error {
	b, err := w.reserve(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

// WriteInt32 writes a big-endian signed 32-bit integer.
func (w *PageWriter) WriteInt32(v int32) error { return w.WriteUint32(uint32(v)) }

// WriteUint32 writes a big-endian unsigned 32-bit integer.
func (w *PageWriter) WriteUint32(v uint32) error {
	b, err := w.reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

// WriteInt64 writes a big-endian signed 64-bit integer.
func (w *PageWriter) WriteInt64(v int64) error { return w.WriteUint64(uint64(v)) }

// WriteUint64 writes a big-endian unsigned 64-bit integer.
func (w *PageWriter) WriteUint64(v uint64) error {
	b, err := w.reserve(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

// WriteFloat32 writes an IEEE-754 single-precision float, bit-reinterpreted
// through a uint32.
func (w *PageWriter) WriteFloat32(v float32) error {
	return w.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 writes an IEEE-754 double-precision float, bit-reinterpreted
// through a uint64.
func (w *PageWriter) WriteFloat64(v float64) error {
	return w.WriteUint64(math.Float64bits(v))
}

// WriteFixedString writes s NUL-padded to length bytes. Embedded NULs are
// rejected; s itself must be at most length bytes.
func (w *PageWriter) WriteFixedString(s string, length int) error {
	if strings.IndexByte(s, 0) >= 0 {
		return dberr.New(dberr.InvalidArgument, "embedded NUL in fixed-length string")
	}
	if len(s) > length {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("string of length %d exceeds fixed length %d", len(s), length))
	}
	b, err := w.reserve(length)
	if err != nil {
		return err
	}
	copy(b, s)
	for i := len(s); i < length; i++ {
		b[i] = 0
	}
	return nil
}

// WriteVarString1 writes a length-prefixed US-ASCII string with a 1-byte
// length prefix. len(s) must be <= 255.
func (w *PageWriter) WriteVarString1(s string) error {
	if len(s) > 255 {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("string of length %d exceeds 1-byte length prefix maximum of 255", len(s)))
	}
	if err := w.WriteUint8(uint8(len(s))); err != nil {
		return err
	}
	b, err := w.reserve(len(s))
	if err != nil {
		return err
	}
	copy(b, s)
	return nil
}

// WriteVarString2 writes a length-prefixed US-ASCII string with a 2-byte
// length prefix. len(s) must be <= 65535.
func (w *PageWriter) WriteVarString2(s string) error {
	if len(s) > 65535 {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("string of length %d exceeds 2-byte length prefix maximum of 65535", len(s)))
	}
	if err := w.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	b, err := w.reserve(len(s))
	if err != nil {
		return err
	}
	copy(b, s)
	return nil
}

// WriteBytes copies raw bytes into the page.
func (w *PageWriter) WriteBytes(data []byte) error {
	b, err := w.reserve(len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}
