// Package wire provides the primitive byte-level encoding used by the binary codec.
//
// Writer and Reader play the role of a DataOutput/DataInput pair: fixed-width
// integers and floats are big-endian (network byte order), and unsigned varints use
// base-128 groups with the least significant group first and the high bit as a
// continuation flag:
//
//	5      → 0x05
//	300    → 0xAC 0x02
//	2^32-1 → 0xFF 0xFF 0xFF 0xFF 0x0F
//
// Length-prefixed blobs and text are a uvarint length followed by the raw bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrOverflow is returned when a varint does not fit in 64 bits.
var ErrOverflow = errors.New("wire: varint overflows 64 bits")

// MaxVarintLen is the maximum number of bytes a uvarint occupies.
const MaxVarintLen = binary.MaxVarintLen64

// Writer is a growable output buffer. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the written bytes. The slice aliases the writer's buffer until the next write.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset discards the contents but keeps the allocated buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Write appends p. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte. It never fails.
func (w *Writer) WriteByte(c byte) error {
	w.buf = append(w.buf, c)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteInt16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteInt64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteUvarint appends v as a 1-10 byte base-128 varint.
func (w *Writer) WriteUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

// WriteBlob appends a uvarint length followed by p.
func (w *Writer) WriteBlob(p []byte) {
	w.WriteUvarint(uint64(len(p)))
	w.buf = append(w.buf, p...)
}

// WriteText appends a uvarint length followed by the UTF-8 bytes of s.
func (w *Writer) WriteText(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader is a bounds-checked cursor over an input buffer.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) need(n int) error {
	if n < 0 || r.Remaining() < n {
		return fmt.Errorf("wire: need %d bytes at offset %d, have %d: %w", n, r.off, r.Remaining(), io.ErrUnexpectedEOF)
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	c := r.data[r.off]
	r.off++
	return c, nil
}

func (r *Reader) ReadBool() (bool, error) {
	c, err := r.ReadByte()
	return c != 0, err
}

func (r *Reader) ReadInt16() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return int16(v), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return int32(v), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return int64(v), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

// ReadUvarint reads a base-128 varint written by WriteUvarint.
func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	switch {
	case n == 0:
		return 0, fmt.Errorf("wire: truncated varint at offset %d: %w", r.off, io.ErrUnexpectedEOF)
	case n < 0:
		return 0, fmt.Errorf("wire: at offset %d: %w", r.off, ErrOverflow)
	}
	r.off += n
	return v, nil
}

// ReadRaw returns a copy of the next n bytes.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	copy(p, r.data[r.off:])
	r.off += n
	return p, nil
}

// ReadBlob reads a length-prefixed byte slice written by WriteBlob.
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, r.need(r.Remaining() + 1)
	}
	return r.ReadRaw(int(n))
}

// ReadText reads a length-prefixed string written by WriteText.
func (r *Reader) ReadText() (string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(r.Remaining()) {
		return "", r.need(r.Remaining() + 1)
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}
