package binary

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Writer accumulates WASM binary encoding into a buffer.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU32 writes an unsigned LEB128 encoded uint32.
func (w *Writer) WriteU32(v uint32) {
	w.WriteU64(uint64(v))
}

// WriteU64 writes an unsigned LEB128 encoded uint64.
func (w *Writer) WriteU64(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// WriteS64 writes a signed LEB128 encoded int64. It also serves int32 and s33.
func (w *Writer) WriteS64(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf.WriteByte(b)
			return
		}
		w.buf.WriteByte(b | 0x80)
	}
}

// WriteName writes a length-prefixed UTF-8 name.
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf.WriteString(s)
}

// WriteSized writes a length-prefixed byte vector.
func (w *Writer) WriteSized(data []byte) {
	w.WriteU32(uint32(len(data)))
	w.buf.Write(data)
}

// WriteU32LE writes a little-endian uint32 (fixed 4 bytes).
func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteF32 writes a float32 as its little-endian IEEE 754 bits.
func (w *Writer) WriteF32(v float32) {
	w.WriteU32LE(math.Float32bits(v))
}

// WriteF64 writes a float64 as its little-endian IEEE 754 bits.
func (w *Writer) WriteF64(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	w.buf.Write(buf[:])
}
