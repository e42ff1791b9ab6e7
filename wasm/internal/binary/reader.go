package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

var (
	// ErrUnexpectedEnd is returned when a read runs past the end of the input.
	ErrUnexpectedEnd = errors.New("unexpected end of input")
	// ErrOverflow is returned when a LEB128 value exceeds its maximum size.
	ErrOverflow = errors.New("leb128: overflow")
	// ErrInvalidUTF8 is returned for names that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid UTF-8 in name")
	// ErrCountTooLarge is returned when a vector count cannot fit in the remaining input.
	ErrCountTooLarge = errors.New("vector count exceeds remaining input")
)

// Reader is a bounds-checked cursor over an in-memory byte slice.
// Positions are absolute: base plus the index into data.
type Reader struct {
	data []byte
	pos  int
	base int
}

// NewReader creates a Reader over data starting at absolute offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewReaderAt creates a Reader whose positions start at base.
func NewReaderAt(data []byte, base int) *Reader {
	return &Reader{data: data, base: base}
}

// Position returns the current absolute byte position.
func (r *Reader) Position() int {
	return r.base + r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// EOF reports whether all bytes have been consumed.
func (r *Reader) EOF() bool {
	return r.pos >= len(r.data)
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, r.errorAt(r.pos, ErrUnexpectedEnd)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, r.errorAt(r.pos, ErrUnexpectedEnd)
	}
	return r.data[r.pos], nil
}

// ReadBytes returns the next n bytes as a sub-slice of the input.
// The length is checked before anything is sliced.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, r.errorAt(r.pos, ErrUnexpectedEnd)
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.ReadBytes(n)
	return err
}

// Sub returns a Reader over the next n bytes and advances past them.
func (r *Reader) Sub(n int) (*Reader, error) {
	start := r.Position()
	b, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return NewReaderAt(b, start), nil
}

// ReadRemaining returns all unread bytes.
func (r *Reader) ReadRemaining() []byte {
	b := r.data[r.pos:len(r.data):len(r.data)]
	r.pos = len(r.data)
	return b
}

// Since returns the bytes consumed between absolute position start and now.
func (r *Reader) Since(start int) []byte {
	from := start - r.base
	if from < 0 || from > r.pos {
		return nil
	}
	return r.data[from:r.pos:r.pos]
}

// ReadU32 reads an unsigned LEB128 encoded uint32.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.readUnsigned(32)
	return uint32(v), err
}

// ReadU64 reads an unsigned LEB128 encoded uint64.
func (r *Reader) ReadU64() (uint64, error) {
	return r.readUnsigned(64)
}

// ReadS32 reads a signed LEB128 encoded int32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := r.readSigned(32)
	return int32(v), err
}

// ReadS33 reads a signed 33-bit LEB128 value, the encoding of block types.
func (r *Reader) ReadS33() (int64, error) {
	return r.readSigned(33)
}

// ReadS64 reads a signed LEB128 encoded int64.
func (r *Reader) ReadS64() (int64, error) {
	return r.readSigned(64)
}

func (r *Reader) readUnsigned(bits uint) (uint64, error) {
	start := r.pos
	maxBytes := (bits + 6) / 7
	var result uint64
	var shift uint
	for i := uint(0); ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, r.errorAt(start, ErrUnexpectedEnd)
		}
		if i == maxBytes-1 {
			rem := bits - shift
			if b&0x80 != 0 || (rem < 7 && b>>rem != 0) {
				return 0, r.errorAt(start, ErrOverflow)
			}
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

func (r *Reader) readSigned(bits uint) (int64, error) {
	start := r.pos
	maxBytes := (bits + 6) / 7
	var result int64
	var shift uint
	for i := uint(0); ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, r.errorAt(start, ErrUnexpectedEnd)
		}
		if i == maxBytes-1 {
			if b&0x80 != 0 {
				return 0, r.errorAt(start, ErrOverflow)
			}
			// unused high bits of the last byte must replicate the sign bit
			if rem := bits - shift; rem < 7 {
				mask := byte(0x7f) &^ (byte(1)<<(rem-1) - 1)
				if top := b & mask; top != 0 && top != mask {
					return 0, r.errorAt(start, ErrOverflow)
				}
			}
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
}

// ReadCount reads a vector length and checks that count items of at least
// minItemSize bytes could still fit in the remaining input.
func (r *Reader) ReadCount(minItemSize int) (int, error) {
	start := r.pos
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if minItemSize < 1 {
		minItemSize = 1
	}
	if uint64(n)*uint64(minItemSize) > uint64(r.Len()) {
		return 0, r.errorAt(start, fmt.Errorf("%w: count %d, %d bytes left", ErrCountTooLarge, n, r.Len()))
	}
	return int(n), nil
}

// ReadName reads a UTF-8 encoded name (length-prefixed byte sequence).
func (r *Reader) ReadName() (string, error) {
	start := r.pos
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	if uint64(length) > uint64(r.Len()) {
		return "", r.errorAt(start, ErrUnexpectedEnd)
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.errorAt(start, ErrInvalidUTF8)
	}
	return string(data), nil
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadF32 reads an IEEE 754 float32 stored little-endian.
func (r *Reader) ReadF32() (float32, error) {
	bits, err := r.ReadU32LE()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// ReadF64 reads an IEEE 754 float64 stored little-endian.
func (r *Reader) ReadF64() (float64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

func (r *Reader) errorAt(idx int, err error) error {
	return &ParseError{Position: r.base + idx, Err: err}
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
