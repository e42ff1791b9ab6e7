package wasm

import "github.com/wippyai/wasmscope/wasm/internal/binary"

// LEB128 helpers over byte slices. Decoders return the value and the number
// of bytes consumed; over-long encodings fail with ErrOverflow and short
// input with ErrTruncated.

// DecodeU32 decodes an unsigned LEB128 uint32 from the start of b.
func DecodeU32(b []byte) (uint32, int, error) {
	r := binary.NewReader(b)
	v, err := r.ReadU32()
	return v, r.Position(), err
}

// DecodeU64 decodes an unsigned LEB128 uint64 from the start of b.
func DecodeU64(b []byte) (uint64, int, error) {
	r := binary.NewReader(b)
	v, err := r.ReadU64()
	return v, r.Position(), err
}

// DecodeS32 decodes a signed LEB128 int32 from the start of b.
func DecodeS32(b []byte) (int32, int, error) {
	r := binary.NewReader(b)
	v, err := r.ReadS32()
	return v, r.Position(), err
}

// DecodeS64 decodes a signed LEB128 int64 from the start of b.
func DecodeS64(b []byte) (int64, int, error) {
	r := binary.NewReader(b)
	v, err := r.ReadS64()
	return v, r.Position(), err
}

// AppendU32 appends the unsigned LEB128 encoding of v to b.
func AppendU32(b []byte, v uint32) []byte {
	return AppendU64(b, uint64(v))
}

// AppendU64 appends the unsigned LEB128 encoding of v to b.
func AppendU64(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// AppendS32 appends the signed LEB128 encoding of v to b.
func AppendS32(b []byte, v int32) []byte {
	return AppendS64(b, int64(v))
}

// AppendS64 appends the signed LEB128 encoding of v to b.
func AppendS64(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
