package wasm

import (
	"fmt"
	"math"
)

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(v))
	}
}

// Valid reports whether v is one of the supported value types.
func (v ValType) Valid() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return true
	}
	return false
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// Value is a tagged WebAssembly runtime value. The zero Value is invalid.
// Reference values are either null or carry a function index / host handle.
type Value struct {
	lo   uint64
	hi   uint64
	Type ValType
	null bool
}

// I32 returns an i32 value.
func I32(v int32) Value { return Value{Type: ValI32, lo: uint64(uint32(v))} }

// I64 returns an i64 value.
func I64(v int64) Value { return Value{Type: ValI64, lo: uint64(v)} }

// F32 returns an f32 value.
func F32(v float32) Value { return Value{Type: ValF32, lo: uint64(math.Float32bits(v))} }

// F64 returns an f64 value.
func F64(v float64) Value { return Value{Type: ValF64, lo: math.Float64bits(v)} }

// V128 returns a v128 value from its low and high 64-bit halves.
func V128(lo, hi uint64) Value { return Value{Type: ValV128, lo: lo, hi: hi} }

// FuncRef returns a non-null function reference.
func FuncRef(funcIdx uint32) Value { return Value{Type: ValFuncRef, lo: uint64(funcIdx)} }

// ExternRef returns a non-null external reference to a host handle.
func ExternRef(handle uint64) Value { return Value{Type: ValExtern, lo: handle} }

// NullRef returns the null reference of type t.
func NullRef(t ValType) Value { return Value{Type: t, null: true} }

// Zero returns the default value of type t.
func Zero(t ValType) Value {
	if t.IsRef() {
		return NullRef(t)
	}
	return Value{Type: t}
}

// FromRaw rebuilds a value from its raw 64-bit representation, the inverse of Raw.
// v128 cannot be represented and yields an error.
func FromRaw(t ValType, raw uint64) (Value, error) {
	switch t {
	case ValI32:
		return Value{Type: t, lo: uint64(uint32(raw))}, nil
	case ValI64, ValF64:
		return Value{Type: t, lo: raw}, nil
	case ValF32:
		return Value{Type: t, lo: uint64(uint32(raw))}, nil
	case ValFuncRef, ValExtern:
		if raw == 0 {
			return NullRef(t), nil
		}
		return Value{Type: t, lo: raw - 1}, nil
	}
	return Value{}, fmt.Errorf("no raw representation for %s", t)
}

// I32 returns the i32 payload. It is only meaningful when Type is ValI32.
func (v Value) I32() int32 { return int32(uint32(v.lo)) }

// U32 returns the i32 payload as unsigned.
func (v Value) U32() uint32 { return uint32(v.lo) }

// I64 returns the i64 payload.
func (v Value) I64() int64 { return int64(v.lo) }

// F32 returns the f32 payload.
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.lo)) }

// F64 returns the f64 payload.
func (v Value) F64() float64 { return math.Float64frombits(v.lo) }

// V128 returns the low and high halves of a v128 payload.
func (v Value) V128() (lo, hi uint64) { return v.lo, v.hi }

// Ref returns the function index or host handle of a reference, and false for null.
func (v Value) Ref() (uint64, bool) {
	if v.null {
		return 0, false
	}
	return v.lo, true
}

// IsNull reports whether v is a null reference.
func (v Value) IsNull() bool { return v.null }

// Raw returns the 64-bit stack representation used by engines: integers
// zero-extended, floats as IEEE bits, references as handle+1 with 0 for null.
func (v Value) Raw() uint64 {
	switch v.Type {
	case ValFuncRef, ValExtern:
		if v.null {
			return 0
		}
		return v.lo + 1
	}
	return v.lo
}

func (v Value) String() string {
	switch v.Type {
	case ValI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case ValI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case ValF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case ValF64:
		return fmt.Sprintf("f64:%g", v.F64())
	case ValV128:
		return fmt.Sprintf("v128:0x%016x%016x", v.hi, v.lo)
	case ValFuncRef, ValExtern:
		if v.null {
			return v.Type.String() + ":null"
		}
		return fmt.Sprintf("%s:%d", v.Type, v.lo)
	}
	return "invalid"
}
