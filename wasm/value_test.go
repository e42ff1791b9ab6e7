package wasm_test

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm"
)

func TestLEB128(t *testing.T) {
	unsigned := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, math.MaxUint32},
	}
	for _, tt := range unsigned {
		if got := wasm.AppendU32(nil, tt.value); string(got) != string(tt.encoded) {
			t.Errorf("AppendU32(%d) = % x, want % x", tt.value, got, tt.encoded)
		}
		v, n, err := wasm.DecodeU32(tt.encoded)
		if err != nil || v != tt.value || n != len(tt.encoded) {
			t.Errorf("DecodeU32(% x) = %d, %d, %v", tt.encoded, v, n, err)
		}
	}

	signed := []struct {
		encoded []byte
		value   int64
	}{
		{[]byte{0x7f}, -1},
		{[]byte{0x40}, -64},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}, math.MaxInt64},
	}
	for _, tt := range signed {
		if got := wasm.AppendS64(nil, tt.value); string(got) != string(tt.encoded) {
			t.Errorf("AppendS64(%d) = % x, want % x", tt.value, got, tt.encoded)
		}
		v, n, err := wasm.DecodeS64(tt.encoded)
		if err != nil || v != tt.value || n != len(tt.encoded) {
			t.Errorf("DecodeS64(% x) = %d, %d, %v", tt.encoded, v, n, err)
		}
	}

	if _, _, err := wasm.DecodeU32([]byte{0x80, 0x80}); !stderrors.Is(err, wasm.ErrTruncated) {
		t.Errorf("short input: got %v", err)
	}
	if _, _, err := wasm.DecodeU32([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}); !stderrors.Is(err, wasm.ErrOverflow) {
		t.Errorf("six-byte u32: got %v", err)
	}
	if _, _, err := wasm.DecodeS32([]byte{0xff, 0xff, 0xff, 0xff, 0x4f}); !stderrors.Is(err, wasm.ErrOverflow) {
		t.Errorf("bad sign extension: got %v", err)
	}
}

func TestValueRaw(t *testing.T) {
	tests := []struct {
		v   wasm.Value
		raw uint64
	}{
		{wasm.I32(-1), 0xFFFFFFFF},
		{wasm.I64(-1), math.MaxUint64},
		{wasm.F32(1.5), uint64(math.Float32bits(1.5))},
		{wasm.F64(-2.25), math.Float64bits(-2.25)},
		{wasm.FuncRef(0), 1},
		{wasm.ExternRef(41), 42},
		{wasm.NullRef(wasm.ValFuncRef), 0},
		{wasm.NullRef(wasm.ValExtern), 0},
	}
	for _, tt := range tests {
		t.Run(tt.v.String(), func(t *testing.T) {
			if got := tt.v.Raw(); got != tt.raw {
				t.Errorf("Raw = %#x, want %#x", got, tt.raw)
			}
			back, err := wasm.FromRaw(tt.v.Type, tt.raw)
			if err != nil {
				t.Fatalf("FromRaw: %v", err)
			}
			if back != tt.v {
				t.Errorf("FromRaw = %v, want %v", back, tt.v)
			}
		})
	}

	if _, err := wasm.FromRaw(wasm.ValV128, 0); err == nil {
		t.Error("expected error for v128")
	}
}

func TestValueAccessors(t *testing.T) {
	if got := wasm.I32(-5).U32(); got != math.MaxUint32-4 {
		t.Errorf("U32 = %d", got)
	}
	if got := wasm.I32(7).String(); got != "i32:7" {
		t.Errorf("String = %q", got)
	}
	if ref, ok := wasm.FuncRef(3).Ref(); !ok || ref != 3 {
		t.Errorf("Ref = %d, %v", ref, ok)
	}
	if _, ok := wasm.NullRef(wasm.ValExtern).Ref(); ok {
		t.Error("null reference reported a handle")
	}
	if z := wasm.Zero(wasm.ValFuncRef); !z.IsNull() {
		t.Error("zero funcref should be null")
	}
	if z := wasm.Zero(wasm.ValF64); z.F64() != 0 || z.Type != wasm.ValF64 {
		t.Errorf("zero f64 = %v", z)
	}
	lo, hi := wasm.V128(1, 2).V128()
	if lo != 1 || hi != 2 {
		t.Errorf("V128 = %d, %d", lo, hi)
	}
}

func TestEvalConstExpr(t *testing.T) {
	globals := map[uint32]wasm.Value{0: wasm.I32(100)}
	lookup := func(idx uint32) (wasm.Value, bool) {
		v, ok := globals[idx]
		return v, ok
	}

	tests := []struct {
		name string
		want wasm.Value
		expr []byte
	}{
		{"i32.const", wasm.I32(-3), wasm.ConstI32(-3)},
		{"i64.const", wasm.I64(1 << 40), wasm.ConstI64(1 << 40)},
		{"global.get", wasm.I32(100), []byte{wasm.OpGlobalGet, 0x00, wasm.OpEnd}},
		{"extended add", wasm.I32(108), []byte{wasm.OpGlobalGet, 0x00, wasm.OpI32Const, 0x08, wasm.OpI32Add, wasm.OpEnd}},
		{"i64 mul", wasm.I64(12), []byte{wasm.OpI64Const, 0x03, wasm.OpI64Const, 0x04, wasm.OpI64Mul, wasm.OpEnd}},
		{"ref.null extern", wasm.NullRef(wasm.ValExtern), []byte{wasm.OpRefNull, 0x6F, wasm.OpEnd}},
		{"ref.func", wasm.FuncRef(2), []byte{wasm.OpRefFunc, 0x02, wasm.OpEnd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wasm.EvalConstExpr(tt.expr, lookup)
			if err != nil {
				t.Fatalf("EvalConstExpr: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	bad := map[string][]byte{
		"missing end":     {wasm.OpI32Const, 0x01},
		"empty":           {wasm.OpEnd},
		"two values":      {wasm.OpI32Const, 0x01, wasm.OpI32Const, 0x02, wasm.OpEnd},
		"non-constant op": {wasm.OpLocalGet, 0x00, wasm.OpEnd},
		"unknown global":  {wasm.OpGlobalGet, 0x05, wasm.OpEnd},
		"underflow":       {wasm.OpI32Add, wasm.OpEnd},
	}
	for name, expr := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := wasm.EvalConstExpr(expr, lookup); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, ok := wasm.OffsetValue([]byte{wasm.OpGlobalGet, 0x00, wasm.OpEnd}); ok {
		t.Error("OffsetValue should not resolve globals")
	}
}

func TestExports(t *testing.T) {
	var e wasm.Exports
	if !e.Add(wasm.Export{Name: "b", Kind: wasm.KindFunc, Idx: 1}) {
		t.Fatal("Add(b) failed")
	}
	e.Add(wasm.Export{Name: "a", Kind: wasm.KindGlobal, Idx: 0})
	if e.Add(wasm.Export{Name: "b", Kind: wasm.KindMemory}) {
		t.Error("duplicate name accepted")
	}
	if e.Len() != 2 {
		t.Errorf("Len = %d", e.Len())
	}
	if names := e.Names(); names[0] != "b" || names[1] != "a" {
		t.Errorf("Names = %v, want declaration order", names)
	}
	if exp, ok := e.Get("b"); !ok || exp.Kind != wasm.KindFunc {
		t.Errorf("Get(b) = %+v, %v", exp, ok)
	}
	if funcs := e.OfKind(wasm.KindFunc); len(funcs) != 1 || funcs[0].Name != "b" {
		t.Errorf("OfKind = %v", funcs)
	}

	c := e.Clone()
	c.Add(wasm.Export{Name: "c"})
	if e.Len() != 2 || c.Len() != 3 {
		t.Errorf("clone is not independent: %d, %d", e.Len(), c.Len())
	}
}

func TestValidate(t *testing.T) {
	if err := sampleModule().Validate(); err != nil {
		t.Fatalf("sample module: %v", err)
	}

	tests := []struct {
		mutate func(m *wasm.Module)
		name   string
	}{
		{func(m *wasm.Module) { m.Functions[0].TypeIndex = 9 }, "bad type index"},
		{func(m *wasm.Module) { m.Imports[0].Desc.TypeIdx = 9 }, "bad import type"},
		{func(m *wasm.Module) { m.Start = ptrTo[uint32](50) }, "start out of range"},
		{func(m *wasm.Module) { m.Start = ptrTo[uint32](1) }, "start with params"},
		{func(m *wasm.Module) { m.Elements[0].FuncIdxs = []uint32{7} }, "element func"},
		{func(m *wasm.Module) { m.Exports.Add(wasm.Export{Name: "g", Kind: wasm.KindGlobal, Idx: 5}) }, "export global"},
		{func(m *wasm.Module) { m.Functions[1].Code = nil }, "missing body"},
		{func(m *wasm.Module) { m.Functions[1].Code = []byte{0x01} }, "body without end"},
		{func(m *wasm.Module) { m.OrphanBodies = 1 }, "orphan bodies"},
		{func(m *wasm.Module) { m.DataCount = ptrTo[uint32](9) }, "data count"},
		{func(m *wasm.Module) { m.Memory.Max = ptrTo[uint32](0) }, "max below initial"},
		{func(m *wasm.Module) { m.Memory.Initial = wasm.MaxPages + 1; m.Memory.Max = nil }, "too many pages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleModule()
			tt.mutate(m)
			err := m.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var werr *errors.Error
			if !stderrors.As(err, &werr) || werr.Phase != errors.PhaseValidate {
				t.Errorf("expected validate phase error, got %v", err)
			}
		})
	}
}

func TestParseModuleValidate(t *testing.T) {
	m := sampleModule()
	m.Start = ptrTo[uint32](99)
	if _, err := wasm.ParseModuleValidate(m.Encode()); err == nil {
		t.Error("expected validation error")
	}
	if _, err := wasm.ParseModuleValidate(sampleModule().Encode()); err != nil {
		t.Errorf("valid module: %v", err)
	}
}
