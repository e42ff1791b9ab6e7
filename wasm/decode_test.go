package wasm_test

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func ptrTo[T any](v T) *T { return &v }

// module concatenates the header with pre-encoded sections.
func module(sections ...[]byte) []byte {
	out := append([]byte(nil), header...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

// section encodes a section with its size prefix.
func section(id byte, payload ...byte) []byte {
	out := append([]byte{id}, wasm.AppendU32(nil, uint32(len(payload)))...)
	return append(out, payload...)
}

func decodeErr(t *testing.T, data []byte) *errors.Error {
	t.Helper()
	m, err := wasm.ParseModule(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if m != nil {
		t.Error("expected nil module on error")
	}
	var werr *errors.Error
	if !stderrors.As(err, &werr) {
		t.Fatalf("expected *errors.Error, got %T: %v", err, err)
	}
	return werr
}

func TestParseMinimalModule(t *testing.T) {
	m, err := wasm.ParseModule(header)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if m.Version != 1 {
		t.Errorf("Version = %d, want 1", m.Version)
	}
	if len(m.Types) != 0 || m.NumFuncs() != 0 || m.Memory != nil || m.Exports.Len() != 0 {
		t.Errorf("expected empty module, got %+v", m)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		data  []byte
		kind  errors.Kind
	}{
		{"empty", nil, nil, errors.KindFormat},
		{"short", nil, []byte{0x00, 0x61, 0x73}, errors.KindFormat},
		{"short bad magic", wasm.ErrInvalidMagic, []byte{0x7F, 0x45, 0x4C}, errors.KindFormat},
		{"single bad byte", wasm.ErrInvalidMagic, []byte{0x01}, errors.KindFormat},
		{"bad magic", wasm.ErrInvalidMagic, []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, errors.KindFormat},
		{"version 2", wasm.ErrInvalidVersion, []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}, errors.KindFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			werr := decodeErr(t, tt.data)
			if werr.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", werr.Kind, tt.kind)
			}
			if werr.Phase != errors.PhaseDecode {
				t.Errorf("Phase = %s, want decode", werr.Phase)
			}
			if tt.cause != nil && !stderrors.Is(werr, tt.cause) {
				t.Errorf("expected cause %v, got %v", tt.cause, werr)
			}
		})
	}
}

func TestParseVersionOffset(t *testing.T) {
	werr := decodeErr(t, []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00})
	if werr.Offset != 4 {
		t.Errorf("Offset = %d, want 4", werr.Offset)
	}
}

func TestParseSections(t *testing.T) {
	data := module(
		// (i32) -> i32, () -> void
		section(wasm.SectionType, 0x02, 0x60, 0x01, 0x7F, 0x01, 0x7F, 0x60, 0x00, 0x00),
		// env.log : type 1
		section(wasm.SectionImport, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'l', 'o', 'g', 0x00, 0x01),
		section(wasm.SectionFunction, 0x02, 0x00, 0x01),
		section(wasm.SectionTable, 0x01, 0x70, 0x00, 0x02),
		section(wasm.SectionMemory, 0x01, 0x01, 0x01, 0x10),
		// mutable i32 = 42
		section(wasm.SectionGlobal, 0x01, 0x7F, 0x01, 0x41, 0x2A, 0x0B),
		section(wasm.SectionExport, 0x02,
			0x03, 'a', 'd', 'd', 0x00, 0x01,
			0x03, 'm', 'e', 'm', 0x02, 0x00),
		section(wasm.SectionStart, 0x02),
		section(wasm.SectionCode, 0x02,
			0x07, 0x01, 0x01, 0x7E, 0x20, 0x00, 0x0B, 0x0B, // one i64 local
			0x02, 0x00, 0x0B),
		section(wasm.SectionData, 0x01, 0x00, 0x41, 0x08, 0x0B, 0x02, 'h', 'i'),
		section(wasm.SectionCustom, 0x04, 'n', 'a', 'm', 'e', 0xAA),
	)

	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	if len(m.Types) != 2 {
		t.Fatalf("expected 2 types, got %d", len(m.Types))
	}
	if got := m.Types[0].String(); got != "(i32) -> i32" {
		t.Errorf("type 0 = %q", got)
	}
	if got := m.Types[1].String(); got != "() -> void" {
		t.Errorf("type 1 = %q", got)
	}

	if len(m.Imports) != 1 || m.Imports[0].Module != "env" || m.Imports[0].Name != "log" {
		t.Fatalf("unexpected imports: %+v", m.Imports)
	}
	if m.NumImportedFuncs() != 1 || m.NumFuncs() != 3 {
		t.Errorf("NumImportedFuncs=%d NumFuncs=%d", m.NumImportedFuncs(), m.NumFuncs())
	}

	if len(m.Tables) != 1 || m.Tables[0].ElemType != wasm.ValFuncRef || m.Tables[0].Limits.Initial != 2 {
		t.Errorf("unexpected tables: %+v", m.Tables)
	}

	if m.Memory == nil || m.Memory.Initial != 1 || m.Memory.Max == nil || *m.Memory.Max != 16 {
		t.Errorf("unexpected memory: %+v", m.Memory)
	}

	if len(m.Globals) != 1 || !m.Globals[0].Type.Mutable {
		t.Fatalf("unexpected globals: %+v", m.Globals)
	}
	v, err := m.Globals[0].InitValue()
	if err != nil || v.I32() != 42 {
		t.Errorf("global init = %v, %v", v, err)
	}

	if got := m.Exports.Names(); len(got) != 2 || got[0] != "add" || got[1] != "mem" {
		t.Errorf("export order = %v", got)
	}
	if idx, ok := m.ExportedFunction("add"); !ok || idx != 1 {
		t.Errorf("ExportedFunction(add) = %d, %v", idx, ok)
	}
	if _, ok := m.ExportedFunction("mem"); ok {
		t.Error("memory export should not resolve as a function")
	}

	if entry, ok := m.FindEntryPoint(); !ok || entry != 2 {
		t.Errorf("FindEntryPoint = %d, %v", entry, ok)
	}

	fn := m.Function(1)
	if fn == nil {
		t.Fatal("Function(1) = nil")
	}
	if fn.NumLocals() != 1 || fn.Locals[0].ValType != wasm.ValI64 {
		t.Errorf("locals = %+v", fn.Locals)
	}
	if !bytes.Equal(fn.Code, []byte{0x20, 0x00, 0x0B, 0x0B}) {
		t.Errorf("code = % x", fn.Code)
	}
	if fn.CodeOffset <= 0 || !bytes.Equal(data[fn.CodeOffset:fn.CodeOffset+len(fn.Code)], fn.Code) {
		t.Errorf("CodeOffset %d does not locate the code", fn.CodeOffset)
	}
	if m.Function(0) != nil {
		t.Error("Function(0) should be nil for an imported index")
	}
	if ft := m.FuncType(0); ft == nil || ft.String() != "() -> void" {
		t.Errorf("FuncType(0) = %v", ft)
	}

	if len(m.Data) != 1 || string(m.Data[0].Init) != "hi" || m.Data[0].Mode() != wasm.ModeActive {
		t.Errorf("unexpected data: %+v", m.Data)
	}
	if off, ok := wasm.OffsetValue(m.Data[0].Offset); !ok || off != 8 {
		t.Errorf("data offset = %d, %v", off, ok)
	}

	if len(m.CustomSections) != 1 || m.CustomSections[0].Name != "name" {
		t.Errorf("unexpected custom sections: %+v", m.CustomSections)
	}
	if m.CodeSize() != 5 {
		t.Errorf("CodeSize = %d, want 5", m.CodeSize())
	}
}

func TestParseCodeBeforeFunctionSection(t *testing.T) {
	data := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionCode, 0x01, 0x03, 0x00, 0x01, 0x0B),
		section(wasm.SectionFunction, 0x01, 0x00),
	)
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Functions) != 1 || !bytes.Equal(m.Functions[0].Code, []byte{0x01, 0x0B}) {
		t.Errorf("body not attached: %+v", m.Functions)
	}
}

func TestParseEmptySignature(t *testing.T) {
	m, err := wasm.ParseModule(module(section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00)))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if ft := m.Types[0]; ft.Params != nil || ft.Results != nil {
		t.Errorf("empty vectors should decode as nil, got %#v", ft)
	}
}

func TestParseCodeExcludesLocals(t *testing.T) {
	// one local group (3 x i64) followed by nop; end
	data := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionCode, 0x01, 0x05, 0x01, 0x03, 0x7E, 0x01, 0x0B),
	)
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	fn := m.Functions[0]
	if !bytes.Equal(fn.Code, []byte{0x01, 0x0B}) {
		t.Errorf("Code = % x, want 01 0b", fn.Code)
	}
	if fn.NumLocals() != 3 {
		t.Errorf("NumLocals = %d, want 3", fn.NumLocals())
	}
}

func TestParseBodyCountMismatch(t *testing.T) {
	t.Run("orphan bodies", func(t *testing.T) {
		m, err := wasm.ParseModule(module(
			section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
			section(wasm.SectionFunction, 0x01, 0x00),
			section(wasm.SectionCode, 0x02, 0x02, 0x00, 0x0B, 0x02, 0x00, 0x0B),
		))
		if err != nil {
			t.Fatalf("ParseModule: %v", err)
		}
		if m.OrphanBodies != 1 {
			t.Errorf("OrphanBodies = %d, want 1", m.OrphanBodies)
		}
		if len(m.Functions[0].Code) == 0 {
			t.Error("first function should have its body")
		}
	})

	t.Run("missing bodies", func(t *testing.T) {
		m, err := wasm.ParseModule(module(
			section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
			section(wasm.SectionFunction, 0x02, 0x00, 0x00),
		))
		if err != nil {
			t.Fatalf("ParseModule: %v", err)
		}
		for i, fn := range m.Functions {
			if len(fn.Code) != 0 {
				t.Errorf("function %d has unexpected code % x", i, fn.Code)
			}
		}
	})
}

func TestParseElementSegments(t *testing.T) {
	data := module(section(wasm.SectionElement,
		0x03,
		// flags 0: active table 0, offset i32.const 0, funcs [0 1]
		0x00, 0x41, 0x00, 0x0B, 0x02, 0x00, 0x01,
		// flags 1: passive, elemkind 0, funcs [3]
		0x01, 0x00, 0x01, 0x03,
		// flags 4: active, exprs [ref.func 2, ref.null func]
		0x04, 0x41, 0x05, 0x0B, 0x02, 0xD2, 0x02, 0x0B, 0xD0, 0x70, 0x0B,
	))
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Elements) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(m.Elements))
	}

	tests := []struct {
		mode  string
		funcs []uint32
		exprs int
	}{
		{wasm.ModeActive, []uint32{0, 1}, 0},
		{wasm.ModePassive, []uint32{3}, 0},
		{wasm.ModeActive, []uint32{2}, 2},
	}
	for i, tt := range tests {
		e := m.Elements[i]
		if e.Mode() != tt.mode {
			t.Errorf("element %d: mode %s, want %s", i, e.Mode(), tt.mode)
		}
		if len(e.FuncIdxs) != len(tt.funcs) {
			t.Errorf("element %d: funcs %v, want %v", i, e.FuncIdxs, tt.funcs)
			continue
		}
		for j := range tt.funcs {
			if e.FuncIdxs[j] != tt.funcs[j] {
				t.Errorf("element %d: funcs %v, want %v", i, e.FuncIdxs, tt.funcs)
			}
		}
		if len(e.Exprs) != tt.exprs {
			t.Errorf("element %d: %d exprs, want %d", i, len(e.Exprs), tt.exprs)
		}
	}
	if off, ok := wasm.OffsetValue(m.Elements[2].Offset); !ok || off != 5 {
		t.Errorf("element 2 offset = %d, %v", off, ok)
	}
}

func TestParseDataSegments(t *testing.T) {
	data := module(
		section(wasm.SectionMemory, 0x01, 0x00, 0x01),
		section(wasm.SectionDataCount, 0x03),
		section(wasm.SectionData, 0x03,
			0x00, 0x41, 0x00, 0x0B, 0x01, 'a',
			0x01, 0x02, 'b', 'c',
			0x02, 0x00, 0x41, 0x10, 0x0B, 0x00),
	)
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if m.DataCount == nil || *m.DataCount != 3 {
		t.Errorf("DataCount = %v", m.DataCount)
	}
	modes := []string{wasm.ModeActive, wasm.ModePassive, wasm.ModeActive}
	for i, seg := range m.Data {
		if seg.Mode() != modes[i] {
			t.Errorf("segment %d: mode %s, want %s", i, seg.Mode(), modes[i])
		}
	}
	if string(m.Data[1].Init) != "bc" || m.Data[1].Offset != nil {
		t.Errorf("passive segment = %+v", m.Data[1])
	}
	if len(m.Data[2].Init) != 0 {
		t.Errorf("empty segment has %d bytes", len(m.Data[2].Init))
	}
}

func TestParseMemoryLimits(t *testing.T) {
	t.Run("max below initial is kept", func(t *testing.T) {
		m, err := wasm.ParseModule(module(section(wasm.SectionMemory, 0x01, 0x01, 0x05, 0x02)))
		if err != nil {
			t.Fatalf("ParseModule: %v", err)
		}
		if m.Memory.Initial != 5 || *m.Memory.Max != 2 {
			t.Errorf("memory = %+v", m.Memory)
		}
	})

	t.Run("empty memory section", func(t *testing.T) {
		m, err := wasm.ParseModule(module(section(wasm.SectionMemory, 0x00)))
		if err != nil {
			t.Fatalf("ParseModule: %v", err)
		}
		if m.Memory != nil {
			t.Errorf("expected no memory, got %+v", m.Memory)
		}
	})

	t.Run("multiple memories", func(t *testing.T) {
		werr := decodeErr(t, module(section(wasm.SectionMemory, 0x02, 0x00, 0x01, 0x00, 0x01)))
		if werr.Kind != errors.KindUnsupported || werr.Section != "memory" {
			t.Errorf("got %v", werr)
		}
	})

	t.Run("memory64", func(t *testing.T) {
		werr := decodeErr(t, module(section(wasm.SectionMemory, 0x01, 0x04, 0x01)))
		if werr.Kind != errors.KindUnsupported {
			t.Errorf("got %v", werr)
		}
	})
}

func TestParseUnknownSectionSkipped(t *testing.T) {
	m, err := wasm.ParseModule(module(
		section(0x20, 0xAA, 0xBB),
		section(wasm.SectionType, 0x00),
	))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Types) != 0 {
		t.Errorf("unexpected types: %v", m.Types)
	}
}

func TestParseMalformedCustomSectionSkipped(t *testing.T) {
	// name length 9 runs past the payload
	m, err := wasm.ParseModule(module(section(wasm.SectionCustom, 0x09, 'x')))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.CustomSections) != 0 {
		t.Errorf("expected malformed custom section to be dropped, got %+v", m.CustomSections)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		kind    errors.Kind
		section string
	}{
		{
			name:    "section size past end",
			data:    append(module(), wasm.SectionType, 0x10, 0x00),
			kind:    errors.KindTruncated,
			section: "type",
		},
		{
			name:    "duplicate section",
			data:    module(section(wasm.SectionType, 0x00), section(wasm.SectionType, 0x00)),
			kind:    errors.KindInvalidData,
			section: "type",
		},
		{
			name:    "trailing bytes in section",
			data:    module(section(wasm.SectionType, 0x00, 0xFF)),
			kind:    errors.KindInvalidData,
			section: "type",
		},
		{
			name:    "count overflow",
			data:    module(section(wasm.SectionType, 0x80, 0x80, 0x80, 0x80, 0x10)),
			kind:    errors.KindOverflow,
			section: "type",
		},
		{
			name:    "count larger than payload",
			data:    module(section(wasm.SectionFunction, 0x7F, 0x00)),
			kind:    errors.KindTruncated,
			section: "function",
		},
		{
			name:    "bad func type form",
			data:    module(section(wasm.SectionType, 0x01, 0x5F, 0x00, 0x00)),
			kind:    errors.KindInvalidData,
			section: "type",
		},
		{
			name:    "bad value type",
			data:    module(section(wasm.SectionType, 0x01, 0x60, 0x01, 0x01, 0x00)),
			kind:    errors.KindInvalidData,
			section: "type",
		},
		{
			name:    "bad import kind",
			data:    module(section(wasm.SectionImport, 0x01, 0x01, 'm', 0x01, 'n', 0x07, 0x00)),
			kind:    errors.KindInvalidData,
			section: "import",
		},
		{
			name: "duplicate export",
			data: module(section(wasm.SectionExport, 0x02,
				0x01, 'f', 0x00, 0x00,
				0x01, 'f', 0x00, 0x01)),
			kind:    errors.KindInvalidData,
			section: "export",
		},
		{
			name:    "bad element flags",
			data:    module(section(wasm.SectionElement, 0x01, 0x08, 0x41, 0x00, 0x0B, 0x00)),
			kind:    errors.KindInvalidData,
			section: "element",
		},
		{
			name:    "bad data flags",
			data:    module(section(wasm.SectionData, 0x01, 0x03, 0x00)),
			kind:    errors.KindInvalidData,
			section: "data",
		},
		{
			name:    "bad global mutability",
			data:    module(section(wasm.SectionGlobal, 0x01, 0x7F, 0x02, 0x41, 0x00, 0x0B)),
			kind:    errors.KindInvalidData,
			section: "global",
		},
		{
			name:    "body size past section",
			data:    module(section(wasm.SectionCode, 0x01, 0x05, 0x00, 0x0B)),
			kind:    errors.KindTruncated,
			section: "code",
		},
		{
			name:    "unknown opcode in const expr",
			data:    module(section(wasm.SectionGlobal, 0x01, 0x7F, 0x00, 0x27, 0x0B)),
			kind:    errors.KindInvalidData,
			section: "global",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			werr := decodeErr(t, tt.data)
			if werr.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s (%v)", werr.Kind, tt.kind, werr)
			}
			if werr.Section != tt.section {
				t.Errorf("Section = %q, want %q (%v)", werr.Section, tt.section, werr)
			}
			if werr.Offset < 8 {
				t.Errorf("Offset = %d, expected a position past the header", werr.Offset)
			}
		})
	}
}

func TestParseErrorOffsetIsAbsolute(t *testing.T) {
	// header(8) + id(1) + size(1) + count(1) puts the form byte at 11
	werr := decodeErr(t, module(section(wasm.SectionType, 0x01, 0x5F, 0x00, 0x00)))
	if werr.Offset != 11 {
		t.Errorf("Offset = %d, want 11", werr.Offset)
	}
}

func TestParseTruncatedPrefixes(t *testing.T) {
	data := module(
		section(wasm.SectionType, 0x01, 0x60, 0x01, 0x7F, 0x01, 0x7F),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionExport, 0x01, 0x02, 'i', 'd', 0x00, 0x00),
		section(wasm.SectionCode, 0x01, 0x04, 0x00, 0x20, 0x00, 0x0B),
	)
	if _, err := wasm.ParseModule(data); err != nil {
		t.Fatalf("full module: %v", err)
	}

	for n := 0; n < len(data); n++ {
		_, err := wasm.ParseModule(data[:n])
		if err == nil {
			continue // cut on a section boundary
		}
		var werr *errors.Error
		if !stderrors.As(err, &werr) {
			t.Errorf("prefix %d: expected *errors.Error, got %T", n, err)
		}
	}

	werr := decodeErr(t, data[:len(data)-1])
	if werr.Kind != errors.KindTruncated || werr.Section != "code" {
		t.Errorf("cut inside code section: got %v", werr)
	}
}
