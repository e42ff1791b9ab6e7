package wasm

import "strings"

// Module represents a parsed WebAssembly module.
// It is built once by ParseModule and treated as read-only afterwards;
// byte slices such as Function.Code alias the input buffer.
type Module struct {
	Memory         *Limits
	Start          *uint32
	DataCount      *uint32
	Exports        Exports
	Types          []FuncType
	Imports        []Import
	Functions      []Function
	Tables         []TableType
	Globals        []Global
	Elements       []Element
	Data           []DataSegment
	CustomSections []CustomSection
	Version        uint32

	// OrphanBodies counts code bodies that had no matching function declaration.
	OrphanBodies int
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// String renders the signature as "(i32, i64) -> i32", with "void" for no results.
func (ft FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> ")
	switch len(ft.Results) {
	case 0:
		b.WriteString("void")
	case 1:
		b.WriteString(ft.Results[0].String())
	default:
		b.WriteByte('(')
		for i, r := range ft.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *Limits
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// Function is a locally defined function: its declared type and, once the
// code section is merged in, its locals and instruction bytes.
type Function struct {
	Locals    []LocalEntry
	Code      []byte // instruction bytes after local declarations, including the final end
	TypeIndex uint32
	// CodeOffset is the absolute file offset of Code[0], or 0 if no body was found.
	CodeOffset int
}

// NumLocals returns the number of declared locals, parameters excluded.
func (f *Function) NumLocals() uint64 {
	var n uint64
	for _, l := range f.Locals {
		n += uint64(l.Count)
	}
	return n
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// Limits describes size constraints for tables and memories, in elements or pages.
type Limits struct {
	Max     *uint32
	Initial uint32
	Shared  bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Init []byte // raw constant expression bytes, including end
	Type GlobalType
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
//
// FuncIdxs lists the function indices populating table slots. For the
// expression forms it holds the ref.func targets found in Exprs.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// Segment modes shared by element and data segments.
const (
	ModeActive      = "active"
	ModePassive     = "passive"
	ModeDeclarative = "declarative"
)

// Mode returns the segment mode encoded in the flags.
func (e *Element) Mode() string {
	switch {
	case e.Flags&0x01 == 0:
		return ModeActive
	case e.Flags&0x02 == 0:
		return ModePassive
	default:
		return ModeDeclarative
	}
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// Mode returns the segment mode encoded in the flags.
func (d *DataSegment) Mode() string {
	if d.Flags == 1 {
		return ModePassive
	}
	return ModeActive
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	return m.countImports(KindFunc)
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	return m.countImports(KindGlobal)
}

func (m *Module) countImports(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// HasMemory reports whether the module defines or imports a linear memory.
func (m *Module) HasMemory() bool {
	return m.Memory != nil || m.countImports(KindMemory) > 0
}

// TypeAt returns the function type at typeIdx, or nil when out of range.
func (m *Module) TypeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// ImportedFunc returns the import backing function index funcIdx, or nil
// when funcIdx refers to a local function.
func (m *Module) ImportedFunc(funcIdx uint32) *Import {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return &m.Imports[i]
		}
		funcIdx--
	}
	return nil
}

// FuncType returns the type of a function by its index in the function
// index space, imports first.
func (m *Module) FuncType(funcIdx uint32) *FuncType {
	if imp := m.ImportedFunc(funcIdx); imp != nil {
		return m.TypeAt(imp.Desc.TypeIdx)
	}
	fn := m.Function(funcIdx)
	if fn == nil {
		return nil
	}
	return m.TypeAt(fn.TypeIndex)
}

// Function returns the local function with index funcIdx in the function
// index space. Imported and out-of-range indices return nil.
func (m *Module) Function(funcIdx uint32) *Function {
	numImported := uint64(m.NumImportedFuncs())
	if uint64(funcIdx) < numImported {
		return nil
	}
	local := uint64(funcIdx) - numImported
	if local >= uint64(len(m.Functions)) {
		return nil
	}
	return &m.Functions[local]
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Functions)
}

// FindEntryPoint returns the start function index when the module has a start section.
func (m *Module) FindEntryPoint() (uint32, bool) {
	if m.Start == nil {
		return 0, false
	}
	return *m.Start, true
}

// ExportedFunction returns the function index exported under name.
func (m *Module) ExportedFunction(name string) (uint32, bool) {
	exp, ok := m.Exports.Get(name)
	if !ok || exp.Kind != KindFunc {
		return 0, false
	}
	return exp.Idx, true
}

// CodeSize returns the total instruction bytes across all local functions.
func (m *Module) CodeSize() int {
	total := 0
	for i := range m.Functions {
		total += len(m.Functions[i].Code)
	}
	return total
}
