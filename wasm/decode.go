package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	werrors "github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm/internal/binary"
	"go.uber.org/zap"
)

// Header errors returned (wrapped) by ParseModule. Use errors.Is to test for them.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("unsupported wasm version")
)

var magicBytes = [4]byte{0x00, 0x61, 0x73, 0x6D}

// codeBody is a code section entry waiting to be attached to its function.
type codeBody struct {
	locals []LocalEntry
	code   []byte
	offset int
}

// ParseModule decodes a WebAssembly binary module.
//
// Sections are accepted in any order and unknown section ids are skipped.
// Code bodies are paired with function declarations after every section
// has been read. On failure no partial module is returned and the error is
// an *errors.Error carrying the section name and absolute byte offset.
//
// Code bodies, data segments and custom sections alias data, which must
// not be modified or released while the module is in use.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	// a short buffer with the wrong leading bytes is reported as bad magic
	if magic := data[:min(len(data), 4)]; !bytes.Equal(magic, magicBytes[:len(magic)]) {
		return nil, werrors.New(werrors.PhaseDecode, werrors.KindFormat).
			Section("header").
			Offset(0).
			Value(magic).
			Detail("bad magic bytes % x, want 00 61 73 6d", magic).
			Cause(ErrInvalidMagic).
			Build()
	}

	if len(data) < 8 {
		return nil, werrors.New(werrors.PhaseDecode, werrors.KindFormat).
			Section("header").
			Offset(0).
			Detail("module too short: %d bytes, need at least 8", len(data)).
			Cause(ErrTruncated).
			Build()
	}
	_ = r.Skip(4)

	version, _ := r.ReadU32LE()
	if version != Version {
		return nil, werrors.New(werrors.PhaseDecode, werrors.KindFormat).
			Section("header").
			Offset(4).
			Value(version).
			Detail("version %d, only version %d is supported", version, Version).
			Cause(ErrInvalidVersion).
			Build()
	}

	m := &Module{Version: version}
	var bodies []codeBody
	var seen [SectionDataCount + 1]bool

	for !r.EOF() {
		headerStart := r.Position()
		sectionID, _ := r.ReadByte()
		name := SectionName(sectionID)

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, decodeError(name, err)
		}
		if uint64(sectionSize) > uint64(r.Len()) {
			return nil, werrors.New(werrors.PhaseDecode, werrors.KindTruncated).
				Section(name).
				Offset(headerStart).
				Detail("section size %d exceeds remaining %d bytes", sectionSize, r.Len()).
				Cause(ErrTruncated).
				Build()
		}
		sr, _ := r.Sub(int(sectionSize))

		if sectionID != SectionCustom && int(sectionID) < len(seen) {
			if seen[sectionID] {
				return nil, werrors.InvalidData(werrors.PhaseDecode, name, headerStart,
					"duplicate section")
			}
			seen[sectionID] = true
		}

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			bodies, err = parseCodeSection(sr)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = parseDataCountSection(sr, m)
		default:
			Logger().Debug("skipping unknown section",
				zap.Uint8("id", sectionID),
				zap.Uint32("size", sectionSize),
				zap.Int("offset", headerStart))
			continue
		}
		if err != nil {
			return nil, decodeError(name, err)
		}
		if !sr.EOF() {
			return nil, werrors.InvalidData(werrors.PhaseDecode, name, sr.Position(),
				fmt.Sprintf("%d unread bytes at end of section", sr.Len()))
		}
	}

	attachBodies(m, bodies)
	return m, nil
}

// attachBodies pairs code bodies with declared functions by position.
func attachBodies(m *Module, bodies []codeBody) {
	n := min(len(bodies), len(m.Functions))
	for i := 0; i < n; i++ {
		m.Functions[i].Locals = bodies[i].locals
		m.Functions[i].Code = bodies[i].code
		m.Functions[i].CodeOffset = bodies[i].offset
	}
	switch {
	case len(bodies) > len(m.Functions):
		m.OrphanBodies = len(bodies) - len(m.Functions)
		Logger().Warn("code bodies without function declarations",
			zap.Int("bodies", len(bodies)),
			zap.Int("functions", len(m.Functions)))
	case len(bodies) < len(m.Functions) && len(bodies) > 0:
		Logger().Warn("functions without code bodies",
			zap.Int("bodies", len(bodies)),
			zap.Int("functions", len(m.Functions)))
	}
}

// decodeError converts reader and parse failures into a structured decode error.
func decodeError(section string, err error) error {
	var we *werrors.Error
	if errors.As(err, &we) {
		if we.Section == "" {
			we.Section = section
		}
		return we
	}

	var pe *binary.ParseError
	if errors.As(err, &pe) {
		kind := werrors.KindInvalidData
		switch {
		case errors.Is(pe.Err, binary.ErrUnexpectedEnd), errors.Is(pe.Err, binary.ErrCountTooLarge):
			kind = werrors.KindTruncated
		case errors.Is(pe.Err, binary.ErrOverflow):
			kind = werrors.KindOverflow
		}
		return werrors.New(werrors.PhaseDecode, kind).
			Section(section).
			Offset(pe.Position).
			Detail("%v", pe.Err).
			Cause(pe.Err).
			Build()
	}

	return werrors.Wrap(werrors.PhaseDecode, werrors.KindInvalidData, err, section+" section")
}

func invalid(offset int, format string, args ...any) error {
	return werrors.InvalidData(werrors.PhaseDecode, "", offset, fmt.Sprintf(format, args...))
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	start := r.Position()
	name, err := r.ReadName()
	if err != nil {
		// custom sections carry no semantics; a bad one is dropped
		Logger().Debug("skipping malformed custom section", zap.Int("offset", start), zap.Error(err))
		r.ReadRemaining()
		return nil
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: r.ReadRemaining(),
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		start := r.Position()
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return invalid(start, "type %d: expected func type 0x60, got 0x%02x", i, form)
		}
		if m.Types[i].Params, err = readValTypes(r); err != nil {
			return err
		}
		if m.Types[i].Results, err = readValTypes(r); err != nil {
			return err
		}
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadCount(1)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	types := make([]ValType, count)
	for i := range types {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	start := r.Position()
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	t := ValType(b)
	if !t.Valid() {
		return 0, invalid(start, "invalid value type 0x%02x", b)
	}
	return t, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(4)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := range m.Imports {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kindAt := r.Position()
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			limits, err := readLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &limits
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return invalid(kindAt, "import %s.%s: invalid import kind 0x%02x", module, name, kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.Functions = make([]Function, count)
	for i := range m.Functions {
		m.Functions[i].TypeIndex, err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := range m.Tables {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	start := r.Position()
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	switch {
	case count == 0:
		return nil
	case count > 1:
		return werrors.New(werrors.PhaseDecode, werrors.KindUnsupported).
			Offset(start).
			Value(count).
			Detail("multiple memories not supported (found %d)", count).
			Build()
	}
	limits, err := readLimits(r)
	if err != nil {
		return err
	}
	m.Memory = &limits
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: globalType, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		start := r.Position()
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return invalid(start, "export %q: invalid export kind 0x%02x", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if !m.Exports.Add(Export{Name: name, Kind: kind, Idx: idx}) {
			return invalid(start, "duplicate export name %q", name)
		}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := range m.Elements {
		start := r.Position()
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return invalid(start, "invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags, Type: ValFuncRef}

		// Bit 0: passive/declarative (no offset)
		// Bit 1: explicit table index when active, declarative when not
		// Bit 2: expressions instead of function indices
		hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
		hasOffset := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if hasTableIdx {
			elem.TableIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if hasOffset {
			elem.Offset, err = readConstExpr(r)
			if err != nil {
				return err
			}
		}

		// Flags 1, 2, 3: elemkind follows (must be 0x00 for funcref)
		// Flags 5, 6, 7: reftype follows
		if flags&0x03 != 0 {
			at := r.Position()
			if usesExprs {
				t, err := readValType(r)
				if err != nil {
					return err
				}
				if !t.IsRef() {
					return invalid(at, "element reftype must be a reference type, got %s", t)
				}
				elem.Type = t
			} else {
				elem.ElemKind, err = r.ReadByte()
				if err != nil {
					return err
				}
				if elem.ElemKind != 0x00 {
					return invalid(at, "unsupported element kind 0x%02x", elem.ElemKind)
				}
			}
		}

		if usesExprs {
			n, err := r.ReadCount(2)
			if err != nil {
				return err
			}
			elem.Exprs = make([][]byte, n)
			for j := range elem.Exprs {
				elem.Exprs[j], err = readConstExpr(r)
				if err != nil {
					return err
				}
				if idx, ok := refFuncTarget(elem.Exprs[j]); ok {
					elem.FuncIdxs = append(elem.FuncIdxs, idx)
				}
			}
		} else {
			n, err := r.ReadCount(1)
			if err != nil {
				return err
			}
			elem.FuncIdxs = make([]uint32, n)
			for j := range elem.FuncIdxs {
				elem.FuncIdxs[j], err = r.ReadU32()
				if err != nil {
					return err
				}
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader) ([]codeBody, error) {
	count, err := r.ReadCount(2)
	if err != nil {
		return nil, err
	}
	bodies := make([]codeBody, count)
	for i := range bodies {
		bodySize, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if uint64(bodySize) > uint64(r.Len()) {
			return nil, werrors.Truncated("", r.Position(), fmt.Sprintf("body %d of %d bytes", i, bodySize))
		}
		br, _ := r.Sub(int(bodySize))

		localStart := br.Position()
		groups, err := br.ReadCount(2)
		if err != nil {
			return nil, err
		}
		var locals []LocalEntry
		if groups > 0 {
			locals = make([]LocalEntry, groups)
		}
		var total uint64
		for j := range locals {
			n, err := br.ReadU32()
			if err != nil {
				return nil, err
			}
			t, err := readValType(br)
			if err != nil {
				return nil, err
			}
			total += uint64(n)
			if total > math.MaxUint32 {
				return nil, invalid(localStart, "body %d: too many locals", i)
			}
			locals[j] = LocalEntry{Count: n, ValType: t}
		}

		offset := br.Position()
		bodies[i] = codeBody{locals: locals, code: br.ReadRemaining(), offset: offset}
	}
	return bodies, nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := range m.Data {
		start := r.Position()
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return invalid(start, "invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}

		// flags=0: active, memIdx=0, offset, data
		// flags=1: passive, data only
		// flags=2: active, memIdx, offset, data
		if flags == 2 {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if flags != 1 {
			seg.Offset, err = readConstExpr(r)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		if uint64(initLen) > uint64(r.Len()) {
			return werrors.Truncated("", r.Position(), fmt.Sprintf("data segment %d of %d bytes", i, initLen))
		}
		seg.Init, _ = r.ReadBytes(int(initLen))

		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	start := r.Position()
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsMemory64 != 0 {
		return Limits{}, werrors.New(werrors.PhaseDecode, werrors.KindUnsupported).
			Offset(start).
			Detail("64-bit memories are not supported").
			Build()
	}
	if flags > LimitsHasMax|LimitsShared {
		return Limits{}, invalid(start, "invalid limits flags 0x%02x", flags)
	}

	l := Limits{Shared: flags&LimitsShared != 0}
	l.Initial, err = r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}
	// max < initial is left for the analysis layer to report
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	start := r.Position()
	t, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if !t.IsRef() {
		return TableType{}, invalid(start, "table element type must be funcref or externref, got %s", t)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: t, Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	t, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	at := r.Position()
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, invalid(at, "invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: t, Mutable: mut == 1}, nil
}

// readConstExpr consumes a constant expression up to and including its end
// opcode and returns its raw bytes.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		instr, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		if instr.Opcode == OpEnd {
			return r.Since(start), nil
		}
	}
}

// refFuncTarget returns the function index of a "ref.func idx; end" expression.
func refFuncTarget(expr []byte) (uint32, bool) {
	instr, err := ReadInstruction(expr, 0)
	if err != nil || instr.Opcode != OpRefFunc {
		return 0, false
	}
	return instr.Imm.(IndexImm).Idx, true
}
