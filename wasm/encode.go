package wasm

import (
	"github.com/wippyai/wasmscope/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format.
// Sections are written in canonical order; custom sections go last.
// Functions without code are encoded with an empty body ending in end.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	// Magic number and version
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec.WriteU32(imp.Desc.TypeIdx)
			case KindTable:
				if imp.Desc.Table != nil {
					writeTableType(sec, *imp.Desc.Table)
				}
			case KindMemory:
				if imp.Desc.Memory != nil {
					writeLimits(sec, *imp.Desc.Memory)
				}
			case KindGlobal:
				if imp.Desc.Global != nil {
					writeGlobalType(sec, *imp.Desc.Global)
				}
			}
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	if len(m.Functions) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Functions)))
		for _, fn := range m.Functions {
			sec.WriteU32(fn.TypeIndex)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if len(m.Tables) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
		writeSection(w, SectionTable, sec.Bytes())
	}

	if m.Memory != nil {
		sec := binary.NewWriter()
		sec.WriteU32(1)
		writeLimits(sec, *m.Memory)
		writeSection(w, SectionMemory, sec.Bytes())
	}

	if len(m.Globals) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.WriteBytes(g.Init)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	if m.Exports.Len() > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(m.Exports.Len()))
		for _, exp := range m.Exports.List() {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}

	if len(m.Elements) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Elements)))
		for _, elem := range m.Elements {
			writeElement(sec, elem)
		}
		writeSection(w, SectionElement, sec.Bytes())
	}

	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, sec.Bytes())
	}

	if len(m.Functions) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Functions)))
		for _, fn := range m.Functions {
			body := binary.NewWriter()
			body.WriteU32(uint32(len(fn.Locals)))
			for _, l := range fn.Locals {
				body.WriteU32(l.Count)
				body.Byte(byte(l.ValType))
			}
			if len(fn.Code) == 0 {
				body.Byte(OpEnd)
			} else {
				body.WriteBytes(fn.Code)
			}
			sec.WriteSized(body.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, seg := range m.Data {
			sec.WriteU32(seg.Flags)
			if seg.Flags == 2 {
				sec.WriteU32(seg.MemIdx)
			}
			if seg.Flags != 1 {
				sec.WriteBytes(seg.Offset)
			}
			sec.WriteSized(seg.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteSized(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	w.Byte(flags)
	w.WriteU32(l.Initial)
	if l.Max != nil {
		w.WriteU32(*l.Max)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func writeElement(w *binary.Writer, elem Element) {
	flags := elem.Flags
	w.WriteU32(flags)

	if flags&0x02 != 0 && flags&0x01 == 0 {
		w.WriteU32(elem.TableIdx)
	}
	if flags&0x01 == 0 {
		w.WriteBytes(elem.Offset)
	}
	usesExprs := flags&0x04 != 0
	if flags&0x03 != 0 {
		if usesExprs {
			w.Byte(byte(elem.Type))
		} else {
			w.Byte(elem.ElemKind)
		}
	}

	if usesExprs {
		w.WriteU32(uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			w.WriteBytes(expr)
		}
		return
	}
	w.WriteU32(uint32(len(elem.FuncIdxs)))
	for _, idx := range elem.FuncIdxs {
		w.WriteU32(idx)
	}
}

// ConstI32 returns the constant expression "i32.const v; end".
func ConstI32(v int32) []byte {
	return append(AppendS32([]byte{OpI32Const}, v), OpEnd)
}

// ConstI64 returns the constant expression "i64.const v; end".
func ConstI64(v int64) []byte {
	return append(AppendS64([]byte{OpI64Const}, v), OpEnd)
}
