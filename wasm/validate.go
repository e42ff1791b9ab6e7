package wasm

import (
	werrors "github.com/wippyai/wasmscope/errors"
)

// MaxPages is the largest page count a 32-bit linear memory can declare.
const MaxPages = 65536

// Validate checks the module for structural validity: index references,
// code/function pairing, data count and memory limits. ParseModule is
// deliberately lenient, so callers that are about to execute a module
// should validate it first.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypeIndices,
		m.validateFunctionIndices,
		m.validateExports,
		m.validateCodeCount,
		m.validateDataCount,
		m.validateMemoryLimits,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func invalidModule(format string, args ...any) error {
	return werrors.New(werrors.PhaseValidate, werrors.KindInvalidData).Detail(format, args...).Build()
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, fn := range m.Functions {
		if fn.TypeIndex >= numTypes {
			return invalidModule("function %d references invalid type index %d (%d types)", i, fn.TypeIndex, numTypes)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return invalidModule("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())

	if m.Start != nil {
		if *m.Start >= numFuncs {
			return invalidModule("start function index %d exceeds function count %d", *m.Start, numFuncs)
		}
		if ft := m.FuncType(*m.Start); ft != nil && (len(ft.Params) > 0 || len(ft.Results) > 0) {
			return invalidModule("start function %d must have type () -> void, has %s", *m.Start, ft)
		}
	}

	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return invalidModule("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	limits := map[byte]uint32{
		KindFunc:   uint32(m.NumFuncs()),
		KindTable:  uint32(m.countImports(KindTable) + len(m.Tables)),
		KindMemory: uint32(m.countImports(KindMemory)),
		KindGlobal: uint32(m.NumImportedGlobals() + len(m.Globals)),
	}
	if m.Memory != nil {
		limits[KindMemory]++
	}
	for _, exp := range m.Exports.List() {
		if exp.Idx >= limits[exp.Kind] {
			return invalidModule("export %q references invalid %s index %d", exp.Name, KindName(exp.Kind), exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if m.OrphanBodies > 0 {
		return invalidModule("%d code bodies have no function declaration", m.OrphanBodies)
	}
	for i, fn := range m.Functions {
		if len(fn.Code) == 0 {
			return invalidModule("function %d has no code body", m.NumImportedFuncs()+i)
		}
		if fn.Code[len(fn.Code)-1] != OpEnd {
			return invalidModule("function %d body does not end with end", m.NumImportedFuncs()+i)
		}
	}
	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return invalidModule("data count %d does not match %d data segments", *m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	if m.Memory == nil {
		return nil
	}
	if m.Memory.Initial > MaxPages {
		return invalidModule("memory initial %d pages exceeds %d", m.Memory.Initial, MaxPages)
	}
	if m.Memory.Max != nil {
		if *m.Memory.Max > MaxPages {
			return invalidModule("memory max %d pages exceeds %d", *m.Memory.Max, MaxPages)
		}
		if *m.Memory.Max < m.Memory.Initial {
			return invalidModule("memory max %d is below initial %d", *m.Memory.Max, m.Memory.Initial)
		}
	}
	return nil
}
