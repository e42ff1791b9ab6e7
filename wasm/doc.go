// Package wasm decodes and encodes WebAssembly binary modules.
//
// The decoder targets the WebAssembly 1.0 core format plus the pieces of
// bulk memory and reference types that show up in real toolchain output
// (element flags 0-7, passive data, the data count section). Instruction
// decoding also understands the 0xFC, 0xFD and 0xFE prefixes and the
// exception handling opcodes so that analysis can walk modern code.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    var werr *errors.Error
//	    if stderrors.As(err, &werr) {
//	        fmt.Println(werr.Section, werr.Offset)
//	    }
//	}
//
// ParseModule is lenient about cross-section consistency: functions without
// bodies and bodies without declarations are both tolerated and recorded.
// Validate applies the structural checks an engine would:
//
//	m, err := wasm.ParseModuleValidate(data)
//
// # Module Structure
//
//	m.Types          []FuncType      // function signatures
//	m.Imports        []Import        // imports of every kind
//	m.Functions      []Function      // defined functions with locals and code
//	m.Tables         []TableType
//	m.Memory         *Limits         // nil when no memory is defined
//	m.Globals        []Global
//	m.Exports        Exports         // name-keyed, declaration ordered
//	m.Start          *uint32
//	m.Elements       []Element
//	m.Data           []DataSegment
//	m.CustomSections []CustomSection
//
// Function indices count imported functions first. Function(idx) returns
// nil for an imported index; FuncType(idx) works for both.
//
// # Instructions
//
//	instrs, err := wasm.DecodeInstructions(fn.Code)
//	for _, in := range instrs {
//	    if target, ok := in.CallTarget(); ok {
//	        fmt.Println("calls", target)
//	    }
//	}
//
// On malformed code DecodeInstructions returns the instructions decoded so
// far together with the error.
//
// # Values
//
// Value carries a typed WebAssembly value. Raw and FromRaw convert to and
// from the uint64 stack encoding used by engines:
//
//	v := wasm.I32(-1)
//	raw := v.Raw()
//	back := wasm.FromRaw(wasm.ValI32, raw)
//
// # Encoding
//
//	out := m.Encode()
//
// Sections are written in canonical order. Decoding the output yields an
// equivalent module.
package wasm
