// Package wasmscope decodes and analyzes WebAssembly binary modules.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmscope/
//	├── wasm/            Module data model, binary decoder and encoder
//	├── flow/            Block, loop and else matching over function bodies
//	├── issues/          Heuristic checks reporting suspicious module shapes
//	├── linker/          Host function registry and wazero host modules
//	├── exec/            Function invocation on wazero
//	├── report/          Terminal rendering of modules and findings
//	├── errors/          Structured error types for debugging
//	└── cmd/wasmscope/   Command-line front end
//
// # Quick Start
//
// Decode a module and list its findings:
//
//	mod, err := wasm.ParseModule(data)
//	if err != nil {
//		return err
//	}
//	for _, is := range issues.Sorted(issues.Detect(mod)) {
//		fmt.Println(is.Severity, is.Title)
//	}
//
// Analyze control flow of one function:
//
//	info, err := flow.AnalyzeFunction(mod, idx)
//	end, ok := info.BranchTarget(blockStart)
//
// # Error Handling
//
// Errors are *errors.Error values carrying the phase (decode, validate,
// analyze, link, call, execute, load), a kind, and for decode failures the
// section name and absolute byte offset.
package wasmscope
