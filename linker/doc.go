// Package linker holds the host functions a WebAssembly module can import.
//
// # Main Types
//
//   - Linker: a name-keyed table of host functions
//   - HostFunction: a callable with a fixed parameter and result count
//   - Typed: optional value types checked on every call
//
// # Naming
//
// Imports are registered under ImportKey(module, name), which is
// "module#name". Lookup falls back to the bare name when
// Options.AllowBareNames is set, so "proc_exit" satisfies
// "wasi_snapshot_preview1#proc_exit".
//
// # Thread Safety
//
// Linker is safe for concurrent use. Registration is expected during setup
// and lookups during execution.
//
// # Example
//
//	lk := linker.NewWithDefaults()
//	lk.Register("env#add", linker.NewTypedFunc(add,
//		[]wasm.ValType{wasm.ValI32, wasm.ValI32},
//		[]wasm.ValType{wasm.ValI32}))
//	out, err := lk.Call("env#add", []wasm.Value{wasm.I32(5), wasm.I32(3)})
package linker
