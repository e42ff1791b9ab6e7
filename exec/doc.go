// Package exec runs functions of a decoded module.
//
// The Executor interface separates callers from the engine. NewWazero
// returns the wazero-backed implementation: imported functions are
// dispatched straight to the linker, and local functions are compiled and
// run in a fresh wazero runtime whose host modules come from the linker.
//
//	ex, _ := exec.NewWazero(ctx, exec.DefaultConfig())
//	defer ex.Close(ctx)
//	out, err := ex.Invoke(ctx, mod, lk, idx, []wasm.Value{wasm.I32(5), wasm.I32(3)})
//
// Compiled code is cached across invocations of the same executor.
package exec
