package linker

import (
	"github.com/wippyai/wasmscope/wasm"
)

// HostFunction is a function provided by the host and called by WebAssembly code.
type HostFunction interface {
	// Call runs the function. args has exactly as many values as Signature reports.
	Call(args []wasm.Value) ([]wasm.Value, error)
	// Signature returns the parameter and result counts.
	Signature() (params, results int)
}

// Typed is implemented by host functions that declare value types.
// The linker rejects arguments and results of the wrong type.
type Typed interface {
	ParamTypes() []wasm.ValType
	ResultTypes() []wasm.ValType
}

// Func is the Go signature of a host function body.
type Func func(args []wasm.Value) ([]wasm.Value, error)

type closureFunc struct {
	fn      Func
	params  int
	results int
}

// NewFunc wraps fn as an untyped host function with the given arity.
// Argument count is checked by the linker; value types are not.
func NewFunc(fn Func, params, results int) HostFunction {
	return &closureFunc{fn: fn, params: params, results: results}
}

func (f *closureFunc) Call(args []wasm.Value) ([]wasm.Value, error) {
	return f.fn(args)
}

func (f *closureFunc) Signature() (int, int) {
	return f.params, f.results
}

type typedFunc struct {
	fn      Func
	params  []wasm.ValType
	results []wasm.ValType
}

// NewTypedFunc wraps fn as a host function with declared parameter and
// result types.
func NewTypedFunc(fn Func, params, results []wasm.ValType) HostFunction {
	return &typedFunc{fn: fn, params: params, results: results}
}

func (f *typedFunc) Call(args []wasm.Value) ([]wasm.Value, error) {
	return f.fn(args)
}

func (f *typedFunc) Signature() (int, int) {
	return len(f.params), len(f.results)
}

func (f *typedFunc) ParamTypes() []wasm.ValType  { return f.params }
func (f *typedFunc) ResultTypes() []wasm.ValType { return f.results }

// FuncOf builds a typed host function from a module's declared function type.
// It is how imports are given a stub or test double with the right shape.
func FuncOf(ft wasm.FuncType, fn Func) HostFunction {
	return NewTypedFunc(fn, ft.Params, ft.Results)
}
