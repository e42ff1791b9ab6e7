package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/linker"
	"github.com/wippyai/wasmscope/wasm"
)

// resolveFunc accepts an export name or a decimal function index.
func resolveFunc(m *wasm.Module, arg string) (uint32, error) {
	if idx, ok := m.ExportedFunction(arg); ok {
		return idx, nil
	}
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, errors.NotFound(errors.PhaseExecute, "function", arg)
	}
	idx := uint32(n)
	if int(idx) >= m.NumFuncs() {
		return 0, errors.NotFound(errors.PhaseExecute, "function", arg)
	}
	return idx, nil
}

// parseValue converts command-line text to a value of type t.
// Integers accept a 0x prefix and negative numbers; references accept
// "null" or a handle.
func parseValue(t wasm.ValType, s string) (wasm.Value, error) {
	s = strings.TrimSpace(s)
	switch t {
	case wasm.ValI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return wasm.I32(int32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return wasm.Value{}, fmt.Errorf("invalid i32 %q", s)
		}
		return wasm.I32(int32(uint32(v))), nil
	case wasm.ValI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return wasm.I64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return wasm.Value{}, fmt.Errorf("invalid i64 %q", s)
		}
		return wasm.I64(int64(v)), nil
	case wasm.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return wasm.Value{}, fmt.Errorf("invalid f32 %q", s)
		}
		return wasm.F32(float32(v)), nil
	case wasm.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return wasm.Value{}, fmt.Errorf("invalid f64 %q", s)
		}
		return wasm.F64(v), nil
	case wasm.ValExtern, wasm.ValFuncRef:
		if s == "null" {
			return wasm.NullRef(t), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return wasm.Value{}, fmt.Errorf("invalid %s %q", t, s)
		}
		if t == wasm.ValFuncRef {
			return wasm.FuncRef(uint32(v)), nil
		}
		return wasm.ExternRef(v), nil
	}
	return wasm.Value{}, errors.Unsupported(errors.PhaseExecute, fmt.Sprintf("%s arguments", t))
}

func parseArgs(ft *wasm.FuncType, args []string) ([]wasm.Value, error) {
	if ft == nil {
		return nil, errors.InvalidInput(errors.PhaseExecute, "function has no valid type")
	}
	if len(args) != len(ft.Params) {
		return nil, errors.ArityMismatch(errors.PhaseExecute, "call", "arguments", len(ft.Params), len(args))
	}
	vals := make([]wasm.Value, len(args))
	for i, s := range args {
		v, err := parseValue(ft.Params[i], s)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// stubImports registers a host function returning zero values for every
// function import of m the linker cannot resolve. WASI imports are left to
// the executor when skipWASI is set.
func stubImports(lk *linker.Linker, m *wasm.Module, skipWASI bool, onCall func(key string, args []wasm.Value)) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		if skipWASI && imp.Module == wasiModule {
			continue
		}
		if _, ok := lk.Lookup(imp.Module, imp.Name); ok {
			continue
		}
		ft := m.TypeAt(imp.Desc.TypeIdx)
		if ft == nil {
			continue
		}
		key := linker.ImportKey(imp.Module, imp.Name)
		results := ft.Results
		_ = lk.Register(key, linker.FuncOf(*ft, func(args []wasm.Value) ([]wasm.Value, error) {
			if onCall != nil {
				onCall(key, args)
			}
			out := make([]wasm.Value, len(results))
			for i, t := range results {
				out[i] = wasm.Zero(t)
			}
			return out, nil
		}))
		n++
	}
	return n
}
