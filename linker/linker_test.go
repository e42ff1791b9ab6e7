package linker_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/linker"
	"github.com/wippyai/wasmscope/wasm"
)

var i32x2 = []wasm.ValType{wasm.ValI32, wasm.ValI32}
var i32x1 = []wasm.ValType{wasm.ValI32}

func add(args []wasm.Value) ([]wasm.Value, error) {
	return []wasm.Value{wasm.I32(args[0].I32() + args[1].I32())}, nil
}

func kindOf(t *testing.T, err error) errors.Kind {
	t.Helper()
	var werr *errors.Error
	if !stderrors.As(err, &werr) {
		t.Fatalf("expected *errors.Error, got %T: %v", err, err)
	}
	return werr.Kind
}

func TestRegisterAndCall(t *testing.T) {
	lk := linker.NewWithDefaults()
	if err := lk.Register("add", linker.NewFunc(add, 2, 1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !lk.Has("add") || lk.Len() != 1 {
		t.Fatalf("Has = %v, Len = %d", lk.Has("add"), lk.Len())
	}

	out, err := lk.Call("add", []wasm.Value{wasm.I32(5), wasm.I32(3)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out) != 1 || out[0].I32() != 8 {
		t.Errorf("Call = %v, want [i32:8]", out)
	}
}

func TestRegisterNil(t *testing.T) {
	lk := linker.NewWithDefaults()
	err := lk.Register("x", nil)
	if kindOf(t, err) != errors.KindInvalidInput {
		t.Errorf("got %v", err)
	}
	if lk.Len() != 0 {
		t.Error("nil function was stored")
	}
}

func TestRegisterReplaces(t *testing.T) {
	lk := linker.NewWithDefaults()
	one := func([]wasm.Value) ([]wasm.Value, error) { return []wasm.Value{wasm.I32(1)}, nil }
	two := func([]wasm.Value) ([]wasm.Value, error) { return []wasm.Value{wasm.I32(2)}, nil }
	_ = lk.Register("f", linker.NewFunc(one, 0, 1))
	_ = lk.Register("f", linker.NewFunc(two, 0, 1))

	out, err := lk.Call("f", nil)
	if err != nil || out[0].I32() != 2 {
		t.Errorf("Call = %v, %v; want last registration", out, err)
	}
	if lk.Len() != 1 {
		t.Errorf("Len = %d, want 1", lk.Len())
	}
}

func TestCallErrors(t *testing.T) {
	lk := linker.NewWithDefaults()
	_ = lk.Register("add", linker.NewTypedFunc(add, i32x2, i32x1))
	_ = lk.Register("panics", linker.NewFunc(func([]wasm.Value) ([]wasm.Value, error) {
		panic("boom")
	}, 0, 0))
	_ = lk.Register("fails", linker.NewFunc(func([]wasm.Value) ([]wasm.Value, error) {
		return nil, fmt.Errorf("disk full")
	}, 0, 0))
	_ = lk.Register("short", linker.NewFunc(func([]wasm.Value) ([]wasm.Value, error) {
		return nil, nil
	}, 0, 1))
	_ = lk.Register("badresult", linker.NewTypedFunc(func([]wasm.Value) ([]wasm.Value, error) {
		return []wasm.Value{wasm.I64(1)}, nil
	}, nil, i32x1))

	tests := []struct {
		name string
		fn   string
		args []wasm.Value
		kind errors.Kind
	}{
		{name: "not found", fn: "missing", kind: errors.KindNotFound},
		{name: "too few args", fn: "add", args: []wasm.Value{wasm.I32(1)}, kind: errors.KindArityMismatch},
		{name: "too many args", fn: "add", args: []wasm.Value{wasm.I32(1), wasm.I32(2), wasm.I32(3)}, kind: errors.KindArityMismatch},
		{name: "wrong arg type", fn: "add", args: []wasm.Value{wasm.I32(1), wasm.F64(2)}, kind: errors.KindTypeMismatch},
		{name: "panic", fn: "panics", kind: errors.KindHostPanic},
		{name: "host error", fn: "fails", kind: errors.KindHostError},
		{name: "missing result", fn: "short", kind: errors.KindArityMismatch},
		{name: "wrong result type", fn: "badresult", kind: errors.KindTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := lk.Call(tt.fn, tt.args)
			if err == nil {
				t.Fatalf("expected error, got %v", out)
			}
			if got := kindOf(t, err); got != tt.kind {
				t.Errorf("kind = %s, want %s (%v)", got, tt.kind, err)
			}
		})
	}
}

func TestHostErrorUnwraps(t *testing.T) {
	sentinel := stderrors.New("disk full")
	lk := linker.NewWithDefaults()
	_ = lk.Register("fails", linker.NewFunc(func([]wasm.Value) ([]wasm.Value, error) {
		return nil, sentinel
	}, 0, 0))

	_, err := lk.Call("fails", nil)
	if !stderrors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
}

func TestNames(t *testing.T) {
	lk := linker.NewWithDefaults()
	for _, name := range []string{"env#b", "env#a", "c"} {
		_ = lk.Register(name, linker.NewFunc(add, 2, 1))
	}
	want := []string{"c", "env#a", "env#b"}
	if got := lk.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}

	_ = lk.Close()
	if lk.Len() != 0 {
		t.Error("Close did not clear registrations")
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		register string
		bare     bool
		found    bool
	}{
		{name: "qualified", register: "wasi_snapshot_preview1#proc_exit", bare: false, found: true},
		{name: "bare allowed", register: "proc_exit", bare: true, found: true},
		{name: "bare disallowed", register: "proc_exit", bare: false, found: false},
		{name: "other module", register: "env#proc_exit", bare: true, found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lk := linker.New(linker.Options{AllowBareNames: tt.bare})
			_ = lk.Register(tt.register, linker.NewFunc(add, 2, 1))
			_, ok := lk.Lookup("wasi_snapshot_preview1", "proc_exit")
			if ok != tt.found {
				t.Errorf("Lookup found = %v, want %v", ok, tt.found)
			}
		})
	}
}

func TestImportKey(t *testing.T) {
	if got := linker.ImportKey("env", "add"); got != "env#add" {
		t.Errorf("ImportKey = %q", got)
	}
	if got := linker.ImportKey("", "add"); got != "add" {
		t.Errorf("ImportKey with empty module = %q", got)
	}
}

func importingModule() *wasm.Module {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: i32x2, Results: i32x1}},
		Imports: []wasm.Import{
			{Module: "env", Name: "add", Desc: wasm.ImportDesc{Kind: wasm.KindFunc}},
			{Module: "env", Name: "sub", Desc: wasm.ImportDesc{Kind: wasm.KindFunc}},
			{Module: "host", Name: "mul", Desc: wasm.ImportDesc{Kind: wasm.KindFunc}},
			{Module: "env", Name: "memory", Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.Limits{Initial: 1}}},
		},
	}
	return m
}

func TestResolve(t *testing.T) {
	lk := linker.NewWithDefaults()
	_ = lk.RegisterImport("env", "add", linker.NewTypedFunc(add, i32x2, i32x1))

	err := lk.Resolve(importingModule())
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("expected MissingImportsError, got %v", err)
	}
	want := []string{"env#sub", "host#mul"}
	if got := missing.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("missing = %v, want %v", got, want)
	}
	if !strings.Contains(err.Error(), "missing 2 host function") {
		t.Errorf("message = %q", err.Error())
	}

	_ = lk.RegisterImport("env", "sub", linker.NewFunc(add, 2, 1))
	_ = lk.RegisterImport("host", "mul", linker.NewFunc(add, 2, 1))
	if err := lk.Resolve(importingModule()); err != nil {
		t.Errorf("Resolve after registering all: %v", err)
	}
}

func TestResolveSignatureMismatch(t *testing.T) {
	m := importingModule()
	m.Imports = m.Imports[:1]

	tests := []struct {
		name string
		fn   linker.HostFunction
		kind errors.Kind
	}{
		{name: "param count", fn: linker.NewFunc(add, 1, 1), kind: errors.KindArityMismatch},
		{name: "result count", fn: linker.NewFunc(add, 2, 0), kind: errors.KindArityMismatch},
		{name: "value types", fn: linker.NewTypedFunc(add, []wasm.ValType{wasm.ValI64, wasm.ValI32}, i32x1), kind: errors.KindTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lk := linker.NewWithDefaults()
			_ = lk.RegisterImport("env", "add", tt.fn)
			if got := kindOf(t, lk.Resolve(m)); got != tt.kind {
				t.Errorf("kind = %s, want %s", got, tt.kind)
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	lk := linker.NewWithDefaults()
	_ = lk.Register("add", linker.NewFunc(add, 2, 1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = lk.Register(fmt.Sprintf("f%d", i), linker.NewFunc(add, 2, 1))
			for j := 0; j < 100; j++ {
				if _, err := lk.Call("add", []wasm.Value{wasm.I32(1), wasm.I32(2)}); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	if lk.Len() != 9 {
		t.Errorf("Len = %d, want 9", lk.Len())
	}
}

// callerModule imports env.add and exports "run", which forwards its two
// arguments to the import.
func callerModule() *wasm.Module {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: i32x2, Results: i32x1}},
		Imports: []wasm.Import{
			{Module: "env", Name: "add", Desc: wasm.ImportDesc{Kind: wasm.KindFunc}},
		},
		Functions: []wasm.Function{
			{TypeIndex: 0, Code: []byte{0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0B}},
		},
	}
	m.Exports.Add(wasm.Export{Name: "run", Kind: wasm.KindFunc, Idx: 1})
	return m
}

func TestHostModules(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	lk := linker.NewWithDefaults()
	_ = lk.RegisterImport("env", "add", linker.NewTypedFunc(add, i32x2, i32x1))

	m := callerModule()
	mods, err := lk.HostModules(ctx, rt, m)
	if err != nil {
		t.Fatalf("HostModules: %v", err)
	}
	if len(mods) != 1 || mods[0].Name() != "env" {
		t.Fatalf("modules = %v", mods)
	}

	inst, err := rt.Instantiate(ctx, m.Encode())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	out, err := inst.ExportedFunction("run").Call(ctx, 5, 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || int32(uint32(out[0])) != 8 {
		t.Errorf("run = %v, want [8]", out)
	}
}

func TestHostModulesNegativeValues(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	lk := linker.NewWithDefaults()
	_ = lk.Register("add", linker.NewTypedFunc(add, i32x2, i32x1))

	m := callerModule()
	if _, err := lk.HostModules(ctx, rt, m); err != nil {
		t.Fatalf("HostModules: %v", err)
	}
	inst, err := rt.Instantiate(ctx, m.Encode())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	neg := int32(-10)
	out, err := inst.ExportedFunction("run").Call(ctx, uint64(uint32(neg)), 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := int32(uint32(out[0])); got != -7 {
		t.Errorf("run = %d, want -7", got)
	}
}

func TestHostModulesHostError(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	lk := linker.NewWithDefaults()
	_ = lk.RegisterImport("env", "add", linker.NewTypedFunc(func([]wasm.Value) ([]wasm.Value, error) {
		return nil, fmt.Errorf("boom")
	}, i32x2, i32x1))

	m := callerModule()
	if _, err := lk.HostModules(ctx, rt, m); err != nil {
		t.Fatalf("HostModules: %v", err)
	}
	inst, err := rt.Instantiate(ctx, m.Encode())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	_, err = inst.ExportedFunction("run").Call(ctx, 1, 2)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected host error to surface, got %v", err)
	}
}

func TestHostModulesMissing(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	lk := linker.NewWithDefaults()
	_, err := lk.HostModules(ctx, rt, callerModule())
	if !stderrors.Is(err, &errors.MissingImportsError{}) {
		t.Errorf("expected missing imports, got %v", err)
	}
}

func TestHostModulesSkipsExisting(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(a, b int32) int32 { return a * b }).
		Export("add").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("prebuilt env: %v", err)
	}

	lk := linker.NewWithDefaults()
	mods, err := lk.HostModules(ctx, rt, callerModule())
	if err != nil {
		t.Fatalf("HostModules: %v", err)
	}
	if len(mods) != 0 {
		t.Errorf("expected no new modules, got %d", len(mods))
	}
}

func TestValueTypes(t *testing.T) {
	if _, err := linker.ValueTypes([]wasm.ValType{wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64, wasm.ValExtern}); err != nil {
		t.Errorf("supported types: %v", err)
	}
	if _, err := linker.ValueTypes([]wasm.ValType{wasm.ValV128}); kindOf(t, err) != errors.KindUnsupported {
		t.Errorf("v128: %v", err)
	}
}
