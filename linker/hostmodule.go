package linker

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm"
	"go.uber.org/zap"
)

// ValueTypes converts value types to their wazero form.
// v128 and funcref cannot cross the host boundary.
func ValueTypes(types []wasm.ValType) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		switch t {
		case wasm.ValI32:
			out[i] = api.ValueTypeI32
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		case wasm.ValExtern:
			out[i] = api.ValueTypeExternref
		default:
			return nil, errors.Unsupported(errors.PhaseLink, fmt.Sprintf("%s at host function boundary", t))
		}
	}
	return out, nil
}

type hostImport struct {
	name string
	ft   *wasm.FuncType
	fn   HostFunction
}

// HostModules instantiates one wazero host module per imported module name
// of m, backed by the functions in l. Module names already present in rt are
// left alone, so a WASI module instantiated beforehand satisfies its imports.
// The returned modules belong to rt and close with it.
func (l *Linker) HostModules(ctx context.Context, rt wazero.Runtime, m *wasm.Module) ([]api.Module, error) {
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseLink, "nil module")
	}

	groups := make(map[string][]hostImport)
	var order []string
	var missing []string
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		if rt.Module(imp.Module) != nil {
			continue
		}
		fn, ok := l.Lookup(imp.Module, imp.Name)
		if !ok {
			missing = append(missing, imp.Module+"#"+imp.Name)
			continue
		}
		if err := checkImportShape(m, imp, fn); err != nil {
			return nil, err
		}
		if _, seen := groups[imp.Module]; !seen {
			order = append(order, imp.Module)
		}
		groups[imp.Module] = append(groups[imp.Module], hostImport{
			name: imp.Name,
			ft:   m.TypeAt(imp.Desc.TypeIdx),
			fn:   fn,
		})
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingImportsError(missing)
	}

	mods := make([]api.Module, 0, len(order))
	for _, name := range order {
		mod, err := buildHostModule(ctx, rt, name, groups[name])
		if err != nil {
			for _, done := range slices.Backward(mods) {
				_ = done.Close(ctx)
			}
			return nil, errors.Wrap(errors.PhaseLink, errors.KindInstantiation, err,
				fmt.Sprintf("host module %q", name))
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

func buildHostModule(ctx context.Context, rt wazero.Runtime, name string, funcs []hostImport) (api.Module, error) {
	builder := rt.NewHostModuleBuilder(name)
	exported := make(map[string]bool, len(funcs))
	for _, f := range funcs {
		// A module may import the same name twice.
		if exported[f.name] {
			continue
		}
		exported[f.name] = true

		params, err := ValueTypes(f.ft.Params)
		if err != nil {
			return nil, err
		}
		results, err := ValueTypes(f.ft.Results)
		if err != nil {
			return nil, err
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(goFunc(ImportKey(name, f.name), f.ft, f.fn), params, results).
			Export(f.name)
	}
	Logger().Debug("instantiating host module", zap.String("module", name), zap.Int("functions", len(exported)))
	return builder.Instantiate(ctx)
}

// goFunc adapts fn to wazero's stack calling convention. Errors are raised
// as panics, which wazero turns into a trap returned from the guest call.
func goFunc(key string, ft *wasm.FuncType, fn HostFunction) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]wasm.Value, len(ft.Params))
		for i, t := range ft.Params {
			v, err := wasm.FromRaw(t, stack[i])
			if err != nil {
				panic(errors.Wrap(errors.PhaseCall, errors.KindTypeMismatch, err, key))
			}
			args[i] = v
		}

		results, err := invoke(key, fn, args)
		if err != nil {
			panic(err)
		}
		for i, v := range results {
			stack[i] = v.Raw()
		}
	}
}
