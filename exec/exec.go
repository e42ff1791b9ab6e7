package exec

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/linker"
	"github.com/wippyai/wasmscope/wasm"
	"go.uber.org/zap"
)

// WASIModule is the import module name served by wazero's WASI implementation.
const WASIModule = wasi_snapshot_preview1.ModuleName

// invokeExport is the export name given to the function being invoked.
const invokeExport = "__wasmscope_invoke"

// Executor runs a function of a decoded module.
type Executor interface {
	// Invoke calls function funcIdx of m with args. Host imports are
	// provided by lk.
	Invoke(ctx context.Context, m *wasm.Module, lk *linker.Linker, funcIdx uint32, args []wasm.Value) ([]wasm.Value, error)
	Close(ctx context.Context) error
}

// Config holds configuration for executor creation
type Config struct {
	// Stdout and Stderr receive WASI output. nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Args are the WASI program arguments, including the program name.
	Args []string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableWASI serves wasi_snapshot_preview1 imports that the linker
	// does not provide.
	EnableWASI bool
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{EnableWASI: true}
}

// Wazero implements Executor on the wazero runtime.
type Wazero struct {
	cache  wazero.CompilationCache
	rtCfg  wazero.RuntimeConfig
	cfg    Config
	closed atomic.Bool
}

var _ Executor = (*Wazero)(nil)

// NewWazero creates a wazero-backed executor.
func NewWazero(ctx context.Context, cfg Config) (*Wazero, error) {
	cache := wazero.NewCompilationCache()
	rtCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithCloseOnContextDone(true).
		WithCoreFeatures(api.CoreFeaturesV2)
	if cfg.MemoryLimitPages > 0 {
		if cfg.MemoryLimitPages > wasm.MaxPages {
			return nil, stderrors.Join(
				errors.InvalidInput(errors.PhaseExecute, fmt.Sprintf("memory limit %d exceeds %d pages", cfg.MemoryLimitPages, wasm.MaxPages)),
				cache.Close(ctx))
		}
		rtCfg = rtCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Wazero{cache: cache, rtCfg: rtCfg, cfg: cfg}, nil
}

// Close releases the compilation cache. Invoke fails afterwards.
func (e *Wazero) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.cache.Close(ctx)
}

// Invoke calls function funcIdx of m. Imported functions go straight to lk.
// Local functions run in a runtime created for this call, which is closed
// before Invoke returns.
func (e *Wazero) Invoke(ctx context.Context, m *wasm.Module, lk *linker.Linker, funcIdx uint32, args []wasm.Value) ([]wasm.Value, error) {
	if e.closed.Load() {
		return nil, errors.InvalidInput(errors.PhaseExecute, "executor is closed")
	}
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseExecute, "nil module")
	}

	ft := m.FuncType(funcIdx)
	if ft == nil {
		return nil, errors.NotFound(errors.PhaseExecute, "function", fmt.Sprint(funcIdx))
	}
	name := funcName(m, funcIdx)
	if err := checkArgs(name, ft, args); err != nil {
		return nil, err
	}

	if imp := m.ImportedFunc(funcIdx); imp != nil {
		if lk == nil {
			return nil, errors.NotFound(errors.PhaseCall, "host function", linker.ImportKey(imp.Module, imp.Name))
		}
		Logger().Debug("dispatching imported function to linker",
			zap.Uint32("func", funcIdx), zap.String("module", imp.Module), zap.String("name", imp.Name))
		return lk.CallImport(imp.Module, imp.Name, args)
	}

	if lk == nil {
		lk = linker.NewWithDefaults()
	}
	return e.invokeLocal(ctx, m, lk, funcIdx, name, ft, args)
}

func (e *Wazero) invokeLocal(ctx context.Context, m *wasm.Module, lk *linker.Linker, funcIdx uint32, name string, ft *wasm.FuncType, args []wasm.Value) ([]wasm.Value, error) {
	if _, err := linker.ValueTypes(ft.Params); err != nil {
		return nil, err
	}
	if _, err := linker.ValueTypes(ft.Results); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	target, export := withInvokeExport(m, funcIdx)

	rt := wazero.NewRuntimeWithConfig(ctx, e.rtCfg)
	defer rt.Close(ctx)

	if e.needsWASI(m, lk) {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return nil, errors.Wrap(errors.PhaseExecute, errors.KindInstantiation, err, "instantiate WASI")
		}
		Logger().Debug("WASI preview1 instantiated")
	}

	if _, err := lk.HostModules(ctx, rt, target); err != nil {
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, target.Encode())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseExecute, errors.KindInstantiation, err, "compile module")
	}

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithArgs(e.cfg.Args...)
	if e.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(e.cfg.Stdout)
	}
	if e.cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(e.cfg.Stderr)
	}

	inst, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if cerr := callError(ctx, name, err); isGuestExit(cerr) {
			return nil, cerr
		}
		return nil, errors.Instantiation(err)
	}

	fn := inst.ExportedFunction(export)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseExecute, "export", export)
	}

	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Raw()
	}

	Logger().Debug("invoking function", zap.String("name", name), zap.Int("args", len(args)))
	out, err := fn.Call(ctx, raw...)
	if err != nil {
		return nil, callError(ctx, name, err)
	}

	results := make([]wasm.Value, len(ft.Results))
	for i, t := range ft.Results {
		v, err := wasm.FromRaw(t, out[i])
		if err != nil {
			return nil, errors.Wrap(errors.PhaseExecute, errors.KindUnsupported, err, name)
		}
		results[i] = v
	}
	return results, nil
}

// needsWASI reports whether m imports WASI functions the linker cannot serve.
func (e *Wazero) needsWASI(m *wasm.Module, lk *linker.Linker) bool {
	if !e.cfg.EnableWASI {
		return false
	}
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc || imp.Module != WASIModule {
			continue
		}
		if _, ok := lk.Lookup(imp.Module, imp.Name); !ok {
			return true
		}
	}
	return false
}

// withInvokeExport returns a shallow copy of m that exports funcIdx under a
// name not used by any existing export.
func withInvokeExport(m *wasm.Module, funcIdx uint32) (*wasm.Module, string) {
	name := invokeExport
	for i := 1; ; i++ {
		if _, taken := m.Exports.Get(name); !taken {
			break
		}
		name = fmt.Sprintf("%s_%d", invokeExport, i)
	}

	cp := *m
	cp.Exports = m.Exports.Clone()
	cp.Exports.Add(wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: funcIdx})
	return &cp, name
}

func funcName(m *wasm.Module, funcIdx uint32) string {
	for _, exp := range m.Exports.List() {
		if exp.Kind == wasm.KindFunc && exp.Idx == funcIdx {
			return exp.Name
		}
	}
	if imp := m.ImportedFunc(funcIdx); imp != nil {
		return linker.ImportKey(imp.Module, imp.Name)
	}
	return fmt.Sprintf("func[%d]", funcIdx)
}

func checkArgs(name string, ft *wasm.FuncType, args []wasm.Value) error {
	if len(args) != len(ft.Params) {
		return errors.ArityMismatch(errors.PhaseExecute, name, "arguments", len(ft.Params), len(args))
	}
	for i, want := range ft.Params {
		if args[i].Type != want {
			return errors.TypeMismatch(errors.PhaseExecute, name, i, want.String(), args[i].Type.String())
		}
	}
	return nil
}

// callError classifies an error returned by wazero from guest code.
func callError(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(errors.PhaseExecute, errors.KindTrap, ctxErr, name+": interrupted")
	}

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return errors.New(errors.PhaseExecute, errors.KindExit).
			Value(exit.ExitCode()).
			Cause(err).
			Detail("%s: exit code %d", name, exit.ExitCode()).
			Build()
	}

	var werr *errors.Error
	if stderrors.As(err, &werr) && werr.Phase == errors.PhaseCall {
		return werr
	}
	return errors.Wrap(errors.PhaseExecute, errors.KindTrap, err, name)
}

func isGuestExit(err error) bool {
	var werr *errors.Error
	return stderrors.As(err, &werr) && werr.Kind == errors.KindExit
}

// ExitCode returns the code passed to proc_exit when err reports a guest exit.
func ExitCode(err error) (uint32, bool) {
	var werr *errors.Error
	if !stderrors.As(err, &werr) || werr.Kind != errors.KindExit {
		return 0, false
	}
	code, ok := werr.Value.(uint32)
	return code, ok
}
