package linker

import (
	"fmt"
	"slices"
	"sync"

	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm"
	"go.uber.org/zap"
)

// Options configures linker behavior.
type Options struct {
	// AllowBareNames lets Lookup fall back to an unqualified name when
	// no "module#name" entry exists.
	AllowBareNames bool
}

// DefaultOptions returns default linker configuration.
func DefaultOptions() Options {
	return Options{
		AllowBareNames: true,
	}
}

// Linker is a table of host functions keyed by name.
// Thread-safe.
type Linker struct {
	funcs   map[string]HostFunction
	options Options
	mu      sync.RWMutex
}

// New creates an empty Linker.
func New(opts Options) *Linker {
	return &Linker{
		funcs:   make(map[string]HostFunction),
		options: opts,
	}
}

// NewWithDefaults creates an empty Linker with default options.
func NewWithDefaults() *Linker {
	return New(DefaultOptions())
}

// Options returns the configuration.
func (l *Linker) Options() Options {
	return l.options
}

// ImportKey returns the registration key for an import.
func ImportKey(module, name string) string {
	if module == "" {
		return name
	}
	return module + "#" + name
}

// Register stores fn under name. A later registration replaces an earlier one.
func (l *Linker) Register(name string, fn HostFunction) error {
	if fn == nil {
		return errors.InvalidInput(errors.PhaseLink, fmt.Sprintf("register %q: nil host function", name))
	}

	l.mu.Lock()
	_, replaced := l.funcs[name]
	l.funcs[name] = fn
	l.mu.Unlock()

	params, results := fn.Signature()
	Logger().Debug("registered host function",
		zap.String("name", name),
		zap.Int("params", params),
		zap.Int("results", results),
		zap.Bool("replaced", replaced))
	return nil
}

// RegisterImport stores fn under ImportKey(module, name).
func (l *Linker) RegisterImport(module, name string, fn HostFunction) error {
	return l.Register(ImportKey(module, name), fn)
}

// Get returns the function registered under exactly name.
func (l *Linker) Get(name string) (HostFunction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn, ok := l.funcs[name]
	return fn, ok
}

// Has reports whether name is registered.
func (l *Linker) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Names returns all registered names in sorted order.
func (l *Linker) Names() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		names = append(names, name)
	}
	l.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Len returns the number of registered functions.
func (l *Linker) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.funcs)
}

// Lookup finds the function for an import. The qualified key is tried first,
// then the bare name when AllowBareNames is set.
func (l *Linker) Lookup(module, name string) (HostFunction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if fn, ok := l.funcs[ImportKey(module, name)]; ok {
		return fn, true
	}
	if l.options.AllowBareNames {
		fn, ok := l.funcs[name]
		return fn, ok
	}
	return nil, false
}

// Call invokes the function registered under name. Arguments and results
// are checked against its signature, and a panic in the host function is
// returned as an error.
func (l *Linker) Call(name string, args []wasm.Value) ([]wasm.Value, error) {
	fn, ok := l.Get(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "host function", name)
	}
	return invoke(name, fn, args)
}

// CallImport invokes the function resolved by Lookup for an import.
func (l *Linker) CallImport(module, name string, args []wasm.Value) ([]wasm.Value, error) {
	fn, ok := l.Lookup(module, name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "host function", ImportKey(module, name))
	}
	return invoke(ImportKey(module, name), fn, args)
}

// Resolve checks that every function import of m has a host function of
// matching arity. Unresolved imports are reported together.
func (l *Linker) Resolve(m *wasm.Module) error {
	if m == nil {
		return errors.InvalidInput(errors.PhaseLink, "nil module")
	}

	var missing []string
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		fn, ok := l.Lookup(imp.Module, imp.Name)
		if !ok {
			missing = append(missing, imp.Module+"#"+imp.Name)
			continue
		}
		if err := checkImportShape(m, imp, fn); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		Logger().Debug("unresolved imports", zap.Strings("imports", missing))
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func checkImportShape(m *wasm.Module, imp wasm.Import, fn HostFunction) error {
	ft := m.TypeAt(imp.Desc.TypeIdx)
	if ft == nil {
		return errors.New(errors.PhaseLink, errors.KindInvalidData).
			Detail("import %s: type index %d out of range", ImportKey(imp.Module, imp.Name), imp.Desc.TypeIdx).
			Build()
	}
	key := ImportKey(imp.Module, imp.Name)
	params, results := fn.Signature()
	if params != len(ft.Params) {
		return errors.ArityMismatch(errors.PhaseLink, key, "params", len(ft.Params), params)
	}
	if results != len(ft.Results) {
		return errors.ArityMismatch(errors.PhaseLink, key, "results", len(ft.Results), results)
	}
	if typed, ok := fn.(Typed); ok {
		if !slices.Equal(typed.ParamTypes(), ft.Params) || !slices.Equal(typed.ResultTypes(), ft.Results) {
			return errors.New(errors.PhaseLink, errors.KindTypeMismatch).
				Detail("%s: host signature %s does not match import %s",
					key, wasm.FuncType{Params: typed.ParamTypes(), Results: typed.ResultTypes()}, ft).
				Build()
		}
	}
	return nil
}

// Close drops every registration.
func (l *Linker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs = make(map[string]HostFunction)
	return nil
}
