package linker

import (
	"fmt"
	"runtime/debug"

	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm"
	"go.uber.org/zap"
)

// checkArgs validates args against fn's declared shape before a call.
func checkArgs(name string, fn HostFunction, args []wasm.Value) error {
	params, _ := fn.Signature()
	if len(args) != params {
		return errors.ArityMismatch(errors.PhaseCall, name, "arguments", params, len(args))
	}
	typed, ok := fn.(Typed)
	if !ok {
		return nil
	}
	for i, want := range typed.ParamTypes() {
		if args[i].Type != want {
			return errors.TypeMismatch(errors.PhaseCall, name, i, want.String(), args[i].Type.String())
		}
	}
	return nil
}

// checkResults validates what a host function returned.
func checkResults(name string, fn HostFunction, results []wasm.Value) error {
	_, want := fn.Signature()
	if len(results) != want {
		return errors.ArityMismatch(errors.PhaseCall, name, "results", want, len(results))
	}
	typed, ok := fn.(Typed)
	if !ok {
		return nil
	}
	for i, t := range typed.ResultTypes() {
		if results[i].Type != t {
			return errors.New(errors.PhaseCall, errors.KindTypeMismatch).
				Value(results[i]).
				Detail("%s: result %d: expected %s, got %s", name, i, t, results[i].Type).
				Build()
		}
	}
	return nil
}

// invoke calls fn with full checking. A panic inside fn is recovered and
// reported as an error.
func invoke(name string, fn HostFunction, args []wasm.Value) (results []wasm.Value, err error) {
	if err := checkArgs(name, fn, args); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			Logger().Error("host function panicked",
				zap.String("name", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			results = nil
			err = errors.New(errors.PhaseCall, errors.KindHostPanic).
				Value(r).
				Detail("%s: panic: %v", name, r).
				Build()
		}
	}()

	results, err = fn.Call(args)
	if err != nil {
		if _, ok := err.(*errors.Error); ok {
			return nil, err
		}
		return nil, errors.Wrap(errors.PhaseCall, errors.KindHostError, err, fmt.Sprintf("%s returned an error", name))
	}
	if err := checkResults(name, fn, results); err != nil {
		return nil, err
	}
	return results, nil
}
