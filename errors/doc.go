// Package errors provides structured error types for wasmscope.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Decode errors also carry the section name and absolute byte offset.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidData).
//		Section("import").
//		Offset(42).
//		Detail("invalid import kind 0x%02x", kind).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Truncated("code", 120, "function body")
//	err := errors.NotFound(errors.PhaseCall, "host function", "env#log")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
