package errors

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // bytes to Module
	PhaseValidate Phase = "validate" // structural checks on a decoded module
	PhaseAnalyze  Phase = "analyze"  // static analysis
	PhaseLink     Phase = "link"     // host function registration and resolution
	PhaseCall     Phase = "call"     // host function invocation
	PhaseExecute  Phase = "execute"  // executor bridge
	PhaseLoad     Phase = "load"     // reading module files
)

// Kind categorizes the error
type Kind string

const (
	KindFormat        Kind = "format"
	KindTruncated     Kind = "truncated"
	KindOverflow      Kind = "overflow"
	KindInvalidData   Kind = "invalid_data"
	KindUnsupported   Kind = "unsupported"
	KindNotFound      Kind = "not_found"
	KindArityMismatch Kind = "arity_mismatch"
	KindTypeMismatch  Kind = "type_mismatch"
	KindInvalidInput  Kind = "invalid_input"
	KindHostPanic     Kind = "host_panic"
	KindHostError     Kind = "host_error"
	KindMissingImport Kind = "missing_import"
	KindInstantiation Kind = "instantiation"
	KindTrap          Kind = "trap"
	KindExit          Kind = "exit"
)

// NoOffset marks an error without a byte position.
const NoOffset = -1

// Error is the structured error type used throughout wasmscope
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Section string
	Detail  string
	Offset  int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Section != "" {
		b.WriteString(" in ")
		b.WriteString(e.Section)
		b.WriteString(" section")
	}

	if e.Offset >= 0 {
		b.WriteString(" at offset ")
		b.WriteString(strconv.Itoa(e.Offset))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Offset: NoOffset,
		},
	}
}

// Section sets the section name the error was found in
func (b *Builder) Section(name string) *Builder {
	b.err.Section = name
	return b
}

// Offset sets the absolute byte offset
func (b *Builder) Offset(off int) *Builder {
	b.err.Offset = off
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Truncated reports input that ended before a value was complete.
func Truncated(section string, offset int, what string) *Error {
	return &Error{
		Phase:   PhaseDecode,
		Kind:    KindTruncated,
		Section: section,
		Offset:  offset,
		Detail:  fmt.Sprintf("unexpected end of input reading %s", what),
	}
}

// Unsupported creates an unsupported feature error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Offset: NoOffset,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, section string, offset int, detail string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindInvalidData,
		Section: section,
		Offset:  offset,
		Detail:  detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Offset: NoOffset,
		Detail: fmt.Sprintf("%s %q not found", what, name),
		Value:  name,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Offset: NoOffset,
		Detail: detail,
	}
}

// ArityMismatch reports a wrong number of arguments or results.
func ArityMismatch(phase Phase, name, side string, want, got int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArityMismatch,
		Offset: NoOffset,
		Detail: fmt.Sprintf("%s: expected %d %s, got %d", name, want, side, got),
		Value:  got,
	}
}

// TypeMismatch reports a value of the wrong kind at a position.
func TypeMismatch(phase Phase, name string, index int, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Offset: NoOffset,
		Detail: fmt.Sprintf("%s: argument %d: expected %s, got %s", name, index, want, got),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Offset: NoOffset,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindInstantiation,
		Offset: NoOffset,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Offset: NoOffset,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module string // e.g., "env"
	Name   string // e.g., "print_i32"
}

// MissingImportsError is returned when a module imports functions the
// linker does not provide.
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#name" keys
func NewMissingImportsError(keys []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(keys)),
	}
	for _, key := range keys {
		mod, name := parseImportKey(key)
		result.Imports = append(result.Imports, MissingImport{
			Module: mod,
			Name:   name,
		})
	}
	return result
}

func parseImportKey(key string) (module, name string) {
	mod, n, found := strings.Cut(key, "#")
	if found {
		return mod, n
	}
	return "", key
}

// Keys returns the "module#name" form of every missing import, sorted.
func (e *MissingImportsError) Keys() []string {
	keys := make([]string, 0, len(e.Imports))
	for _, imp := range e.Imports {
		if imp.Module == "" {
			keys = append(keys, imp.Name)
			continue
		}
		keys = append(keys, imp.Module+"#"+imp.Name)
	}
	sort.Strings(keys)
	return keys
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host function(s):\n", len(e.Imports))

	// Group by module for cleaner output
	byMod := make(map[string][]string)
	var modOrder []string
	for _, imp := range e.Imports {
		mod := imp.Module
		if mod == "" {
			mod = "(unqualified)"
		}
		if _, exists := byMod[mod]; !exists {
			modOrder = append(modOrder, mod)
		}
		byMod[mod] = append(byMod[mod], imp.Name)
	}

	for _, mod := range modOrder {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byMod[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	if _, ok := target.(*MissingImportsError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Phase == PhaseLink && t.Kind == KindMissingImport
	}
	return false
}
