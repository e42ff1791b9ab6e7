package issues

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wippyai/wasmscope/wasm"
)

// Severity orders findings. Higher values are more serious.
type Severity uint8

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// Symbol returns a one-character marker for terminal output.
func (s Severity) Symbol() string {
	switch s {
	case Warning:
		return "⚠"
	case Error:
		return "✖"
	default:
		return "ℹ"
	}
}

// ParseSeverity converts a name produced by String back to a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(name) {
	case "info":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	}
	return Info, fmt.Errorf("unknown severity %q", name)
}

// Issue is a single finding.
type Issue struct {
	Title       string
	Description string
	Severity    Severity
}

// Thresholds used by the rules.
const (
	tinyFunctionBytes   = 3
	minFunctionsForTiny = 10
	largeInitialPages   = 1000
	restrictiveMaxPages = 10
	manyExports         = 500
	largeAverageBytes   = 10000
	hugeFunctionBytes   = 100000
	manyImports         = 100
	manyGlobals         = 100
)

type rule func(m *wasm.Module, report func(Severity, string, string))

// rules run in this order; each is independent of the others.
var rules = []rule{
	checkSectionCompleteness,
	checkMemory,
	checkExports,
	checkCode,
	checkImports,
	checkGlobals,
}

// Detect evaluates all rules against m and returns the findings in
// detection order. A nil module yields no findings.
func Detect(m *wasm.Module) []Issue {
	var found []Issue
	if m == nil {
		return found
	}
	report := func(sev Severity, title, description string) {
		found = append(found, Issue{Severity: sev, Title: title, Description: description})
	}
	for _, r := range rules {
		r(m, report)
	}
	return found
}

func checkSectionCompleteness(m *wasm.Module, report func(Severity, string, string)) {
	if len(m.Types) == 0 && len(m.Imports) > 0 {
		report(Warning, "No type signatures found",
			"Module has imports but no type section. This is unusual.")
	}

	withCode, tiny := 0, 0
	for i := range m.Functions {
		n := len(m.Functions[i].Code)
		if n > 0 {
			withCode++
			if n < tinyFunctionBytes {
				tiny++
			}
		}
	}

	if len(m.Functions) > 0 && withCode == 0 {
		report(Error, "Functions without code", fmt.Sprintf(
			"Found %d function declarations but no code implementations. Module is likely invalid.",
			len(m.Functions)))
	}

	if withCode > minFunctionsForTiny && tiny*2 > withCode {
		report(Info, "Many minimal functions", fmt.Sprintf(
			"%d out of %d functions are very small (< %d bytes). May indicate stub functions.",
			tiny, withCode, tinyFunctionBytes))
	}
}

func checkMemory(m *wasm.Module, report func(Severity, string, string)) {
	mem := m.Memory
	if mem == nil {
		if len(m.Data) > 0 && !m.HasMemory() {
			report(Error, "Data segments without memory",
				"Module has data segments but no memory section. This is invalid.")
		}
		return
	}

	if mem.Initial > largeInitialPages {
		report(Warning, "Unusually large initial memory", fmt.Sprintf(
			"Initial memory is %d pages (%d MB). This may cause issues on some platforms.",
			mem.Initial, mem.Initial/16))
	}

	if mem.Max == nil {
		return
	}
	maxPages := *mem.Max
	if maxPages < mem.Initial {
		report(Error, "Invalid memory limits", fmt.Sprintf(
			"Maximum memory (%d pages) is less than initial (%d pages). This is invalid.",
			maxPages, mem.Initial))
	}
	if maxPages > 0 && maxPages < restrictiveMaxPages && mem.Initial > maxPages {
		report(Warning, "Restrictive memory limit", fmt.Sprintf(
			"Maximum memory is limited to %d pages. Runtime may fail if memory is exhausted.",
			maxPages))
	}
}

func checkExports(m *wasm.Module, report func(Severity, string, string)) {
	n := m.Exports.Len()
	if n == 0 {
		report(Info, "No exports found",
			"Module has no exports. It can only be used internally or as a library.")
	}
	if n > manyExports {
		report(Warning, "Very large export table", fmt.Sprintf(
			"Module exports %d items. This is unusual and may indicate bloat.", n))
	}

	describe := 0
	for _, exp := range m.Exports.List() {
		if strings.Contains(exp.Name, "describe") {
			describe++
		}
	}
	if describe > 0 && describe == n {
		report(Info, "Only describe exports",
			"All exports are wasm-bindgen describe functions. This module appears to be a "+
				"wasm-bindgen artifact or build intermediate.")
	}
}

func checkCode(m *wasm.Module, report func(Severity, string, string)) {
	if len(m.Functions) == 0 {
		return
	}

	total, largest := 0, 0
	for i := range m.Functions {
		n := len(m.Functions[i].Code)
		total += n
		largest = max(largest, n)
	}

	if total == 0 {
		report(Error, "No function code",
			"Module declares functions but has no code section. Module is likely corrupt.")
	}
	if avg := total / len(m.Functions); avg > largeAverageBytes {
		report(Warning, "Very large average function size", fmt.Sprintf(
			"Average function size is %d bytes. Functions may not be optimized.", avg))
	}
	if largest > hugeFunctionBytes {
		report(Warning, "Extremely large function detected", fmt.Sprintf(
			"One function is %d bytes. This may indicate a problem with compilation or inlining.", largest))
	}
}

func checkImports(m *wasm.Module, report func(Severity, string, string)) {
	if len(m.Imports) > 0 && len(m.Functions) == 0 {
		report(Info, "Only imports, no internal functions",
			"Module imports functions but defines no internal functions. It's a thin wrapper or interface.")
	}
	if len(m.Imports) > manyImports {
		report(Warning, "Large number of imports", fmt.Sprintf(
			"Module imports %d items. High dependency count may affect performance.", len(m.Imports)))
	}
}

func checkGlobals(m *wasm.Module, report func(Severity, string, string)) {
	if len(m.Globals) == 0 {
		return
	}

	mutable := 0
	for _, g := range m.Globals {
		if g.Type.Mutable {
			mutable++
		}
	}
	if mutable == len(m.Globals) {
		report(Info, "All globals are mutable", fmt.Sprintf(
			"All %d global variables are mutable. This may indicate less optimized code.", len(m.Globals)))
	}
	if len(m.Globals) > manyGlobals {
		report(Warning, "Large number of globals", fmt.Sprintf(
			"Module defines %d global variables. This is unusual and may affect performance.", len(m.Globals)))
	}
}

// Sorted returns a copy of list ordered by severity, most serious first.
// Findings of equal severity keep their detection order.
func Sorted(list []Issue) []Issue {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b Issue) int {
		return int(b.Severity) - int(a.Severity)
	})
	return out
}

// Counts holds the number of findings per severity.
type Counts struct {
	Info    int
	Warning int
	Error   int
}

// Total returns the number of findings.
func (c Counts) Total() int {
	return c.Info + c.Warning + c.Error
}

// Count tallies list by severity.
func Count(list []Issue) Counts {
	var c Counts
	for _, is := range list {
		switch is.Severity {
		case Info:
			c.Info++
		case Warning:
			c.Warning++
		case Error:
			c.Error++
		}
	}
	return c
}

// Worst returns the highest severity in list, and false when list is empty.
func Worst(list []Issue) (Severity, bool) {
	if len(list) == 0 {
		return Info, false
	}
	worst := Info
	for _, is := range list {
		worst = max(worst, is.Severity)
	}
	return worst, true
}
