package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/wippyai/wasmscope/flow"
	"github.com/wippyai/wasmscope/issues"
	"github.com/wippyai/wasmscope/wasm"
)

const pageSize = 65536

// Options configures rendering.
type Options struct {
	// Color enables ANSI styling.
	Color bool
	// MaxListed caps how many imports and globals are listed individually.
	MaxListed int
}

// DefaultOptions returns default rendering configuration.
func DefaultOptions() Options {
	return Options{MaxListed: 5}
}

type styles struct {
	title   lipgloss.Style
	heading lipgloss.Style
	name    lipgloss.Style
	typ     lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	sev     map[issues.Severity]lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			title: plain, heading: plain, name: plain, typ: plain, muted: plain, ok: plain,
			sev: map[issues.Severity]lipgloss.Style{issues.Info: plain, issues.Warning: plain, issues.Error: plain},
		}
	}
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87CEEB")),
		name:    lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		typ:     lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		ok:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#90EE90")),
		sev: map[issues.Severity]lipgloss.Style{
			issues.Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
			issues.Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")),
			issues.Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		},
	}
}

// Printer renders modules, issues and control-flow tables as text.
type Printer struct {
	w    io.Writer
	err  error
	st   styles
	opts Options
}

// New creates a Printer writing to w.
func New(w io.Writer, opts Options) *Printer {
	if opts.MaxListed <= 0 {
		opts.MaxListed = DefaultOptions().MaxListed
	}
	return &Printer{w: w, st: newStyles(opts.Color), opts: opts}
}

// printf keeps the first write error; later writes are dropped.
func (p *Printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) flush() error {
	err := p.err
	p.err = nil
	return err
}

// Module prints a summary of m.
func (p *Printer) Module(m *wasm.Module) error {
	p.printf("\n  %s\n", p.st.title.Render("Module Analysis"))
	p.printf("  │\n")
	p.printf("  ├─ Version: %d\n", m.Version)

	p.types(m)
	p.imports(m)
	p.functions(m)
	p.exports(m)
	p.globals(m)
	p.memory(m)
	p.data(m)
	p.elements(m)

	start := "none"
	if m.Start != nil {
		start = fmt.Sprint(*m.Start)
	}
	p.printf("  │\n")
	p.printf("  └─ Start function: %s\n\n", start)
	return p.flush()
}

func (p *Printer) heading(label string, n int) {
	p.printf("  %s %d\n", p.st.heading.Render(label+":"), n)
}

func (p *Printer) types(m *wasm.Module) {
	p.heading("Function Types", len(m.Types))
	for i, ft := range m.Types {
		p.printf("     type[%d] %s\n", i, p.st.typ.Render(ft.String()))
	}
}

func importKind(kind byte) string {
	switch kind {
	case wasm.KindFunc:
		return "func"
	case wasm.KindTable:
		return "table"
	case wasm.KindMemory:
		return "memory"
	case wasm.KindGlobal:
		return "global"
	default:
		return fmt.Sprintf("kind(%d)", kind)
	}
}

func (p *Printer) imports(m *wasm.Module) {
	p.heading("Imports", len(m.Imports))
	if len(m.Imports) == 0 {
		return
	}

	counts := make(map[byte]int)
	for _, imp := range m.Imports {
		counts[imp.Desc.Kind]++
	}
	groups := []struct {
		label string
		kind  byte
	}{
		{"Functions", wasm.KindFunc},
		{"Tables", wasm.KindTable},
		{"Memory", wasm.KindMemory},
		{"Globals", wasm.KindGlobal},
	}
	for _, g := range groups {
		if n := counts[g.kind]; n > 0 {
			p.printf("     ├─ %s: %d\n", g.label, n)
		}
	}

	for i, imp := range m.Imports {
		if i == p.opts.MaxListed {
			p.printf("     %s\n", p.st.muted.Render(fmt.Sprintf("... and %d more", len(m.Imports)-i)))
			break
		}
		p.printf("     [%d] %s from %s\n", i, importKind(imp.Desc.Kind), p.st.name.Render(imp.Module+"."+imp.Name))
	}
}

// CodeStats summarises function body sizes.
type CodeStats struct {
	Total    int
	Average  int
	Largest  int
	Smallest int
}

// Stats computes code size statistics over the local functions of m.
func Stats(m *wasm.Module) CodeStats {
	var s CodeStats
	if len(m.Functions) == 0 {
		return s
	}
	s.Smallest = len(m.Functions[0].Code)
	for i := range m.Functions {
		n := len(m.Functions[i].Code)
		s.Total += n
		s.Largest = max(s.Largest, n)
		s.Smallest = min(s.Smallest, n)
	}
	s.Average = s.Total / len(m.Functions)
	return s
}

func (p *Printer) functions(m *wasm.Module) {
	p.heading("Functions", len(m.Functions))
	if len(m.Functions) == 0 {
		return
	}
	s := Stats(m)
	p.printf("     ├─ Code size: %d bytes\n", s.Total)
	p.printf("     ├─ Average function size: %d bytes\n", s.Average)
	p.printf("     ├─ Largest function: %d bytes\n", s.Largest)
	p.printf("     └─ Smallest function: %d bytes\n", s.Smallest)
}

func (p *Printer) exports(m *wasm.Module) {
	p.heading("Exports", m.Exports.Len())
	groups := []struct {
		label string
		kind  byte
	}{
		{"Functions", wasm.KindFunc},
		{"Tables", wasm.KindTable},
		{"Memory", wasm.KindMemory},
		{"Globals", wasm.KindGlobal},
	}
	for _, g := range groups {
		var names []string
		for _, exp := range m.Exports.OfKind(g.kind) {
			names = append(names, exp.Name)
		}
		if len(names) > 0 {
			p.printf("     ├─ %s (%d): %s\n", g.label, len(names), p.st.name.Render(strings.Join(names, ", ")))
		}
	}
}

func (p *Printer) globals(m *wasm.Module) {
	p.heading("Globals", len(m.Globals))
	for i, g := range m.Globals {
		if i == p.opts.MaxListed {
			p.printf("     %s\n", p.st.muted.Render(fmt.Sprintf("... and %d more", len(m.Globals)-i)))
			break
		}
		mutability := "immutable"
		if g.Type.Mutable {
			mutability = "mutable"
		}
		p.printf("     [%d] %s (%s)\n", i, p.st.typ.Render(g.Type.ValType.String()), mutability)
	}
}

func (p *Printer) memory(m *wasm.Module) {
	mem := m.Memory
	if mem == nil {
		if m.HasMemory() {
			p.printf("  %s imported\n", p.st.heading.Render("Memory:"))
			return
		}
		p.printf("  %s none\n", p.st.heading.Render("Memory:"))
		return
	}
	p.printf("  %s\n", p.st.heading.Render("Memory:"))
	p.printf("     ├─ Initial: %d page(s) (%d bytes)\n", mem.Initial, uint64(mem.Initial)*pageSize)
	if mem.Max != nil {
		p.printf("     └─ Maximum: %d page(s) (%d bytes)\n", *mem.Max, uint64(*mem.Max)*pageSize)
	} else {
		p.printf("     └─ Maximum: unbounded\n")
	}
}

func (p *Printer) data(m *wasm.Module) {
	p.heading("Data Segments", len(m.Data))
	if len(m.Data) == 0 {
		return
	}
	total := 0
	for _, d := range m.Data {
		total += len(d.Init)
	}
	p.printf("     Total data: %d bytes\n", total)
	limit := min(3, p.opts.MaxListed)
	for i, d := range m.Data {
		if i == limit {
			p.printf("     %s\n", p.st.muted.Render(fmt.Sprintf("... and %d more", len(m.Data)-i)))
			break
		}
		p.printf("     [%d] %d bytes (%s)\n", i, len(d.Init), d.Mode())
	}
}

func (p *Printer) elements(m *wasm.Module) {
	p.heading("Element Segments", len(m.Elements))
	if len(m.Elements) == 0 {
		return
	}
	refs := 0
	for _, e := range m.Elements {
		refs += len(e.FuncIdxs)
	}
	p.printf("     Total function references: %d\n", refs)
}

// Issues prints list most serious first. An empty list is reported
// explicitly.
func (p *Printer) Issues(list []issues.Issue) error {
	if len(list) == 0 {
		p.printf("  %s\n", p.st.ok.Render("No significant issues detected"))
		return p.flush()
	}

	p.printf("  %s\n", p.st.heading.Render("Detected Issues:"))
	for _, is := range issues.Sorted(list) {
		style := p.st.sev[is.Severity]
		p.printf("     %s %s:\n", is.Severity.Symbol(), style.Render(is.Title))
		p.printf("        %s\n", is.Description)
	}
	c := issues.Count(list)
	p.printf("\n  %s\n", p.st.muted.Render(fmt.Sprintf("%d error(s), %d warning(s), %d info", c.Error, c.Warning, c.Info)))
	return p.flush()
}

// Flow prints the control-flow tables of one function.
func (p *Printer) Flow(funcIdx uint32, info *flow.Info) error {
	p.printf("  %s\n", p.st.title.Render(fmt.Sprintf("func[%d]", funcIdx)))
	p.table("Blocks", "start", "end", info.BlockEnds)
	p.table("Loops", "start", "target", info.LoopStarts)
	p.table("Else", "if", "else", info.Elses)
	if info.Partial {
		p.printf("  %s\n", p.st.sev[issues.Warning].Render(
			fmt.Sprintf("scan stopped at offset %d: %v", info.StoppedAt, info.Err)))
	}
	return p.flush()
}

func (p *Printer) table(label, from, to string, entries map[int]int) {
	p.printf("  %s %d\n", p.st.heading.Render(label+":"), len(entries))
	if len(entries) == 0 {
		return
	}
	p.printf("     %s\n", p.st.muted.Render(fmt.Sprintf("%8s  %8s", from, to)))
	for _, k := range slices.Sorted(maps.Keys(entries)) {
		p.printf("     %8d  %8d\n", k, entries[k])
	}
}

// Results prints the values returned by a call.
func (p *Printer) Results(name string, vals []wasm.Value) error {
	if len(vals) == 0 {
		p.printf("  %s returned no values\n", p.st.name.Render(name))
		return p.flush()
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	p.printf("  %s => %s\n", p.st.name.Render(name), p.st.ok.Render(strings.Join(parts, ", ")))
	return p.flush()
}
