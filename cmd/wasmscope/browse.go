package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasmscope/exec"
	"github.com/wippyai/wasmscope/issues"
	"github.com/wippyai/wasmscope/linker"
	"github.com/wippyai/wasmscope/report"
	"github.com/wippyai/wasmscope/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newBrowseCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "browse <file.wasm>",
		Short: "Browse and call exported functions interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
				return fmt.Errorf("browse needs an interactive terminal")
			}

			m, release, err := cfg.loadModule(args[0])
			if err != nil {
				return err
			}
			defer release()

			ex, err := exec.NewWazero(cmd.Context(), exec.Config{EnableWASI: true})
			if err != nil {
				return err
			}
			defer ex.Close(context.Background())

			model, err := newBrowseModel(args[0], m, ex, cfg.maxListed)
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}

type browseState int

const (
	stateSelectFunc browseState = iota
	stateInputArgs
	stateShowResult
	stateSummary
)

type funcEntry struct {
	name  string
	ft    *wasm.FuncType
	index uint32
}

type browseModel struct {
	err      error
	module   *wasm.Module
	exec     exec.Executor
	linker   *linker.Linker
	filename string
	result   string
	funcs    []funcEntry
	inputs   []textinput.Model
	summary  viewport.Model
	selected int
	focusIdx int
	state    browseState
}

type callResultMsg struct {
	err    error
	result string
}

func newBrowseModel(filename string, m *wasm.Module, ex exec.Executor, maxListed int) (*browseModel, error) {
	var funcs []funcEntry
	for _, exp := range m.Exports.OfKind(wasm.KindFunc) {
		ft := m.FuncType(exp.Idx)
		if ft == nil {
			continue
		}
		funcs = append(funcs, funcEntry{name: exp.Name, index: exp.Idx, ft: ft})
	}

	var buf bytes.Buffer
	p := report.New(&buf, report.Options{Color: true, MaxListed: maxListed})
	if err := p.Module(m); err != nil {
		return nil, err
	}
	if err := p.Issues(issues.Detect(m)); err != nil {
		return nil, err
	}
	vp := viewport.New(80, 20)
	vp.SetContent(buf.String())

	lk := linker.NewWithDefaults()
	stubImports(lk, m, true, nil)

	return &browseModel{
		filename: filename,
		module:   m,
		exec:     ex,
		linker:   lk,
		funcs:    funcs,
		summary:  vp,
		state:    stateSelectFunc,
	}, nil
}

func (m *browseModel) Init() tea.Cmd {
	return nil
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.summary.Width = msg.Width
		m.summary.Height = max(msg.Height-4, 1)

	case tea.KeyMsg:
		if m.state == stateSummary {
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "esc", "s":
				m.state = stateSelectFunc
				return m, nil
			}
			var cmd tea.Cmd
			m.summary, cmd = m.summary.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "s":
			if m.state == stateSelectFunc {
				m.state = stateSummary
				return m, nil
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *browseModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.ft.Params))
	for i, t := range f.ft.Params {
		ti := textinput.New()
		ti.Placeholder = t.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *browseModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = input.Value()
	}
	args, err := parseArgs(f.ft, raw)
	if err != nil {
		return callResultMsg{err: err}
	}

	out, err := m.exec.Invoke(context.Background(), m.module, m.linker, f.index, args)
	if err != nil {
		return callResultMsg{err: err}
	}
	if len(out) == 0 {
		return callResultMsg{result: "(no results)"}
	}
	parts := make([]string, len(out))
	for i, v := range out {
		parts[i] = v.String()
	}
	return callResultMsg{result: strings.Join(parts, ", ")}
}

func (m *browseModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasmscope"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSummary:
		b.WriteString(m.summary.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • s/esc back • q quit"))

	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("Module exports no functions.\n\n")
			b.WriteString(helpStyle.Render("s summary • q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • s summary • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.ft.Params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatFunc(f funcEntry) string {
	return funcStyle.Render(f.name) + " " + typeStyle.Render(f.ft.String())
}
