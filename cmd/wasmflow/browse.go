package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasmflow/analysis"
	"github.com/wippyai/wasmflow/flow"
	"github.com/wippyai/wasmflow/wasm"
)

func (a *app) browseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <module.wasm>",
		Short: "Interactively walk functions and follow control-flow edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("browse needs an interactive terminal")
			}
			path := args[0]
			m := newBrowseModel(path, func() (*analysis.Analysis, error) { return a.load(path) }, newStyles(a.color != "never"))
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

type browseState int

const (
	stateSelectFunc browseState = iota
	stateListing
	stateGoto
)

type position struct {
	fn     uint32
	cursor int
}

type browseModel struct {
	err      error
	an       *analysis.Analysis
	open     *analysis.FunctionFlow
	load     func() (*analysis.Analysis, error)
	st       styles
	filename string
	funcs    []*wasm.Function
	lines    []string
	history  []position
	input    textinput.Model
	selected int
	cursor   int
	height   int
	state    browseState
	prev     browseState
}

type loadedMsg struct {
	err error
	an  *analysis.Analysis
}

func newBrowseModel(filename string, load func() (*analysis.Analysis, error), st styles) *browseModel {
	ti := textinput.New()
	ti.Prompt = "goto 0x"
	ti.Placeholder = "address"
	ti.Width = 16
	return &browseModel{
		filename: filename,
		load:     load,
		st:       st,
		input:    ti,
		height:   24,
		state:    stateSelectFunc,
	}
}

func (m *browseModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *browseModel) loadModule() tea.Msg {
	an, err := m.load()
	return loadedMsg{an: an, err: err}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.an = msg.an
		for i := range m.an.Module().Functions {
			if fn := &m.an.Module().Functions[i]; !fn.Imported {
				m.funcs = append(m.funcs, fn)
			}
		}

	case tea.KeyMsg:
		if m.state == stateGoto {
			return m.updateGoto(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			m.move(-1)

		case "down", "j":
			m.move(1)

		case "pgup":
			m.move(-m.pageSize())

		case "pgdown":
			m.move(m.pageSize())

		case "enter", "l":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) > 0 {
					m.openFunction(m.funcs[m.selected].Index, 0)
				}
			case stateListing:
				m.follow()
			}

		case "b", "backspace":
			if m.state == stateListing && len(m.history) > 0 {
				last := m.history[len(m.history)-1]
				m.history = m.history[:len(m.history)-1]
				m.openFunction(last.fn, last.cursor)
			}

		case "g":
			if m.an != nil {
				m.prev = m.state
				m.state = stateGoto
				m.input.SetValue("")
				m.input.Focus()
			}

		case "esc":
			if m.state == stateListing {
				m.state = stateSelectFunc
				m.err = nil
			}
		}
	}
	return m, nil
}

func (m *browseModel) updateGoto(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.input.Blur()
		m.state = m.prev
		return m, nil
	case "enter":
		m.input.Blur()
		m.state = m.prev
		m.gotoAddress(m.input.Value())
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *browseModel) move(delta int) {
	switch m.state {
	case stateSelectFunc:
		m.selected = clamp(m.selected+delta, 0, len(m.funcs)-1)
	case stateListing:
		m.cursor = clamp(m.cursor+delta, 0, len(m.lines)-1)
	}
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

func (m *browseModel) pageSize() int {
	if n := m.height - 4; n > 1 {
		return n
	}
	return 1
}

func (m *browseModel) openFunction(index uint32, cursor int) {
	ff, err := m.an.Flow(index)
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.open = ff
	m.lines = printer{a: m.an, st: m.st}.listing(ff)
	m.cursor = clamp(cursor, 0, len(m.lines)-1)
	m.state = stateListing
	for i, fn := range m.funcs {
		if fn.Index == index {
			m.selected = i
		}
	}
}

// jumpTo opens the function holding addr with the cursor on the instruction
// at or before it, remembering the current position.
func (m *browseModel) jumpTo(addr uint32) {
	fn, err := m.an.FunctionContaining(addr)
	if err != nil {
		m.err = err
		return
	}
	ff, err := m.an.Flow(fn.Index)
	if err != nil {
		m.err = err
		return
	}
	if m.state == stateListing && m.open != nil {
		m.history = append(m.history, position{fn: m.open.Function.Index, cursor: m.cursor})
	}
	m.openFunction(fn.Index, instructionIndex(ff, addr))
}

func instructionIndex(ff *analysis.FunctionFlow, addr uint32) int {
	idx := 0
	for i, in := range ff.Resolution.Instructions {
		if in.Address > addr {
			break
		}
		idx = i
	}
	return idx
}

// follow takes the first branch edge leaving the cursor instruction.
func (m *browseModel) follow() {
	if m.open == nil || m.cursor >= len(m.open.Resolution.Instructions) {
		return
	}
	in := m.open.Resolution.Instructions[m.cursor]
	for _, e := range m.an.EdgesFor(in.Address) {
		if e.Kind != flow.Fallthrough {
			m.jumpTo(e.To)
			return
		}
	}
	if c, ok := in.Imm.(wasm.CallImm); ok {
		if callee, err := m.an.Function(c.FuncIdx); err == nil && !callee.Imported {
			m.jumpTo(callee.Offset)
		}
	}
}

func (m *browseModel) gotoAddress(text string) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "0x")
	addr, err := strconv.ParseUint(text, 16, 32)
	if err != nil {
		m.err = fmt.Errorf("bad address %q", text)
		return
	}
	m.jumpTo(uint32(addr))
}

func (m *browseModel) View() string {
	if m.an == nil {
		if m.err != nil {
			return m.st.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
		}
		return "Loading module..."
	}

	var b strings.Builder
	b.WriteString(m.st.title.Render("wasmflow"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	state := m.state
	if state == stateGoto {
		state = m.prev
	}
	switch state {
	case stateSelectFunc:
		lines := make([]string, len(m.funcs))
		p := printer{a: m.an, st: m.st}
		for i, fn := range m.funcs {
			lines[i] = fmt.Sprintf("%4d  %s  %s", fn.Index, p.st.addr.Render(hex(fn.Offset)), p.signature(fn))
		}
		m.window(&b, lines, m.selected)
	case stateListing:
		fn := m.open.Function
		fmt.Fprintf(&b, "func %d %s\n", fn.Index, printer{a: m.an, st: m.st}.signature(fn))
		m.window(&b, m.lines, m.cursor)
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(m.st.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	switch m.state {
	case stateGoto:
		b.WriteString(m.input.View())
	case stateListing:
		b.WriteString(m.st.help.Render("↑/↓ move • enter follow • b back • g goto • esc functions • q quit"))
	default:
		b.WriteString(m.st.help.Render("↑/↓ select • enter open • g goto • q quit"))
	}
	return b.String()
}

// window writes the slice of lines that keeps the cursor visible.
func (m *browseModel) window(b *strings.Builder, lines []string, cursor int) {
	size := m.pageSize()
	top := 0
	if cursor >= size {
		top = cursor - size + 1
	}
	for i := top; i < len(lines) && i < top+size; i++ {
		if i == cursor {
			b.WriteString(m.st.selected.Render("> " + lines[i]))
		} else {
			b.WriteString("  " + lines[i])
		}
		b.WriteString("\n")
	}
}
